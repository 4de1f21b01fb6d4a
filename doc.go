// Package strider is an LLM agent runtime with failure-aware retries,
// DAG planning and skill routing.
//
// A request entering the engine is routed down one of three paths: a
// matching skill template, a single generated script run in the sandbox,
// or the full agent loop. The agent loop drives an explicit state machine
// (reasoning, tool calling, observing, reflecting, replanning), records
// every failure as a typed signal, and stops a retry loop after three
// strikes of the same failure. Long requests are decomposed into a task
// DAG whose scheduler retries, skips, replans or escalates to a human
// based on the failure signals each task produces.
//
// Working memory lives in three scratchpad files per session (task plan,
// findings, progress) and the whole session state is checkpointed
// periodically so a run can resume after a crash.
//
// The runtime is used through the strider CLI:
//
//	strider run "compare the two CSV files in ./data and summarise the diff"
//	strider serve --config config.yaml
//
// The server exposes each session over HTTP as a Server-Sent Events
// stream; see pkg/server. Engine construction and the individual
// subsystems live under pkg/.
package strider
