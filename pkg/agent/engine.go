package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/striderlabs/strider/pkg/checkpoint"
	"github.com/striderlabs/strider/pkg/events"
	"github.com/striderlabs/strider/pkg/failure"
	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/logger"
	"github.com/striderlabs/strider/pkg/plan"
	"github.com/striderlabs/strider/pkg/policy"
	"github.com/striderlabs/strider/pkg/protocol"
	"github.com/striderlabs/strider/pkg/router"
	"github.com/striderlabs/strider/pkg/scratchpad"
	"github.com/striderlabs/strider/pkg/skills"
	"github.com/striderlabs/strider/pkg/tools"
)

// Execution modes. AUTO lets the router and a complexity heuristic pick;
// DIRECT forces the single-task loop; PLANNING forces decomposition.
const (
	ModeAuto     = "AUTO"
	ModeDirect   = "DIRECT"
	ModePlanning = "PLANNING"
)

// maxParallelTasks bounds concurrent task executors in planning mode.
const maxParallelTasks = 4

const defaultSystemPrompt = `You are a capable autonomous agent. Work step by step.
Call tools when you need information or side effects. When the work is done,
either call the exit tool or reply with "FINAL ANSWER:" followed by your answer.`

// EngineConfig configures a session.
type EngineConfig struct {
	SessionID     string        `yaml:"session_id"`
	Model         string        `yaml:"model"`
	Mode          string        `yaml:"mode"`
	SystemPrompt  string        `yaml:"system_prompt"`
	AnswerStyle   string        `yaml:"answer_style"`
	ContextWindow int           `yaml:"context_window_limit"`
	BaseBudget    int           `yaml:"base_budget"`
	MaxIterations int           `yaml:"max_iterations"`
	AvailableTime time.Duration `yaml:"available_time"`

	CheckpointInterval int `yaml:"checkpoint_interval"`
	MaxCheckpoints     int `yaml:"max_checkpoints"`

	// Memory-clear triggers; zero disables. When the transcript exceeds
	// either bound it is replaced with a digest rebuilt from the
	// scratchpad files.
	ContextClearThreshold int `yaml:"context_clear_threshold"`
	ContextTokenThreshold int `yaml:"context_token_threshold"`

	// EnableThreeStrike defaults to true; nil means enabled.
	EnableThreeStrike        *bool `yaml:"enable_3_strike"`
	EnableActionSpacePruning bool  `yaml:"enable_action_space_pruning"`
	MinimalRecitation        bool  `yaml:"minimal_recitation"`

	Task   TaskExecutorConfig `yaml:"task"`
	Router router.Config      `yaml:"router"`
}

// SetDefaults fills zero fields.
func (c *EngineConfig) SetDefaults() {
	if c.SessionID == "" {
		c.SessionID = "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	if c.Mode == "" {
		c.Mode = ModeAuto
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = policy.DefaultContextWindow
	}
	if c.BaseBudget <= 0 {
		c.BaseBudget = policy.DefaultBaseBudget
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = policy.DefaultMaxIterations
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = checkpoint.DefaultInterval
	}
	if c.MaxCheckpoints <= 0 {
		c.MaxCheckpoints = checkpoint.DefaultRetain
	}
	if c.EnableThreeStrike == nil {
		enabled := true
		c.EnableThreeStrike = &enabled
	}
	c.Task.Model = c.Model
	c.Task.SetDefaults()
	c.Router.SetDefaults()
}

// Engine is the session runtime: routing, planning, the task loop, and
// the cross-cutting policies around them.
type Engine struct {
	provider    llms.Provider
	registry    *tools.Registry
	router      *router.Router
	skillExec   *skills.Executor
	planner     *plan.Planner
	answers     *AnswerGenerator
	compressor  *policy.Compressor
	budget      *policy.TokenBudget
	checkpoints *checkpoint.Manager
	observer    *failure.Observer
	pad         *scratchpad.ThreeFiles
	cm          *ContextManager
	knowledge   *failure.KnowledgeBase
	machine     *Machine
	config      EngineConfig
	logger      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewEngine assembles a session. fs backs the scratchpad, checkpoints and
// the failure knowledge base. skillRegistry may be nil to disable the
// skill path.
func NewEngine(provider llms.Provider, registry *tools.Registry, fs scratchpad.Filesystem, skillRegistry *skills.Registry, cfg EngineConfig) (*Engine, error) {
	cfg.SetDefaults()

	pad := scratchpad.NewThreeFiles(fs, cfg.SessionID)
	observer := failure.NewObserver(pad)
	observer.SetThreeStrikeEnabled(*cfg.EnableThreeStrike)
	knowledge := failure.NewKnowledgeBase(fs)
	observer.OnFailure(func(sig *failure.Signal) {
		if err := knowledge.Record(sig); err != nil {
			logger.GetLogger().Warn("failed to record failure pattern", "error", err)
		}
	})

	compressor, err := policy.NewCompressor(cfg.Model, cfg.ContextWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to build compressor: %w", err)
	}

	var matcher *skills.Matcher
	var skillExec *skills.Executor
	if skillRegistry != nil {
		matcher = skills.NewMatcher(skillRegistry)
		skillExec = skills.NewExecutor(provider, cfg.Model, registry)
	}

	return &Engine{
		provider:    provider,
		registry:    registry,
		router:      router.NewRouter(matcher, cfg.Router),
		skillExec:   skillExec,
		planner:     plan.NewPlanner(provider, cfg.Model),
		answers:     NewAnswerGenerator(provider, cfg.Model),
		compressor:  compressor,
		budget:      policy.NewTokenBudget(cfg.ContextWindow, 0.25),
		checkpoints: checkpoint.NewManager(fs, cfg.CheckpointInterval, cfg.MaxCheckpoints),
		observer:    observer,
		pad:         pad,
		cm:          NewContextManager(cfg.SystemPrompt),
		knowledge:   knowledge,
		machine:     NewMachine(),
		config:      cfg,
		logger:      logger.GetLogger(),
	}, nil
}

// SessionID returns the session identifier.
func (e *Engine) SessionID() string { return e.config.SessionID }

// Stop cancels the in-flight execution, if any.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Run executes a request to completion and returns the final answer.
func (e *Engine) Run(ctx context.Context, request string) (string, error) {
	stream, err := e.Execute(ctx, request)
	if err != nil {
		return "", err
	}

	var answer string
	var failMsg string
	for ev := range stream {
		switch ev.Type {
		case events.TypeAnswerReady:
			answer, _ = ev.Payload["content"].(string)
		case events.TypeDone:
			if status, _ := ev.Payload["status"].(string); status != "success" {
				failMsg, _ = ev.Payload["message"].(string)
			}
		}
	}
	if failMsg != "" {
		return answer, fmt.Errorf("session ended without success: %s", failMsg)
	}
	return answer, nil
}

// Execute runs a request and streams progress events. The returned
// channel closes after the terminal done event. Only one execution per
// engine may be in flight.
func (e *Engine) Execute(ctx context.Context, request string) (<-chan events.Event, error) {
	if strings.TrimSpace(request) == "" {
		return nil, fmt.Errorf("request is empty")
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("session %s already has an execution in flight", e.config.SessionID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	bus := events.NewBus()
	go func() {
		defer func() {
			cancel()
			e.mu.Lock()
			e.running = false
			e.cancel = nil
			e.mu.Unlock()
			bus.Close()
		}()
		e.run(runCtx, request, bus)
	}()
	return bus.Events(), nil
}

func (e *Engine) run(ctx context.Context, request string, bus *events.Bus) {
	_ = e.pad.UpdateProgress("request received: "+truncate(request, 120), false)
	e.machine.Reset()
	e.machine.Transition(SignalUserMessage)

	// The router is consulted first regardless of mode; the configured
	// mode only governs the LLM path.
	decision := e.router.Route(request)
	bus.Publish(ctx, events.Status("routing", decision.Reason))
	switch decision.Path {
	case router.PathSkill:
		if e.runSkill(ctx, request, decision.Skill, bus) {
			return
		}
		bus.Publish(ctx, events.Error("skill path failed, falling back to the agent loop", true))
	case router.PathCode:
		if e.runCodeMode(ctx, request, bus) {
			return
		}
		bus.Publish(ctx, events.Error("code path failed, falling back to the agent loop", true))
	}

	var terminal bool
	if e.shouldPlan(request) {
		terminal = e.runPlanned(ctx, request, bus)
	} else {
		terminal = e.runDirect(ctx, request, bus)
	}
	if !terminal && ctx.Err() != nil {
		e.machine.Cancel()
		bus.TryPublish(events.Done("cancelled", "execution stopped", nil))
	}
}

// shouldPlan picks between the single-task loop and plan decomposition.
func (e *Engine) shouldPlan(request string) bool {
	switch e.config.Mode {
	case ModeDirect:
		return false
	case ModePlanning:
		return true
	}
	// Heuristic: long multi-part requests get a plan.
	parts := 0
	for _, sep := range []string{" and ", " then ", ";", "\n-"} {
		parts += strings.Count(strings.ToLower(request), sep)
	}
	return len(request) > 400 || parts >= 3
}

// ==================== SKILL AND CODE PATHS ====================

func (e *Engine) runSkill(ctx context.Context, request string, skill *skills.Skill, bus *events.Bus) bool {
	if e.skillExec == nil || skill == nil {
		return false
	}
	bus.Publish(ctx, events.Status("skill", "executing skill "+skill.Name))
	e.machine.Transition(SignalIntentUnclear)

	exec := e.skillExec
	if e.config.EnableActionSpacePruning && len(skill.Tools) > 0 {
		exec = exec.WithRunner(e.registry.Scoped(skill.Tools))
	}

	out, err := exec.Execute(ctx, skill, request)
	if err != nil {
		sig := llms.ClassifyLLMError(err)
		e.observer.Observe(sig)
		return false
	}
	e.budget.Add(out.Usage.InputTokens, out.Usage.OutputTokens)
	bus.Publish(ctx, events.Content(out.Output, ""))
	bus.Publish(ctx, events.AnswerReady(out.Output, "handled by skill "+skill.Name, nil))
	e.machine.Transition(SignalTaskComplete)
	return bus.Publish(ctx, events.Done("success", "completed via skill path", map[string]any{"skill": skill.Name, "path": "skill"}))
}

func (e *Engine) runCodeMode(ctx context.Context, request string, bus *events.Bus) bool {
	bus.Publish(ctx, events.Status("code", "generating code for structured task"))
	e.machine.Transition(SignalIntentUnclear)

	completion, err := e.provider.Complete(ctx, llms.CompletionRequest{
		Model:    e.config.Model,
		System:   "Write a single self-contained python script that solves the task and prints the result. Reply with one fenced code block only.",
		Messages: []protocol.Message{protocol.UserMessage(request)},
	})
	if err != nil {
		e.observer.Observe(llms.ClassifyLLMError(err))
		return false
	}
	e.budget.Add(completion.Usage.InputTokens, completion.Usage.OutputTokens)

	code := router.ExtractCode(completion.Content)
	if code == "" {
		return false
	}

	call := protocol.ToolCall{
		ID:        "call_code_mode",
		Name:      "run_code",
		Arguments: map[string]any{"code": code, "language": "python"},
	}
	e.machine.Transition(SignalNeedTool)
	bus.Publish(ctx, events.ToolCall(call.Name, call.Arguments, ""))
	result, sig := e.registry.Execute(ctx, call)
	bus.Publish(ctx, events.ToolResult(call.Name, result.Success, result.Output, result.Error, result.ExecutionTime, ""))
	e.machine.Transition(SignalToolSuccess)
	if sig != nil {
		e.observer.Observe(sig)
		return false
	}

	output := strings.TrimSpace(result.Output)
	bus.Publish(ctx, events.Content(output, ""))
	bus.Publish(ctx, events.AnswerReady(output, "computed via code execution", nil))
	e.machine.Transition(SignalTaskComplete)
	return bus.Publish(ctx, events.Done("success", "completed via code path", map[string]any{"path": "code"}))
}

// ==================== DIRECT MODE ====================

func (e *Engine) runDirect(ctx context.Context, request string, bus *events.Bus) bool {
	bus.Publish(ctx, events.Status("direct", "running in direct mode"))
	// A failed skill or code path already walked past intent parsing.
	if e.machine.Current() == StateParsingIntent {
		e.machine.Transition(SignalIntentUnclear)
	}
	_ = e.pad.WriteTaskPlan("# Task\n\n" + request + "\n")

	executor := NewTaskExecutor(e.provider, e.registry, e.observer, e.pad, bus, e.config.Task)
	executor.UseMachine(e.machine)
	e.maybeCompress()

	outcome, err := executor.Execute(ctx, e.cm, request, nil)
	if err != nil {
		e.machine.Transition(SignalExitFailure)
		return bus.Publish(ctx, events.Done("failed", err.Error(), nil))
	}
	e.budget.Add(outcome.Usage.InputTokens, outcome.Usage.OutputTokens)
	e.checkpointNow(outcome.Iterations, nil)

	if !outcome.Success() {
		status := "failed"
		if outcome.Signal.Type == failure.TypeTimeout {
			status = "timeout"
		}
		return bus.Publish(ctx, events.Done(status, outcome.Signal.String(), map[string]any{
			"iterations": outcome.Iterations,
			"exit_code":  outcome.Signal.ExitCode,
		}))
	}

	bus.Publish(ctx, events.Content(outcome.Output, ""))
	bus.Publish(ctx, events.AnswerReady(outcome.Output, "", nil))
	return bus.Publish(ctx, events.Done("success", "completed in direct mode", map[string]any{"iterations": outcome.Iterations}))
}

// ==================== PLANNING MODE ====================

func (e *Engine) runPlanned(ctx context.Context, request string, bus *events.Bus) bool {
	bus.Publish(ctx, events.Status("planning", "decomposing the request into tasks"))

	p, err := e.planner.CreatePlan(ctx, request)
	if err != nil {
		bus.Publish(ctx, events.Error("planning failed, falling back to direct mode: "+err.Error(), true))
		return e.runDirect(ctx, request, bus)
	}
	e.machine.Transition(SignalIntentClear)
	_ = e.pad.WriteTaskPlan(plan.Recite(p))
	e.cm.SetPlan(p, e.config.MinimalRecitation)
	defer e.cm.ClearPlan()

	bus.Publish(ctx, events.New(events.TypePlanCreated, map[string]any{
		"planId": p.ID, "goal": p.Goal, "version": p.Version, "tasks": p.Tasks,
	}))
	e.machine.Transition(SignalPlanReady)

	scheduler := plan.NewScheduler(p, plan.Callbacks{})
	iterPolicy := policy.NewIterationPolicy(policy.IterationConfig{
		BaseBudget:    e.config.BaseBudget,
		MaxIterations: e.config.MaxIterations,
		AvailableTime: e.config.AvailableTime,
	}, request)

	start := time.Now()
	totalIterations := 0
	aborted := ""

	for !scheduler.Done() && aborted == "" {
		if ok, reason := iterPolicy.ShouldContinue(totalIterations, e.budget.Total(), false, time.Since(start)); !ok {
			aborted = reason
			break
		}

		batch := scheduler.NextBatch()
		if len(batch) == 0 {
			if scheduler.Stuck() {
				if !e.replan(ctx, scheduler, bus) {
					aborted = "plan is stuck and the replan budget is spent"
				}
				continue
			}
			break
		}

		iters, stop := e.runBatch(ctx, scheduler, batch, bus)
		totalIterations += iters
		if stop != "" {
			aborted = stop
		}

		prog := scheduler.Plan().Progress()
		bus.Publish(ctx, events.ResearchProgress("executing", prog.Percentage, prog.Percentage,
			fmt.Sprintf("%d/%d tasks complete", prog.Completed, prog.Total)))

		e.checkpointNow(totalIterations, scheduler.Plan())
		e.maybeCompress()
	}

	return e.finishPlanned(ctx, request, scheduler.Plan(), totalIterations, aborted, bus)
}

// runBatch executes the ready tasks concurrently and feeds outcomes back
// to the scheduler. Returns iterations consumed and an abort reason.
func (e *Engine) runBatch(ctx context.Context, scheduler *plan.Scheduler, batch []*plan.Task, bus *events.Bus) (int, string) {
	var mu sync.Mutex
	iterations := 0
	aborted := ""
	needReplan := false

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelTasks)
	for _, task := range batch {
		g.Go(func() error {
			bus.Publish(gctx, events.TaskStart(task.ID))
			tagged := events.NewTaggedPublisher(bus, task.ID)

			// Each task gets its own registry view so parallel siblings
			// cannot clobber each other's allow-list.
			reg := e.registry
			if e.config.EnableActionSpacePruning {
				reg = e.registry.Scoped(e.pruneFor(task.Description))
			}

			executor := NewTaskExecutor(e.provider, reg, e.observer, e.pad, tagged, e.config.Task)
			cm := NewContextManager(e.config.SystemPrompt)
			if findings := e.pad.ReadFindings(); findings != "" {
				cm.AddUser("Findings so far:\n" + findings)
			}

			outcome, err := executor.Execute(gctx, cm, task.Prompt(), e.validatorFor(task))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				aborted = err.Error()
				return nil
			}
			iterations += outcome.Iterations
			e.budget.Add(outcome.Usage.InputTokens, outcome.Usage.OutputTokens)

			if outcome.Success() {
				_ = scheduler.Complete(task.ID, outcome.Output)
				_ = e.pad.AppendFindings(fmt.Sprintf("### %s\n%s", task.Description, outcome.Output))
				bus.Publish(gctx, events.TaskComplete(task.ID, truncate(outcome.Output, 500), 0))
				return nil
			}

			decision, _ := scheduler.Fail(task.ID, outcome.Signal)
			bus.Publish(gctx, events.TaskFailed(task.ID, string(outcome.Signal.Type), outcome.Signal.Message, task.RetryCount, decision.Action == plan.ActionRetry))
			switch decision.Action {
			case plan.ActionSkip:
				_ = scheduler.Skip(task.ID, decision.Reason)
			case plan.ActionReplan:
				needReplan = true
			case plan.ActionHuman:
				aborted = decision.Reason
			case plan.ActionAbort:
				aborted = decision.Reason
			}
			return nil
		})
	}
	_ = g.Wait()

	if aborted == "" && needReplan {
		if !e.replan(ctx, scheduler, bus) {
			aborted = "replan budget exhausted"
		}
	}
	return iterations, aborted
}

func (e *Engine) replan(ctx context.Context, scheduler *plan.Scheduler, bus *events.Bus) bool {
	e.machine.Transition(SignalToolFailed)
	e.machine.Transition(SignalReflectionDone)

	failureContext := e.observer.SummaryText()
	revised, err := e.planner.Replan(ctx, scheduler.Plan(), failureContext)
	if err != nil {
		e.logger.Warn("replan failed", "error", err)
		return false
	}
	if err := scheduler.ApplyRevision(revised); err != nil {
		return false
	}
	e.cm.SetPlan(revised, e.config.MinimalRecitation)
	_ = e.pad.WriteTaskPlan(plan.Recite(revised))
	bus.Publish(ctx, events.New(events.TypePlanRevised, map[string]any{
		"planId": revised.ID, "goal": revised.Goal, "version": revised.Version,
		"tasks": revised.Tasks, "reason": failureContext,
	}))
	e.machine.Transition(SignalReplanReady)
	return true
}

func (e *Engine) finishPlanned(ctx context.Context, request string, p *plan.Plan, iterations int, aborted string, bus *events.Bus) bool {
	var outputs []TaskOutput
	for _, t := range p.Tasks {
		if t.Status == plan.StatusSuccess || (t.Status == plan.StatusError && t.Error != "") {
			outputs = append(outputs, TaskOutput{
				TaskID:      t.ID,
				Description: firstNonEmpty(t.Title, t.Description),
				Output:      firstNonEmpty(t.Output, t.Error),
				Failed:      t.Status != plan.StatusSuccess,
			})
		}
	}

	if aborted != "" && !p.Done() {
		e.machine.Transition(SignalExitFailure)
		return bus.Publish(ctx, events.Done("failed", aborted, map[string]any{
			"iterations": iterations,
			"progress":   p.Progress(),
		}))
	}

	bus.Publish(ctx, events.AnswerGenerating("synthesizing the final answer"))
	style := e.config.AnswerStyle
	if style == "" {
		style = DetectStyle(request)
	}
	answer := e.answers.Generate(ctx, request, outputs, style)
	bus.Publish(ctx, events.AnswerReady(answer, "", nil))

	status := "success"
	msg := "plan completed"
	if p.Done() {
		e.machine.Transition(SignalTaskComplete)
	} else {
		status = "failed"
		msg = "plan finished with failed tasks"
		e.machine.Transition(SignalExitFailure)
	}
	return bus.Publish(ctx, events.Done(status, msg, map[string]any{
		"iterations":  iterations,
		"planVersion": p.Version,
		"progress":    p.Progress(),
	}))
}

// ==================== CROSS-CUTTING ====================

// validatorFor builds the acceptance-criteria check for a task. Tasks
// without criteria are accepted as-is.
func (e *Engine) validatorFor(task *plan.Task) Validator {
	if strings.TrimSpace(task.AcceptanceCriteria) == "" {
		return nil
	}
	return NewCriteriaValidator(e.provider, e.config.Model, task.AcceptanceCriteria)
}

// pruneFor picks the per-task tool allow-list: tools whose name appears
// in the task description, plus the search pair for research-flavoured
// tasks. The core set is always added by the registry.
func (e *Engine) pruneFor(description string) []string {
	lower := strings.ToLower(description)
	var allowed []string
	for _, name := range e.registry.Names() {
		if strings.Contains(lower, strings.ReplaceAll(name, "_", " ")) || strings.Contains(lower, name) {
			allowed = append(allowed, name)
		}
	}
	for _, kw := range []string{"search", "research", "look up", "find", "web", "url", "fetch"} {
		if strings.Contains(lower, kw) {
			allowed = append(allowed, "web_search", "read_url")
			break
		}
	}
	return allowed
}

func (e *Engine) maybeCompress() {
	if e.maybeClear() {
		return
	}
	msgs := e.cm.Snapshot()
	tokens := e.budget.Total()
	ok, strategy := e.compressor.ShouldCompress(tokens, false)
	if !ok {
		return
	}
	compressed, result := e.compressor.Compress(msgs, tokens, strategy)
	e.cm.Replace(compressed)
	e.logger.Info("context compressed", "strategy", result.Strategy, "saved", result.TokensSaved)
}

// maybeClear drops the transcript once it outgrows the clear thresholds.
// Durable state lives in the scratchpad files, so the fresh context starts
// from a digest of them.
func (e *Engine) maybeClear() bool {
	msgs := e.cm.Len()
	exceeded := e.config.ContextClearThreshold > 0 && msgs >= e.config.ContextClearThreshold
	if !exceeded && e.config.ContextTokenThreshold > 0 {
		exceeded = e.compressor.CountMessages(e.cm.Snapshot()) >= e.config.ContextTokenThreshold
	}
	if !exceeded {
		return false
	}

	var b strings.Builder
	b.WriteString("Working memory was cleared. Current state from the scratchpad:\n")
	if taskPlan := e.pad.ReadTaskPlan(); taskPlan != "" {
		b.WriteString("\n## Task plan\n" + taskPlan)
	}
	if findings := e.pad.ReadFindings(); findings != "" {
		b.WriteString("\n## Findings\n" + findings)
	}
	e.cm.Replace([]protocol.Message{protocol.UserMessage(b.String())})
	e.logger.Info("context cleared", "messages", msgs)
	return true
}

func (e *Engine) checkpointNow(iteration int, p *plan.Plan) {
	if !e.checkpoints.ShouldCheckpoint(iteration) {
		return
	}
	taskPlan, findings, progress := e.pad.Snapshot()
	in, out := e.budget.Usage()
	state := &checkpoint.State{
		SessionID:  e.config.SessionID,
		Iteration:  iteration,
		AgentState: string(e.machine.Current()),
		Messages:   e.cm.Snapshot(),
		Plan:       p,
		Signals:    e.observer.RecentSignals(failure.DefaultSummaryWindow),
		TaskPlan:   taskPlan,
		Findings:   findings,
		Progress:   progress,
		TokensIn:   in,
		TokensOut:  out,
	}
	if err := e.checkpoints.Save(state); err != nil {
		e.logger.Warn("checkpoint failed", "error", err)
	}
}

// Resume restores the newest checkpoint for this session: conversation,
// scratchpad and failure history. Returns false when there is nothing to
// resume.
func (e *Engine) Resume() (bool, error) {
	state, err := e.checkpoints.Latest(e.config.SessionID)
	if err != nil {
		return false, err
	}
	if state == nil {
		return false, nil
	}
	e.cm.Replace(state.Messages)
	if err := e.pad.Restore(state.TaskPlan, state.Findings, state.Progress); err != nil {
		return false, fmt.Errorf("failed to restore scratchpad: %w", err)
	}
	e.observer.Restore(state.Signals)
	e.budget.Reset()
	e.budget.Add(state.TokensIn, state.TokensOut)

	// The machine position is approximated rather than replayed exactly:
	// a non-initial saved state walks back to REASONING.
	e.machine.Reset()
	if saved := State(state.AgentState); saved != "" && saved != StateInit {
		e.machine.Transition(SignalUserMessage)
		e.machine.Transition(SignalIntentUnclear)
	}

	e.logger.Info("session resumed", "session", state.SessionID, "iteration", state.Iteration)
	return true, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
