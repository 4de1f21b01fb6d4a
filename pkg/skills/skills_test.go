package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/striderlabs/strider/pkg/failure"
	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/protocol"
)

const summariseSkill = `name: summarise
description: Summarise a document
keywords:
  - summarise
  - summary
  - tldr
template: |
  You are a summariser. Condense the following request into key points.
  {{request}}
`

const translateSkill = `name: translate
description: Translate text
keywords:
  - translate
  - translation
  - "into french"
template: Translate the request. {{request}}
`

func writeSkillDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRegistryLoadsSkills(t *testing.T) {
	dir := writeSkillDir(t, map[string]string{
		"summarise.yaml": summariseSkill,
		"translate.yaml": translateSkill,
		"notes.txt":      "not a skill",
	})

	reg, err := NewRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Count() != 2 {
		t.Fatalf("expected 2 skills, got %d", reg.Count())
	}
	skill, ok := reg.Get("summarise")
	if !ok {
		t.Fatal("summarise skill missing")
	}
	if skill.Source == "" {
		t.Error("source path should be recorded")
	}
}

func TestRegistrySkipsBrokenFiles(t *testing.T) {
	dir := writeSkillDir(t, map[string]string{
		"good.yaml":   summariseSkill,
		"broken.yaml": "name: broken\nkeywords: []\n",
		"typo.yaml":   "name: typo\nkeyword: [x]\ntemplate: t\n",
	})

	reg, err := NewRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Count() != 1 {
		t.Errorf("only the valid skill should load, got %d", reg.Count())
	}
}

func TestRegistryMissingDirIsEmpty(t *testing.T) {
	reg, err := NewRegistry(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatal(err)
	}
	if reg.Count() != 0 {
		t.Error("missing directory should load as empty")
	}
}

func TestRegistryHotReload(t *testing.T) {
	dir := writeSkillDir(t, map[string]string{"summarise.yaml": summariseSkill})
	reg, err := NewRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Watch(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reg.Close() }()

	if err := os.WriteFile(filepath.Join(dir, "translate.yaml"), []byte(translateSkill), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for reg.Count() != 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if reg.Count() != 2 {
		t.Fatal("new skill file should hot-reload")
	}
}

func TestMatcherConfidence(t *testing.T) {
	dir := writeSkillDir(t, map[string]string{
		"summarise.yaml": summariseSkill,
		"translate.yaml": translateSkill,
	})
	reg, _ := NewRegistry(dir)
	m := NewMatcher(reg)

	match := m.Best("please give me a summary, a tldr, summarise it")
	if match == nil || match.Skill.Name != "summarise" {
		t.Fatalf("expected summarise to win, got %+v", match)
	}
	if match.Confidence != 1.0 {
		t.Errorf("all keywords present, expected 1.0, got %f", match.Confidence)
	}

	partial := m.Best("can you translate this?")
	if partial == nil || partial.Skill.Name != "translate" {
		t.Fatalf("expected translate, got %+v", partial)
	}
	if partial.Confidence >= 1.0 || partial.Confidence <= 0 {
		t.Errorf("partial keyword coverage expected, got %f", partial.Confidence)
	}

	if m.Best("completely unrelated request about gardening") != nil {
		t.Error("no keyword overlap should yield no match")
	}
}

func TestMatcherMultiWordKeywords(t *testing.T) {
	dir := writeSkillDir(t, map[string]string{"translate.yaml": translateSkill})
	reg, _ := NewRegistry(dir)
	m := NewMatcher(reg)

	with := m.Best("turn this into french please")
	without := m.Best("french would be nice")
	if with == nil {
		t.Fatal("phrase keyword should match")
	}
	if without != nil && without.Confidence >= with.Confidence {
		t.Error("phrase matches should outweigh stray words")
	}
}

func TestExecutorRendersTemplate(t *testing.T) {
	mock := llms.NewMockProvider(llms.TextCompletion("three bullet points"))
	exec := NewExecutor(mock, "gpt-4o", nil)

	skill := &Skill{
		Name:     "summarise",
		Keywords: []string{"summary"},
		Template: "Condense: {{request}}",
	}
	out, err := exec.Execute(context.Background(), skill, "the annual report")
	if err != nil {
		t.Fatal(err)
	}
	if out.Output != "three bullet points" {
		t.Errorf("unexpected output %q", out.Output)
	}
	if out.Script {
		t.Error("script-less skill should not report a script run")
	}
	if len(mock.Requests) != 1 || mock.Requests[0].System != "Condense: the annual report" {
		t.Errorf("template not rendered into the system prompt: %q", mock.Requests[0].System)
	}
}

// fakeRunner records the calls it receives and replays canned results.
type fakeRunner struct {
	calls  []protocol.ToolCall
	result *protocol.ToolResult
	sig    *failure.Signal
}

func (f *fakeRunner) Execute(_ context.Context, call protocol.ToolCall) (*protocol.ToolResult, *failure.Signal) {
	f.calls = append(f.calls, call)
	return f.result, f.sig
}

func TestExecutorRunsScriptBeforePrompt(t *testing.T) {
	runner := &fakeRunner{result: &protocol.ToolResult{Success: true, Output: "42 files"}}
	mock := llms.NewMockProvider(llms.TextCompletion("There are 42 files."))
	exec := NewExecutor(mock, "gpt-4o", runner)

	skill := &Skill{
		Name:           "count",
		Keywords:       []string{"count"},
		Template:       "Report the file count for: {{request}}",
		Script:         "ls | wc -l # {{request}}",
		ScriptLanguage: "bash",
	}
	out, err := exec.Execute(context.Background(), skill, "the workspace")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Script {
		t.Error("script run should be reported")
	}
	if out.Output != "There are 42 files." {
		t.Errorf("formatted output expected, got %q", out.Output)
	}

	if len(runner.calls) != 1 || runner.calls[0].Name != "run_code" {
		t.Fatalf("expected one run_code call, got %+v", runner.calls)
	}
	code, _ := runner.calls[0].Arguments["code"].(string)
	if !strings.Contains(code, "the workspace") {
		t.Errorf("script should be rendered with the request, got %q", code)
	}
	if lang, _ := runner.calls[0].Arguments["language"].(string); lang != "bash" {
		t.Errorf("script language should pass through, got %q", lang)
	}

	if len(mock.Requests) != 1 {
		t.Fatalf("expected one formatting call, got %d", len(mock.Requests))
	}
	if !strings.Contains(mock.Requests[0].Messages[0].Content, "42 files") {
		t.Error("formatting call should carry the script output")
	}
}

func TestExecutorScriptFailureFallsBackToPrompt(t *testing.T) {
	runner := &fakeRunner{
		result: &protocol.ToolResult{Success: false, Error: "exit status 1"},
		sig:    failure.New(failure.SourceTool, failure.TypeExecutionError, failure.ExitRetryable, "exit status 1"),
	}
	mock := llms.NewMockProvider(llms.TextCompletion("best effort answer"))
	exec := NewExecutor(mock, "gpt-4o", runner)

	skill := &Skill{
		Name:     "count",
		Keywords: []string{"count"},
		Template: "Report: {{request}}",
		Script:   "exit 1",
	}
	out, err := exec.Execute(context.Background(), skill, "the workspace")
	if err != nil {
		t.Fatal(err)
	}
	if out.Script {
		t.Error("failed script should not be reported as a script run")
	}
	if out.Output != "best effort answer" {
		t.Errorf("prompt fallback expected, got %q", out.Output)
	}
	if len(mock.Requests) != 1 || mock.Requests[0].System != "Report: the workspace" {
		t.Error("fallback should run the ordinary prompt path")
	}
}

func TestExecutorKeepsRawScriptOutputWhenFormattingFails(t *testing.T) {
	runner := &fakeRunner{result: &protocol.ToolResult{Success: true, Output: "raw: 42"}}
	mock := llms.NewMockProvider(llms.TextCompletion("unused")).FailAt(0, context.DeadlineExceeded)
	exec := NewExecutor(mock, "gpt-4o", runner)

	skill := &Skill{
		Name:     "count",
		Keywords: []string{"count"},
		Template: "Report: {{request}}",
		Script:   "wc -l",
	}
	out, err := exec.Execute(context.Background(), skill, "the workspace")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Script || out.Output != "raw: 42" {
		t.Errorf("raw script output should stand when formatting fails, got %+v", out)
	}
}
