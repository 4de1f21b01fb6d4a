package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/striderlabs/strider/pkg/llms"
	"github.com/striderlabs/strider/pkg/protocol"
)

const plannerSystemPrompt = `You are a planning assistant. Decompose the goal into a small set of concrete tasks forming a dependency graph.

Respond with JSON only:
{"tasks": [{"id": "t1", "title": "...", "description": "...", "acceptance_criteria": "...", "tools_hint": ["web_search"], "dependencies": [], "is_optional": false}]}

Rules:
- Task ids are short and unique (t1, t2, ...).
- title is a short imperative label; description says exactly what to do.
- Each task is atomic and independently verifiable.
- acceptance_criteria states a concrete check that tells whether the task is done.
- tools_hint names the tools the task will likely need.
- dependencies lists ids of tasks that must finish first.
- Mark nice-to-have work is_optional so a failure there does not sink the goal.
- Prefer 2-7 tasks. Independent tasks should not depend on each other.`

var jsonFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// Planner turns goals into task DAGs via the LLM.
type Planner struct {
	provider llms.Provider
	model    string
}

// NewPlanner creates a planner on the given provider.
func NewPlanner(provider llms.Provider, model string) *Planner {
	return &Planner{provider: provider, model: model}
}

type plannerOutput struct {
	Tasks []struct {
		ID                 string   `json:"id"`
		Title              string   `json:"title"`
		Description        string   `json:"description"`
		AcceptanceCriteria string   `json:"acceptance_criteria"`
		ToolsHint          []string `json:"tools_hint"`
		Dependencies       []string `json:"dependencies"`
		IsOptional         bool     `json:"is_optional"`
	} `json:"tasks"`
}

// CreatePlan asks the model for a task breakdown of the goal and returns
// a validated plan at version 1.
func (p *Planner) CreatePlan(ctx context.Context, goal string) (*Plan, error) {
	tasks, err := p.generateTasks(ctx, goal, "")
	if err != nil {
		return nil, err
	}
	return NewPlan("", goal, tasks)
}

// Replan asks the model for a revised breakdown given what failed. The
// returned plan keeps the original ID and bumps the version; terminal
// task outcomes carry over by ID.
func (p *Planner) Replan(ctx context.Context, current *Plan, failureContext string) (*Plan, error) {
	tasks, err := p.generateTasks(ctx, current.Goal, failureContext)
	if err != nil {
		return nil, err
	}
	return current.Revise(tasks)
}

func (p *Planner) generateTasks(ctx context.Context, goal, failureContext string) ([]*Task, error) {
	prompt := fmt.Sprintf("Goal: %s", goal)
	if failureContext != "" {
		prompt += fmt.Sprintf("\n\nThe previous plan ran into trouble:\n%s\n\nProduce a revised breakdown that routes around the failures.", failureContext)
	}

	completion, err := p.provider.Complete(ctx, llms.CompletionRequest{
		Model:    p.model,
		System:   plannerSystemPrompt,
		Messages: []protocol.Message{protocol.UserMessage(prompt)},
	})
	if err != nil {
		return nil, fmt.Errorf("planner llm call failed: %w", err)
	}

	return parseTasks(completion.Content)
}

// parseTasks decodes the model's JSON, tolerating a fenced code block
// around it.
func parseTasks(text string) ([]*Task, error) {
	raw := strings.TrimSpace(text)
	if m := jsonFencePattern.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	if start := strings.Index(raw, "{"); start > 0 {
		raw = raw[start:]
	}

	var out plannerOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("planner returned invalid JSON: %w", err)
	}
	if len(out.Tasks) == 0 {
		return nil, fmt.Errorf("planner returned no tasks")
	}

	tasks := make([]*Task, 0, len(out.Tasks))
	for _, t := range out.Tasks {
		task := NewTask(t.ID, t.Description, t.Dependencies...)
		task.Title = t.Title
		if task.Title == "" {
			task.Title = t.Description
		}
		task.AcceptanceCriteria = t.AcceptanceCriteria
		task.ToolsHint = t.ToolsHint
		task.IsOptional = t.IsOptional
		tasks = append(tasks, task)
	}
	return tasks, nil
}
