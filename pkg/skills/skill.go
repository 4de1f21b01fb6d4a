// Package skills loads reusable skill definitions from YAML, matches
// incoming requests against them by keyword confidence, and executes the
// matched skill as a single focused LLM call. Skill directories hot-reload
// via fsnotify; lookups read copy-on-write snapshots and never block on a
// reload.
package skills

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Skill is one reusable capability: a prompt template plus the keywords
// that route requests to it.
type Skill struct {
	Name        string   `yaml:"name" mapstructure:"name"`
	Description string   `yaml:"description" mapstructure:"description"`
	Keywords    []string `yaml:"keywords" mapstructure:"keywords"`
	Template    string   `yaml:"template" mapstructure:"template"`
	Model       string   `yaml:"model,omitempty" mapstructure:"model"`
	MaxTokens   int      `yaml:"max_tokens,omitempty" mapstructure:"max_tokens"`

	// Tools the skill declares; the engine narrows the tool allow-list
	// to this set while the skill runs.
	Tools []string `yaml:"tools,omitempty" mapstructure:"tools"`

	// Script is optional executable code tried before the LLM path.
	// {{request}} is substituted the same way as in the template.
	Script         string `yaml:"script,omitempty" mapstructure:"script"`
	ScriptLanguage string `yaml:"script_language,omitempty" mapstructure:"script_language"`

	// Source is the file the skill was loaded from.
	Source string `yaml:"-" mapstructure:"-"`
}

// Validate checks required fields.
func (s *Skill) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("skill has no name")
	}
	if len(s.Keywords) == 0 {
		return fmt.Errorf("skill %s has no keywords", s.Name)
	}
	if s.Template == "" {
		return fmt.Errorf("skill %s has no template", s.Name)
	}
	return nil
}

// Render substitutes {{request}} in the template.
func (s *Skill) Render(request string) string {
	return strings.ReplaceAll(s.Template, "{{request}}", request)
}

// RenderScript substitutes {{request}} in the script.
func (s *Skill) RenderScript(request string) string {
	return strings.ReplaceAll(s.Script, "{{request}}", request)
}

// decodeSkill maps a raw YAML document into a Skill, rejecting unknown
// keys so typos in skill files surface at load time.
func decodeSkill(raw map[string]any) (*Skill, error) {
	var skill Skill
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &skill,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid skill definition: %w", err)
	}
	if err := skill.Validate(); err != nil {
		return nil, err
	}
	return &skill, nil
}
