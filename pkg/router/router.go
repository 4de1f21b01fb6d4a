// Package router decides which execution path serves a request: a matched
// skill, code-mode execution for structured tasks, or the full LLM agent
// loop. Thresholds make the router conservative; anything uncertain falls
// through to the agent loop, which can handle everything at higher cost.
package router

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/striderlabs/strider/pkg/logger"
	"github.com/striderlabs/strider/pkg/skills"
)

// Execution paths, cheapest first.
const (
	PathSkill = "SKILL"
	PathCode  = "MCP_CODE"
	PathLLM   = "LLM"
)

// Default confidence thresholds.
const (
	DefaultSkillThreshold = 0.85
	DefaultCodeThreshold  = 0.70
)

// Decision is the routing outcome. Skill is set only for PathSkill.
type Decision struct {
	Path       string
	Confidence float64
	Skill      *skills.Skill
	Reason     string
}

// Config tunes the thresholds.
type Config struct {
	SkillThreshold float64 `yaml:"skill_confidence_threshold"`
	CodeThreshold  float64 `yaml:"structured_task_confidence"`
}

// SetDefaults fills zero thresholds.
func (c *Config) SetDefaults() {
	if c.SkillThreshold <= 0 {
		c.SkillThreshold = DefaultSkillThreshold
	}
	if c.CodeThreshold <= 0 {
		c.CodeThreshold = DefaultCodeThreshold
	}
}

// Router scores requests against the skill set and the structured-task
// heuristic.
type Router struct {
	matcher *skills.Matcher
	config  Config
	logger  *slog.Logger
}

// NewRouter creates a router. A nil matcher disables the skill path.
func NewRouter(matcher *skills.Matcher, cfg Config) *Router {
	cfg.SetDefaults()
	return &Router{matcher: matcher, config: cfg, logger: logger.GetLogger()}
}

// Route picks the execution path for a request. Skill beats code beats
// the agent loop; each cheaper path needs its confidence threshold met.
func (r *Router) Route(request string) Decision {
	if r.matcher != nil {
		if match := r.matcher.Best(request); match != nil && match.Confidence >= r.config.SkillThreshold {
			d := Decision{
				Path:       PathSkill,
				Confidence: match.Confidence,
				Skill:      match.Skill,
				Reason:     "skill " + match.Skill.Name + " matched above threshold",
			}
			r.logger.Debug("routed to skill", "skill", match.Skill.Name, "confidence", match.Confidence)
			return d
		}
	}

	if conf := StructuredTaskConfidence(request); conf >= r.config.CodeThreshold {
		r.logger.Debug("routed to code mode", "confidence", conf)
		return Decision{Path: PathCode, Confidence: conf, Reason: "request looks like a structured computation"}
	}

	return Decision{Path: PathLLM, Confidence: 1.0, Reason: "no cheaper path qualified"}
}

// ==================== STRUCTURED TASK DETECTION ====================

var (
	computeVerbs = []string{
		"calculate", "compute", "convert", "parse", "sort", "count",
		"sum", "average", "extract", "transform", "format", "dedupe",
	}
	dataPattern   = regexp.MustCompile(`\d`)
	fencedPattern = regexp.MustCompile("(?s)```.*?```")
)

// StructuredTaskConfidence estimates how much the request looks like a
// deterministic computation rather than open-ended reasoning. Compute
// verbs, inline data and embedded code each add weight; question words
// pull the score back toward the agent loop.
func StructuredTaskConfidence(request string) float64 {
	lower := strings.ToLower(request)
	var conf float64

	for _, verb := range computeVerbs {
		if strings.Contains(lower, verb) {
			conf += 0.4
			break
		}
	}
	if dataPattern.MatchString(request) {
		conf += 0.2
	}
	if fencedPattern.MatchString(request) {
		conf += 0.3
	}
	if strings.Contains(lower, "csv") || strings.Contains(lower, "json") || strings.Contains(lower, "regex") {
		conf += 0.2
	}
	for _, w := range []string{"why", "explain", "opinion", "recommend", "should i"} {
		if strings.Contains(lower, w) {
			conf -= 0.3
			break
		}
	}

	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

// ==================== CODE EXTRACTION ====================

var (
	pythonFence  = regexp.MustCompile("(?s)```python\\s*\\n(.*?)```")
	genericFence = regexp.MustCompile("(?s)```[a-z]*\\s*\\n(.*?)```")
)

// ExtractCode pulls runnable code out of a model reply. Preference order:
// a python-tagged fence, then any fenced block, then a line heuristic for
// replies that forgot the fences entirely. Empty when nothing code-like
// is found.
func ExtractCode(text string) string {
	if m := pythonFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := genericFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return heuristicCode(text)
}

var codeLinePattern = regexp.MustCompile(`^\s*(import |from |def |class |print\(|for |while |if |return |[\w.\[\]]+\s*=[^=])`)

func heuristicCode(text string) string {
	lines := strings.Split(text, "\n")
	var code []string
	codeLines := 0
	for _, line := range lines {
		if codeLinePattern.MatchString(line) {
			codeLines++
		}
	}
	if codeLines == 0 || codeLines*2 < countNonEmpty(lines) {
		return ""
	}
	start := -1
	for i, line := range lines {
		if codeLinePattern.MatchString(line) {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}
	code = lines[start:]
	return strings.TrimSpace(strings.Join(code, "\n"))
}

func countNonEmpty(lines []string) int {
	n := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
