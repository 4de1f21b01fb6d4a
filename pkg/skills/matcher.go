package skills

import (
	"regexp"
	"strings"
)

// Match is a scored skill candidate. Confidence is in [0,1].
type Match struct {
	Skill      *Skill
	Confidence float64
}

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// Matcher scores requests against the skill set by keyword overlap.
type Matcher struct {
	registry *Registry
}

// NewMatcher creates a matcher over the registry.
func NewMatcher(registry *Registry) *Matcher {
	return &Matcher{registry: registry}
}

// Best returns the highest-confidence skill for the request, or nil when
// no skill matches at all.
func (m *Matcher) Best(request string) *Match {
	words := tokenSet(request)
	if len(words) == 0 {
		return nil
	}

	var best *Match
	for _, skill := range m.registry.List() {
		conf := score(skill, request, words)
		if conf <= 0 {
			continue
		}
		if best == nil || conf > best.Confidence {
			best = &Match{Skill: skill, Confidence: conf}
		}
	}
	return best
}

// score computes keyword coverage: the fraction of the skill's keywords
// present in the request. Multi-word keywords match as substrings of the
// normalized request and weigh double, since they are far less likely to
// appear by accident.
func score(skill *Skill, request string, words map[string]bool) float64 {
	normalized := strings.ToLower(request)
	var hits, total float64
	for _, kw := range skill.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(kw, " ") {
			total += 2
			if strings.Contains(normalized, kw) {
				hits += 2
			}
			continue
		}
		total++
		if words[kw] {
			hits++
		}
	}
	if total == 0 {
		return 0
	}
	return hits / total
}

func tokenSet(text string) map[string]bool {
	words := map[string]bool{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		words[w] = true
	}
	return words
}
