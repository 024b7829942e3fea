// Package semantic extracts structured summaries from LLM responses
// and maintains the searchable index over them.
package semantic

import (
	"strings"

	"github.com/obbylabs/obby/internal/store"
)

// Parsed is the structured form of a summarizer response.
type Parsed struct {
	Summary  string
	Topics   []string
	Keywords []string
	Impact   store.Impact
}

// Parse extracts {summary, topics, keywords, impact} from an LLM
// response. Parsing is tolerant: bullet-formatted responses are joined
// into a single summary, labeled responses are read field by field, and
// anything else becomes a brief summary verbatim.
func Parse(response string) Parsed {
	response = strings.TrimSpace(response)

	if bullets := bulletLines(response); len(bullets) > 0 {
		return Parsed{
			Summary: strings.Join(bullets, "; "),
			Impact:  impactForBulletCount(len(bullets)),
		}
	}

	p := Parsed{Impact: store.ImpactBrief}
	labeled := false
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case hasLabel(line, "Summary"):
			p.Summary = labelValue(line, "Summary")
			labeled = true
		case hasLabel(line, "Topics"):
			p.Topics = splitList(labelValue(line, "Topics"))
			labeled = true
		case hasLabel(line, "Keywords"):
			p.Keywords = splitList(labelValue(line, "Keywords"))
			labeled = true
		case hasLabel(line, "Impact"):
			p.Impact = NormalizeImpact(labelValue(line, "Impact"))
			labeled = true
		}
	}
	if !labeled {
		p.Summary = response
	}
	return p
}

// NormalizeImpact maps free-form impact text onto the closed set.
// Unrecognized values fall back to brief.
func NormalizeImpact(raw string) store.Impact {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(store.ImpactSignificant), "high", "major":
		return store.ImpactSignificant
	case string(store.ImpactModerate), "medium":
		return store.ImpactModerate
	default:
		return store.ImpactBrief
	}
}

func impactForBulletCount(n int) store.Impact {
	switch {
	case n > 3:
		return store.ImpactSignificant
	case n > 1:
		return store.ImpactModerate
	default:
		return store.ImpactBrief
	}
}

// bulletLines returns the "- " lines if the response is bullet-formatted.
// A response counts as bullet-formatted when its first non-empty line is
// a bullet.
func bulletLines(response string) []string {
	var bullets []string
	first := true
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if first && !strings.HasPrefix(line, "- ") {
			return nil
		}
		first = false
		if strings.HasPrefix(line, "- ") {
			bullets = append(bullets, strings.TrimSpace(strings.TrimPrefix(line, "- ")))
		}
	}
	return bullets
}

func hasLabel(line, label string) bool {
	lower := strings.ToLower(line)
	return strings.HasPrefix(lower, strings.ToLower("**"+label+"**:")) ||
		strings.HasPrefix(lower, strings.ToLower(label+":"))
}

func labelValue(line, label string) string {
	for _, prefix := range []string{"**" + label + "**:", label + ":"} {
		if len(line) >= len(prefix) && strings.EqualFold(line[:len(prefix)], prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
