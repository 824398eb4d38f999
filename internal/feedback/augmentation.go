package feedback

import (
	"fmt"
	"strings"
)

// maxExcerptLines bounds the code shown per successful entry.
const maxExcerptLines = 20

// Source says how an entry was found.
type Source string

const (
	SourceSimilarity Source = "similarity"
	SourceGraph      Source = "graph"
)

// Entry is one prior outcome surfaced to the generator.
type Entry struct {
	PatternID  string  `json:"pattern_id"`
	UnitID     string  `json:"unit_id"`
	Signature  string  `json:"signature"`
	Summary    string  `json:"summary,omitempty"`
	Diagnostic string  `json:"diagnostic,omitempty"`
	Tier       string  `json:"tier,omitempty"`
	Confidence float64 `json:"confidence"`
	Score      float32 `json:"score,omitempty"`
	Source     Source  `json:"source"`
}

// Augmentation is the feedback payload for one retry attempt. A nil
// *Augmentation means the store was not consulted; a non-nil one with
// Empty() true means it was consulted and had nothing relevant.
type Augmentation struct {
	UnitID         string  `json:"unit_id"`
	Attempt        int     `json:"attempt"`
	LastDiagnostic string  `json:"last_diagnostic,omitempty"`
	Failures       []Entry `json:"failures"`
	Successes      []Entry `json:"successes"`

	// Degraded is set when the lookup failed and the payload is empty as a result.
	Degraded bool `json:"degraded,omitempty"`
}

// Empty reports whether no prior patterns were found. It is false for a nil
// augmentation, which was never consulted.
func (a *Augmentation) Empty() bool {
	return a != nil && len(a.Failures) == 0 && len(a.Successes) == 0
}

// Render formats the augmentation as prompt text. It returns "" for nil.
func (a *Augmentation) Render() string {
	if a == nil {
		return ""
	}
	var b strings.Builder
	if a.LastDiagnostic != "" {
		fmt.Fprintf(&b, "Attempt %d failed validation:\n%s\n", a.Attempt-1, indent(a.LastDiagnostic, "  "))
	}
	if len(a.Failures) > 0 {
		b.WriteString("\nApproaches that failed for similar work (avoid these):\n")
		for _, e := range a.Failures {
			writeEntry(&b, e, e.Diagnostic)
		}
	}
	if len(a.Successes) > 0 {
		b.WriteString("\nApproaches that succeeded for similar work:\n")
		for _, e := range a.Successes {
			writeEntry(&b, e, e.Summary)
			if code := excerpt(e.Summary, maxExcerptLines); code != "" {
				b.WriteString(indent(code, "    "))
				b.WriteByte('\n')
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeEntry(b *strings.Builder, e Entry, detail string) {
	name := firstLine(e.Signature)
	if name == "" {
		name = e.UnitID
	}
	fmt.Fprintf(b, "- %s", name)
	if detail != "" {
		fmt.Fprintf(b, ": %s", firstLine(detail))
	}
	b.WriteByte('\n')
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// excerpt returns the lines of s after the first, cut to at most n lines.
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return ""
	}
	lines := strings.Split(strings.Trim(s[i+1:], "\n"), "\n")
	if len(lines) > n {
		lines = append(lines[:n], "...")
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
