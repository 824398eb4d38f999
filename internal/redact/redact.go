// Package redact strips credentials from text before it is persisted as a
// pattern and replayed into later prompts.
//
// Pattern summaries carry generated code and diagnostics carry validator
// output; both pass through a Redactor before the engine stores them.
package redact

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultReplacement is written in place of every match.
const DefaultReplacement = "[REDACTED]"

// ErrInvalidRule is returned by New for a rule without an id or with a
// pattern that does not compile.
var ErrInvalidRule = errors.New("invalid redaction rule")

// Config configures a Redactor. The zero value redacts with DefaultRules.
type Config struct {
	// Replacement substitutes each match. Default DefaultReplacement.
	Replacement string
	// AllowList holds patterns for matches that are left in place, such as
	// placeholder keys in examples.
	AllowList []string
	// Rules replaces DefaultRules when non-empty.
	Rules []Rule
}

// Finding locates one redacted match. The matched text is never kept.
type Finding struct {
	RuleID string `json:"rule_id"`
	Line   int    `json:"line"`
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []string
}

// Redactor replaces credential-like substrings. It is immutable after New
// and safe for concurrent use.
type Redactor struct {
	replacement string
	rules       []compiledRule
	allow       []*regexp.Regexp
}

// New compiles cfg.
func New(cfg Config) (*Redactor, error) {
	r := &Redactor{replacement: cfg.Replacement}
	if r.replacement == "" {
		r.replacement = DefaultReplacement
	}

	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	for i, rule := range rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("%w: rule %d has no id", ErrInvalidRule, i)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRule, rule.ID, err)
		}
		kws := make([]string, len(rule.Keywords))
		for j, kw := range rule.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		r.rules = append(r.rules, compiledRule{id: rule.ID, pattern: re, keywords: kws})
	}

	for i, p := range cfg.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: allow list entry %d: %v", ErrInvalidRule, i, err)
		}
		r.allow = append(r.allow, re)
	}
	return r, nil
}

// MustNew is New for static configurations.
func MustNew(cfg Config) *Redactor {
	r, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return r
}

type span struct{ start, end int }

// Redact returns text with every match replaced, and one finding per match
// ordered by position. Overlapping matches collapse into one replacement.
func (r *Redactor) Redact(text string) (string, []Finding) {
	if r == nil || text == "" {
		return text, nil
	}

	lower := strings.ToLower(text)
	var (
		spans    []span
		findings []Finding
	)
	for _, rule := range r.rules {
		if !hasKeyword(lower, rule.keywords) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(text, -1) {
			if r.allowed(text[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			findings = append(findings, Finding{
				RuleID: rule.id,
				Line:   strings.Count(text[:m[0]], "\n") + 1,
			})
		}
	}
	if len(spans) == 0 {
		return text, nil
	}

	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Line < findings[j].Line })
	return r.apply(text, merge(spans)), findings
}

// String is Redact without the findings.
func (r *Redactor) String(text string) string {
	out, _ := r.Redact(text)
	return out
}

func (r *Redactor) allowed(match string) bool {
	for _, re := range r.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func (r *Redactor) apply(text string, spans []span) string {
	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, s := range spans {
		b.WriteString(text[prev:s.start])
		b.WriteString(r.replacement)
		prev = s.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

// hasKeyword reports whether any keyword occurs in lower. Rules without
// keywords always apply.
func hasKeyword(lower string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// merge sorts spans and joins the overlapping or adjacent ones.
func merge(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := spans[:1]
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		out = append(out, s)
	}
	return out
}
