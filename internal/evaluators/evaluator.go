package evaluators

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ongoingai/agenteval/internal/judge"
	"github.com/ongoingai/agenteval/internal/trace"
)

// Category names. Weight maps are keyed by these.
const (
	Functional    = "functional"
	Reasoning     = "reasoning"
	ToolUsage     = "tool_usage"
	OutputQuality = "output_quality"
	Performance   = "performance"
	Safety        = "safety"
)

// Categories lists every category in registry order.
func Categories() []string {
	return []string{Functional, Reasoning, ToolUsage, OutputQuality, Performance, Safety}
}

// CategoryResult is one category's score for a trace, or the mean across
// traces when aggregated. Weight is filled in by the orchestrator.
type CategoryResult struct {
	Name   string                 `json:"name"`
	Score  float64                `json:"score"`
	Weight float64                `json:"weight"`
	Checks map[string]judge.Score `json:"checks"`
	Issues []string               `json:"issues"`
}

// Evaluator scores one quality category of a trace. A returned error means
// the category could not be scored.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, t *trace.Trace, systemDescription string) (CategoryResult, error)
}

// Registry is an ordered set of evaluators.
type Registry []Evaluator

// Default returns the six built-in evaluators. j scores the subjective checks.
func Default(j judge.Judge) Registry {
	return Registry{
		NewFunctional(j),
		NewReasoning(j),
		NewToolUsage(),
		NewOutputQuality(j),
		NewPerformance(),
		NewSafety(j),
	}
}

// Names returns evaluator names in registry order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for _, e := range r {
		names = append(names, e.Name())
	}
	return names
}

// result accumulates checks in insertion order so the mean is independent
// of map iteration.
type result struct {
	name   string
	order  []string
	checks map[string]judge.Score
	issues []string
}

func newResult(name string) *result {
	return &result{name: name, checks: make(map[string]judge.Score)}
}

func (r *result) check(name string, score judge.Score) {
	if _, ok := r.checks[name]; !ok {
		r.order = append(r.order, name)
	}
	r.checks[name] = score
}

func (r *result) issue(format string, args ...any) {
	r.issues = append(r.issues, fmt.Sprintf(format, args...))
}

// finish averages the checks; empty returns fallback.
func (r *result) finish(fallback float64) CategoryResult {
	score := fallback
	if len(r.order) > 0 {
		total := 0.0
		for _, name := range r.order {
			total += r.checks[name].Value
		}
		score = total / float64(len(r.order))
	}
	issues := r.issues
	if issues == nil {
		issues = []string{}
	}
	return CategoryResult{Name: r.name, Score: score, Checks: r.checks, Issues: issues}
}

func score(value float64, reason string) judge.Score {
	return judge.Score{Value: value, Reason: reason}
}

func scoreWithDetails(value float64, reason string, details map[string]any) judge.Score {
	return judge.Score{Value: value, Reason: reason, Details: details}
}

// text renders a trace payload for the judge. Strings pass through; other
// values are JSON encoded.
func text(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case fmt.Stringer:
		return typed.String()
	case []byte:
		return string(typed)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	s := string(data)
	if s == "null" || s == `""` {
		return ""
	}
	return s
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
