package evaluators

import (
	"context"
	"fmt"
	"time"

	"github.com/ongoingai/agenteval/internal/judge"
	"github.com/ongoingai/agenteval/internal/trace"
)

// ToolUsageEvaluator scores tool success rate, diversity and latency. A trace
// without tool calls scores 0.8.
type ToolUsageEvaluator struct{}

func NewToolUsage() *ToolUsageEvaluator {
	return &ToolUsageEvaluator{}
}

func (e *ToolUsageEvaluator) Name() string { return ToolUsage }

func (e *ToolUsageEvaluator) Evaluate(_ context.Context, t *trace.Trace, _ string) (CategoryResult, error) {
	r := newResult(ToolUsage)
	if len(t.ToolCalls) == 0 {
		r.check("no_tools", score(0.8, "No tools were called"))
		return r.finish(0.8), nil
	}

	success := toolSuccessRate(t)
	r.check("success_rate", success)
	if success.Value < issueThreshold {
		r.issue("Tool success rate is low: %.0f%%", success.Value*100)
	}

	r.check("diversity", toolDiversity(t.ToolCalls))

	latency := toolLatency(t.ToolCalls)
	r.check("latency", latency)
	if latency.Value < issueThreshold {
		r.issue("Tool calls are slow")
	}

	return r.finish(0), nil
}

func toolSuccessRate(t *trace.Trace) judge.Score {
	total := len(t.ToolCalls)
	errs := t.ToolErrorCount()
	rate := float64(total-errs) / float64(total)
	reason := "All tool calls succeeded"
	if errs > 0 {
		reason = fmt.Sprintf("%d of %d tool calls failed", errs, total)
	}
	return scoreWithDetails(rate, reason, map[string]any{"total": total, "errors": errs, "success_rate": rate})
}

func toolDiversity(calls []trace.ToolCall) judge.Score {
	unique := make(map[string]struct{}, len(calls))
	for _, call := range calls {
		unique[call.Name] = struct{}{}
	}
	ratio := float64(len(unique)) / float64(len(calls))
	switch {
	case ratio > 0.7:
		return score(0.9, fmt.Sprintf("Good tool diversity (%d unique tools)", len(unique)))
	case ratio > 0.4:
		return score(0.7, fmt.Sprintf("Moderate tool diversity (%d unique tools)", len(unique)))
	default:
		return score(0.5, "Low tool diversity - may be overusing specific tools")
	}
}

func toolLatency(calls []trace.ToolCall) judge.Score {
	var total time.Duration
	for _, call := range calls {
		total += call.Duration
	}
	avg := float64(total) / float64(time.Millisecond) / float64(len(calls))
	switch {
	case avg < 500:
		return score(0.9, fmt.Sprintf("Fast tool calls (avg %.0fms)", avg))
	case avg < 2000:
		return score(0.7, fmt.Sprintf("Moderate tool latency (avg %.0fms)", avg))
	default:
		return score(0.5, fmt.Sprintf("Slow tool calls (avg %.0fms)", avg))
	}
}
