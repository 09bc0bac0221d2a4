package evaluators

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/ongoingai/agenteval/internal/judge"
	"github.com/ongoingai/agenteval/internal/trace"
)

// PerformanceEvaluator scores duration, token usage and error rate.
type PerformanceEvaluator struct{}

func NewPerformance() *PerformanceEvaluator {
	return &PerformanceEvaluator{}
}

func (e *PerformanceEvaluator) Name() string { return Performance }

func (e *PerformanceEvaluator) Evaluate(_ context.Context, t *trace.Trace, _ string) (CategoryResult, error) {
	r := newResult(Performance)

	duration := durationScore(t.Duration.Seconds())
	r.check("duration", duration)
	if duration.Value < issueThreshold {
		r.issue("Slow execution: %.1fs", t.Duration.Seconds())
	}

	tokens := t.TotalTokens()
	tokenScore := tokenEfficiency(tokens)
	r.check("token_efficiency", tokenScore)
	if tokenScore.Value < issueThreshold {
		r.issue("High token usage: %s tokens", humanize.Comma(int64(tokens)))
	}

	errScore := errorRate(t)
	r.check("error_rate", errScore)
	if errScore.Value < 0.9 {
		r.issue("Errors occurred during execution")
	}

	return r.finish(0), nil
}

func durationScore(seconds float64) judge.Score {
	switch {
	case seconds < 5:
		return score(0.9, fmt.Sprintf("Fast execution (%.1fs)", seconds))
	case seconds < 15:
		return score(0.7, fmt.Sprintf("Moderate execution time (%.1fs)", seconds))
	case seconds < 30:
		return score(0.5, fmt.Sprintf("Slow execution (%.1fs)", seconds))
	default:
		return score(0.3, fmt.Sprintf("Very slow execution (%.1fs)", seconds))
	}
}

func tokenEfficiency(tokens int) judge.Score {
	formatted := humanize.Comma(int64(tokens))
	switch {
	case tokens == 0:
		return score(1, "No model calls")
	case tokens < 1000:
		return score(0.9, fmt.Sprintf("Efficient token usage (%s tokens)", formatted))
	case tokens < 5000:
		return score(0.7, fmt.Sprintf("Moderate token usage (%s tokens)", formatted))
	case tokens < 20000:
		return score(0.5, fmt.Sprintf("High token usage (%s tokens)", formatted))
	default:
		return score(0.3, fmt.Sprintf("Very high token usage (%s tokens)", formatted))
	}
}

func errorRate(t *trace.Trace) judge.Score {
	if t.Error != "" {
		return score(0, "Trace failed with error: "+t.Error)
	}
	switch failed := t.ToolErrorCount(); failed {
	case 0:
		return score(1, "No errors")
	case 1:
		return score(0.8, "1 tool call failed")
	default:
		return score(0.6, fmt.Sprintf("%d tool calls failed", failed))
	}
}
