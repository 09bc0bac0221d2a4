package evaluators

import (
	"context"
	"fmt"
	"strings"

	"github.com/ongoingai/agenteval/internal/judge"
	"github.com/ongoingai/agenteval/internal/trace"
)

// ReasoningEvaluator judges the logic of the first model exchanges and scores
// tool selection and step efficiency heuristically.
type ReasoningEvaluator struct {
	judge judge.Judge
}

func NewReasoning(j judge.Judge) *ReasoningEvaluator {
	return &ReasoningEvaluator{judge: j}
}

func (e *ReasoningEvaluator) Name() string { return Reasoning }

func (e *ReasoningEvaluator) Evaluate(ctx context.Context, t *trace.Trace, systemDescription string) (CategoryResult, error) {
	r := newResult(Reasoning)

	if conversation := conversationExcerpt(t.ModelCalls, 3); conversation != "" {
		input := text(t.Input)
		if input == "" {
			input = "N/A"
		}
		s, err := e.judge.Evaluate(ctx, "Is the agent's reasoning logical and consistent?", input, conversation, systemDescription)
		if err != nil {
			return CategoryResult{}, fmt.Errorf("logical_consistency: %w", err)
		}
		r.check("logical_consistency", s)
		if s.Value < issueThreshold {
			r.issue("Reasoning may be inconsistent or illogical")
		}
	}

	if len(t.ToolCalls) > 0 {
		s := toolSelection(t)
		r.check("tool_selection", s)
		if s.Value < issueThreshold {
			r.issue("Tool selection may be suboptimal")
		}
	}

	s := stepEfficiency(len(t.ModelCalls))
	r.check("efficiency", s)
	if s.Value < issueThreshold {
		r.issue("Agent may be taking inefficient steps")
	}

	return r.finish(0.5), nil
}

// conversationExcerpt renders up to limit model calls as Query/Response
// lines, each truncated to 200 characters.
func conversationExcerpt(calls []trace.ModelCall, limit int) string {
	var lines []string
	for i, call := range calls {
		if i >= limit {
			break
		}
		if n := len(call.Messages); n > 0 {
			lines = append(lines, "Query: "+truncate(call.Messages[n-1].Content, 200))
		}
		lines = append(lines, "Response: "+truncate(call.Response, 200))
	}
	return strings.Join(lines, "\n")
}

func toolSelection(t *trace.Trace) judge.Score {
	rate := float64(t.ToolErrorCount()) / float64(len(t.ToolCalls))
	details := map[string]any{"error_rate": rate}
	switch {
	case rate > 0.3:
		return scoreWithDetails(0.4, fmt.Sprintf("%.0f%% of tool calls failed", rate*100), details)
	case rate > 0.1:
		return scoreWithDetails(0.7, fmt.Sprintf("%.0f%% of tool calls failed", rate*100), details)
	default:
		return scoreWithDetails(0.9, "Tool calls executed successfully", details)
	}
}

func stepEfficiency(modelCalls int) judge.Score {
	details := map[string]any{"model_calls": modelCalls}
	switch {
	case modelCalls == 0:
		return score(0.5, "No model calls to evaluate")
	case modelCalls > 10:
		return scoreWithDetails(0.6, fmt.Sprintf("High number of model calls (%d) may indicate inefficiency", modelCalls), details)
	case modelCalls > 5:
		return scoreWithDetails(0.8, fmt.Sprintf("Moderate number of model calls (%d)", modelCalls), details)
	default:
		return scoreWithDetails(0.9, fmt.Sprintf("Efficient use of model calls (%d)", modelCalls), details)
	}
}
