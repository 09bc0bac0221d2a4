package judge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Score is a value in [0,1] with a justification.
type Score struct {
	Value   float64        `json:"value"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}

// Judge scores free text against a natural-language criterion. Errors are
// recoverable; callers fall back to a neutral score.
type Judge interface {
	Evaluate(ctx context.Context, criteria, input, output, systemContext string) (Score, error)
}

// Func adapts a function to Judge.
type Func func(ctx context.Context, criteria, input, output, systemContext string) (Score, error)

func (f Func) Evaluate(ctx context.Context, criteria, input, output, systemContext string) (Score, error) {
	return f(ctx, criteria, input, output, systemContext)
}

var (
	ErrMissingAPIKey = errors.New("judge api key is not configured")
	ErrEmptyResponse = errors.New("judge returned no completion")
)

const systemPrompt = "You are an expert AI agent evaluator. Provide objective, precise evaluations."

// BuildPrompt renders the user prompt sent to the judge model.
func BuildPrompt(criteria, input, output, systemContext string) string {
	var b strings.Builder
	b.WriteString("You are an expert evaluator of AI agent systems.\n\n")
	fmt.Fprintf(&b, "Evaluate the following based on this criteria: %s\n\n", criteria)
	if systemContext != "" {
		fmt.Fprintf(&b, "System Context: %s\n\n", systemContext)
	}
	fmt.Fprintf(&b, "Input:\n%s\n\n", input)
	fmt.Fprintf(&b, "Output:\n%s\n\n", output)
	b.WriteString("Provide your evaluation in the following format:\n")
	b.WriteString("SCORE: [0.0 to 1.0]\n")
	b.WriteString("REASON: [Brief explanation]\n\n")
	b.WriteString("Be objective and precise. Consider:\n")
	b.WriteString("- Does the output address the input?\n")
	b.WriteString("- Is it correct and appropriate?\n")
	b.WriteString("- Are there any errors or issues?\n\n")
	b.WriteString("Your evaluation:")
	return b.String()
}

const unparsedReason = "Could not parse evaluation"

// ParseResponse extracts SCORE and REASON lines from a judge completion.
// A missing or malformed score yields 0.5. Without a REASON line the text
// after the score line is used.
func ParseResponse(response string) Score {
	lines := strings.Split(strings.TrimSpace(response), "\n")
	value := 0.5
	reason := unparsedReason
	scoreLine := -1

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "SCORE:"):
			if scoreLine < 0 {
				scoreLine = i
			}
			parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "SCORE:")), 64)
			if err == nil && !math.IsNaN(parsed) && !math.IsInf(parsed, 0) {
				value = clamp(parsed)
			}
		case strings.HasPrefix(line, "REASON:"):
			reason = strings.TrimSpace(strings.TrimPrefix(line, "REASON:"))
		}
	}

	if reason == unparsedReason && scoreLine >= 0 && scoreLine < len(lines)-1 {
		rest := strings.TrimSpace(strings.Join(lines[scoreLine+1:], "\n"))
		reason = strings.TrimSpace(strings.TrimPrefix(rest, "REASON:"))
	}
	if reason == "" {
		reason = "No reason provided"
	}
	return Score{
		Value:   value,
		Reason:  reason,
		Details: map[string]any{"raw_response": response},
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
