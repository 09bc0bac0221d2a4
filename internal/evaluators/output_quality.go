package evaluators

import (
	"context"
	"fmt"
	"strings"

	"github.com/ongoingai/agenteval/internal/judge"
	"github.com/ongoingai/agenteval/internal/trace"
)

// OutputQualityEvaluator judges clarity and completeness and checks the
// output's surface format.
type OutputQualityEvaluator struct {
	judge judge.Judge
}

func NewOutputQuality(j judge.Judge) *OutputQualityEvaluator {
	return &OutputQualityEvaluator{judge: j}
}

func (e *OutputQualityEvaluator) Name() string { return OutputQuality }

func (e *OutputQualityEvaluator) Evaluate(ctx context.Context, t *trace.Trace, systemDescription string) (CategoryResult, error) {
	r := newResult(OutputQuality)
	output := text(t.Output)
	if output == "" {
		r.check("no_output", score(0, "No output generated"))
		r.issue("No output generated")
		return r.finish(0), nil
	}
	input := text(t.Input)

	clarity, err := e.judge.Evaluate(ctx, "Is the output clear, well-structured, and easy to understand?", input, output, systemDescription)
	if err != nil {
		return CategoryResult{}, fmt.Errorf("clarity: %w", err)
	}
	r.check("clarity", clarity)
	if clarity.Value < issueThreshold {
		r.issue("Output may be unclear or poorly structured")
	}

	completeness, err := e.judge.Evaluate(ctx, "Is the output complete and comprehensive?", input, output, systemDescription)
	if err != nil {
		return CategoryResult{}, fmt.Errorf("completeness: %w", err)
	}
	r.check("completeness", completeness)
	if completeness.Value < issueThreshold {
		r.issue("Output may be incomplete")
	}

	format := outputFormat(output)
	r.check("format", format)
	if format.Value < issueThreshold {
		r.issue("Output format may be inconsistent")
	}

	return r.finish(0), nil
}

func outputFormat(output string) judge.Score {
	var problems []string
	if len([]rune(strings.TrimSpace(output))) < 10 {
		problems = append(problems, "Output is very short")
	}

	counts := make(map[string]int)
	maxRepeat := 0
	for _, word := range strings.Fields(strings.ToLower(output)) {
		counts[word]++
		if counts[word] > maxRepeat {
			maxRepeat = counts[word]
		}
	}
	if maxRepeat > 10 {
		problems = append(problems, "Excessive word repetition")
	}

	if len([]rune(output)) > 20 && isUpper(output) {
		problems = append(problems, "Output is all uppercase")
	}

	if len(problems) > 0 {
		return scoreWithDetails(0.6, "Format issues: "+strings.Join(problems, ", "), map[string]any{"issues": problems})
	}
	return score(0.9, "Output format appears good")
}

// isUpper reports whether s has at least one cased letter and no lowercase
// letters.
func isUpper(s string) bool {
	return strings.ToUpper(s) == s && strings.ToLower(s) != s
}
