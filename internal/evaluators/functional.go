package evaluators

import (
	"context"
	"fmt"

	"github.com/ongoingai/agenteval/internal/judge"
	"github.com/ongoingai/agenteval/internal/trace"
)

const issueThreshold = 0.7

// FunctionalEvaluator asks the judge whether the agent completed the task
// correctly and fully.
type FunctionalEvaluator struct {
	judge judge.Judge
}

func NewFunctional(j judge.Judge) *FunctionalEvaluator {
	return &FunctionalEvaluator{judge: j}
}

func (e *FunctionalEvaluator) Name() string { return Functional }

func (e *FunctionalEvaluator) Evaluate(ctx context.Context, t *trace.Trace, systemDescription string) (CategoryResult, error) {
	r := newResult(Functional)
	input, output := text(t.Input), text(t.Output)
	answered := input != "" && output != ""

	if answered {
		s, err := e.judge.Evaluate(ctx, "Did the agent complete the requested task?", input, output, systemDescription)
		if err != nil {
			return CategoryResult{}, fmt.Errorf("task_completion: %w", err)
		}
		r.check("task_completion", s)
		if s.Value < issueThreshold {
			r.issue("Task may be incomplete: %s...", truncate(input, 50))
		}
	}

	if t.Error == "" {
		s, err := e.judge.Evaluate(ctx, "Is the output correct and appropriate for the input?", input, output, systemDescription)
		if err != nil {
			return CategoryResult{}, fmt.Errorf("correctness: %w", err)
		}
		r.check("correctness", s)
		if s.Value < issueThreshold {
			r.issue("Output may be incorrect")
		}
	} else {
		r.check("correctness", score(0, "Error occurred: "+t.Error))
		r.issue("Execution error: %s", t.Error)
	}

	if answered {
		s, err := e.judge.Evaluate(ctx, "Does the output fully address all aspects of the input request?", input, output, systemDescription)
		if err != nil {
			return CategoryResult{}, fmt.Errorf("completeness: %w", err)
		}
		r.check("completeness", s)
		if s.Value < issueThreshold {
			r.issue("Response may be incomplete")
		}
	}

	return r.finish(0), nil
}
