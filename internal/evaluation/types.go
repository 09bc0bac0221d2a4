package evaluation

import (
	"time"

	"github.com/ongoingai/agenteval/internal/evaluators"
)

// Status bands an overall score.
type Status string

const (
	StatusExcellent Status = "excellent"
	StatusGood      Status = "good"
	StatusFair      Status = "fair"
	StatusPoor      Status = "poor"
)

// StatusFor classifies score. Each band includes its lower bound.
func StatusFor(score float64) Status {
	switch {
	case score >= 0.90:
		return StatusExcellent
	case score >= 0.75:
		return StatusGood
	case score >= 0.60:
		return StatusFair
	default:
		return StatusPoor
	}
}

// TraceResult is the evaluation of one trace.
type TraceResult struct {
	TraceID        string                      `json:"trace_id"`
	TraceName      string                      `json:"trace_name,omitempty"`
	Score          float64                     `json:"score"`
	Categories     []evaluators.CategoryResult `json:"categories"`
	Issues         []string                    `json:"issues"`
	InputPreview   string                      `json:"input_preview"`
	OutputPreview  string                      `json:"output_preview"`
	Duration       time.Duration               `json:"duration_ns"`
	ModelCallCount int                         `json:"model_call_count"`
	ToolCallCount  int                         `json:"tool_call_count"`
}

// EvaluationResult is the scored outcome of one evaluation run.
type EvaluationResult struct {
	SchemaVersion   string                      `json:"schema_version"`
	Name            string                      `json:"name"`
	SystemName      string                      `json:"system_name"`
	Score           float64                     `json:"score"`
	Status          Status                      `json:"status"`
	Categories      []evaluators.CategoryResult `json:"categories"`
	TraceResults    []TraceResult               `json:"trace_results"`
	Summary         string                      `json:"summary"`
	Issues          []string                    `json:"issues"`
	Recommendations []string                    `json:"recommendations"`
	TotalTraces     int                         `json:"total_traces"`
	TotalModelCalls int                         `json:"total_model_calls"`
	TotalToolCalls  int                         `json:"total_tool_calls"`
	TotalTokens     int                         `json:"total_tokens"`
	TotalDuration   time.Duration               `json:"total_duration_ns"`
	AgentsObserved  []string                    `json:"agents_observed"`
	ToolsObserved   []string                    `json:"tools_observed"`
	Timestamp       time.Time                   `json:"timestamp"`
	Version         string                      `json:"version"`
}

// Category returns the aggregate result for name.
func (r *EvaluationResult) Category(name string) (evaluators.CategoryResult, bool) {
	if r == nil {
		return evaluators.CategoryResult{}, false
	}
	for _, c := range r.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return evaluators.CategoryResult{}, false
}
