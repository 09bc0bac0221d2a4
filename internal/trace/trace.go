package trace

import (
	"time"
)

// Message is one role/content pair sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelCall is a single model invocation. Recorded by value and never mutated.
type ModelCall struct {
	Model        string         `json:"model"`
	Messages     []Message      `json:"messages,omitempty"`
	Response     string         `json:"response"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	Duration     time.Duration  `json:"duration_ns"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// TotalTokens returns input plus output tokens.
func (c ModelCall) TotalTokens() int {
	return c.InputTokens + c.OutputTokens
}

// ToolCall is a single tool or function invocation.
type ToolCall struct {
	Name      string        `json:"name"`
	Input     any           `json:"input,omitempty"`
	Output    any           `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// AgentSpan marks one agent's contribution inside a trace. EndTime is nil while
// the span is open.
type AgentSpan struct {
	Name         string      `json:"name"`
	Role         string      `json:"role,omitempty"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      *time.Time  `json:"end_time,omitempty"`
	ModelCalls   []ModelCall `json:"model_calls,omitempty"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	Input        any         `json:"input,omitempty"`
	Output       any         `json:"output,omitempty"`
	Error        string      `json:"error,omitempty"`
	Unterminated bool        `json:"unterminated,omitempty"`
}

// Open reports whether the span has not ended yet.
func (s *AgentSpan) Open() bool {
	return s != nil && s.EndTime == nil
}

// Event is a generic adaptor event such as a task boundary.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Trace is one complete captured execution.
type Trace struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	System     string         `json:"system,omitempty"`
	Input      any            `json:"input,omitempty"`
	Output     any            `json:"output,omitempty"`
	ModelCalls []ModelCall    `json:"model_calls"`
	ToolCalls  []ToolCall     `json:"tool_calls"`
	AgentSpans []*AgentSpan   `json:"agent_spans"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	Duration   time.Duration  `json:"duration_ns"`
	Error      string         `json:"error,omitempty"`
	Framework  string         `json:"framework,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Issues     []string       `json:"issues,omitempty"`
	Events     []Event        `json:"events,omitempty"`
}

// TotalTokens sums input and output tokens over every model call.
func (t *Trace) TotalTokens() int {
	if t == nil {
		return 0
	}
	total := 0
	for _, call := range t.ModelCalls {
		total += call.TotalTokens()
	}
	return total
}

// PriceFunc returns the USD cost of one model call.
type PriceFunc func(model string, inputTokens, outputTokens int) float64

// EstimatedCostUSD prices every model call with price. Unknown models should
// price at zero.
func (t *Trace) EstimatedCostUSD(price PriceFunc) float64 {
	if t == nil || price == nil {
		return 0
	}
	total := 0.0
	for _, call := range t.ModelCalls {
		total += price(call.Model, call.InputTokens, call.OutputTokens)
	}
	return total
}

// ToolErrorCount returns how many tool calls reported an error.
func (t *Trace) ToolErrorCount() int {
	if t == nil {
		return 0
	}
	count := 0
	for _, call := range t.ToolCalls {
		if call.Error != "" {
			count++
		}
	}
	return count
}

// AgentNames returns span names in first-seen order without duplicates.
func (t *Trace) AgentNames() []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(t.AgentSpans))
	names := make([]string, 0, len(t.AgentSpans))
	for _, span := range t.AgentSpans {
		if span == nil {
			continue
		}
		if _, ok := seen[span.Name]; ok {
			continue
		}
		seen[span.Name] = struct{}{}
		names = append(names, span.Name)
	}
	return names
}

// Clone returns a deep copy of the trace's slices, maps and spans. Input, Output
// and tool payloads are copied by reference.
func (t *Trace) Clone() *Trace {
	if t == nil {
		return nil
	}
	out := *t
	out.ModelCalls = cloneModelCalls(t.ModelCalls)
	out.ToolCalls = append([]ToolCall(nil), t.ToolCalls...)
	out.Metadata = cloneMap(t.Metadata)
	out.Issues = append([]string(nil), t.Issues...)
	out.Events = append([]Event(nil), t.Events...)
	out.AgentSpans = make([]*AgentSpan, 0, len(t.AgentSpans))
	for _, span := range t.AgentSpans {
		if span == nil {
			continue
		}
		copied := *span
		if span.EndTime != nil {
			end := *span.EndTime
			copied.EndTime = &end
		}
		copied.ModelCalls = cloneModelCalls(span.ModelCalls)
		copied.ToolCalls = append([]ToolCall(nil), span.ToolCalls...)
		out.AgentSpans = append(out.AgentSpans, &copied)
	}
	return &out
}

func cloneModelCalls(in []ModelCall) []ModelCall {
	if in == nil {
		return nil
	}
	out := make([]ModelCall, len(in))
	for i, call := range in {
		call.Messages = append([]Message(nil), call.Messages...)
		call.Metadata = cloneMap(call.Metadata)
		out[i] = call
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
