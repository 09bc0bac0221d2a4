package trace

import (
	"testing"
	"time"
)

func TestTraceDerivedTotals(t *testing.T) {
	t.Parallel()

	item := &Trace{
		ModelCalls: []ModelCall{
			{Model: "gpt-4o", InputTokens: 1000, OutputTokens: 500},
			{Model: "unknown-model", InputTokens: 10, OutputTokens: 10},
		},
		ToolCalls: []ToolCall{
			{Name: "search"},
			{Name: "search", Error: "timeout"},
		},
		AgentSpans: []*AgentSpan{{Name: "a"}, {Name: "b"}, {Name: "a"}},
	}

	if got := item.TotalTokens(); got != 1520 {
		t.Fatalf("TotalTokens()=%d, want 1520", got)
	}
	if got := item.ToolErrorCount(); got != 1 {
		t.Fatalf("ToolErrorCount()=%d, want 1", got)
	}
	if got := item.AgentNames(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("AgentNames()=%v, want [a b]", got)
	}

	price := func(model string, in, out int) float64 {
		if model != "gpt-4o" {
			return 0
		}
		return float64(in+out) / 1000
	}
	if got := item.EstimatedCostUSD(price); got != 1.5 {
		t.Fatalf("EstimatedCostUSD()=%v, want 1.5", got)
	}
	if got := item.EstimatedCostUSD(nil); got != 0 {
		t.Fatalf("EstimatedCostUSD(nil)=%v, want 0", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	end := time.Now()
	item := &Trace{
		ModelCalls: []ModelCall{{Model: "m", Messages: []Message{{Role: "user", Content: "hi"}}}},
		AgentSpans: []*AgentSpan{{Name: "a", EndTime: &end}},
		Metadata:   map[string]any{"k": "v"},
	}
	copied := item.Clone()
	copied.ModelCalls[0].Messages[0].Content = "changed"
	copied.AgentSpans[0].Name = "changed"
	*copied.AgentSpans[0].EndTime = end.Add(time.Hour)
	copied.Metadata["k"] = "changed"

	if item.ModelCalls[0].Messages[0].Content != "hi" {
		t.Fatal("clone shares message slice")
	}
	if item.AgentSpans[0].Name != "a" || !item.AgentSpans[0].EndTime.Equal(end) {
		t.Fatal("clone shares span")
	}
	if item.Metadata["k"] != "v" {
		t.Fatal("clone shares metadata")
	}
}
