package instrument

import (
	"sort"
	"sync"

	"github.com/ongoingai/agenteval/internal/trace"
)

// Collector holds closed traces for the process. It is append-only until
// Clear; stored traces are never mutated.
type Collector struct {
	mu     sync.Mutex
	traces []*trace.Trace
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Add(t *trace.Trace) {
	if t == nil {
		return
	}
	c.mu.Lock()
	c.traces = append(c.traces, t)
	c.mu.Unlock()
}

// Traces returns the collected traces in close order.
func (c *Collector) Traces() []*trace.Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*trace.Trace, len(c.traces))
	copy(out, c.traces)
	return out
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.traces)
}

func (c *Collector) Clear() {
	c.mu.Lock()
	c.traces = nil
	c.mu.Unlock()
}

// Coverage summarizes which agents and tools the collected traces exercised.
type Coverage struct {
	Agents     []string `json:"agents"`
	Tools      []string `json:"tools"`
	Traces     int      `json:"traces"`
	ModelCalls int      `json:"model_calls"`
	ToolCalls  int      `json:"tool_calls"`
}

func (c *Collector) Coverage() Coverage {
	traces := c.Traces()
	agents := make(map[string]struct{})
	tools := make(map[string]struct{})
	out := Coverage{Traces: len(traces)}
	for _, t := range traces {
		for _, span := range t.AgentSpans {
			agents[span.Name] = struct{}{}
		}
		for _, call := range t.ToolCalls {
			tools[call.Name] = struct{}{}
		}
		out.ModelCalls += len(t.ModelCalls)
		out.ToolCalls += len(t.ToolCalls)
	}
	out.Agents = sortedKeys(agents)
	out.Tools = sortedKeys(tools)
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
