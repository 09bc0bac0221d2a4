package instrument

import (
	"context"
	"fmt"
	"time"

	"github.com/ongoingai/agenteval/internal/trace"
)

// AgentScope is one open agent span. A scope created without an active
// capture is inert.
type AgentScope struct {
	capture *trace.Capture
	name    string
	ended   bool
}

// Agent begins a span named name on the capture active on ctx. Without an
// active capture it returns an inert scope and no error.
func Agent(ctx context.Context, name, role string, input any) (*AgentScope, error) {
	capture, ok := trace.FromContext(ctx)
	if !ok {
		return &AgentScope{name: name}, nil
	}
	if err := capture.BeginSpan(name, role, input); err != nil {
		return nil, err
	}
	return &AgentScope{capture: capture, name: name}, nil
}

func (s *AgentScope) Name() string { return s.name }

// Active reports whether the scope records into a capture.
func (s *AgentScope) Active() bool {
	return s != nil && s.capture != nil
}

// End ends the span with output and runErr. Ending twice returns
// *trace.UnknownSpanError from the second call.
func (s *AgentScope) End(output any, runErr error) error {
	if !s.Active() {
		return nil
	}
	if s.ended {
		return &trace.UnknownSpanError{Name: s.name}
	}
	s.ended = true
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	return s.capture.EndSpan(s.name, output, errText)
}

// RunAgent runs fn inside an agent span. The span ends on every exit path,
// including a panic, which is re-raised after the span ends.
func RunAgent[Out any](ctx context.Context, name, role string, input any, fn func(context.Context) (Out, error)) (out Out, err error) {
	scope, err := Agent(ctx, name, role, input)
	if err != nil {
		return out, err
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			_ = scope.End(nil, fmt.Errorf("panic: %v", recovered))
			panic(recovered)
		}
		if endErr := scope.End(out, err); endErr != nil && err == nil {
			err = endErr
		}
	}()
	return fn(ctx)
}

// RecordTool runs fn and records it as a tool call on the active capture.
// The tool's own error is returned unchanged.
func RecordTool[In, Out any](ctx context.Context, name string, in In, fn func(context.Context, In) (Out, error)) (Out, error) {
	started := time.Now()
	out, err := fn(ctx, in)
	call := trace.ToolCall{
		Name:      name,
		Input:     in,
		Duration:  time.Since(started),
		Timestamp: started.UTC(),
	}
	if err != nil {
		call.Error = err.Error()
	} else {
		call.Output = out
	}
	trace.RecordToolCall(ctx, call)
	return out, err
}

// Event types emitted by Hooks.
const (
	EventTaskStart = "task_start"
	EventTaskEnd   = "task_end"
)

// Hooks adapts callback-style agent frameworks onto the active capture.
// Every hook is a no-op without a capture.
type Hooks struct {
	// Framework is stamped on the trace at the first hook call.
	Framework string
}

func (h Hooks) OnAgentStart(ctx context.Context, name, role string, input any) error {
	capture, ok := h.capture(ctx)
	if !ok {
		return nil
	}
	return capture.BeginSpan(name, role, input)
}

func (h Hooks) OnAgentEnd(ctx context.Context, name string, output any, runErr error) error {
	capture, ok := h.capture(ctx)
	if !ok {
		return nil
	}
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	return capture.EndSpan(name, output, errText)
}

func (h Hooks) OnTaskStart(ctx context.Context, name string, input any) {
	if capture, ok := h.capture(ctx); ok {
		capture.AddEvent(EventTaskStart, map[string]any{"name": name, "input": input})
	}
}

func (h Hooks) OnTaskEnd(ctx context.Context, name string, output any) {
	if capture, ok := h.capture(ctx); ok {
		capture.AddEvent(EventTaskEnd, map[string]any{"name": name, "output": output})
	}
}

func (h Hooks) capture(ctx context.Context) (*trace.Capture, bool) {
	capture, ok := trace.FromContext(ctx)
	if ok && h.Framework != "" {
		capture.SetFramework(h.Framework)
	}
	return capture, ok
}
