package trace

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCaptureClosed  = errors.New("capture is already closed")
	ErrCaptureNotOpen = errors.New("capture was not opened")
)

// DuplicateSpanError is returned when a span is begun while another open span
// already carries the same name.
type DuplicateSpanError struct {
	Name string
}

func (e *DuplicateSpanError) Error() string {
	return fmt.Sprintf("agent span %q is already open", e.Name)
}

// UnknownSpanError is returned when ending a span name that is not open.
type UnknownSpanError struct {
	Name string
}

func (e *UnknownSpanError) Error() string {
	return fmt.Sprintf("agent span %q is not open", e.Name)
}

type captureState int

const (
	captureUnopened captureState = iota
	captureOpen
	captureClosed
)

// Capture owns one Trace for the lifetime of a logical execution. Its methods
// are safe for concurrent use by goroutines of that execution.
type Capture struct {
	mu     sync.Mutex
	state  captureState
	trace  *Trace
	stack  []*AgentSpan
	parent *Capture
	now    func() time.Time
}

func newCapture(name string, parent *Capture, now func() time.Time) *Capture {
	if now == nil {
		now = time.Now
	}
	started := now().UTC()
	return &Capture{
		state:  captureOpen,
		parent: parent,
		now:    now,
		trace: &Trace{
			ID:         uuid.NewString(),
			Name:       name,
			ModelCalls: []ModelCall{},
			ToolCalls:  []ToolCall{},
			AgentSpans: []*AgentSpan{},
			StartTime:  started,
		},
	}
}

// ID returns the identifier of the owned trace.
func (c *Capture) ID() string {
	if c == nil || c.trace == nil {
		return ""
	}
	return c.trace.ID
}

// Closed reports whether Close has completed.
func (c *Capture) Closed() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == captureClosed
}

// Close finishes the trace and returns it. Spans still open are force-closed
// and noted as trace issues. A second call returns ErrCaptureClosed and leaves
// the closed trace untouched.
func (c *Capture) Close(runErr error) (*Trace, error) {
	if c == nil {
		return nil, ErrCaptureNotOpen
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case captureUnopened:
		return nil, ErrCaptureNotOpen
	case captureClosed:
		return nil, ErrCaptureClosed
	}

	ended := c.now().UTC()
	for i := len(c.stack) - 1; i >= 0; i-- {
		span := c.stack[i]
		span.EndTime = timePtr(ended)
		span.Unterminated = true
		c.trace.Issues = append(c.trace.Issues, fmt.Sprintf("agent span %q still open at trace close", span.Name))
	}
	c.stack = nil

	c.trace.EndTime = ended
	c.trace.Duration = ended.Sub(c.trace.StartTime)
	if c.trace.Duration < 0 {
		c.trace.Duration = 0
	}
	if runErr != nil {
		c.trace.Error = runErr.Error()
	}
	c.state = captureClosed
	return c.trace, nil
}

// SetInput records the execution input. Last write wins.
func (c *Capture) SetInput(v any) {
	c.mutate(func(t *Trace) { t.Input = v })
}

// SetOutput records the execution output. Last write wins.
func (c *Capture) SetOutput(v any) {
	c.mutate(func(t *Trace) { t.Output = v })
}

// SetSystem labels the trace with the system under evaluation.
func (c *Capture) SetSystem(name string) {
	c.mutate(func(t *Trace) { t.System = name })
}

// SetFramework labels the trace with the originating framework.
func (c *Capture) SetFramework(name string) {
	c.mutate(func(t *Trace) { t.Framework = name })
}

// SetMetadata sets one metadata key on the trace.
func (c *Capture) SetMetadata(key string, value any) {
	c.mutate(func(t *Trace) {
		if t.Metadata == nil {
			t.Metadata = make(map[string]any)
		}
		t.Metadata[key] = value
	})
}

func (c *Capture) mutate(fn func(*Trace)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != captureOpen {
		return
	}
	fn(c.trace)
}

// RecordModelCall appends call to the trace and to the innermost open span.
func (c *Capture) RecordModelCall(call ModelCall) error {
	if c == nil {
		return ErrCaptureNotOpen
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	if call.Timestamp.IsZero() {
		call.Timestamp = c.now().UTC()
	}
	call.Messages = append([]Message(nil), call.Messages...)
	call.Metadata = cloneMap(call.Metadata)
	c.trace.ModelCalls = append(c.trace.ModelCalls, call)
	if span := c.innermostLocked(); span != nil {
		span.ModelCalls = append(span.ModelCalls, call)
	}
	return nil
}

// RecordToolCall appends call to the trace and to the innermost open span.
func (c *Capture) RecordToolCall(call ToolCall) error {
	if c == nil {
		return ErrCaptureNotOpen
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	if call.Timestamp.IsZero() {
		call.Timestamp = c.now().UTC()
	}
	c.trace.ToolCalls = append(c.trace.ToolCalls, call)
	if span := c.innermostLocked(); span != nil {
		span.ToolCalls = append(span.ToolCalls, call)
	}
	return nil
}

// BeginSpan opens a named agent span nested inside the current innermost span.
// The span is visible in the trace before it ends.
func (c *Capture) BeginSpan(name, role string, input any) error {
	if c == nil {
		return ErrCaptureNotOpen
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	for _, open := range c.stack {
		if open.Name == name {
			return &DuplicateSpanError{Name: name}
		}
	}
	span := &AgentSpan{
		Name:       name,
		Role:       role,
		StartTime:  c.now().UTC(),
		Input:      input,
		ModelCalls: []ModelCall{},
		ToolCalls:  []ToolCall{},
	}
	c.stack = append(c.stack, span)
	c.trace.AgentSpans = append(c.trace.AgentSpans, span)
	return nil
}

// EndSpan ends the named open span. Spans opened inside it that are still open
// are force-closed, marked unterminated, and reported as trace issues.
func (c *Capture) EndSpan(name string, output any, errText string) error {
	if c == nil {
		return ErrCaptureNotOpen
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	idx := -1
	for i := len(c.stack) - 1; i >= 0; i-- {
		if c.stack[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &UnknownSpanError{Name: name}
	}

	ended := c.now().UTC()
	for i := len(c.stack) - 1; i > idx; i-- {
		inner := c.stack[i]
		inner.EndTime = timePtr(ended)
		inner.Unterminated = true
		c.trace.Issues = append(c.trace.Issues, fmt.Sprintf("agent span %q force-closed by %q", inner.Name, name))
	}
	span := c.stack[idx]
	span.EndTime = timePtr(ended)
	span.Output = output
	span.Error = errText
	c.stack = c.stack[:idx]
	return nil
}

// CurrentSpan returns the name of the innermost open span, if any.
func (c *Capture) CurrentSpan() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if span := c.innermostLocked(); span != nil {
		return span.Name
	}
	return ""
}

// AddEvent appends a generic adaptor event such as a task boundary.
func (c *Capture) AddEvent(kind string, data map[string]any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != captureOpen {
		return
	}
	c.trace.Events = append(c.trace.Events, Event{
		Type:      kind,
		Data:      cloneMap(data),
		Timestamp: c.now().UTC(),
	})
}

// Snapshot returns a deep copy of the trace as currently recorded.
func (c *Capture) Snapshot() *Trace {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trace.Clone()
}

func (c *Capture) checkOpenLocked() error {
	switch c.state {
	case captureUnopened:
		return ErrCaptureNotOpen
	case captureClosed:
		return ErrCaptureClosed
	}
	return nil
}

func (c *Capture) innermostLocked() *AgentSpan {
	if len(c.stack) == 0 {
		return nil
	}
	return c.stack[len(c.stack)-1]
}

func timePtr(t time.Time) *time.Time {
	return &t
}
