package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// stepClock advances one second on every read.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestOpenPublishesCaptureOnContext(t *testing.T) {
	t.Parallel()

	base := context.Background()
	if _, ok := FromContext(base); ok {
		t.Fatal("FromContext(background) ok=true, want false")
	}

	ctx, capture := Open(base, "run")
	got, ok := FromContext(ctx)
	if !ok || got != capture {
		t.Fatalf("FromContext()=%p ok=%t, want %p", got, ok, capture)
	}
	if capture.ID() == "" {
		t.Fatal("capture id is empty")
	}
	if _, ok := FromContext(base); ok {
		t.Fatal("parent context should not see the new capture")
	}
}

func TestCloseRecordsTimesAndError(t *testing.T) {
	t.Parallel()

	clock := newStepClock()
	_, capture := open(context.Background(), "run", clock.Now)
	capture.SetInput("question")
	capture.SetOutput("draft")
	capture.SetOutput("final")

	got, err := capture.Close(errors.New("boom"))
	if err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if got.Input != "question" || got.Output != "final" {
		t.Fatalf("input=%v output=%v, want question/final", got.Input, got.Output)
	}
	if got.Error != "boom" {
		t.Fatalf("error=%q, want %q", got.Error, "boom")
	}
	if got.Duration != time.Second {
		t.Fatalf("duration=%s, want 1s", got.Duration)
	}
	if got.EndTime.Before(got.StartTime) {
		t.Fatalf("end %s before start %s", got.EndTime, got.StartTime)
	}
}

func TestCloseTwiceFailsWithoutMutatingTrace(t *testing.T) {
	t.Parallel()

	_, capture := Open(context.Background(), "run")
	first, err := capture.Close(nil)
	if err != nil {
		t.Fatalf("first Close() error: %v", err)
	}
	before := first.Clone()

	second, err := capture.Close(errors.New("late"))
	if !errors.Is(err, ErrCaptureClosed) {
		t.Fatalf("second Close() error=%v, want %v", err, ErrCaptureClosed)
	}
	if second != nil {
		t.Fatal("second Close() returned a trace")
	}
	if first.Error != "" || !first.EndTime.Equal(before.EndTime) || first.Duration != before.Duration {
		t.Fatalf("closed trace mutated: %+v", first)
	}

	if err := capture.RecordModelCall(ModelCall{Model: "m"}); !errors.Is(err, ErrCaptureClosed) {
		t.Fatalf("RecordModelCall after close error=%v, want %v", err, ErrCaptureClosed)
	}
	capture.SetOutput("ignored")
	if len(first.ModelCalls) != 0 || first.Output != nil {
		t.Fatalf("closed trace mutated after close: %+v", first)
	}
}

func TestCloseWithoutOpenFails(t *testing.T) {
	t.Parallel()

	var capture Capture
	if _, err := capture.Close(nil); !errors.Is(err, ErrCaptureNotOpen) {
		t.Fatalf("Close() error=%v, want %v", err, ErrCaptureNotOpen)
	}
	var nilCapture *Capture
	if _, err := nilCapture.Close(nil); !errors.Is(err, ErrCaptureNotOpen) {
		t.Fatalf("nil Close() error=%v, want %v", err, ErrCaptureNotOpen)
	}
	if err := capture.BeginSpan("a", "", nil); !errors.Is(err, ErrCaptureNotOpen) {
		t.Fatalf("BeginSpan() error=%v, want %v", err, ErrCaptureNotOpen)
	}
}

func TestNestedCapturesRestorePreviousOnClose(t *testing.T) {
	t.Parallel()

	outerCtx, outer := Open(context.Background(), "outer")
	innerCtx, inner := Open(outerCtx, "inner")

	if got, _ := FromContext(innerCtx); got != inner {
		t.Fatal("inner context should resolve to inner capture")
	}
	if _, err := inner.Close(nil); err != nil {
		t.Fatalf("inner Close() error: %v", err)
	}
	if got, _ := FromContext(innerCtx); got != outer {
		t.Fatal("inner context should resolve to outer capture after inner close")
	}
	if _, err := outer.Close(nil); err != nil {
		t.Fatalf("outer Close() error: %v", err)
	}
	if _, ok := FromContext(innerCtx); ok {
		t.Fatal("no capture should be current after both close")
	}
}

func TestDualAttributionToInnermostSpan(t *testing.T) {
	t.Parallel()

	ctx, capture := Open(context.Background(), "run")
	if err := capture.BeginSpan("coordinator", "lead", nil); err != nil {
		t.Fatalf("BeginSpan(coordinator) error: %v", err)
	}
	if err := capture.BeginSpan("planner", "plans", "goal"); err != nil {
		t.Fatalf("BeginSpan(planner) error: %v", err)
	}
	RecordModelCall(ctx, ModelCall{Model: "gpt-4o", Response: "plan", InputTokens: 3, OutputTokens: 4})
	RecordToolCall(ctx, ToolCall{Name: "search"})
	if err := capture.EndSpan("planner", "plan", ""); err != nil {
		t.Fatalf("EndSpan(planner) error: %v", err)
	}
	RecordToolCall(ctx, ToolCall{Name: "write"})
	if err := capture.EndSpan("coordinator", "done", ""); err != nil {
		t.Fatalf("EndSpan(coordinator) error: %v", err)
	}
	got, err := capture.Close(nil)
	if err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if len(got.ModelCalls) != 1 || len(got.ToolCalls) != 2 {
		t.Fatalf("trace calls model=%d tool=%d, want 1/2", len(got.ModelCalls), len(got.ToolCalls))
	}
	if len(got.AgentSpans) != 2 {
		t.Fatalf("spans=%d, want 2", len(got.AgentSpans))
	}
	coordinator, planner := got.AgentSpans[0], got.AgentSpans[1]
	if coordinator.Name != "coordinator" || planner.Name != "planner" {
		t.Fatalf("span order=%q,%q, want coordinator,planner", coordinator.Name, planner.Name)
	}
	if len(planner.ModelCalls) != 1 || len(planner.ToolCalls) != 1 {
		t.Fatalf("planner calls model=%d tool=%d, want 1/1", len(planner.ModelCalls), len(planner.ToolCalls))
	}
	if len(coordinator.ModelCalls) != 0 || len(coordinator.ToolCalls) != 1 || coordinator.ToolCalls[0].Name != "write" {
		t.Fatalf("coordinator calls=%+v/%+v, want only write tool", coordinator.ModelCalls, coordinator.ToolCalls)
	}
	if got.TotalTokens() != 7 {
		t.Fatalf("TotalTokens()=%d, want 7", got.TotalTokens())
	}
	for _, span := range got.AgentSpans {
		if span.EndTime == nil || span.EndTime.Before(span.StartTime) {
			t.Fatalf("span %q end=%v start=%s", span.Name, span.EndTime, span.StartTime)
		}
		if span.Unterminated {
			t.Fatalf("span %q unexpectedly unterminated", span.Name)
		}
	}
	if len(got.Issues) != 0 {
		t.Fatalf("issues=%v, want none", got.Issues)
	}
}

func TestSpanVisibleBeforeItEnds(t *testing.T) {
	t.Parallel()

	_, capture := Open(context.Background(), "run")
	if err := capture.BeginSpan("worker", "", nil); err != nil {
		t.Fatalf("BeginSpan() error: %v", err)
	}
	snapshot := capture.Snapshot()
	if len(snapshot.AgentSpans) != 1 || !snapshot.AgentSpans[0].Open() {
		t.Fatalf("snapshot spans=%+v, want one open span", snapshot.AgentSpans)
	}
	if got := capture.CurrentSpan(); got != "worker" {
		t.Fatalf("CurrentSpan()=%q, want worker", got)
	}
}

func TestBeginSpanRejectsDuplicateOpenName(t *testing.T) {
	t.Parallel()

	_, capture := Open(context.Background(), "run")
	if err := capture.BeginSpan("worker", "", nil); err != nil {
		t.Fatalf("BeginSpan() error: %v", err)
	}
	err := capture.BeginSpan("worker", "", nil)
	var dup *DuplicateSpanError
	if !errors.As(err, &dup) || dup.Name != "worker" {
		t.Fatalf("BeginSpan() error=%v, want DuplicateSpanError", err)
	}

	if err := capture.EndSpan("worker", nil, ""); err != nil {
		t.Fatalf("EndSpan() error: %v", err)
	}
	if err := capture.BeginSpan("worker", "", nil); err != nil {
		t.Fatalf("BeginSpan() after end error: %v", err)
	}
}

func TestEndSpanUnknownName(t *testing.T) {
	t.Parallel()

	_, capture := Open(context.Background(), "run")
	err := capture.EndSpan("ghost", nil, "")
	var unknown *UnknownSpanError
	if !errors.As(err, &unknown) || unknown.Name != "ghost" {
		t.Fatalf("EndSpan() error=%v, want UnknownSpanError", err)
	}
}

func TestEndOuterSpanForceClosesInner(t *testing.T) {
	t.Parallel()

	_, capture := Open(context.Background(), "run")
	_ = capture.BeginSpan("outer", "", nil)
	_ = capture.BeginSpan("inner", "", nil)
	if err := capture.EndSpan("outer", "out", "failed"); err != nil {
		t.Fatalf("EndSpan(outer) error: %v", err)
	}
	if err := capture.EndSpan("inner", nil, ""); err == nil {
		t.Fatal("EndSpan(inner) after force close error=nil, want UnknownSpanError")
	}

	got, _ := capture.Close(nil)
	outer, inner := got.AgentSpans[0], got.AgentSpans[1]
	if outer.EndTime == nil || inner.EndTime == nil {
		t.Fatal("both spans should have end times")
	}
	if !inner.Unterminated || outer.Unterminated {
		t.Fatalf("unterminated outer=%t inner=%t, want false/true", outer.Unterminated, inner.Unterminated)
	}
	if outer.Error != "failed" || outer.Output != "out" {
		t.Fatalf("outer error=%q output=%v", outer.Error, outer.Output)
	}
	if len(got.Issues) != 1 || !strings.Contains(got.Issues[0], `"inner" force-closed by "outer"`) {
		t.Fatalf("issues=%v, want inner force-close note", got.Issues)
	}
}

func TestCloseForceClosesOpenSpans(t *testing.T) {
	t.Parallel()

	_, capture := Open(context.Background(), "run")
	_ = capture.BeginSpan("dangling", "", nil)
	got, err := capture.Close(nil)
	if err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if got.AgentSpans[0].EndTime == nil || !got.AgentSpans[0].Unterminated {
		t.Fatalf("span=%+v, want ended and unterminated", got.AgentSpans[0])
	}
	if len(got.Issues) != 1 {
		t.Fatalf("issues=%v, want one", got.Issues)
	}
}

func TestProperlyNestedSpansPreserveOrder(t *testing.T) {
	t.Parallel()

	clock := newStepClock()
	_, capture := open(context.Background(), "run", clock.Now)
	names := []string{"a", "b", "c"}
	for _, name := range names {
		if err := capture.BeginSpan(name, "", nil); err != nil {
			t.Fatalf("BeginSpan(%q) error: %v", name, err)
		}
	}
	for i := len(names) - 1; i >= 0; i-- {
		if err := capture.EndSpan(names[i], nil, ""); err != nil {
			t.Fatalf("EndSpan(%q) error: %v", names[i], err)
		}
	}
	_ = capture.BeginSpan("d", "", nil)
	_ = capture.EndSpan("d", nil, "")

	got, _ := capture.Close(nil)
	want := []string{"a", "b", "c", "d"}
	if len(got.AgentSpans) != len(want) {
		t.Fatalf("spans=%d, want %d", len(got.AgentSpans), len(want))
	}
	for i, span := range got.AgentSpans {
		if span.Name != want[i] {
			t.Fatalf("span[%d]=%q, want %q", i, span.Name, want[i])
		}
		if !span.EndTime.After(span.StartTime) {
			t.Fatalf("span %q end=%s not after start=%s", span.Name, span.EndTime, span.StartTime)
		}
	}
}

func TestRecordWithoutCaptureIsNoop(t *testing.T) {
	t.Parallel()

	RecordModelCall(context.Background(), ModelCall{Model: "m"})
	RecordToolCall(context.Background(), ToolCall{Name: "t"})
}

func TestConcurrentCapturesDoNotCrossContaminate(t *testing.T) {
	t.Parallel()

	const executions = 16
	const callsPerExecution = 25

	var wg sync.WaitGroup
	results := make([]*Trace, executions)
	for i := 0; i < executions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, capture := Open(context.Background(), fmt.Sprintf("exec-%d", i))
			_ = capture.BeginSpan("agent", "", nil)

			// Fan out inside the execution; children inherit the capture.
			var inner sync.WaitGroup
			for j := 0; j < callsPerExecution; j++ {
				inner.Add(1)
				go func(j int) {
					defer inner.Done()
					RecordModelCall(ctx, ModelCall{Model: fmt.Sprintf("exec-%d", i)})
					RecordToolCall(ctx, ToolCall{Name: fmt.Sprintf("exec-%d", i)})
				}(j)
			}
			inner.Wait()
			_ = capture.EndSpan("agent", nil, "")
			results[i], _ = capture.Close(nil)
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		want := fmt.Sprintf("exec-%d", i)
		if len(got.ModelCalls) != callsPerExecution || len(got.ToolCalls) != callsPerExecution {
			t.Fatalf("%s calls model=%d tool=%d, want %d", want, len(got.ModelCalls), len(got.ToolCalls), callsPerExecution)
		}
		if len(got.AgentSpans[0].ModelCalls) != callsPerExecution {
			t.Fatalf("%s span model calls=%d, want %d", want, len(got.AgentSpans[0].ModelCalls), callsPerExecution)
		}
		for _, call := range got.ModelCalls {
			if call.Model != want {
				t.Fatalf("%s saw model call from %s", want, call.Model)
			}
		}
		for _, call := range got.ToolCalls {
			if call.Name != want {
				t.Fatalf("%s saw tool call from %s", want, call.Name)
			}
		}
	}
}

func TestAddEventAndMetadata(t *testing.T) {
	t.Parallel()

	_, capture := Open(context.Background(), "run")
	capture.SetFramework("crew")
	capture.SetSystem("support-bot")
	capture.SetMetadata("tenant", "acme")
	capture.AddEvent("task_start", map[string]any{"task": "triage"})
	got, _ := capture.Close(nil)

	if got.Framework != "crew" || got.System != "support-bot" {
		t.Fatalf("framework=%q system=%q", got.Framework, got.System)
	}
	if MetadataString(got.Metadata, "tenant") != "acme" {
		t.Fatalf("metadata=%v", got.Metadata)
	}
	if len(got.Events) != 1 || got.Events[0].Type != "task_start" || got.Events[0].Data["task"] != "triage" {
		t.Fatalf("events=%+v", got.Events)
	}
}
