package trace

import (
	"context"
	"time"
)

type contextKey struct{}

var captureContextKey contextKey

// Open starts a capture and publishes it on the returned context. Code running
// under that context, including goroutines started with it, records into the
// new capture. Once the capture is closed, the returned context resolves to
// whichever capture was current on ctx.
func Open(ctx context.Context, name string) (context.Context, *Capture) {
	return open(ctx, name, time.Now)
}

func open(ctx context.Context, name string, now func() time.Time) (context.Context, *Capture) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, _ := FromContext(ctx)
	c := newCapture(name, parent, now)
	return context.WithValue(ctx, captureContextKey, c), c
}

// FromContext returns the innermost capture on ctx that is still open.
func FromContext(ctx context.Context) (*Capture, bool) {
	if ctx == nil {
		return nil, false
	}
	c, _ := ctx.Value(captureContextKey).(*Capture)
	for c != nil && c.Closed() {
		c = c.parent
	}
	if c == nil {
		return nil, false
	}
	return c, true
}

// RecordModelCall records call on the active capture. Without one it does
// nothing.
func RecordModelCall(ctx context.Context, call ModelCall) {
	if c, ok := FromContext(ctx); ok {
		_ = c.RecordModelCall(call)
	}
}

// RecordToolCall records call on the active capture. Without one it does
// nothing.
func RecordToolCall(ctx context.Context, call ToolCall) {
	if c, ok := FromContext(ctx); ok {
		_ = c.RecordToolCall(call)
	}
}
