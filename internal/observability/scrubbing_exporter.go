package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// scrubbingExporter redacts credentials from evaluation spans before export.
// Judge and evaluator failures are recorded verbatim on spans, and provider
// errors can echo API keys back.
type scrubbingExporter struct {
	wrapped sdktrace.SpanExporter
}

func newScrubbingExporter(wrapped sdktrace.SpanExporter) sdktrace.SpanExporter {
	return &scrubbingExporter{wrapped: wrapped}
}

func (e *scrubbingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	out := make([]sdktrace.ReadOnlySpan, 0, len(spans))
	for _, s := range spans {
		out = append(out, scrubSpan(s))
	}
	return e.wrapped.ExportSpans(ctx, out)
}

func (e *scrubbingExporter) Shutdown(ctx context.Context) error {
	return e.wrapped.Shutdown(ctx)
}

// scrubSpan returns s itself when nothing matches, so clean spans are not
// copied.
func scrubSpan(s sdktrace.ReadOnlySpan) sdktrace.ReadOnlySpan {
	dirty := attrsDirty(s.Attributes()) || ContainsCredential(s.Status().Description)
	for _, event := range s.Events() {
		dirty = dirty || attrsDirty(event.Attributes)
	}
	if !dirty {
		return s
	}

	stub := tracetest.SpanStubFromReadOnlySpan(s)
	stub.Attributes = scrubAttributes(stub.Attributes)
	for i := range stub.Events {
		stub.Events[i].Attributes = scrubAttributes(stub.Events[i].Attributes)
	}
	stub.Status.Description = ScrubCredentials(stub.Status.Description)
	return stub.Snapshot()
}

func attrsDirty(attrs []attribute.KeyValue) bool {
	for _, a := range attrs {
		if a.Value.Type() == attribute.STRING && ContainsCredential(a.Value.AsString()) {
			return true
		}
	}
	return false
}

func scrubAttributes(attrs []attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		out[i] = a
		if a.Value.Type() == attribute.STRING && ContainsCredential(a.Value.AsString()) {
			out[i] = attribute.String(string(a.Key), ScrubCredentials(a.Value.AsString()))
		}
	}
	return out
}
