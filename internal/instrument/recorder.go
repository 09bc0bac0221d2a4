package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ongoingai/agenteval/internal/config"
	"github.com/ongoingai/agenteval/internal/observability"
	"github.com/ongoingai/agenteval/internal/providers"
	"github.com/ongoingai/agenteval/internal/trace"
)

// Recorder is the instrumentation entry point for one agent system. Closed
// traces go to its Collector and, when configured, to an async Writer.
type Recorder struct {
	system      string
	description string
	sampler     Sampler
	collector   *Collector
	writer      *trace.Writer
	runtime     *observability.Runtime
	logger      *slog.Logger
	registry    *providers.Registry
}

type Option func(*Recorder)

func WithDescription(description string) Option {
	return func(r *Recorder) { r.description = description }
}

func WithSampler(s Sampler) Option {
	return func(r *Recorder) { r.sampler = s }
}

func WithCollector(c *Collector) Option {
	return func(r *Recorder) {
		if c != nil {
			r.collector = c
		}
	}
}

// WithWriter persists every closed trace through w. The caller owns w's
// lifecycle.
func WithWriter(w *trace.Writer) Option {
	return func(r *Recorder) { r.writer = w }
}

func WithRuntime(rt *observability.Runtime) Option {
	return func(r *Recorder) { r.runtime = rt }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithHosts routes HTTP traffic for extra model API hosts, keyed by host, to
// a provider name ("openai" or "anthropic") in Transport.
func WithHosts(hosts map[string]string) Option {
	return func(r *Recorder) {
		for host, provider := range hosts {
			r.registry.MapHost(host, provider)
		}
	}
}

func New(system string, opts ...Option) *Recorder {
	r := &Recorder{
		system:    system,
		sampler:   NewSampler(1),
		collector: NewCollector(),
		logger:    slog.Default(),
		registry:  providers.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FromConfig builds a recorder for the configured system, sample rate and
// capture hosts. opts apply after the config.
func FromConfig(cfg config.Config, opts ...Option) *Recorder {
	base := []Option{
		WithDescription(cfg.System.Description),
		WithSampler(NewSampler(cfg.Capture.SampleRate)),
		WithHosts(cfg.Capture.Hosts),
	}
	return New(cfg.System.Name, append(base, opts...)...)
}

// Transport returns an HTTP transport that records model API calls made
// through it into the capture active on each request's context.
func (r *Recorder) Transport(base http.RoundTripper) http.RoundTripper {
	return providers.NewCaptureTransport(base, r.registry)
}

func (r *Recorder) System() string      { return r.system }
func (r *Recorder) Description() string { return r.description }

// Collector returns the collector receiving this recorder's traces.
func (r *Recorder) Collector() *Collector {
	return r.collector
}

// Session is one open capture started by Trace. End must be called exactly
// once; later calls return trace.ErrCaptureClosed.
type Session struct {
	recorder *Recorder
	capture  *trace.Capture
}

// Trace opens a capture named name and publishes it on the returned context.
// Explicit traces are not subject to sampling.
func (r *Recorder) Trace(ctx context.Context, name string) (context.Context, *Session) {
	ctx, capture := trace.Open(ctx, name)
	capture.SetSystem(r.system)
	return ctx, &Session{recorder: r, capture: capture}
}

func (s *Session) ID() string { return s.capture.ID() }

// Capture exposes the underlying capture for span and event recording.
func (s *Session) Capture() *trace.Capture { return s.capture }

func (s *Session) SetInput(v any)  { s.capture.SetInput(v) }
func (s *Session) SetOutput(v any) { s.capture.SetOutput(v) }

// End closes the capture with runErr and hands the trace to the collector
// and writer.
func (s *Session) End(runErr error) (*trace.Trace, error) {
	closed, err := s.capture.Close(runErr)
	if err != nil {
		return nil, err
	}
	s.recorder.store(closed)
	return closed, nil
}

func (r *Recorder) store(t *trace.Trace) {
	r.collector.Add(t)
	r.runtime.RecordTraceCaptured(r.system)
	for _, issue := range t.Issues {
		r.logger.Warn("trace closed with issue", "trace_id", t.ID, "trace_name", t.Name, "issue", issue)
	}
	if r.writer != nil && !r.writer.Enqueue(t) {
		r.runtime.RecordTraceQueueDrop(r.system)
		r.logger.Warn("trace queue full; dropping trace", "trace_id", t.ID, "system", r.system)
	}
	r.logger.Debug(
		"trace captured",
		"trace_id", t.ID,
		"trace_name", t.Name,
		"model_calls", len(t.ModelCalls),
		"tool_calls", len(t.ToolCalls),
		"duration_ms", t.Duration.Milliseconds(),
		"estimated_cost_usd", t.EstimatedCostUSD(r.registry.Price),
	)
}

// Run executes fn inside a new trace. The trace is closed on every exit path;
// a panic closes it with the panic as error and is then re-raised.
func (r *Recorder) Run(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	ctx, session := r.Trace(ctx, name)
	defer func() {
		if recovered := recover(); recovered != nil {
			_, _ = session.End(fmt.Errorf("panic: %v", recovered))
			panic(recovered)
		}
		_, _ = session.End(err)
	}()
	return fn(ctx)
}

// Wrap instruments fn so every call is captured as its own trace. Top-level
// calls are subject to the recorder's sampler; a call made while another
// capture is active on ctx always opens a nested capture, and the outer one
// is current again once it returns. Sampled-out calls still run and return
// their result.
func Wrap[In, Out any](r *Recorder, name string, fn func(context.Context, In) (Out, error)) func(context.Context, In) (Out, error) {
	return func(ctx context.Context, in In) (out Out, err error) {
		if ctx == nil {
			ctx = context.Background()
		}
		_, nested := trace.FromContext(ctx)
		if !nested && !r.sampler.Sample() {
			r.runtime.RecordTraceSampledOut(r.system)
			return fn(ctx, in)
		}

		ctx, session := r.Trace(ctx, name)
		if !nested {
			session.capture.SetMetadata(trace.MetadataSampleRate, r.sampler.Rate())
		}
		session.SetInput(in)
		defer func() {
			if recovered := recover(); recovered != nil {
				_, _ = session.End(fmt.Errorf("panic: %v", recovered))
				panic(recovered)
			}
			if err == nil {
				session.SetOutput(out)
			}
			_, _ = session.End(err)
		}()
		return fn(ctx, in)
	}
}

// ExportDocument is the file format written by Export.
type ExportDocument struct {
	SystemName        string         `json:"system_name"`
	SystemDescription string         `json:"system_description,omitempty"`
	Traces            []*trace.Trace `json:"traces"`
}

// Export writes the collected traces as one JSON document.
func (r *Recorder) Export(path string) error {
	doc := ExportDocument{
		SystemName:        r.system,
		SystemDescription: r.description,
		Traces:            r.collector.Traces(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode traces: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write traces %q: %w", path, err)
	}
	return nil
}

// LoadExport reads a document written by Export.
func LoadExport(path string) (*ExportDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read traces %q: %w", path, err)
	}
	var doc ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode traces %q: %w", path, err)
	}
	return &doc, nil
}
