package providers

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ongoingai/agenteval/internal/trace"
)

// CaptureTransport records model calls made by any HTTP-based client into the
// capture found on the request context. Requests without an active capture,
// or to hosts the registry does not know, pass through untouched.
type CaptureTransport struct {
	Base     http.RoundTripper
	Registry *Registry
	// Provider forces a provider name instead of host lookup, for proxies and
	// self-hosted endpoints.
	Provider string
}

func NewCaptureTransport(base http.RoundTripper, registry *Registry) *CaptureTransport {
	return &CaptureTransport{Base: base, Registry: registry}
}

func (t *CaptureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	capture, ok := trace.FromContext(req.Context())
	if !ok {
		return base.RoundTrip(req)
	}
	provider, ok := t.provider(req)
	if !ok {
		return base.RoundTrip(req)
	}

	var request RequestData
	if req.Body != nil && req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			raw, _ := io.ReadAll(body)
			_ = body.Close()
			request = provider.ParseRequest(raw)
		}
	}

	started := time.Now()
	resp, err := base.RoundTrip(req)
	if err != nil {
		_ = capture.RecordModelCall(trace.ModelCall{
			Model:     request.Model,
			Messages:  request.Messages,
			Duration:  time.Since(started),
			Timestamp: started.UTC(),
			Metadata: map[string]any{
				trace.MetadataProvider: provider.Name(),
				"error":                err.Error(),
			},
		})
		return nil, err
	}

	rec := &callRecorder{
		capture:  capture,
		provider: provider,
		request:  request,
		started:  started,
		status:   resp.StatusCode,
		headers:  resp.Header,
		stream:   strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"),
	}
	resp.Body = &recordingBody{ReadCloser: resp.Body, rec: rec}
	return resp, nil
}

func (t *CaptureTransport) provider(req *http.Request) (Provider, bool) {
	if t.Registry == nil {
		return nil, false
	}
	if t.Provider != "" {
		return t.Registry.Get(t.Provider)
	}
	return t.Registry.ForHost(req.URL.Host)
}

type callRecorder struct {
	capture  *trace.Capture
	provider Provider
	request  RequestData
	started  time.Time
	status   int
	headers  http.Header
	stream   bool
	once     sync.Once
}

func (r *callRecorder) record(body []byte) {
	r.once.Do(func() {
		call := trace.ModelCall{
			Model:     r.request.Model,
			Messages:  r.request.Messages,
			Duration:  time.Since(r.started),
			Timestamp: r.started.UTC(),
			Metadata: map[string]any{
				trace.MetadataProvider:   r.provider.Name(),
				trace.MetadataStatusCode: r.status,
			},
		}
		if r.stream {
			if chunk, err := r.provider.ParseStreamChunk(body); err == nil && chunk != nil {
				if chunk.Model != "" {
					call.Model = chunk.Model
				}
				call.Response = chunk.DeltaText
				call.InputTokens = chunk.InputTokens
				call.OutputTokens = chunk.OutputTokens
			}
		} else if data, err := r.provider.ParseResponse(r.status, r.headers, body); err == nil && data != nil {
			if data.Model != "" {
				call.Model = data.Model
			}
			call.Response = data.Response
			call.InputTokens = data.InputTokens
			call.OutputTokens = data.OutputTokens
		}
		_ = r.capture.RecordModelCall(call)
	})
}

// recordingBody buffers the response as the caller reads it and records the
// call once the body is drained or closed, so streaming stays incremental.
type recordingBody struct {
	io.ReadCloser
	rec *callRecorder
	buf bytes.Buffer
}

func (b *recordingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.buf.Write(p[:n])
	}
	if err == io.EOF {
		b.rec.record(b.buf.Bytes())
	}
	return n, err
}

func (b *recordingBody) Close() error {
	err := b.ReadCloser.Close()
	b.rec.record(b.buf.Bytes())
	return err
}
