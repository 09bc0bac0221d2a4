package trace

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("trace store record not found")
var ErrInvalidCursor = errors.New("trace cursor is invalid")

// TraceStore persists closed traces.
type TraceStore interface {
	WriteTrace(ctx context.Context, trace *Trace) error
	WriteBatch(ctx context.Context, traces []*Trace) error
	GetTrace(ctx context.Context, id string) (*Trace, error)
	QueryTraces(ctx context.Context, filter TraceFilter) (*TracePage, error)
}

type TraceFilter struct {
	System     string
	Name       string
	Framework  string
	ErrorsOnly bool
	MinTokens  int
	MaxTokens  int
	From       time.Time
	To         time.Time
	Limit      int
	Cursor     string
}

type TracePage struct {
	Items      []*Trace
	NextCursor string
}

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 500
)

func (f TraceFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultQueryLimit
	case f.Limit > maxQueryLimit:
		return maxQueryLimit
	default:
		return f.Limit
	}
}

// traceRow is the column projection of a Trace. The full trace is kept in
// payload so spans and calls round-trip unchanged.
type traceRow struct {
	ID             string
	Name           string
	System         string
	Framework      string
	StartedAt      time.Time
	EndedAt        time.Time
	DurationMS     int64
	Error          string
	ModelCallCount int
	ToolCallCount  int
	AgentSpanCount int
	TotalTokens    int
	IssueCount     int
	Payload        string
	CreatedAt      time.Time
}

func encodeTraceRow(t *Trace, now time.Time) (traceRow, error) {
	if strings.TrimSpace(t.ID) == "" {
		return traceRow{}, fmt.Errorf("trace id is required")
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return traceRow{}, fmt.Errorf("encode trace %q payload: %w", t.ID, err)
	}
	started := t.StartTime.UTC()
	if started.IsZero() {
		started = now
	}
	ended := t.EndTime.UTC()
	if ended.IsZero() {
		ended = started
	}
	return traceRow{
		ID:             t.ID,
		Name:           t.Name,
		System:         t.System,
		Framework:      t.Framework,
		StartedAt:      started,
		EndedAt:        ended,
		DurationMS:     t.Duration.Milliseconds(),
		Error:          t.Error,
		ModelCallCount: len(t.ModelCalls),
		ToolCallCount:  len(t.ToolCalls),
		AgentSpanCount: len(t.AgentSpans),
		TotalTokens:    t.TotalTokens(),
		IssueCount:     len(t.Issues),
		Payload:        string(payload),
		CreatedAt:      now,
	}, nil
}

func decodeTracePayload(id string, payload []byte) (*Trace, error) {
	var item Trace
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, fmt.Errorf("decode trace %q payload: %w", id, err)
	}
	if item.ID == "" {
		item.ID = id
	}
	return &item, nil
}

func encodeTraceCursor(createdAt time.Time, id string) string {
	if createdAt.IsZero() || id == "" {
		return ""
	}
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeTraceCursor(cursor string) (time.Time, string, error) {
	payload, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: decode base64 cursor", ErrInvalidCursor)
	}
	createdText, id, ok := strings.Cut(string(payload), "|")
	if !ok || strings.TrimSpace(id) == "" {
		return time.Time{}, "", fmt.Errorf("%w: missing id", ErrInvalidCursor)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(createdText))
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: parse created_at", ErrInvalidCursor)
	}
	return createdAt.UTC(), strings.TrimSpace(id), nil
}

// whereBuilder accumulates filter conditions. placeholder renders the nth
// argument for the target driver.
type whereBuilder struct {
	conditions  []string
	args        []any
	placeholder func(n int) string
}

func (b *whereBuilder) add(condition string, values ...any) {
	for _, value := range values {
		b.args = append(b.args, value)
		condition = strings.Replace(condition, "?", b.placeholder(len(b.args)), 1)
	}
	b.conditions = append(b.conditions, condition)
}

func (b *whereBuilder) where() string {
	if len(b.conditions) == 0 {
		return "1=1"
	}
	return strings.Join(b.conditions, " AND ")
}

func buildTraceWhere(filter TraceFilter, placeholder func(n int) string) (string, []any, error) {
	b := &whereBuilder{placeholder: placeholder}
	if filter.System != "" {
		b.add("system = ?", filter.System)
	}
	if filter.Name != "" {
		b.add("name = ?", filter.Name)
	}
	if filter.Framework != "" {
		b.add("framework = ?", filter.Framework)
	}
	if filter.ErrorsOnly {
		b.add("error <> ''")
	}
	if filter.MinTokens > 0 {
		b.add("total_tokens >= ?", filter.MinTokens)
	}
	if filter.MaxTokens > 0 {
		b.add("total_tokens <= ?", filter.MaxTokens)
	}
	if !filter.From.IsZero() {
		b.add("started_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		b.add("started_at <= ?", filter.To.UTC())
	}
	if filter.Cursor != "" {
		createdAt, id, err := decodeTraceCursor(filter.Cursor)
		if err != nil {
			return "", nil, err
		}
		b.add("(created_at < ? OR (created_at = ? AND id < ?))", createdAt, createdAt, id)
	}
	return b.where(), b.args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
