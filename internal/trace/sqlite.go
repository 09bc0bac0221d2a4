package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ongoingai/agenteval/migrations"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	Path string
	db   *sql.DB
	// SQLite allows a single writer; serialize writes to avoid SQLITE_BUSY.
	writeMu sync.Mutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}
	store := &SQLiteStore{Path: path, db: db}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const sqliteInsertTrace = `
INSERT OR IGNORE INTO traces (
    id,
    name,
    system,
    framework,
    started_at,
    ended_at,
    duration_ms,
    error,
    model_call_count,
    tool_call_count,
    agent_span_count,
    total_tokens,
    issue_count,
    payload,
    created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (r traceRow) args() []any {
	return []any{
		r.ID,
		r.Name,
		r.System,
		r.Framework,
		r.StartedAt,
		r.EndedAt,
		r.DurationMS,
		r.Error,
		r.ModelCallCount,
		r.ToolCallCount,
		r.AgentSpanCount,
		r.TotalTokens,
		r.IssueCount,
		r.Payload,
		r.CreatedAt,
	}
}

func (s *SQLiteStore) WriteTrace(ctx context.Context, trace *Trace) error {
	if trace == nil {
		return nil
	}
	row, err := encodeTraceRow(trace, time.Now().UTC())
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, sqliteInsertTrace, row.args()...)
		return err
	})
	if err != nil {
		return fmt.Errorf("write trace %q: %w", row.ID, err)
	}
	return nil
}

func (s *SQLiteStore) WriteBatch(ctx context.Context, traces []*Trace) error {
	if len(traces) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]traceRow, 0, len(traces))
	for _, item := range traces {
		if item == nil {
			continue
		}
		row, err := encodeTraceRow(item, now)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return retrySQLiteBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin sqlite batch transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		stmt, err := tx.PrepareContext(ctx, sqliteInsertTrace)
		if err != nil {
			return fmt.Errorf("prepare sqlite batch insert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row.args()...); err != nil {
				return fmt.Errorf("write trace %q in batch: %w", row.ID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit sqlite batch transaction: %w", err)
		}
		return nil
	})
}

const (
	sqliteBusyMaxRetries     = 12
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

// retrySQLiteBusy retries lock contention so queued traces are not dropped
// while another process holds the write lock.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return messageMatchesClass(strings.ToLower(err.Error()), WriteErrorClassContention)
}

func (s *SQLiteStore) GetTrace(ctx context.Context, id string) (*Trace, error) {
	var (
		createdAt string
		payload   string
	)
	err := s.db.QueryRowContext(ctx, `SELECT CAST(created_at AS TEXT), payload FROM traces WHERE id = ? LIMIT 1`, id).Scan(&createdAt, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trace %q: %w", id, err)
	}
	return decodeTracePayload(id, []byte(payload))
}

func (s *SQLiteStore) QueryTraces(ctx context.Context, filter TraceFilter) (*TracePage, error) {
	limit := filter.limit()
	whereSQL, args, err := buildTraceWhere(filter, func(int) string { return "?" })
	if err != nil {
		return nil, err
	}
	args = append(args, limit+1)

	query := "SELECT id, CAST(created_at AS TEXT), payload FROM traces WHERE " + whereSQL + " ORDER BY created_at DESC, id DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	page := &TracePage{Items: make([]*Trace, 0, limit)}
	var lastCreated time.Time
	for rows.Next() {
		item, createdAt, err := scanSQLiteTraceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trace row: %w", err)
		}
		if len(page.Items) == limit {
			page.NextCursor = encodeTraceCursor(lastCreated, page.Items[limit-1].ID)
			break
		}
		page.Items = append(page.Items, item)
		lastCreated = createdAt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace rows: %w", err)
	}
	return page, nil
}

func scanSQLiteTraceRow(scanner rowScanner) (*Trace, time.Time, error) {
	var (
		id        string
		createdAt sql.NullString
		payload   string
	)
	if err := scanner.Scan(&id, &createdAt, &payload); err != nil {
		return nil, time.Time{}, err
	}
	var created time.Time
	if createdAt.Valid {
		parsed, err := parseSQLiteTimestamp(createdAt.String)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("parse created_at %q: %w", createdAt.String, err)
		}
		created = parsed
	}
	item, err := decodeTracePayload(id, []byte(payload))
	if err != nil {
		return nil, time.Time{}, err
	}
	return item, created, nil
}

func parseSQLiteTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05 -0700 MST",
		"2006-01-02 15:04:05.999999999 -0700 MST",
	} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
	} {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported sqlite datetime format")
}

func (s *SQLiteStore) configure() error {
	for _, pragma := range []struct {
		sql  string
		name string
	}{
		{`PRAGMA journal_mode = WAL;`, "enable sqlite WAL mode"},
		{`PRAGMA synchronous = NORMAL;`, "set sqlite synchronous mode"},
		{`PRAGMA busy_timeout = 5000;`, "set sqlite busy timeout"},
	} {
		if _, err := s.db.Exec(pragma.sql); err != nil {
			return fmt.Errorf("%s: %w", pragma.name, err)
		}
	}
	return nil
}
