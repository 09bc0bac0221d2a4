package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ongoingai/agenteval/migrations"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresStore struct {
	DSN string
	db  *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	store := &PostgresStore{DSN: dsn, db: db}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const postgresInsertTrace = `
INSERT INTO traces (
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
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, $15)
ON CONFLICT (id) DO NOTHING`

func (s *PostgresStore) WriteTrace(ctx context.Context, trace *Trace) error {
	if trace == nil {
		return nil
	}
	row, err := encodeTraceRow(trace, time.Now().UTC())
	if err != nil {
		return err
	}
	err = retryPostgresTransient(ctx, func() error {
		_, err := s.db.ExecContext(ctx, postgresInsertTrace, row.args()...)
		return err
	})
	if err != nil {
		return fmt.Errorf("write trace %q: %w", row.ID, err)
	}
	return nil
}

func (s *PostgresStore) WriteBatch(ctx context.Context, traces []*Trace) error {
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

	return retryPostgresTransient(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin postgres batch transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		stmt, err := tx.PrepareContext(ctx, postgresInsertTrace)
		if err != nil {
			return fmt.Errorf("prepare postgres batch insert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row.args()...); err != nil {
				return fmt.Errorf("write trace %q in batch: %w", row.ID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit postgres batch transaction: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetTrace(ctx context.Context, id string) (*Trace, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM traces WHERE id = $1 LIMIT 1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get trace %q: %w", id, err)
	}
	return decodeTracePayload(id, payload)
}

func (s *PostgresStore) QueryTraces(ctx context.Context, filter TraceFilter) (*TracePage, error) {
	limit := filter.limit()
	whereSQL, args, err := buildTraceWhere(filter, func(n int) string { return "$" + strconv.Itoa(n) })
	if err != nil {
		return nil, err
	}
	args = append(args, limit+1)

	query := "SELECT id, created_at, payload FROM traces WHERE " + whereSQL +
		" ORDER BY created_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	page := &TracePage{Items: make([]*Trace, 0, limit)}
	var lastCreated time.Time
	for rows.Next() {
		var (
			id        string
			createdAt time.Time
			payload   []byte
		)
		if err := rows.Scan(&id, &createdAt, &payload); err != nil {
			return nil, fmt.Errorf("scan trace row: %w", err)
		}
		if len(page.Items) == limit {
			page.NextCursor = encodeTraceCursor(lastCreated, page.Items[limit-1].ID)
			break
		}
		item, err := decodeTracePayload(id, payload)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, item)
		lastCreated = createdAt.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace rows: %w", err)
	}
	return page, nil
}

func (s *PostgresStore) configure() error {
	if s.db == nil {
		return fmt.Errorf("postgres database is not initialized")
	}
	s.db.SetMaxOpenConns(20)
	s.db.SetMaxIdleConns(10)
	s.db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const postgresTransientRetries = 3

// retryPostgresTransient retries serialization failures and deadlocks, which
// Postgres reports as safe to retry.
func retryPostgresTransient(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= postgresTransientRetries; attempt++ {
		err = fn()
		if err == nil || !isPostgresTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	return err
}

func isPostgresTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
