package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ongoingai/agenteval/internal/config"
	"github.com/ongoingai/agenteval/internal/observability"
	"github.com/ongoingai/agenteval/internal/trace"
)

var errNoTraceStore = errors.New("storage.driver=none has no trace store; pass --input")

func openTraceStore(cfg config.Config) (trace.TraceStore, error) {
	switch strings.TrimSpace(cfg.Storage.Driver) {
	case config.StorageDriverSQLite:
		return trace.NewSQLiteStore(cfg.Storage.Path)
	case config.StorageDriverPostgres:
		return trace.NewPostgresStore(cfg.Storage.DSN)
	case config.StorageDriverNone:
		return nil, errNoTraceStore
	default:
		return nil, fmt.Errorf("unsupported storage.driver %q", cfg.Storage.Driver)
	}
}

func closeTraceStore(store trace.TraceStore) error {
	if store == nil {
		return nil
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func closeTraceStoreWithWarning(store trace.TraceStore, errOut io.Writer) {
	if err := closeTraceStore(store); err != nil {
		fmt.Fprintf(errOut, "warning: failed to close trace store: %v\n", err)
	}
}

// newTraceWriter builds the async persistence queue with failure logging and
// metrics attached.
func newTraceWriter(store trace.TraceStore, cfg config.Config, logger *slog.Logger, runtime *observability.Runtime) *trace.Writer {
	writer := trace.NewWriter(store, cfg.Capture.QueueSize)
	system := cfg.System.Name
	writer.SetMetrics(trace.WriterMetrics{
		OnDrop: func() { runtime.RecordTraceQueueDrop(system) },
		OnFlush: func(batchSize int, duration time.Duration) {
			logger.Debug("flushed trace batch", "batch_size", batchSize, "duration_ms", duration.Milliseconds())
		},
	})
	writer.SetWriteFailureHandler(func(failure trace.WriteFailure) {
		if failure.FailedCount <= 0 {
			return
		}
		runtime.RecordTraceWriteFailure(failure.Operation, failure.FailedCount)
		logger.Error(
			"trace persistence failed; dropped trace records",
			"operation", strings.TrimSpace(failure.Operation),
			"batch_size", failure.BatchSize,
			"failed_count", failure.FailedCount,
			"error_class", failure.ErrorClass,
			"error_kind", fmt.Sprintf("%T", failure.Err),
		)
	})
	return writer
}

func shutdownTraceWriter(logger *slog.Logger, writer *trace.Writer, timeout time.Duration) error {
	if writer == nil {
		return nil
	}

	start := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := writer.Shutdown(shutdownCtx); err != nil {
		logger.Error(
			"failed to flush pending traces before shutdown",
			"error", err,
			"timeout", timeout.String(),
		)
		return err
	}

	logger.Debug("flushed pending traces before shutdown", "duration_ms", time.Since(start).Milliseconds())
	return nil
}
