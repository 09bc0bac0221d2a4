package trace

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const writerBatchSize = 64

const (
	QueuePressureOK        = "ok"
	QueuePressureElevated  = "elevated"
	QueuePressureHigh      = "high"
	QueuePressureSaturated = "saturated"
)

// WriterDiagnostics is a point-in-time view of the persistence queue.
type WriterDiagnostics struct {
	QueueCapacity           int              `json:"queue_capacity"`
	QueueDepth              int              `json:"queue_depth"`
	QueueDepthHighWatermark int              `json:"queue_depth_high_watermark"`
	QueuePressureState      string           `json:"queue_pressure_state"`
	EnqueueAcceptedTotal    int64            `json:"enqueue_accepted_total"`
	EnqueueDroppedTotal     int64            `json:"enqueue_dropped_total"`
	WriteDroppedTotal       int64            `json:"write_dropped_total"`
	LastDropAt              *time.Time       `json:"last_drop_at,omitempty"`
	WriteFailuresByClass    map[string]int64 `json:"write_failures_by_class,omitempty"`
}

// WriteFailure describes closed traces that could not be persisted.
type WriteFailure struct {
	Operation   string
	BatchSize   int
	FailedCount int
	Err         error
	ErrorClass  string
}

type WriteFailureHandler func(WriteFailure)

// WriterMetrics holds optional callbacks invoked at pipeline points.
type WriterMetrics struct {
	OnEnqueue func()
	OnDrop    func()
	OnFlush   func(batchSize int, duration time.Duration)
}

// Writer persists closed traces asynchronously in batches. Enqueue never
// blocks; traces are dropped and counted when the queue is full.
type Writer struct {
	store TraceStore
	queue chan *Trace
	wg    sync.WaitGroup

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
	queueMu  sync.RWMutex

	mu        sync.Mutex
	onFailure WriteFailureHandler
	metrics   WriterMetrics
	cancel    context.CancelFunc

	highWatermark   atomic.Int64
	acceptedTotal   atomic.Int64
	droppedTotal    atomic.Int64
	writeDropped    atomic.Int64
	lastDropNano    atomic.Int64
	failuresByClass sync.Map // string -> *atomic.Int64
}

func NewWriter(store TraceStore, bufferSize int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Writer{
		store: store,
		queue: make(chan *Trace, bufferSize),
		done:  make(chan struct{}),
	}
}

func (w *Writer) SetWriteFailureHandler(handler WriteFailureHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onFailure = handler
}

func (w *Writer) SetMetrics(m WriterMetrics) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics = m
}

func (w *Writer) loadMetrics() WriterMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

// Start launches the background flusher. Later calls are no-ops.
func (w *Writer) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	workerCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.markDone()
		for {
			select {
			case <-workerCtx.Done():
				return
			case t, ok := <-w.queue:
				if !ok {
					return
				}
				batch, open := w.collectBatch(t)
				if !open {
					// Drain flush uses a fresh context so shutdown does not
					// reject the final batch.
					w.flushBatch(context.Background(), batch)
					return
				}
				w.flushBatch(workerCtx, batch)
			}
		}
	}()
}

func (w *Writer) collectBatch(first *Trace) ([]*Trace, bool) {
	batch := make([]*Trace, 0, writerBatchSize)
	if first != nil {
		batch = append(batch, first)
	}
	for len(batch) < writerBatchSize {
		select {
		case next, ok := <-w.queue:
			if !ok {
				return batch, false
			}
			if next != nil {
				batch = append(batch, next)
			}
		default:
			return batch, true
		}
	}
	return batch, true
}

// Enqueue hands a closed trace to the writer. It reports false when the
// writer is stopped or the queue is full.
func (w *Writer) Enqueue(t *Trace) bool {
	if t == nil || w.stopped.Load() {
		return false
	}
	w.queueMu.RLock()
	defer w.queueMu.RUnlock()
	if w.stopped.Load() {
		return false
	}

	select {
	case w.queue <- t:
		w.acceptedTotal.Add(1)
		w.observeQueueDepth(len(w.queue))
		if m := w.loadMetrics(); m.OnEnqueue != nil {
			m.OnEnqueue()
		}
		return true
	default:
		w.droppedTotal.Add(1)
		w.observeQueueDepth(cap(w.queue))
		w.lastDropNano.Store(time.Now().UTC().UnixNano())
		if m := w.loadMetrics(); m.OnDrop != nil {
			m.OnDrop()
		}
		return false
	}
}

func (w *Writer) QueueLen() int {
	return len(w.queue)
}

func (w *Writer) Stop() {
	_ = w.Shutdown(context.Background())
}

// Shutdown stops accepting traces and waits for queued ones to flush.
func (w *Writer) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		w.queueMu.Lock()
		close(w.queue)
		w.queueMu.Unlock()
		if !w.started.Load() {
			w.markDone()
		}
	})

	select {
	case <-w.done:
		w.wg.Wait()
		w.cancelWorker()
		return nil
	case <-ctx.Done():
		w.cancelWorker()
		return ctx.Err()
	}
}

func (w *Writer) cancelWorker() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (w *Writer) markDone() {
	w.doneOnce.Do(func() {
		close(w.done)
	})
}

func (w *Writer) reportWriteFailure(failure WriteFailure) {
	if failure.FailedCount <= 0 {
		return
	}
	failure.ErrorClass = ClassifyWriteError(failure.Err)
	w.writeDropped.Add(int64(failure.FailedCount))
	w.lastDropNano.Store(time.Now().UTC().UnixNano())
	counter, _ := w.failuresByClass.LoadOrStore(failure.ErrorClass, new(atomic.Int64))
	counter.(*atomic.Int64).Add(int64(failure.FailedCount))

	w.mu.Lock()
	handler := w.onFailure
	w.mu.Unlock()
	if handler != nil {
		handler(failure)
	}
}

func (w *Writer) Diagnostics() WriterDiagnostics {
	capacity := cap(w.queue)
	depth := len(w.queue)
	high := int(w.highWatermark.Load())
	if depth > high {
		high = depth
	}
	snapshot := WriterDiagnostics{
		QueueCapacity:           capacity,
		QueueDepth:              depth,
		QueueDepthHighWatermark: high,
		QueuePressureState:      queuePressureState(depth, capacity),
		EnqueueAcceptedTotal:    w.acceptedTotal.Load(),
		EnqueueDroppedTotal:     w.droppedTotal.Load(),
		WriteDroppedTotal:       w.writeDropped.Load(),
	}
	if ts := w.lastDropNano.Load(); ts > 0 {
		last := time.Unix(0, ts).UTC()
		snapshot.LastDropAt = &last
	}
	w.failuresByClass.Range(func(key, value any) bool {
		if snapshot.WriteFailuresByClass == nil {
			snapshot.WriteFailuresByClass = make(map[string]int64)
		}
		snapshot.WriteFailuresByClass[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return snapshot
}

func (w *Writer) observeQueueDepth(depth int) {
	value := int64(depth)
	for {
		current := w.highWatermark.Load()
		if value <= current || w.highWatermark.CompareAndSwap(current, value) {
			return
		}
	}
}

func queuePressureState(depth, capacity int) string {
	if capacity <= 0 || depth <= 0 {
		return QueuePressureOK
	}
	pct := depth * 100 / capacity
	switch {
	case pct >= 100:
		return QueuePressureSaturated
	case pct >= 80:
		return QueuePressureHigh
	case pct >= 50:
		return QueuePressureElevated
	default:
		return QueuePressureOK
	}
}

func (w *Writer) flushBatch(ctx context.Context, batch []*Trace) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()
	defer func() {
		if m := w.loadMetrics(); m.OnFlush != nil {
			m.OnFlush(len(batch), time.Since(start))
		}
	}()

	if len(batch) == 1 {
		if err := w.store.WriteTrace(ctx, batch[0]); err != nil {
			w.reportWriteFailure(WriteFailure{Operation: "write_trace", BatchSize: 1, FailedCount: 1, Err: err})
		}
		return
	}
	err := w.store.WriteBatch(ctx, batch)
	if err == nil {
		return
	}
	// Retry item by item so one bad trace does not drop the whole batch.
	failed := 0
	var firstErr error
	for _, item := range batch {
		if itemErr := w.store.WriteTrace(ctx, item); itemErr != nil {
			failed++
			if firstErr == nil {
				firstErr = itemErr
			}
		}
	}
	if failed > 0 {
		w.reportWriteFailure(WriteFailure{
			Operation:   "write_batch_fallback",
			BatchSize:   len(batch),
			FailedCount: failed,
			Err:         errors.Join(err, firstErr),
		})
	}
}
