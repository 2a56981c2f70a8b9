// Package sink drains analytics records to the outbound stores. Each
// partition worker owns one Writer with a bounded queue, so a stalled sink
// applies backpressure to its own partition and nothing else.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/observability"
	"fx-cortex/internal/storage"
)

// Record kinds for metrics and the overflow log.
const (
	KindSnapshot = "snapshot"
	KindLabel    = "label"
	KindAnomaly  = "anomaly"
)

// ErrClosed is returned by Enqueue methods after Close.
var ErrClosed = errors.New("sink: writer closed")

// Options configures a Writer.
type Options struct {
	Snapshots storage.SnapshotStore
	Labels    storage.LabelStore
	Anomalies storage.AnomalyStore
	Logger    *zap.Logger

	// Name identifies this writer in metrics and the overflow file name.
	Name string

	// QueueSize bounds the in-flight record queue. Enqueue blocks when the
	// queue is full.
	QueueSize int

	// BatchSize caps how many records one store write carries.
	BatchSize int

	// FlushInterval bounds how long a partial batch may sit in the queue.
	FlushInterval time.Duration

	// MaxRetries is the number of retry attempts for a failed batch before
	// it spills to the overflow log.
	MaxRetries int

	// RetryBackoff is the initial retry delay; it doubles per attempt.
	RetryBackoff time.Duration

	// OverflowDir is where undeliverable batches are appended as JSON lines.
	OverflowDir string
}

type record struct {
	kind     string
	snapshot *domain.FeatureSnapshot
	label    *domain.ArchetypeLabel
	anomaly  *domain.AnomalyEvent
}

// Writer batches records from a bounded queue into the analytics stores.
// Enqueue methods are safe to call from one producer goroutine; the drain
// loop runs in Run.
type Writer struct {
	opts  Options
	log   *zap.Logger
	queue chan record
	done  chan struct{}
}

// NewWriter creates a Writer. Run must be started for records to drain.
func NewWriter(opts Options) *Writer {
	if opts.Name == "" {
		opts.Name = "sink"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Writer{
		opts:  opts,
		log:   opts.Logger.With(zap.String("sink", opts.Name)),
		queue: make(chan record, opts.QueueSize),
		done:  make(chan struct{}),
	}
}

// EnqueueSnapshot queues a feature snapshot, blocking while the queue is full.
func (w *Writer) EnqueueSnapshot(s *domain.FeatureSnapshot) error {
	return w.enqueue(record{kind: KindSnapshot, snapshot: s})
}

// EnqueueLabel queues an archetype label, blocking while the queue is full.
func (w *Writer) EnqueueLabel(l *domain.ArchetypeLabel) error {
	return w.enqueue(record{kind: KindLabel, label: l})
}

// EnqueueAnomaly queues an anomaly event, blocking while the queue is full.
func (w *Writer) EnqueueAnomaly(e *domain.AnomalyEvent) error {
	return w.enqueue(record{kind: KindAnomaly, anomaly: e})
}

func (w *Writer) enqueue(r record) error {
	select {
	case <-w.done:
		return ErrClosed
	case w.queue <- r:
		observability.UpdateSinkQueueDepth(w.opts.Name, len(w.queue))
		return nil
	}
}

// Close stops accepting records. Run drains what is already queued and
// returns.
func (w *Writer) Close() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}

// Run drains the queue until the context is cancelled or Close is called,
// then flushes the remaining records.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]record, 0, w.opts.BatchSize)
	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background(), w.drainInto(batch))
			return ctx.Err()
		case <-w.done:
			w.flush(ctx, w.drainInto(batch))
			return nil
		case r := <-w.queue:
			batch = append(batch, r)
			if len(batch) >= w.opts.BatchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
			observability.UpdateSinkQueueDepth(w.opts.Name, len(w.queue))
		}
	}
}

func (w *Writer) drainInto(batch []record) []record {
	for {
		select {
		case r := <-w.queue:
			batch = append(batch, r)
		default:
			return batch
		}
	}
}

// flush writes a batch grouped by kind. Failed groups retry with exponential
// backoff and, if still failing, spill to the overflow log so the partition
// can move on.
func (w *Writer) flush(ctx context.Context, batch []record) {
	if len(batch) == 0 {
		return
	}

	var (
		snapshots []*domain.FeatureSnapshot
		labels    []*domain.ArchetypeLabel
		anomalies []*domain.AnomalyEvent
	)
	for _, r := range batch {
		switch r.kind {
		case KindSnapshot:
			snapshots = append(snapshots, r.snapshot)
		case KindLabel:
			labels = append(labels, r.label)
		case KindAnomaly:
			anomalies = append(anomalies, r.anomaly)
		}
	}

	if len(snapshots) > 0 {
		w.writeGroup(ctx, KindSnapshot, len(snapshots), func(ctx context.Context) error {
			return w.opts.Snapshots.PutBulk(ctx, snapshots)
		}, func() any { return snapshots })
	}
	if len(labels) > 0 {
		w.writeGroup(ctx, KindLabel, len(labels), func(ctx context.Context) error {
			return w.opts.Labels.PutBulk(ctx, labels)
		}, func() any { return labels })
	}
	if len(anomalies) > 0 {
		w.writeGroup(ctx, KindAnomaly, len(anomalies), func(ctx context.Context) error {
			return w.opts.Anomalies.AppendBulk(ctx, anomalies)
		}, func() any { return anomalies })
	}
}

func (w *Writer) writeGroup(ctx context.Context, kind string, n int, write func(context.Context) error, payload func() any) {
	start := time.Now()
	backoff := w.opts.RetryBackoff
	var err error
	for attempt := 0; attempt <= w.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			observability.RecordSinkRetry(kind)
			select {
			case <-ctx.Done():
				err = ctx.Err()
				w.spill(kind, n, payload(), err)
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = write(ctx); err == nil {
			observability.RecordSinkBatch(kind, time.Since(start).Seconds())
			return
		}
		w.log.Warn("sink write failed",
			zap.String("kind", kind),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	w.spill(kind, n, payload(), err)
}

// spill appends the undeliverable batch to a per-writer JSON-lines file.
// Records in the overflow log are replayable by the recompute tool.
func (w *Writer) spill(kind string, n int, payload any, cause error) {
	observability.RecordOverflowedRecords(kind, n)
	w.log.Error("sink batch spilled to overflow log",
		zap.String("kind", kind),
		zap.Int("records", n),
		zap.Error(cause),
	)

	if w.opts.OverflowDir == "" {
		return
	}
	path := filepath.Join(w.opts.OverflowDir, fmt.Sprintf("%s-overflow.jsonl", w.opts.Name))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		w.log.Error("open overflow log", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	line := struct {
		Kind      string `json:"kind"`
		SpilledAt int64  `json:"spilled_at"`
		Cause     string `json:"cause"`
		Records   any    `json:"records"`
	}{
		Kind:      kind,
		SpilledAt: time.Now().UnixMilli(),
		Cause:     cause.Error(),
		Records:   payload,
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(line); err != nil {
		w.log.Error("write overflow log", zap.String("path", path), zap.Error(err))
	}
}
