package stream

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"time"

	"go.uber.org/zap"

	"fx-cortex/internal/aggregation"
	"fx-cortex/internal/anomaly"
	"fx-cortex/internal/cache"
	"fx-cortex/internal/domain"
	"fx-cortex/internal/observability"
	"fx-cortex/internal/sink"
	"fx-cortex/internal/storage"
)

// PoolOptions configures a worker Pool.
type PoolOptions struct {
	// Workers is the number of partitions. Events for one trader always land
	// on the same worker, so each worker's engine needs no locking.
	Workers int

	// QueueSize bounds each worker's inbound queue. Dispatch blocks when a
	// worker is full, pausing only the partitions hashed to it.
	QueueSize int

	// FlushInterval drives debounced snapshot emission for traders that go
	// quiet between events.
	FlushInterval time.Duration

	Engine   aggregation.Config
	Detector anomaly.Config

	// History, when set, receives every trader upsert and trade insert so
	// full recomputes have a durable source.
	History storage.TradeHistoryStore

	// Cache, when set, mirrors emitted snapshots for low-latency readers.
	Cache *cache.FeatureCache

	// NewSink builds the outbound writer for one worker. Required.
	NewSink func(workerID int) *sink.Writer

	Logger *zap.Logger
}

// Pool partitions change events by trader id across single-writer workers.
type Pool struct {
	workers []*worker
	log     *zap.Logger
}

// NewPool creates a Pool.
func NewPool(opts PoolOptions) (*Pool, error) {
	if opts.NewSink == nil {
		return nil, errors.New("stream: pool requires a sink factory")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	workers := make([]*worker, opts.Workers)
	for i := range workers {
		workers[i] = &worker{
			id:            i,
			engine:        aggregation.NewEngine(opts.Engine),
			detector:      anomaly.New(opts.Detector),
			sink:          opts.NewSink(i),
			history:       opts.History,
			cache:         opts.Cache,
			queue:         make(chan *domain.ChangeEvent, opts.QueueSize),
			flushInterval: opts.FlushInterval,
			log:           opts.Logger.With(zap.Int("worker", i)),
		}
	}
	return &Pool{workers: workers, log: opts.Logger}, nil
}

// Dispatch routes an event to its trader's worker, blocking while that
// worker's queue is full.
func (p *Pool) Dispatch(ctx context.Context, ev *domain.ChangeEvent) error {
	w := p.workers[partition(ev.TraderID(), len(p.workers))]
	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.queue <- ev:
		return nil
	}
}

// Run starts every worker and its sink, blocking until the context is
// cancelled and all workers have drained.
func (p *Pool) Run(ctx context.Context) error {
	done := make(chan struct{}, len(p.workers)*2)
	for _, w := range p.workers {
		w := w
		go func() {
			w.sink.Run(ctx)
			done <- struct{}{}
		}()
		go func() {
			w.run(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < len(p.workers)*2; i++ {
		<-done
	}
	return ctx.Err()
}

// partition maps a trader id to a worker index with FNV-1a.
func partition(traderID int64, workers int) int {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(traderID >> (8 * i))
	}
	h.Write(buf[:])
	return int(h.Sum32() % uint32(workers))
}

// worker owns the aggregation and anomaly state for its slice of traders.
// Only its own goroutine touches that state.
type worker struct {
	id            int
	engine        *aggregation.Engine
	detector      *anomaly.Detector
	sink          *sink.Writer
	history       storage.TradeHistoryStore
	cache         *cache.FeatureCache
	queue         chan *domain.ChangeEvent
	flushInterval time.Duration
	log           *zap.Logger
}

func (w *worker) run(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	defer w.sink.Close()

	label := strconv.Itoa(w.id)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.queue:
			w.handle(ctx, ev)
			if wm := w.engine.Watermark(ev.TraderID()); wm > 0 {
				lag := time.Since(time.UnixMilli(wm)).Seconds()
				observability.DefaultMetrics.WatermarkLag.WithLabelValues(label).Set(lag)
			}
		case <-ticker.C:
			snapshots := w.engine.Flush(time.Now())
			w.emit(ctx, snapshots)
		}
	}
}

func (w *worker) handle(ctx context.Context, ev *domain.ChangeEvent) {
	start := time.Now()
	snapshots, err := w.engine.Apply(ev, start)
	observability.DefaultMetrics.ApplyLatency.Observe(time.Since(start).Seconds())

	var corrupt *storage.StateCorruptionError
	if errors.As(err, &corrupt) {
		w.recover(ctx, corrupt.TraderID)
		return
	}
	if err != nil {
		w.log.Error("apply event", zap.Int64("trader_id", ev.TraderID()), zap.Error(err))
		return
	}

	observability.RecordEventProcessed(string(ev.Entity), string(ev.Op))
	observability.DefaultMetrics.LastEventProcessed.SetToCurrentTime()

	w.persistRaw(ctx, ev)

	if ev.Entity == domain.EntityTrader && ev.TraderAfter != nil {
		for _, ae := range w.detector.ObserveTrader(ev.TraderAfter, start) {
			w.emitAnomaly(ae)
		}
	}

	w.emit(ctx, snapshots)
}

// persistRaw mirrors the event into the durable trade history so a full
// recompute always has a source. Write failures are logged, not fatal: the
// stream stays live and the row lands on the next redelivery.
func (w *worker) persistRaw(ctx context.Context, ev *domain.ChangeEvent) {
	if w.history == nil {
		return
	}
	switch {
	case ev.Entity == domain.EntityTrader && ev.TraderAfter != nil:
		if err := w.history.UpsertTrader(ctx, ev.TraderAfter); err != nil {
			w.log.Error("persist trader", zap.Int64("trader_id", ev.TraderID()), zap.Error(err))
		}
	case ev.Entity == domain.EntityTrade && ev.Op == domain.OpCreate && ev.TradeAfter != nil:
		if err := w.history.InsertTrade(ctx, ev.TradeAfter); err != nil {
			w.log.Error("persist trade", zap.Int64("position_id", ev.TradeAfter.PositionID), zap.Error(err))
		}
	}
}

func (w *worker) emit(ctx context.Context, snapshots []*domain.FeatureSnapshot) {
	for _, s := range snapshots {
		observability.RecordSnapshotEmitted(s.WindowID)
		if err := w.sink.EnqueueSnapshot(s); err != nil {
			w.log.Error("enqueue snapshot", zap.Int64("trader_id", s.TraderID), zap.Error(err))
		}
		if w.cache != nil {
			if err := w.cache.Put(ctx, s); err != nil {
				w.log.Warn("cache snapshot", zap.Int64("trader_id", s.TraderID), zap.Error(err))
			}
		}
		for _, ae := range w.detector.Observe(s, time.Now()) {
			w.emitAnomaly(ae)
		}
	}
}

func (w *worker) emitAnomaly(ae *domain.AnomalyEvent) {
	observability.RecordAnomalyDetected(ae.Metric)
	if err := w.sink.EnqueueAnomaly(ae); err != nil {
		w.log.Error("enqueue anomaly", zap.Int64("trader_id", ae.TraderID), zap.Error(err))
	}
}

// recover rebuilds one trader's state from the durable history after a
// corruption error. Only that trader pays the recompute; the rest of the
// partition keeps flowing.
func (w *worker) recover(ctx context.Context, traderID int64) {
	observability.RecordStateRecovery()
	w.log.Warn("rebuilding trader state", zap.Int64("trader_id", traderID))

	if w.history == nil {
		w.engine.Drop(traderID)
		return
	}
	trader, err := w.history.GetTrader(ctx, traderID)
	if errors.Is(err, storage.ErrNotFound) {
		trader = &domain.Trader{TraderID: traderID}
	} else if err != nil {
		w.log.Error("load trader for rebuild", zap.Int64("trader_id", traderID), zap.Error(err))
		w.engine.Drop(traderID)
		return
	}
	trades, err := w.history.GetTradesByTraderID(ctx, traderID)
	if err != nil {
		w.log.Error("load trades for rebuild", zap.Int64("trader_id", traderID), zap.Error(err))
		w.engine.Drop(traderID)
		return
	}

	snapshots := w.engine.Rebuild(trader, trades, time.Now())
	if w.cache != nil {
		if err := w.cache.Invalidate(ctx, traderID); err != nil {
			w.log.Warn("invalidate cache", zap.Int64("trader_id", traderID), zap.Error(err))
		}
	}
	w.emit(ctx, snapshots)
}
