// Package aggregation maintains per-trader behavioral feature state over
// sliding time windows and emits debounced FeatureSnapshots.
//
// The engine is single-writer by design: the stream layer routes all events
// for one trader to one worker, and each worker owns its own Engine.
// Published snapshots are immutable, so classifier and anomaly readers never
// race with the writer building the next one.
package aggregation

import (
	"sort"
	"time"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/observability"
	"fx-cortex/internal/storage"
)

// Config tunes the aggregation engine.
type Config struct {
	// Windows are the sliding windows maintained per trader.
	Windows []domain.Window

	// Debounce is the minimum interval between snapshot emissions for one
	// trader+window. Zero emits on every change.
	Debounce time.Duration
}

// DefaultConfig returns the production window set with a 5s debounce.
func DefaultConfig() Config {
	return Config{
		Windows:  domain.DefaultWindows,
		Debounce: 5 * time.Second,
	}
}

// Engine owns the Trader/Trade projections and feature state of the traders
// routed to it. Not safe for concurrent use.
type Engine struct {
	cfg     Config
	traders map[int64]*traderState
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	if len(cfg.Windows) == 0 {
		cfg.Windows = domain.DefaultWindows
	}
	return &Engine{
		cfg:     cfg,
		traders: make(map[int64]*traderState),
	}
}

// traderState is the projection and window state of a single trader.
type traderState struct {
	trader     domain.Trader
	trades     map[int64]*domain.Trade
	tombstones map[int64]struct{}

	// applied records the highest source offset applied per entity key;
	// replays and stale deliveries are no-ops.
	applied map[string]int64

	windows  map[string]*windowState
	dirty    map[string]bool
	lastEmit map[string]int64 // wall-clock ms of last emission per window

	// watermark is the highest source timestamp reflected in the state.
	// Windows slide against it, not against arrival time.
	watermark int64

	// Lifetime equity track for drawdown. Order-dependent over close times,
	// so deletes trigger a per-trader recompute rather than a subtraction.
	equity      float64
	peakEquity  float64
	maxDrawdown float64
	closedSeen  map[int64]struct{}
}

func (e *Engine) stateFor(traderID int64) *traderState {
	st, ok := e.traders[traderID]
	if ok {
		return st
	}
	// Lazy creation: CDC ordering across tables is not guaranteed, so a
	// trade may reference a trader whose row event has not arrived yet.
	st = &traderState{
		trader:     domain.Trader{TraderID: traderID},
		trades:     make(map[int64]*domain.Trade),
		tombstones: make(map[int64]struct{}),
		applied:    make(map[string]int64),
		windows:    make(map[string]*windowState),
		dirty:      make(map[string]bool),
		lastEmit:   make(map[string]int64),
		closedSeen: make(map[int64]struct{}),
	}
	for _, w := range e.cfg.Windows {
		st.windows[w.ID] = newWindowState(w)
	}
	e.traders[traderID] = st
	observability.DefaultMetrics.TrackedTraders.Inc()
	return st
}

// Apply mutates state with one change event and returns any snapshots whose
// debounce interval has elapsed. Idempotent: re-applying an event (same
// entity key, same or older source offset) is a no-op.
func (e *Engine) Apply(ev *domain.ChangeEvent, now time.Time) ([]*domain.FeatureSnapshot, error) {
	if ev == nil {
		return nil, storage.ErrInvalidInput
	}
	traderID := ev.TraderID()
	if traderID == 0 {
		return nil, storage.ErrInvalidInput
	}

	st := e.stateFor(traderID)

	key := ev.EntityKey()
	if last, seen := st.applied[key]; seen && ev.SourceOffset <= last {
		observability.DefaultMetrics.DuplicatesSkipped.Inc()
		return nil, nil
	}

	if ev.SourceTimestamp > st.watermark {
		st.watermark = ev.SourceTimestamp
	}

	var changed bool
	switch ev.Entity {
	case domain.EntityTrader:
		changed = st.applyTrader(ev)
	case domain.EntityTrade:
		changed = st.applyTrade(ev)
	default:
		return nil, storage.ErrInvalidInput
	}

	st.applied[key] = ev.SourceOffset

	if changed {
		for id, ws := range st.windows {
			if ws.corrupted() {
				return nil, &storage.StateCorruptionError{
					TraderID: traderID,
					Detail:   "window " + id + " statistics violate invariants",
				}
			}
			st.dirty[id] = true
		}
	}

	return e.collect(st, now, false), nil
}

// Flush force-emits every dirty trader+window, bypassing the debounce.
// Called on shutdown and by tests.
func (e *Engine) Flush(now time.Time) []*domain.FeatureSnapshot {
	ids := make([]int64, 0, len(e.traders))
	for id := range e.traders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*domain.FeatureSnapshot
	for _, id := range ids {
		out = append(out, e.collect(e.traders[id], now, true)...)
	}
	return out
}

// Rebuild replaces one trader's entire state from durable history and
// returns fresh snapshots for every window. This is the recovery path for
// state corruption: one trader, never a global restart.
func (e *Engine) Rebuild(trader *domain.Trader, trades []*domain.Trade, now time.Time) []*domain.FeatureSnapshot {
	if trader == nil {
		return nil
	}
	e.Drop(trader.TraderID)
	st := e.stateFor(trader.TraderID)
	st.trader = *trader

	ordered := make([]*domain.Trade, len(trades))
	copy(ordered, trades)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].EffectiveTime() != ordered[j].EffectiveTime() {
			return ordered[i].EffectiveTime() < ordered[j].EffectiveTime()
		}
		return ordered[i].PositionID < ordered[j].PositionID
	})

	for _, t := range ordered {
		if t.TraderID != trader.TraderID {
			continue
		}
		if t.EffectiveTime() > st.watermark {
			st.watermark = t.EffectiveTime()
		}
		st.insertTrade(t)
	}
	for id := range st.windows {
		st.dirty[id] = true
	}

	return e.collect(st, now, true)
}

// Drop discards one trader's state entirely. Used when corrupt state cannot
// be rebuilt because no durable history is configured.
func (e *Engine) Drop(traderID int64) {
	if _, ok := e.traders[traderID]; ok {
		delete(e.traders, traderID)
		observability.DefaultMetrics.TrackedTraders.Dec()
	}
}

// Windows returns the configured window set.
func (e *Engine) Windows() []domain.Window {
	return e.cfg.Windows
}

// Watermark returns the highest source timestamp applied for a trader,
// or 0 for unknown traders.
func (e *Engine) Watermark(traderID int64) int64 {
	if st, ok := e.traders[traderID]; ok {
		return st.watermark
	}
	return 0
}

// collect advances windows against the watermark and emits snapshots for
// dirty windows whose debounce interval has elapsed.
func (e *Engine) collect(st *traderState, now time.Time, force bool) []*domain.FeatureSnapshot {
	nowMs := now.UnixMilli()
	var out []*domain.FeatureSnapshot
	for _, w := range e.cfg.Windows {
		ws := st.windows[w.ID]
		if ws.advance(st.watermark) {
			st.dirty[w.ID] = true
		}
		if !st.dirty[w.ID] {
			continue
		}
		if !force && e.cfg.Debounce > 0 {
			if last, ok := st.lastEmit[w.ID]; ok && nowMs-last < e.cfg.Debounce.Milliseconds() {
				continue // stays dirty; a later event or Flush picks it up
			}
		}
		out = append(out, &domain.FeatureSnapshot{
			TraderID:       st.trader.TraderID,
			WindowID:       w.ID,
			Features:       featureVector(ws, &st.trader, st.maxDrawdown),
			ComputedAt:     nowMs,
			InputWatermark: st.watermark,
		})
		st.dirty[w.ID] = false
		st.lastEmit[w.ID] = nowMs
	}
	return out
}

func (st *traderState) applyTrader(ev *domain.ChangeEvent) bool {
	switch ev.Op {
	case domain.OpCreate, domain.OpUpdate:
		after := ev.TraderAfter
		if after == nil {
			return false
		}
		if st.trader == *after {
			return false
		}
		st.trader = *after
		return true
	case domain.OpDelete:
		// The projection survives a source-row delete; derived history for
		// the trader remains queryable.
		return false
	}
	return false
}

func (st *traderState) applyTrade(ev *domain.ChangeEvent) bool {
	switch ev.Op {
	case domain.OpCreate:
		t := ev.TradeAfter
		if t == nil {
			return false
		}
		if _, dead := st.tombstones[t.PositionID]; dead {
			return false
		}
		if _, exists := st.trades[t.PositionID]; exists {
			// Dedup by position id: the first payload is retained.
			return false
		}
		st.insertTrade(t)
		return true

	case domain.OpUpdate:
		t := ev.TradeAfter
		if t == nil {
			return false
		}
		if _, dead := st.tombstones[t.PositionID]; dead {
			return false
		}
		old, exists := st.trades[t.PositionID]
		if !exists {
			// Update before create: treat as upsert, CDC ordering across
			// partitions is not guaranteed.
			st.insertTrade(t)
			return true
		}
		if old.IsClosed() {
			return false // immutable once closed
		}
		st.replaceTrade(old, t)
		return true

	case domain.OpDelete:
		ref := ev.TradeBefore
		if ref == nil {
			ref = ev.TradeAfter
		}
		if ref == nil {
			return false
		}
		st.tombstones[ref.PositionID] = struct{}{}
		old, exists := st.trades[ref.PositionID]
		if !exists {
			return false
		}
		for _, ws := range st.windows {
			ws.remove(old.PositionID)
		}
		delete(st.trades, old.PositionID)
		if _, counted := st.closedSeen[old.PositionID]; counted {
			st.recomputeEquity()
		}
		return true
	}
	return false
}

// insertTrade stores the trade and folds it into every window it belongs to.
func (st *traderState) insertTrade(t *domain.Trade) {
	cp := *t
	st.trades[cp.PositionID] = &cp
	for _, ws := range st.windows {
		if ws.includes(&cp, st.watermark) {
			ws.add(&cp)
		}
	}
	st.applyEquity(&cp)
}

// replaceTrade swaps an open trade's contribution for its updated image.
// A late close (close time already outside a window the open trade was
// counted in) triggers a bounded recompute of only that window.
func (st *traderState) replaceTrade(old, updated *domain.Trade) {
	cp := *updated
	st.trades[cp.PositionID] = &cp
	for _, ws := range st.windows {
		oldIn := ws.isMember(old.PositionID)
		newIn := ws.includes(&cp, st.watermark)
		switch {
		case oldIn && newIn:
			ws.remove(old.PositionID)
			ws.add(&cp)
		case oldIn && !newIn:
			st.recomputeWindow(ws)
		case !oldIn && newIn:
			ws.add(&cp)
		}
	}
	st.applyEquity(&cp)
}

// recomputeWindow rebuilds one window from the trader's trade projection.
// Lookback is bounded by the window length; no other window is touched.
func (st *traderState) recomputeWindow(ws *windowState) {
	ws.reset()
	for _, t := range st.trades {
		if ws.includes(t, st.watermark) {
			ws.add(t)
		}
	}
}

// applyEquity folds a newly closed trade into the lifetime equity track.
func (st *traderState) applyEquity(t *domain.Trade) {
	if !t.IsClosed() {
		return
	}
	if _, counted := st.closedSeen[t.PositionID]; counted {
		return
	}
	st.closedSeen[t.PositionID] = struct{}{}
	st.equity += t.Profit
	if st.equity > st.peakEquity {
		st.peakEquity = st.equity
	}
	if dd := st.peakEquity - st.equity; dd > st.maxDrawdown {
		st.maxDrawdown = dd
	}
}

// recomputeEquity rebuilds the lifetime equity track after a delete.
// Bounded to this trader's closed trades, replayed in close order.
func (st *traderState) recomputeEquity() {
	closed := make([]*domain.Trade, 0, len(st.trades))
	for _, t := range st.trades {
		if t.IsClosed() {
			closed = append(closed, t)
		}
	}
	sort.Slice(closed, func(i, j int) bool {
		if closed[i].CloseTime != closed[j].CloseTime {
			return closed[i].CloseTime < closed[j].CloseTime
		}
		return closed[i].PositionID < closed[j].PositionID
	})

	st.equity = 0
	st.peakEquity = 0
	st.maxDrawdown = 0
	st.closedSeen = make(map[int64]struct{}, len(closed))
	for _, t := range closed {
		st.closedSeen[t.PositionID] = struct{}{}
		st.equity += t.Profit
		if st.equity > st.peakEquity {
			st.peakEquity = st.equity
		}
		if dd := st.peakEquity - st.equity; dd > st.maxDrawdown {
			st.maxDrawdown = dd
		}
	}
}
