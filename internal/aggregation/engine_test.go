package aggregation

import (
	"strconv"
	"testing"
	"time"

	"fx-cortex/internal/domain"
)

const hourMs = int64(time.Hour / time.Millisecond)

// baseMs is an arbitrary fixed origin for event time in these tests.
const baseMs = int64(1700000000000)

func tradeCreate(offset, traderID, posID int64, symbol string, volume float64, openMs, closeMs int64, profit float64) *domain.ChangeEvent {
	ts := openMs
	if closeMs > 0 {
		ts = closeMs
	}
	return &domain.ChangeEvent{
		Entity: domain.EntityTrade,
		Op:     domain.OpCreate,
		TradeAfter: &domain.Trade{
			PositionID: posID,
			TraderID:   traderID,
			Symbol:     symbol,
			Side:       domain.TradeSideBuy,
			Volume:     volume,
			OpenTime:   openMs,
			OpenPrice:  1.0,
			CloseTime:  closeMs,
			ClosePrice: 1.0,
			Profit:     profit,
		},
		SourceOffset:    offset,
		SourceTimestamp: ts,
	}
}

func tradeUpdate(offset int64, after *domain.Trade, ts int64) *domain.ChangeEvent {
	return &domain.ChangeEvent{
		Entity:          domain.EntityTrade,
		Op:              domain.OpUpdate,
		TradeAfter:      after,
		SourceOffset:    offset,
		SourceTimestamp: ts,
	}
}

func tradeDelete(offset int64, before *domain.Trade, ts int64) *domain.ChangeEvent {
	return &domain.ChangeEvent{
		Entity:          domain.EntityTrade,
		Op:              domain.OpDelete,
		TradeBefore:     before,
		SourceOffset:    offset,
		SourceTimestamp: ts,
	}
}

func traderUpdate(offset, traderID int64, algoPct int, ts int64) *domain.ChangeEvent {
	return &domain.ChangeEvent{
		Entity: domain.EntityTrader,
		Op:     domain.OpUpdate,
		TraderAfter: &domain.Trader{
			TraderID:       traderID,
			AlgoTradingPct: algoPct,
			LastUpdated:    ts,
		},
		SourceOffset:    offset,
		SourceTimestamp: ts,
	}
}

// latestSnapshots folds emitted batches into the freshest snapshot per
// trader+window, the way the sink sees them.
type latestSnapshots map[string]*domain.FeatureSnapshot

func (l latestSnapshots) merge(snaps []*domain.FeatureSnapshot) {
	for _, s := range snaps {
		l[snapKey(s.TraderID, s.WindowID)] = s
	}
}

func (l latestSnapshots) get(t *testing.T, traderID int64, windowID string) *domain.FeatureSnapshot {
	t.Helper()
	s, ok := l[snapKey(traderID, windowID)]
	if !ok {
		t.Fatalf("no snapshot emitted for trader %d window %s", traderID, windowID)
	}
	return s
}

func snapKey(traderID int64, windowID string) string {
	return strconv.FormatInt(traderID, 10) + "/" + windowID
}

func mustApply(t *testing.T, e *Engine, latest latestSnapshots, ev *domain.ChangeEvent, now time.Time) []*domain.FeatureSnapshot {
	t.Helper()
	snaps, err := e.Apply(ev, now)
	if err != nil {
		t.Fatalf("Apply(offset=%d) failed: %v", ev.SourceOffset, err)
	}
	latest.merge(snaps)
	return snaps
}

func newTestEngine() *Engine {
	return NewEngine(Config{Debounce: 0})
}

func TestEngine_ApplyIdempotent(t *testing.T) {
	e := newTestEngine()
	latest := latestSnapshots{}
	now := time.UnixMilli(baseMs)

	ev := tradeCreate(10, 42, 1, "EURUSD", 0.5, baseMs-hourMs, baseMs, 25)
	mustApply(t, e, latest, ev, now)

	// Redelivery of the same event is a no-op and emits nothing.
	snaps := mustApply(t, e, latest, ev, now)
	if len(snaps) != 0 {
		t.Errorf("redelivered event emitted %d snapshots, want 0", len(snaps))
	}

	s := latest.get(t, 42, "24h")
	if s.Features.TradeCount != 1 {
		t.Errorf("TradeCount = %d, want 1", s.Features.TradeCount)
	}
}

func TestEngine_DuplicateCreateFirstWins(t *testing.T) {
	e := newTestEngine()
	latest := latestSnapshots{}
	now := time.UnixMilli(baseMs)

	mustApply(t, e, latest, tradeCreate(10, 42, 1, "EURUSD", 0.5, baseMs-hourMs, 0, 0), now)

	// Same position id, different offset and payload: first payload sticks.
	snaps := mustApply(t, e, latest, tradeCreate(11, 42, 1, "EURUSD", 9.9, baseMs-hourMs, 0, 0), now)
	if len(snaps) != 0 {
		t.Errorf("duplicate create emitted %d snapshots, want 0", len(snaps))
	}

	s := latest.get(t, 42, "24h")
	if s.Features.TradeCount != 1 {
		t.Errorf("TradeCount = %d, want 1", s.Features.TradeCount)
	}
	if s.Features.TotalVolume != 0.5 {
		t.Errorf("TotalVolume = %v, want 0.5 (first payload retained)", s.Features.TotalVolume)
	}
}

func TestEngine_WindowEviction(t *testing.T) {
	e := newTestEngine()
	latest := latestSnapshots{}

	// Closed trade at T counts toward the 24h window.
	mustApply(t, e, latest, tradeCreate(1, 42, 1, "EURUSD", 1, baseMs-hourMs, baseMs, 10), time.UnixMilli(baseMs))
	if got := latest.get(t, 42, "24h").Features.TradeCount; got != 1 {
		t.Fatalf("24h TradeCount at T = %d, want 1", got)
	}

	// A later event advances the watermark to T+25h; the old trade slides
	// out of 24h but stays in 7d and 30d.
	later := baseMs + 25*hourMs
	mustApply(t, e, latest, tradeCreate(2, 42, 2, "GBPUSD", 1, later-hourMs, later, -5), time.UnixMilli(later))

	if got := latest.get(t, 42, "24h").Features.TradeCount; got != 1 {
		t.Errorf("24h TradeCount at T+25h = %d, want 1 (only the new trade)", got)
	}
	if got := latest.get(t, 42, "24h").Features.NetProfit; got != -5 {
		t.Errorf("24h NetProfit at T+25h = %v, want -5", got)
	}
	if got := latest.get(t, 42, "7d").Features.TradeCount; got != 2 {
		t.Errorf("7d TradeCount at T+25h = %d, want 2", got)
	}
	if got := latest.get(t, 42, "30d").Features.TradeCount; got != 2 {
		t.Errorf("30d TradeCount at T+25h = %d, want 2", got)
	}
}

func TestEngine_OutOfOrderEquivalence(t *testing.T) {
	events := []*domain.ChangeEvent{
		traderUpdate(1, 42, 30, baseMs-3*hourMs),
		tradeCreate(2, 42, 1, "EURUSD", 0.5, baseMs-2*hourMs, baseMs-hourMs, 20),
		tradeCreate(3, 42, 2, "GBPUSD", 1.0, baseMs-2*hourMs, baseMs-hourMs/2, -8),
		tradeCreate(4, 42, 3, "EURUSD", 0.7, baseMs-hourMs, 0, 0),
	}
	reversed := make([]*domain.ChangeEvent, len(events))
	for i, ev := range events {
		reversed[len(events)-1-i] = ev
	}

	now := time.UnixMilli(baseMs)
	inOrder, ordered := newTestEngine(), latestSnapshots{}
	outOfOrder, shuffled := newTestEngine(), latestSnapshots{}
	for _, ev := range events {
		mustApply(t, inOrder, ordered, ev, now)
	}
	for _, ev := range reversed {
		mustApply(t, outOfOrder, shuffled, ev, now)
	}

	for _, windowID := range []string{"24h", "7d", "30d"} {
		a := ordered.get(t, 42, windowID)
		b := shuffled.get(t, 42, windowID)
		if a.Features != b.Features {
			t.Errorf("%s feature vectors diverge:\n in-order: %+v\nreversed:  %+v", windowID, a.Features, b.Features)
		}
		if a.InputWatermark != b.InputWatermark {
			t.Errorf("%s watermarks diverge: %d vs %d", windowID, a.InputWatermark, b.InputWatermark)
		}
	}
}

func TestEngine_UpdateAfterCloseIgnored(t *testing.T) {
	e := newTestEngine()
	latest := latestSnapshots{}
	now := time.UnixMilli(baseMs)

	closed := tradeCreate(1, 42, 1, "EURUSD", 0.5, baseMs-2*hourMs, baseMs-hourMs, 30)
	mustApply(t, e, latest, closed, now)

	// A closed position is immutable; a later update must not change it.
	mutated := *closed.TradeAfter
	mutated.Profit = -999
	snaps := mustApply(t, e, latest, tradeUpdate(2, &mutated, baseMs), now)
	if len(snaps) != 0 {
		t.Errorf("update of closed trade emitted %d snapshots, want 0", len(snaps))
	}

	if got := latest.get(t, 42, "24h").Features.NetProfit; got != 30 {
		t.Errorf("NetProfit = %v, want 30", got)
	}
}

func TestEngine_LateCloseRecountsWindow(t *testing.T) {
	e := newTestEngine()
	latest := latestSnapshots{}

	openMs := baseMs
	// Open trade enters the 24h window by open time.
	mustApply(t, e, latest, tradeCreate(1, 42, 1, "EURUSD", 1, openMs, 0, 0), time.UnixMilli(openMs))

	// Watermark moves 25h ahead; the still-open trade is evicted from 24h.
	later := openMs + 25*hourMs
	mustApply(t, e, latest, traderUpdate(2, 42, 10, later), time.UnixMilli(later))
	if got := latest.get(t, 42, "24h").Features.TradeCount; got != 0 {
		t.Fatalf("24h TradeCount after eviction = %d, want 0", got)
	}

	// The close lands inside the current 24h window; the position re-enters
	// placed by close time.
	update := &domain.Trade{
		PositionID: 1, TraderID: 42, Symbol: "EURUSD", Side: domain.TradeSideBuy,
		Volume: 1, OpenTime: openMs, OpenPrice: 1.0,
		CloseTime: later - hourMs, ClosePrice: 1.1, Profit: 50,
	}
	mustApply(t, e, latest, tradeUpdate(3, update, later-hourMs), time.UnixMilli(later))

	s := latest.get(t, 42, "24h")
	if s.Features.TradeCount != 1 {
		t.Errorf("24h TradeCount after late close = %d, want 1", s.Features.TradeCount)
	}
	if s.Features.NetProfit != 50 {
		t.Errorf("NetProfit = %v, want 50", s.Features.NetProfit)
	}
	if s.Features.WinRate != 1 {
		t.Errorf("WinRate = %v, want 1", s.Features.WinRate)
	}
}

func TestEngine_DeleteRemovesContribution(t *testing.T) {
	e := newTestEngine()
	latest := latestSnapshots{}
	now := time.UnixMilli(baseMs)

	win := tradeCreate(1, 42, 1, "EURUSD", 1, baseMs-3*hourMs, baseMs-2*hourMs, 100)
	loss := tradeCreate(2, 42, 2, "EURUSD", 1, baseMs-2*hourMs, baseMs-hourMs, -60)
	mustApply(t, e, latest, win, now)
	mustApply(t, e, latest, loss, now)

	if got := latest.get(t, 42, "24h").Features.MaxDrawdown; got != 60 {
		t.Fatalf("MaxDrawdown = %v, want 60", got)
	}

	// Deleting the losing trade rebuilds the equity track for this trader.
	mustApply(t, e, latest, tradeDelete(3, loss.TradeAfter, baseMs), now)
	s := latest.get(t, 42, "24h")
	if s.Features.TradeCount != 1 {
		t.Errorf("TradeCount after delete = %d, want 1", s.Features.TradeCount)
	}
	if s.Features.MaxDrawdown != 0 {
		t.Errorf("MaxDrawdown after delete = %v, want 0", s.Features.MaxDrawdown)
	}
	if s.Features.NetProfit != 100 {
		t.Errorf("NetProfit after delete = %v, want 100", s.Features.NetProfit)
	}

	// A replayed create for the tombstoned position stays dead.
	snaps := mustApply(t, e, latest, tradeCreate(4, 42, 2, "EURUSD", 1, baseMs-2*hourMs, baseMs-hourMs, -60), now)
	if len(snaps) != 0 {
		t.Errorf("create of tombstoned position emitted %d snapshots, want 0", len(snaps))
	}
}

func TestEngine_Debounce(t *testing.T) {
	e := NewEngine(Config{Debounce: 5 * time.Second})
	now := time.UnixMilli(baseMs)

	snaps, err := e.Apply(tradeCreate(1, 42, 1, "EURUSD", 1, baseMs-hourMs, baseMs, 5), now)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(snaps) == 0 {
		t.Fatal("first change emitted no snapshots")
	}

	// A second change inside the debounce interval emits nothing.
	snaps, err = e.Apply(tradeCreate(2, 42, 2, "EURUSD", 1, baseMs-hourMs, baseMs, 5), now.Add(time.Second))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("change within debounce emitted %d snapshots, want 0", len(snaps))
	}

	// The suppressed state is picked up once the interval elapses.
	snaps, err = e.Apply(traderUpdate(3, 42, 10, baseMs), now.Add(6*time.Second))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	latest := latestSnapshots{}
	latest.merge(snaps)
	if got := latest.get(t, 42, "24h").Features.TradeCount; got != 2 {
		t.Errorf("TradeCount after debounce = %d, want 2", got)
	}

	// Flush bypasses the debounce for anything still dirty.
	if _, err := e.Apply(tradeCreate(4, 42, 3, "EURUSD", 1, baseMs-hourMs, baseMs, 5), now.Add(7*time.Second)); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	flushed := latestSnapshots{}
	flushed.merge(e.Flush(now.Add(7 * time.Second)))
	if got := flushed.get(t, 42, "24h").Features.TradeCount; got != 3 {
		t.Errorf("TradeCount after flush = %d, want 3", got)
	}
}

func TestEngine_FeatureRatios(t *testing.T) {
	e := newTestEngine()
	latest := latestSnapshots{}
	now := time.UnixMilli(baseMs)

	// Three closed trades (two wins, one loss) and one open trade that must
	// not count toward closed-trade ratios.
	events := []*domain.ChangeEvent{
		tradeCreate(1, 42, 1, "EURUSD", 1, baseMs-4*hourMs, baseMs-3*hourMs, 100),
		tradeCreate(2, 42, 2, "EURUSD", 1, baseMs-3*hourMs, baseMs-2*hourMs, 50),
		tradeCreate(3, 42, 3, "GBPUSD", 2, baseMs-2*hourMs, baseMs-hourMs, -75),
		tradeCreate(4, 42, 4, "EURUSD", 1, baseMs-hourMs, 0, 0),
	}
	for _, ev := range events {
		mustApply(t, e, latest, ev, now)
	}

	f := latest.get(t, 42, "24h").Features

	if f.TradeCount != 4 {
		t.Errorf("TradeCount = %d, want 4", f.TradeCount)
	}
	if f.TotalVolume != 5 {
		t.Errorf("TotalVolume = %v, want 5", f.TotalVolume)
	}
	if want := 2.0 / 3.0; !almostEqual(f.WinRate, want) {
		t.Errorf("WinRate = %v, want %v", f.WinRate, want)
	}
	if want := 150.0 / 75.0; !almostEqual(f.ProfitFactor, want) {
		t.Errorf("ProfitFactor = %v, want %v", f.ProfitFactor, want)
	}
	if f.NetProfit != 75 {
		t.Errorf("NetProfit = %v, want 75", f.NetProfit)
	}
	if want := 75.0 / 3.0; !almostEqual(f.AvgProfit, want) {
		t.Errorf("AvgProfit = %v, want %v", f.AvgProfit, want)
	}
	if want := 3.0 / 5.0; !almostEqual(f.VolumeConcentration, want) {
		t.Errorf("VolumeConcentration = %v, want %v", f.VolumeConcentration, want)
	}
	if f.SymbolEntropy <= 0 {
		t.Errorf("SymbolEntropy = %v, want > 0 for a two-symbol trader", f.SymbolEntropy)
	}
}

func TestEngine_ProfitFactorCapped(t *testing.T) {
	e := newTestEngine()
	latest := latestSnapshots{}
	now := time.UnixMilli(baseMs)

	// Wins only: the ratio is undefined, published as the cap sentinel.
	mustApply(t, e, latest, tradeCreate(1, 42, 1, "EURUSD", 1, baseMs-2*hourMs, baseMs-hourMs, 10), now)
	if got := latest.get(t, 42, "24h").Features.ProfitFactor; got != 999 {
		t.Errorf("ProfitFactor = %v, want capped 999", got)
	}
}

func TestEngine_RebuildMatchesIncremental(t *testing.T) {
	now := time.UnixMilli(baseMs)
	trader := &domain.Trader{TraderID: 42, AlgoTradingPct: 20}

	trades := []*domain.Trade{
		{PositionID: 1, TraderID: 42, Symbol: "EURUSD", Side: domain.TradeSideBuy, Volume: 1, OpenTime: baseMs - 4*hourMs, CloseTime: baseMs - 3*hourMs, Profit: 40},
		{PositionID: 2, TraderID: 42, Symbol: "GBPUSD", Side: domain.TradeSideSell, Volume: 2, OpenTime: baseMs - 3*hourMs, CloseTime: baseMs - hourMs, Profit: -15},
		{PositionID: 3, TraderID: 42, Symbol: "EURUSD", Side: domain.TradeSideBuy, Volume: 0.5, OpenTime: baseMs - hourMs},
	}

	incremental := newTestEngine()
	latest := latestSnapshots{}
	mustApply(t, incremental, latest, traderUpdate(1, 42, 20, baseMs-5*hourMs), now)
	for i, tr := range trades {
		ev := tradeCreate(int64(i+2), 42, tr.PositionID, tr.Symbol, tr.Volume, tr.OpenTime, tr.CloseTime, tr.Profit)
		ev.TradeAfter.Side = tr.Side
		mustApply(t, incremental, latest, ev, now)
	}

	rebuilt := latestSnapshots{}
	rebuilt.merge(NewEngine(Config{Debounce: 0}).Rebuild(trader, trades, now))

	for _, windowID := range []string{"24h", "7d", "30d"} {
		a := latest.get(t, 42, windowID)
		b := rebuilt.get(t, 42, windowID)
		if a.Features != b.Features {
			t.Errorf("%s diverges:\nincremental: %+v\nrebuilt:     %+v", windowID, a.Features, b.Features)
		}
		if a.InputWatermark != b.InputWatermark {
			t.Errorf("%s watermarks diverge: %d vs %d", windowID, a.InputWatermark, b.InputWatermark)
		}
	}
}

func almostEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
