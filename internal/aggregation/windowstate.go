package aggregation

import (
	"time"

	"fx-cortex/internal/domain"
)

// windowState holds the incremental sufficient statistics for one trader's
// sliding window. Membership is keyed by position id; each member keeps the
// trade image it was counted with so its contribution can be subtracted
// exactly on update, eviction, or delete.
type windowState struct {
	win     domain.Window
	members map[int64]*domain.Trade

	count       int
	closedCount int
	wins        int

	totalVolume float64
	grossProfit float64
	grossLoss   float64
	netProfit   float64
	commission  float64
	swap        float64
	holdingSecs float64

	volumeBySymbol map[string]float64
	countBySymbol  map[string]int
	hourHist       [24]int
}

func newWindowState(win domain.Window) *windowState {
	return &windowState{
		win:            win,
		members:        make(map[int64]*domain.Trade),
		volumeBySymbol: make(map[string]float64),
		countBySymbol:  make(map[string]int),
	}
}

// includes reports whether a trade belongs to the window as of nowMs.
// Closed trades are placed by close time, open trades by open time.
func (ws *windowState) includes(t *domain.Trade, nowMs int64) bool {
	return t.EffectiveTime() > nowMs-ws.win.Length.Milliseconds()
}

func (ws *windowState) isMember(positionID int64) bool {
	_, ok := ws.members[positionID]
	return ok
}

// add counts a trade into the window. The caller must have checked includes.
func (ws *windowState) add(t *domain.Trade) {
	cp := *t
	ws.members[t.PositionID] = &cp
	ws.apply(&cp, 1)
}

// remove subtracts a member's contribution. No-op for non-members.
func (ws *windowState) remove(positionID int64) {
	t, ok := ws.members[positionID]
	if !ok {
		return
	}
	delete(ws.members, positionID)
	ws.apply(t, -1)
}

// advance evicts members that slid out of the window as of nowMs.
// Returns true if anything was evicted.
func (ws *windowState) advance(nowMs int64) bool {
	var evicted []int64
	for id, t := range ws.members {
		if !ws.includes(t, nowMs) {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		ws.remove(id)
	}
	return len(evicted) > 0
}

// corrupted reports whether the sufficient statistics violate their
// structural invariants. Counts only; float drift is expected and harmless.
func (ws *windowState) corrupted() bool {
	if ws.count < 0 || ws.closedCount < 0 || ws.wins < 0 {
		return true
	}
	if ws.closedCount > ws.count || ws.wins > ws.closedCount {
		return true
	}
	return ws.count != len(ws.members)
}

// reset drops all state; used by the bounded-lookback recompute.
func (ws *windowState) reset() {
	ws.members = make(map[int64]*domain.Trade)
	ws.count = 0
	ws.closedCount = 0
	ws.wins = 0
	ws.totalVolume = 0
	ws.grossProfit = 0
	ws.grossLoss = 0
	ws.netProfit = 0
	ws.commission = 0
	ws.swap = 0
	ws.holdingSecs = 0
	ws.volumeBySymbol = make(map[string]float64)
	ws.countBySymbol = make(map[string]int)
	ws.hourHist = [24]int{}
}

// apply adds (sign=+1) or subtracts (sign=-1) one trade's contribution.
func (ws *windowState) apply(t *domain.Trade, sign int) {
	f := float64(sign)

	ws.count += sign
	ws.totalVolume += f * t.Volume
	ws.volumeBySymbol[t.Symbol] += f * t.Volume
	ws.countBySymbol[t.Symbol] += sign
	if ws.countBySymbol[t.Symbol] <= 0 {
		delete(ws.countBySymbol, t.Symbol)
		delete(ws.volumeBySymbol, t.Symbol)
	}

	hour := time.UnixMilli(t.OpenTime).UTC().Hour()
	ws.hourHist[hour] += sign

	if !t.IsClosed() {
		return
	}
	ws.closedCount += sign
	ws.netProfit += f * t.Profit
	ws.commission += f * t.Commission
	ws.swap += f * t.Swap
	ws.holdingSecs += f * t.HoldingSeconds()
	if t.Profit > 0 {
		ws.wins += sign
		ws.grossProfit += f * t.Profit
	} else if t.Profit < 0 {
		ws.grossLoss += f * -t.Profit
	}
}
