package domain

// Trade side constants, from the raw `type` column.
const (
	TradeSideBuy  = "buy"
	TradeSideSell = "sell"
)

// Trade is the projection of one row in raw_data.trades.
// Immutable once closed; an open trade (CloseTime == 0) may be updated in
// place until a close or delete event arrives. Deduplicated by PositionID:
// a repeated Create with the same id is a no-op.
type Trade struct {
	PositionID int64
	TraderID   int64
	Symbol     string // canonical symbol
	Side       string // "buy" | "sell"
	Volume     float64
	OpenTime   int64 // Unix timestamp in milliseconds
	OpenPrice  float64
	CloseTime  int64 // Unix timestamp in milliseconds, 0 while open
	ClosePrice float64
	Commission float64
	Swap       float64
	Profit     float64
}

// IsClosed reports whether the position has a close time.
func (t *Trade) IsClosed() bool {
	return t.CloseTime > 0
}

// EffectiveTime is the timestamp used for window membership:
// the close time for closed trades, the open time otherwise.
func (t *Trade) EffectiveTime() int64 {
	if t.IsClosed() {
		return t.CloseTime
	}
	return t.OpenTime
}

// HoldingSeconds returns the holding duration for closed trades, 0 otherwise.
func (t *Trade) HoldingSeconds() float64 {
	if !t.IsClosed() || t.CloseTime < t.OpenTime {
		return 0
	}
	return float64(t.CloseTime-t.OpenTime) / 1000.0
}
