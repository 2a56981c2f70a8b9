package domain

import "strconv"

// EntityType discriminates which source table a change event belongs to.
type EntityType string

// Entity type constants
const (
	EntityTrader EntityType = "trader"
	EntityTrade  EntityType = "trade"
)

// Op is the CDC operation tag.
type Op string

// Operation constants, matching the Debezium `op` field.
const (
	OpCreate Op = "c"
	OpUpdate Op = "u"
	OpDelete Op = "d"
)

// ChangeEvent is the canonical, immutable unit of work produced by the
// normalizer. Exactly one of the trader/trade image pairs is populated,
// according to Entity.
//
// SourceOffset is strictly increasing per source partition and is the sole
// basis for ordering and deduplication.
type ChangeEvent struct {
	Entity          EntityType
	Op              Op
	TraderBefore    *Trader
	TraderAfter     *Trader
	TradeBefore     *Trade
	TradeAfter      *Trade
	SourceOffset    int64
	SourceTimestamp int64 // Unix timestamp in milliseconds
	SourcePartition int
}

// TraderID returns the trader the event belongs to. Used as the partitioning
// key so that all events for one trader land on the same worker.
func (e *ChangeEvent) TraderID() int64 {
	switch e.Entity {
	case EntityTrader:
		if e.TraderAfter != nil {
			return e.TraderAfter.TraderID
		}
		if e.TraderBefore != nil {
			return e.TraderBefore.TraderID
		}
	case EntityTrade:
		if e.TradeAfter != nil {
			return e.TradeAfter.TraderID
		}
		if e.TradeBefore != nil {
			return e.TradeBefore.TraderID
		}
	}
	return 0
}

// EntityKey returns the stable identity of the mutated row, e.g. "trade:100".
// Idempotent application is keyed by (EntityKey, SourceOffset).
func (e *ChangeEvent) EntityKey() string {
	switch e.Entity {
	case EntityTrader:
		return "trader:" + strconv.FormatInt(e.TraderID(), 10)
	case EntityTrade:
		if e.TradeAfter != nil {
			return "trade:" + strconv.FormatInt(e.TradeAfter.PositionID, 10)
		}
		if e.TradeBefore != nil {
			return "trade:" + strconv.FormatInt(e.TradeBefore.PositionID, 10)
		}
	}
	return ""
}
