// Package normalizer turns raw CDC payloads into the canonical event model.
// It is the only place that touches the loosely-shaped wire format; every
// downstream stage operates on domain.ChangeEvent.
package normalizer

import (
	"encoding/json"
	"strings"
	"time"

	"fx-cortex/internal/domain"
)

// envelope is the CDC record shape on the wire. Unknown extra fields are
// ignored for forward compatibility. Debezium wraps the record in a
// top-level "payload" object depending on converter settings; both shapes
// are accepted.
type envelope struct {
	Payload      json.RawMessage `json:"payload"`
	Table        string          `json:"table"`
	Op           string          `json:"op"`
	Before       json.RawMessage `json:"before"`
	After        json.RawMessage `json:"after"`
	TsMs         int64           `json:"ts_ms"`
	SourceOffset int64           `json:"source_offset"`
	Source       *envelopeSource `json:"source"`
}

type envelopeSource struct {
	Table     string `json:"table"`
	Partition int    `json:"partition"`
}

type rawTraderRow struct {
	TraderID       *int64 `json:"trader_id"`
	Server         string `json:"server"`
	AlgoTradingPct int    `json:"algo_trading_pct"`
	URL            string `json:"url"`
	LastUpdated    msTime `json:"last_updated"`
}

type rawTradeRow struct {
	PositionID *int64   `json:"position_id"`
	TraderID   *int64   `json:"trader_id"`
	Symbol     string   `json:"symbol"`
	Type       string   `json:"type"`
	Volume     *float64 `json:"volume"`
	OpenTime   msTime   `json:"open_time"`
	OpenPrice  float64  `json:"open_price"`
	CloseTime  msTime   `json:"close_time"`
	ClosePrice float64  `json:"close_price"`
	Commission float64  `json:"commission"`
	Swap       float64  `json:"swap"`
	Profit     float64  `json:"profit"`
}

// msTime decodes a timestamp that arrives either as epoch milliseconds or as
// an RFC 3339 string. The source emits both depending on the column type.
type msTime int64

func (t *msTime) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*t = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return err
		}
		*t = msTime(parsed.UnixMilli())
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = msTime(n)
	return nil
}

// Normalizer parses heterogeneous CDC payloads. It holds no state and is
// safe for concurrent use.
type Normalizer struct{}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize parses one raw CDC payload into a ChangeEvent.
// Returns *MalformedEventError when required fields are missing or
// mis-shaped, and *UnknownEntityError for tables this pipeline does not
// project. Pure: no side effects.
func (n *Normalizer) Normalize(raw []byte) (*domain.ChangeEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &MalformedEventError{Reason: "invalid JSON: " + err.Error()}
	}

	// Unwrap the Debezium payload envelope when present.
	if len(env.Payload) > 0 && env.Op == "" {
		inner := env.Payload
		env = envelope{}
		if err := json.Unmarshal(inner, &env); err != nil {
			return nil, &MalformedEventError{Reason: "invalid payload envelope: " + err.Error()}
		}
	}

	op := domain.Op(env.Op)
	switch op {
	case domain.OpCreate, domain.OpUpdate, domain.OpDelete:
	case "":
		return nil, &MalformedEventError{Reason: "missing op", Offset: env.SourceOffset}
	default:
		return nil, &MalformedEventError{Reason: "unsupported op " + env.Op, Offset: env.SourceOffset}
	}

	if env.TsMs <= 0 {
		return nil, &MalformedEventError{Reason: "missing ts_ms", Offset: env.SourceOffset}
	}

	table := env.Table
	if table == "" && env.Source != nil {
		table = env.Source.Table
	}
	partition := 0
	if env.Source != nil {
		partition = env.Source.Partition
	}

	ev := &domain.ChangeEvent{
		Op:              op,
		SourceOffset:    env.SourceOffset,
		SourceTimestamp: env.TsMs,
		SourcePartition: partition,
	}

	switch tableBaseName(table) {
	case "traders":
		ev.Entity = domain.EntityTrader
		before, err := decodeTrader(env.Before, env.SourceOffset)
		if err != nil {
			return nil, err
		}
		after, err := decodeTrader(env.After, env.SourceOffset)
		if err != nil {
			return nil, err
		}
		if before == nil && after == nil {
			return nil, &MalformedEventError{Reason: "trader event without row image", Offset: env.SourceOffset}
		}
		ev.TraderBefore, ev.TraderAfter = before, after
	case "trades":
		ev.Entity = domain.EntityTrade
		before, err := decodeTrade(env.Before, env.SourceOffset)
		if err != nil {
			return nil, err
		}
		after, err := decodeTrade(env.After, env.SourceOffset)
		if err != nil {
			return nil, err
		}
		if before == nil && after == nil {
			return nil, &MalformedEventError{Reason: "trade event without row image", Offset: env.SourceOffset}
		}
		ev.TradeBefore, ev.TradeAfter = before, after
	case "":
		return nil, &MalformedEventError{Reason: "missing table", Offset: env.SourceOffset}
	default:
		return nil, &UnknownEntityError{Table: table}
	}

	return ev, nil
}

// tableBaseName strips schema and topic prefixes, e.g.
// "fx-cortex.raw_data.trades" -> "trades".
func tableBaseName(table string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}

func decodeTrader(raw json.RawMessage, offset int64) (*domain.Trader, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var row rawTraderRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, &MalformedEventError{Reason: "invalid trader row: " + err.Error(), Offset: offset}
	}
	if row.TraderID == nil {
		return nil, &MalformedEventError{Reason: "trader row missing trader_id", Offset: offset}
	}
	return &domain.Trader{
		TraderID:       *row.TraderID,
		Server:         row.Server,
		AlgoTradingPct: row.AlgoTradingPct,
		URL:            row.URL,
		LastUpdated:    int64(row.LastUpdated),
	}, nil
}

func decodeTrade(raw json.RawMessage, offset int64) (*domain.Trade, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var row rawTradeRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, &MalformedEventError{Reason: "invalid trade row: " + err.Error(), Offset: offset}
	}
	if row.PositionID == nil {
		return nil, &MalformedEventError{Reason: "trade row missing position_id", Offset: offset}
	}
	if row.TraderID == nil {
		return nil, &MalformedEventError{Reason: "trade row missing trader_id", Offset: offset}
	}
	if row.OpenTime == 0 {
		return nil, &MalformedEventError{Reason: "trade row missing open_time", Offset: offset}
	}
	volume := 0.0
	if row.Volume != nil {
		volume = *row.Volume
	}
	return &domain.Trade{
		PositionID: *row.PositionID,
		TraderID:   *row.TraderID,
		Symbol:     row.Symbol,
		Side:       strings.ToLower(row.Type),
		Volume:     volume,
		OpenTime:   int64(row.OpenTime),
		OpenPrice:  row.OpenPrice,
		CloseTime:  int64(row.CloseTime),
		ClosePrice: row.ClosePrice,
		Commission: row.Commission,
		Swap:       row.Swap,
		Profit:     row.Profit,
	}, nil
}
