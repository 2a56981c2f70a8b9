package normalizer

import (
	"errors"
	"testing"

	"fx-cortex/internal/domain"
)

func TestNormalize_TradeCreate(t *testing.T) {
	n := New()

	raw := []byte(`{
		"table": "raw_data.trades",
		"op": "c",
		"ts_ms": 1700000000000,
		"source_offset": 42,
		"after": {
			"position_id": 1001,
			"trader_id": 7,
			"symbol": "EURUSD.a",
			"type": "BUY",
			"volume": 0.5,
			"open_time": 1699990000000,
			"open_price": 1.0712
		}
	}`)

	ev, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if ev.Entity != domain.EntityTrade {
		t.Errorf("Entity mismatch: got %s, want %s", ev.Entity, domain.EntityTrade)
	}
	if ev.Op != domain.OpCreate {
		t.Errorf("Op mismatch: got %s, want %s", ev.Op, domain.OpCreate)
	}
	if ev.SourceOffset != 42 {
		t.Errorf("SourceOffset mismatch: got %d, want 42", ev.SourceOffset)
	}
	if ev.TradeAfter == nil {
		t.Fatal("TradeAfter is nil")
	}
	if ev.TradeAfter.PositionID != 1001 || ev.TradeAfter.TraderID != 7 {
		t.Errorf("keys mismatch: got position=%d trader=%d", ev.TradeAfter.PositionID, ev.TradeAfter.TraderID)
	}
	if ev.TradeAfter.Side != domain.TradeSideBuy {
		t.Errorf("Side mismatch: got %q, want %q", ev.TradeAfter.Side, domain.TradeSideBuy)
	}
	if ev.TradeAfter.IsClosed() {
		t.Error("open trade reported as closed")
	}
}

func TestNormalize_PayloadEnvelope(t *testing.T) {
	n := New()

	raw := []byte(`{
		"schema": {"type": "struct"},
		"payload": {
			"op": "u",
			"ts_ms": 1700000001000,
			"source_offset": 43,
			"source": {"table": "trades", "partition": 3},
			"after": {
				"position_id": 1001,
				"trader_id": 7,
				"symbol": "EURUSD",
				"type": "buy",
				"volume": 0.5,
				"open_time": 1699990000000,
				"close_time": 1699995000000,
				"profit": 12.5
			}
		}
	}`)

	ev, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Op != domain.OpUpdate {
		t.Errorf("Op mismatch: got %s, want u", ev.Op)
	}
	if ev.SourcePartition != 3 {
		t.Errorf("SourcePartition mismatch: got %d, want 3", ev.SourcePartition)
	}
	if !ev.TradeAfter.IsClosed() {
		t.Error("closed trade reported as open")
	}
}

func TestNormalize_RFC3339Timestamps(t *testing.T) {
	n := New()

	raw := []byte(`{
		"table": "trades",
		"op": "c",
		"ts_ms": 1700000000000,
		"after": {
			"position_id": 2,
			"trader_id": 9,
			"symbol": "XAUUSD",
			"type": "sell",
			"volume": 1,
			"open_time": "2023-11-14T22:00:00Z"
		}
	}`)

	ev, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	want := int64(1699999200000)
	if ev.TradeAfter.OpenTime != want {
		t.Errorf("OpenTime mismatch: got %d, want %d", ev.TradeAfter.OpenTime, want)
	}
}

func TestNormalize_ExtraFieldsIgnored(t *testing.T) {
	n := New()

	raw := []byte(`{
		"table": "traders",
		"op": "u",
		"ts_ms": 1700000000000,
		"some_future_field": {"nested": true},
		"after": {
			"trader_id": 7,
			"server": "Live-3",
			"algo_trading_pct": 80,
			"unexpected": "ignored"
		}
	}`)

	ev, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.TraderAfter.AlgoTradingPct != 80 {
		t.Errorf("AlgoTradingPct mismatch: got %d, want 80", ev.TraderAfter.AlgoTradingPct)
	}
}

func TestNormalize_Malformed(t *testing.T) {
	n := New()

	cases := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{not json`},
		{"missing op", `{"table":"trades","ts_ms":1,"after":{"position_id":1,"trader_id":1,"open_time":1}}`},
		{"unsupported op", `{"table":"trades","op":"r","ts_ms":1,"after":{"position_id":1,"trader_id":1,"open_time":1}}`},
		{"missing ts_ms", `{"table":"trades","op":"c","after":{"position_id":1,"trader_id":1,"open_time":1}}`},
		{"missing table", `{"op":"c","ts_ms":1,"after":{"position_id":1,"trader_id":1,"open_time":1}}`},
		{"missing position_id", `{"table":"trades","op":"c","ts_ms":1,"after":{"trader_id":1,"open_time":1}}`},
		{"missing trader_id", `{"table":"trades","op":"c","ts_ms":1,"after":{"position_id":1,"open_time":1}}`},
		{"missing open_time", `{"table":"trades","op":"c","ts_ms":1,"after":{"position_id":1,"trader_id":1}}`},
		{"no row image", `{"table":"trades","op":"c","ts_ms":1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize([]byte(tc.raw))
			var malformed *MalformedEventError
			if !errors.As(err, &malformed) {
				t.Errorf("expected MalformedEventError, got %v", err)
			}
		})
	}
}

func TestNormalize_UnknownEntity(t *testing.T) {
	n := New()

	raw := []byte(`{
		"table": "raw_data.account_settings",
		"op": "c",
		"ts_ms": 1700000000000,
		"after": {"id": 1}
	}`)

	_, err := n.Normalize(raw)
	var unknown *UnknownEntityError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownEntityError, got %v", err)
	}
	if unknown.Table != "raw_data.account_settings" {
		t.Errorf("Table mismatch: got %q", unknown.Table)
	}
}

func TestNormalize_DeleteWithBeforeOnly(t *testing.T) {
	n := New()

	raw := []byte(`{
		"table": "trades",
		"op": "d",
		"ts_ms": 1700000000000,
		"before": {
			"position_id": 55,
			"trader_id": 7,
			"symbol": "EURUSD",
			"type": "buy",
			"volume": 0.1,
			"open_time": 1699990000000
		}
	}`)

	ev, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if ev.Op != domain.OpDelete {
		t.Errorf("Op mismatch: got %s, want d", ev.Op)
	}
	if ev.TradeBefore == nil || ev.TradeBefore.PositionID != 55 {
		t.Error("TradeBefore not decoded")
	}
	if ev.TradeAfter != nil {
		t.Error("TradeAfter should be nil on delete")
	}
	if ev.TraderID() != 7 {
		t.Errorf("TraderID mismatch: got %d, want 7", ev.TraderID())
	}
}
