package anomaly

import (
	"testing"
	"time"

	"fx-cortex/internal/domain"
)

func volumeSnapshot(traderID int64, windowID string, volume float64) *domain.FeatureSnapshot {
	// Everything except volume is held exactly constant so only the volume
	// baseline ever sees a deviation.
	return &domain.FeatureSnapshot{
		TraderID: traderID,
		WindowID: windowID,
		Features: domain.FeatureVector{
			TradeCount:   5,
			TotalVolume:  volume,
			WinRate:      0.5,
			ProfitFactor: 1.2,
			NetProfit:    10,
		},
	}
}

func TestDetector_VolumeSpike(t *testing.T) {
	d := New(DefaultConfig())
	now := time.UnixMilli(1700000000000)

	// A trader who consistently trades around 2 lots per day.
	history := []float64{2.0, 2.1, 1.9, 2.0, 2.05, 1.95}
	for _, v := range history {
		if events := d.Observe(volumeSnapshot(7, "24h", v), now); len(events) != 0 {
			t.Fatalf("baseline reading %v fired %d events", v, len(events))
		}
	}

	// A sudden 20-lot day deviates far beyond three sigma.
	events := d.Observe(volumeSnapshot(7, "24h", 20), now)
	if len(events) != 1 {
		t.Fatalf("spike fired %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.TraderID != 7 {
		t.Errorf("TraderID = %d, want 7", ev.TraderID)
	}
	if ev.Metric != domain.MetricVolume {
		t.Errorf("Metric = %q, want %q", ev.Metric, domain.MetricVolume)
	}
	if ev.DeviationScore <= 3 {
		t.Errorf("DeviationScore = %v, want > 3", ev.DeviationScore)
	}
	if ev.BaselineWindow != "24h" {
		t.Errorf("BaselineWindow = %q, want 24h", ev.BaselineWindow)
	}
	if ev.DetectedAt != now.UnixMilli() {
		t.Errorf("DetectedAt = %d, want %d", ev.DetectedAt, now.UnixMilli())
	}
}

func TestDetector_FlaggedReadingExcludedFromBaseline(t *testing.T) {
	d := New(DefaultConfig())
	now := time.UnixMilli(1700000000000)

	for _, v := range []float64{2.0, 2.1, 1.9, 2.0, 2.05, 1.95} {
		d.Observe(volumeSnapshot(7, "24h", v), now)
	}

	if events := d.Observe(volumeSnapshot(7, "24h", 20), now); len(events) != 1 {
		t.Fatalf("first spike fired %d events, want 1", len(events))
	}

	// The spike was not folded in, so a normal reading is still normal...
	if events := d.Observe(volumeSnapshot(7, "24h", 2.0), now); len(events) != 0 {
		t.Errorf("normal reading after spike fired %d events, want 0", len(events))
	}

	// ...and an identical second spike still fires instead of hiding inside
	// a widened baseline.
	if events := d.Observe(volumeSnapshot(7, "24h", 20), now); len(events) != 1 {
		t.Errorf("second spike fired %d events, want 1", len(events))
	}
}

func TestDetector_ConstantBaselineSpike(t *testing.T) {
	d := New(DefaultConfig())
	now := time.UnixMilli(1700000000000)

	// Ten identical days: the volume baseline has zero variance.
	for i := 0; i < 10; i++ {
		if events := d.Observe(volumeSnapshot(7, "24h", 2.0), now); len(events) != 0 {
			t.Fatalf("constant reading %d fired %d events", i, len(events))
		}
	}

	// A 20-lot day against a perfectly flat history still fires, with the
	// capped score standing in for the undefined z-score.
	events := d.Observe(volumeSnapshot(7, "24h", 20), now)
	if len(events) != 1 {
		t.Fatalf("spike fired %d events, want 1", len(events))
	}
	if events[0].Metric != domain.MetricVolume {
		t.Errorf("Metric = %q, want %q", events[0].Metric, domain.MetricVolume)
	}
	if events[0].DeviationScore != maxDeviationScore {
		t.Errorf("DeviationScore = %v, want %v", events[0].DeviationScore, float64(maxDeviationScore))
	}

	// The spike stays out of the baseline: flat readings remain quiet and an
	// identical second spike still fires.
	if events := d.Observe(volumeSnapshot(7, "24h", 2.0), now); len(events) != 0 {
		t.Errorf("flat reading after spike fired %d events", len(events))
	}
	if events := d.Observe(volumeSnapshot(7, "24h", 20), now); len(events) != 1 {
		t.Errorf("second spike fired %d events, want 1", len(events))
	}
}

func TestDetector_MinSamplesGate(t *testing.T) {
	d := New(Config{DeviationThreshold: 3, BaselineWindow: "24h", MinSamples: 5})
	now := time.Now()

	// Wildly different early readings must not alert off a thin history.
	for i, v := range []float64{1, 50, 2, 80} {
		if events := d.Observe(volumeSnapshot(9, "24h", v), now); len(events) != 0 {
			t.Errorf("reading %d fired %d events before MinSamples", i, len(events))
		}
	}
}

func TestDetector_OtherWindowsIgnored(t *testing.T) {
	d := New(DefaultConfig())
	now := time.Now()

	for _, v := range []float64{2.0, 2.1, 1.9, 2.0, 2.05, 1.95} {
		d.Observe(volumeSnapshot(7, "24h", v), now)
	}

	// The same spike in a 7d snapshot is not the baseline's window.
	if events := d.Observe(volumeSnapshot(7, "7d", 20), now); len(events) != 0 {
		t.Errorf("7d snapshot fired %d events against a 24h baseline", len(events))
	}
}

func TestDetector_AlgoJump(t *testing.T) {
	d := New(DefaultConfig())
	now := time.UnixMilli(1700000000000)

	trader := func(pct int) *domain.Trader {
		return &domain.Trader{TraderID: 7, AlgoTradingPct: pct}
	}

	// First sighting establishes the reference, never fires.
	if events := d.ObserveTrader(trader(50), now); len(events) != 0 {
		t.Fatalf("first sighting fired %d events", len(events))
	}

	// 50 -> 80 is a 30-point jump.
	events := d.ObserveTrader(trader(80), now)
	if len(events) != 1 {
		t.Fatalf("jump fired %d events, want 1", len(events))
	}
	if events[0].Metric != domain.MetricAlgoTradingPct {
		t.Errorf("Metric = %q, want %q", events[0].Metric, domain.MetricAlgoTradingPct)
	}
	if events[0].DeviationScore != 30 {
		t.Errorf("DeviationScore = %v, want 30", events[0].DeviationScore)
	}

	// Small drift below the threshold is quiet.
	if events := d.ObserveTrader(trader(90), now); len(events) != 0 {
		t.Errorf("10-point drift fired %d events", len(events))
	}

	// A drop counts the same as a rise.
	if events := d.ObserveTrader(trader(40), now); len(events) != 1 {
		t.Errorf("50-point drop fired %d events, want 1", len(events))
	}
}
