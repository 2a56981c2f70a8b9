// Package anomaly flags statistical deviations of a trader's features from
// that trader's own rolling baseline. Unlike the classifier it consumes
// snapshots incrementally, one at a time.
package anomaly

import (
	"math"
	"time"

	"fx-cortex/internal/domain"
)

// Config tunes the detector.
type Config struct {
	// DeviationThreshold is the z-score beyond which a metric is anomalous.
	DeviationThreshold float64

	// CategoricalJumpPct flags an algo_trading_pct change of at least this
	// many percentage points within a single trader update.
	CategoricalJumpPct float64

	// BaselineWindow names the snapshot window baselines are built from.
	// Snapshots for other windows are ignored.
	BaselineWindow string

	// MinSamples is the number of clean readings required before a
	// baseline may fire; prevents alerting off a near-empty history.
	MinSamples int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		DeviationThreshold: 3.0,
		CategoricalJumpPct: 25.0,
		BaselineWindow:     "24h",
		MinSamples:         5,
	}
}

// maxDeviationScore is reported when the baseline has zero variance and a
// z-score is undefined: any real deviation from a constant history fires.
const maxDeviationScore = 999

// zeroStdEpsilon separates real deviations from float noise against a
// zero-variance baseline.
const zeroStdEpsilon = 1e-9

// baseline tracks running mean/variance with Welford's algorithm.
type baseline struct {
	count int64
	mean  float64
	m2    float64
}

func (b *baseline) update(x float64) {
	b.count++
	delta := x - b.mean
	b.mean += delta / float64(b.count)
	b.m2 += delta * (x - b.mean)
}

func (b *baseline) stddev() float64 {
	if b.count < 2 {
		return 0
	}
	return math.Sqrt(b.m2 / float64(b.count-1))
}

// Detector maintains per-trader per-metric baselines. Not safe for
// concurrent use: like the aggregation engine, one detector lives on each
// partition worker.
type Detector struct {
	cfg       Config
	baselines map[int64]map[string]*baseline
	lastAlgo  map[int64]float64
}

// New creates a Detector.
func New(cfg Config) *Detector {
	if cfg.DeviationThreshold <= 0 {
		cfg.DeviationThreshold = DefaultConfig().DeviationThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultConfig().MinSamples
	}
	if cfg.BaselineWindow == "" {
		cfg.BaselineWindow = DefaultConfig().BaselineWindow
	}
	return &Detector{
		cfg:       cfg,
		baselines: make(map[int64]map[string]*baseline),
		lastAlgo:  make(map[int64]float64),
	}
}

// Observe folds one snapshot into the trader's baselines and returns any
// anomaly events it raises. A flagged reading is excluded from its metric's
// baseline so a single burst cannot permanently widen its own threshold;
// metrics that did not fire are folded in normally.
func (d *Detector) Observe(snap *domain.FeatureSnapshot, now time.Time) []*domain.AnomalyEvent {
	if snap == nil || snap.WindowID != d.cfg.BaselineWindow {
		return nil
	}

	traderBaselines, ok := d.baselines[snap.TraderID]
	if !ok {
		traderBaselines = make(map[string]*baseline)
		d.baselines[snap.TraderID] = traderBaselines
	}

	names := domain.FeatureNames()
	values := snap.Features.Values()

	var events []*domain.AnomalyEvent
	for i, name := range names {
		x := values[i]
		b, ok := traderBaselines[name]
		if !ok {
			b = &baseline{}
			traderBaselines[name] = b
		}

		if b.count >= int64(d.cfg.MinSamples) {
			dev := math.Abs(x - b.mean)
			var score float64
			if std := b.stddev(); std > 0 {
				score = dev / std
			} else if dev > zeroStdEpsilon {
				score = maxDeviationScore
			}
			if score > d.cfg.DeviationThreshold {
				events = append(events, &domain.AnomalyEvent{
					TraderID:       snap.TraderID,
					DetectedAt:     now.UnixMilli(),
					Metric:         name,
					DeviationScore: score,
					BaselineWindow: d.cfg.BaselineWindow,
				})
				continue // flagged reading stays out of the baseline
			}
		}
		b.update(x)
	}
	return events
}

// ObserveTrader checks categorical signals on a trader row update.
// Currently: an abrupt jump in algo_trading_pct. Runs independently of the
// snapshot check; both may fire for the same underlying change.
func (d *Detector) ObserveTrader(trader *domain.Trader, now time.Time) []*domain.AnomalyEvent {
	if trader == nil {
		return nil
	}
	current := float64(trader.AlgoTradingPct)
	prev, seen := d.lastAlgo[trader.TraderID]
	d.lastAlgo[trader.TraderID] = current
	if !seen {
		return nil
	}

	jump := math.Abs(current - prev)
	if d.cfg.CategoricalJumpPct <= 0 || jump < d.cfg.CategoricalJumpPct {
		return nil
	}
	return []*domain.AnomalyEvent{{
		TraderID:       trader.TraderID,
		DetectedAt:     now.UnixMilli(),
		Metric:         domain.MetricAlgoTradingPct,
		DeviationScore: jump,
		BaselineWindow: d.cfg.BaselineWindow,
	}}
}
