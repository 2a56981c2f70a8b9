package domain

// AnomalyEvent records a statistical deviation from a trader's own baseline.
// Append-only: events are never retracted or mutated, forming an audit trail.
type AnomalyEvent struct {
	TraderID       int64
	DetectedAt     int64  // Unix timestamp in milliseconds
	Metric         string // one of the Metric* constants, or "algo_trading_pct"
	DeviationScore float64
	BaselineWindow string // window id the baseline was computed over
}

// MetricAlgoTradingPct is the categorical-jump anomaly metric; it is raised
// from trader updates rather than feature snapshots.
const MetricAlgoTradingPct = "algo_trading_pct"
