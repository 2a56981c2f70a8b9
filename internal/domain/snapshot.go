package domain

// Feature metric names, in vector order. These are the values a trader is
// clustered and baselined on, and the `metric` vocabulary of AnomalyEvent.
const (
	MetricTradeCount          = "trade_count"
	MetricVolume              = "volume"
	MetricWinRate             = "win_rate"
	MetricProfitFactor        = "profit_factor"
	MetricNetProfit           = "net_profit"
	MetricAvgProfit           = "avg_profit"
	MetricAvgHoldingHours     = "avg_holding_hours"
	MetricSymbolEntropy       = "symbol_entropy"
	MetricVolumeConcentration = "volume_concentration"
	MetricCostBurden          = "cost_burden"
	MetricMaxDrawdown         = "max_drawdown"
	MetricNightShare          = "night_share"
	MetricAlgoPct             = "algo_pct"
)

// FeatureNames lists metric names in the same order as FeatureVector.Values.
func FeatureNames() []string {
	return []string{
		MetricTradeCount,
		MetricVolume,
		MetricWinRate,
		MetricProfitFactor,
		MetricNetProfit,
		MetricAvgProfit,
		MetricAvgHoldingHours,
		MetricSymbolEntropy,
		MetricVolumeConcentration,
		MetricCostBurden,
		MetricMaxDrawdown,
		MetricNightShare,
		MetricAlgoPct,
	}
}

// FeatureVector holds the behavioral features of one trader over one window.
type FeatureVector struct {
	TradeCount          int     // closed + open positions in window
	TotalVolume         float64 // sum of lot sizes
	WinRate             float64 // wins / closed trades
	ProfitFactor        float64 // gross profit / gross loss (capped)
	NetProfit           float64
	AvgProfit           float64 // net profit per closed trade
	AvgHoldingHours     float64
	SymbolEntropy       float64 // Shannon entropy of traded symbols (bits)
	VolumeConcentration float64 // top-symbol share of total volume
	CostBurden          float64 // |commission| + |swap| per closed trade
	MaxDrawdown         float64 // lifetime peak-to-trough equity drop
	NightShare          float64 // share of trades opened 00:00-06:00 UTC
	AlgoTradingPct      float64
}

// Values returns the vector in FeatureNames order.
func (v FeatureVector) Values() []float64 {
	return []float64{
		float64(v.TradeCount),
		v.TotalVolume,
		v.WinRate,
		v.ProfitFactor,
		v.NetProfit,
		v.AvgProfit,
		v.AvgHoldingHours,
		v.SymbolEntropy,
		v.VolumeConcentration,
		v.CostBurden,
		v.MaxDrawdown,
		v.NightShare,
		v.AlgoTradingPct,
	}
}

// FeatureSnapshot is the derived, versioned state for one trader+window.
// A snapshot is never mutated: a newer snapshot for the same trader+window
// supersedes it by InputWatermark (last-writer-wins).
type FeatureSnapshot struct {
	TraderID       int64
	WindowID       string
	Features       FeatureVector
	ComputedAt     int64 // Unix timestamp in milliseconds
	InputWatermark int64 // highest source timestamp reflected in Features
}
