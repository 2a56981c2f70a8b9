package aggregation

import (
	"math"

	"fx-cortex/internal/domain"
)

// profitFactorCap bounds the profit factor when a trader has no losing
// trades, mirroring the analytics table's sentinel.
const profitFactorCap = 999.0

// featureVector projects one window's sufficient statistics (plus the
// trader-level lifetime stats) into the published feature vector.
func featureVector(ws *windowState, trader *domain.Trader, maxDrawdown float64) domain.FeatureVector {
	v := domain.FeatureVector{
		TradeCount:     ws.count,
		TotalVolume:    ws.totalVolume,
		NetProfit:      ws.netProfit,
		MaxDrawdown:    maxDrawdown,
		AlgoTradingPct: float64(trader.AlgoTradingPct),
	}

	if ws.closedCount > 0 {
		closed := float64(ws.closedCount)
		v.WinRate = float64(ws.wins) / closed
		v.AvgProfit = ws.netProfit / closed
		v.AvgHoldingHours = ws.holdingSecs / closed / 3600.0
		v.CostBurden = (math.Abs(ws.commission) + math.Abs(ws.swap)) / closed
	}

	switch {
	case ws.grossLoss > 0:
		v.ProfitFactor = ws.grossProfit / ws.grossLoss
		if v.ProfitFactor > profitFactorCap {
			v.ProfitFactor = profitFactorCap
		}
	case ws.grossProfit > 0:
		v.ProfitFactor = profitFactorCap
	}

	if ws.count > 0 {
		v.SymbolEntropy = symbolEntropy(ws.countBySymbol, ws.count)
		night := 0
		for h := 0; h < 6; h++ {
			night += ws.hourHist[h]
		}
		v.NightShare = float64(night) / float64(ws.count)
	}

	if ws.totalVolume > 0 {
		top := 0.0
		for _, vol := range ws.volumeBySymbol {
			if vol > top {
				top = vol
			}
		}
		v.VolumeConcentration = top / ws.totalVolume
	}

	return v
}

// symbolEntropy is the Shannon entropy (bits) of the symbol distribution.
// A single-symbol trader scores 0; spreading across symbols raises it.
func symbolEntropy(counts map[string]int, total int) float64 {
	if total <= 0 {
		return 0
	}
	entropy := 0.0
	for _, c := range counts {
		if c <= 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
