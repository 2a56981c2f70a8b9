package domain

// Trader is the projection of one row in raw_data.traders.
// Owned by the aggregation engine; mutated only by Create/Update events
// for this trader_id.
type Trader struct {
	TraderID       int64
	Server         string
	AlgoTradingPct int
	URL            string
	LastUpdated    int64 // Unix timestamp in milliseconds
}
