package model

import "time"

// Market is a point-in-time snapshot of a binary event market, refetched
// every scan cycle. Market-type strings are open ("political", "crypto",
// "sports", ...) — the learning tables key off them but don't constrain them.
type Market struct {
	MarketID           string
	Question           string
	YesPrice           float64
	NoPrice            float64
	ResolutionTime     time.Time
	HoursToResolution  float64
	Volume24h          float64
	Liquidity          float64
	MarketType         string
	FeeRate            float64
	Keywords           []string
}

// PriceLevel is one aggregated price rung of an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a top-N bid/ask snapshot.
type OrderBook struct {
	MarketID  string
	Bids      []PriceLevel // best first
	Asks      []PriceLevel // best first
	Timestamp time.Time
}

// DepthSum returns the summed size of the top n levels of bids and asks.
func (ob OrderBook) DepthSum(n int) (bidDepth, askDepth float64) {
	for i, l := range ob.Bids {
		if i >= n {
			break
		}
		bidDepth += l.Size
	}
	for i, l := range ob.Asks {
		if i >= n {
			break
		}
		askDepth += l.Size
	}
	return bidDepth, askDepth
}

// Skew is (bidDepth-askDepth)/(bidDepth+askDepth), 0 when both are zero.
func (ob OrderBook) Skew(n int) float64 {
	bid, ask := ob.DepthSum(n)
	total := bid + ask
	if total <= 0 {
		return 0
	}
	return (bid - ask) / total
}

// Resolution is the outcome of a market once it has settled.
type Resolution struct {
	MarketID    string
	Resolved    bool
	Outcome     *float64 // 0 or 1 once resolved
	ResolvedAt  time.Time
}
