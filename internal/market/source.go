// Package market defines the Market Source boundary (§6): the interface
// the core trades against, plus the tier filters that decide which
// markets a scan considers. The concrete HTTP shape of the upstream
// prediction-market API is an external collaborator detail; this package
// ships one HTTP-backed implementation behind the interface so the rest
// of the system never depends on it directly.
package market

import (
	"context"
	"time"

	"predictionmarket-trader/internal/model"
	"predictionmarket-trader/internal/transport"
)

// Tier selects which scan cadence a market belongs to (§5).
type Tier int

const (
	Tier1 Tier = iota
	Tier2
)

// Side is an alias of model.Side for order placement: the Market Source
// boundary and the decision engine share the one type.
type Side = model.Side

// FillResult is the outcome of a live order placement.
type FillResult struct {
	Filled    bool
	FillPrice float64
	FillSize  float64
}

// Source is the boundary the Decision Engine, Execution, and Resolution
// components trade against (§6).
type Source interface {
	ListActive(ctx context.Context, tier Tier) ([]model.Market, error)
	GetOrderBook(ctx context.Context, marketID string) (model.OrderBook, error)
	GetMarket(ctx context.Context, marketID string) (model.Market, model.Resolution, error)
	PlaceOrder(ctx context.Context, marketID string, side Side, price, size float64) (FillResult, error)
}

// Tier1Filter bounds are read from config and set by the caller; the type
// carries no defaults of its own.
type Tier1Filter struct {
	MinHoursToResolution float64
	MaxHoursToResolution float64
	MinLiquidity         float64
}

// Matches reports whether m passes the tier-1 resolution-window and
// liquidity-floor filter (§6).
func (f Tier1Filter) Matches(m model.Market) bool {
	if m.HoursToResolution < f.MinHoursToResolution || m.HoursToResolution > f.MaxHoursToResolution {
		return false
	}
	return m.Liquidity >= f.MinLiquidity
}

// Tier2Filter matches crypto markets resolving within a tight window
// ("crypto 15-minute markets", §6).
type Tier2Filter struct {
	MaxHoursToResolution float64
}

// Matches reports whether m qualifies for tier-2 (dynamic, news-triggered)
// scanning.
func (f Tier2Filter) Matches(m model.Market) bool {
	return m.MarketType == "crypto" && m.HoursToResolution <= f.MaxHoursToResolution
}

// httpSource is the concrete HTTP-backed Source implementation.
type httpSource struct {
	http    *transport.Client
	baseURL string
}

// NewHTTPSource builds a Source against the configured market-data API.
func NewHTTPSource(baseURL string, requestsPerSecond float64) Source {
	return &httpSource{
		http:    transport.New("predictionmarket-trader/1.0", requestsPerSecond),
		baseURL: baseURL,
	}
}

type marketListResponse struct {
	Markets []marketDTO `json:"markets"`
}

type marketDTO struct {
	MarketID          string   `json:"market_id"`
	Question          string   `json:"question"`
	YesPrice          float64  `json:"yes_price"`
	NoPrice           float64  `json:"no_price"`
	ResolutionTime    string   `json:"resolution_time"`
	Volume24h         float64  `json:"volume_24h"`
	Liquidity         float64  `json:"liquidity"`
	MarketType        string   `json:"market_type"`
	FeeRate           float64  `json:"fee_rate"`
	Keywords          []string `json:"keywords"`
	Resolved          bool     `json:"resolved"`
	Outcome           *float64 `json:"outcome"`
}

func (d marketDTO) toMarket(now time.Time) model.Market {
	resTime, _ := time.Parse(time.RFC3339, d.ResolutionTime)
	hours := resTime.Sub(now).Hours()
	return model.Market{
		MarketID:          d.MarketID,
		Question:          d.Question,
		YesPrice:          d.YesPrice,
		NoPrice:           d.NoPrice,
		ResolutionTime:    resTime,
		HoursToResolution: hours,
		Volume24h:         d.Volume24h,
		Liquidity:         d.Liquidity,
		MarketType:        d.MarketType,
		FeeRate:           d.FeeRate,
		Keywords:          d.Keywords,
	}
}

func (s *httpSource) ListActive(ctx context.Context, tier Tier) ([]model.Market, error) {
	tierParam := "tier1"
	if tier == Tier2 {
		tierParam = "tier2"
	}
	var resp marketListResponse
	if err := s.http.GetJSON(ctx, s.baseURL+"/markets/active?tier="+tierParam, &resp); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	markets := make([]model.Market, len(resp.Markets))
	for i, d := range resp.Markets {
		markets[i] = d.toMarket(now)
	}
	return markets, nil
}

type orderBookResponse struct {
	Bids []model.PriceLevel `json:"bids"`
	Asks []model.PriceLevel `json:"asks"`
}

func (s *httpSource) GetOrderBook(ctx context.Context, marketID string) (model.OrderBook, error) {
	var resp orderBookResponse
	if err := s.http.GetJSON(ctx, s.baseURL+"/markets/"+marketID+"/orderbook", &resp); err != nil {
		return model.OrderBook{}, err
	}
	return model.OrderBook{
		MarketID:  marketID,
		Bids:      resp.Bids,
		Asks:      resp.Asks,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (s *httpSource) GetMarket(ctx context.Context, marketID string) (model.Market, model.Resolution, error) {
	var d marketDTO
	if err := s.http.GetJSON(ctx, s.baseURL+"/markets/"+marketID, &d); err != nil {
		return model.Market{}, model.Resolution{}, err
	}
	now := time.Now().UTC()
	res := model.Resolution{
		MarketID: marketID,
		Resolved: d.Resolved,
		Outcome:  d.Outcome,
	}
	if d.Resolved {
		res.ResolvedAt = now
	}
	return d.toMarket(now), res, nil
}

type placeOrderRequest struct {
	Side  model.Side `json:"side"`
	Price float64    `json:"price"`
	Size  float64    `json:"size"`
}

type placeOrderResponse struct {
	Filled    bool    `json:"filled"`
	FillPrice float64 `json:"fill_price"`
	FillSize  float64 `json:"fill_size"`
}

func (s *httpSource) PlaceOrder(ctx context.Context, marketID string, side Side, price, size float64) (FillResult, error) {
	var resp placeOrderResponse
	req := placeOrderRequest{Side: side, Price: price, Size: size}
	if err := s.http.PostJSON(ctx, s.baseURL+"/markets/"+marketID+"/orders", req, &resp); err != nil {
		return FillResult{}, err
	}
	return FillResult{Filled: resp.Filled, FillPrice: resp.FillPrice, FillSize: resp.FillSize}, nil
}
