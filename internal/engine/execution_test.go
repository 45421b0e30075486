package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"predictionmarket-trader/internal/market"
	"predictionmarket-trader/internal/model"
	"predictionmarket-trader/internal/store"
)

type fakeSource struct {
	orderBook  model.OrderBook
	resolution model.Resolution
	market     model.Market
	fill       market.FillResult
}

func (f *fakeSource) ListActive(ctx context.Context, tier market.Tier) ([]model.Market, error) {
	return []model.Market{f.market}, nil
}
func (f *fakeSource) GetOrderBook(ctx context.Context, marketID string) (model.OrderBook, error) {
	return f.orderBook, nil
}
func (f *fakeSource) GetMarket(ctx context.Context, marketID string) (model.Market, model.Resolution, error) {
	return f.market, f.resolution, nil
}
func (f *fakeSource) PlaceOrder(ctx context.Context, marketID string, side market.Side, price, size float64) (market.FillResult, error) {
	return f.fill, nil
}

func openExecStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := s.StartExperiment("run-1", "", "model-a", "{}", now); err != nil {
		t.Fatalf("start experiment: %v", err)
	}
	return s
}

func TestTakerSlippage_ScalesWithDepthConsumed(t *testing.T) {
	ob := model.OrderBook{Bids: []model.PriceLevel{{Price: 0.6, Size: 100}}, Asks: []model.PriceLevel{{Price: 0.61, Size: 100}}}
	thin := takerSlippage(200, ob) // consumes all depth, ratio clamps to 1
	if thin != 0.015 {
		t.Errorf("takerSlippage(full depth) = %v, want 0.015", thin)
	}
	small := takerSlippage(20, ob)
	if small <= 0.005 || small >= thin {
		t.Errorf("takerSlippage(partial) = %v, want between 0.005 and %v", small, thin)
	}
}

func TestContractPrice_BuyNoMirrorsYes(t *testing.T) {
	if p := contractPrice(model.BuyYes, 0.65); p != 0.65 {
		t.Errorf("BUY_YES contractPrice = %v, want 0.65", p)
	}
	if p := contractPrice(model.BuyNo, 0.65); p != 0.35 {
		t.Errorf("BUY_NO contractPrice = %v, want 0.35", p)
	}
}

func TestMakerFillProbability_PeaksAtMidpoint(t *testing.T) {
	mid := makerFillProbability(0.5)
	edge := makerFillProbability(0.95)
	if mid != 0.8 {
		t.Errorf("makerFillProbability(0.5) = %v, want 0.8", mid)
	}
	if edge >= mid {
		t.Errorf("makerFillProbability(0.95) = %v, want less than midpoint %v", edge, mid)
	}
}

func TestExecutor_Execute_PaperTakerFillsAndPersists(t *testing.T) {
	s := openExecStore(t)
	ls, err := LoadLearningState(s)
	if err != nil {
		t.Fatal(err)
	}
	m := model.Market{MarketID: "m1", YesPrice: 0.6, NoPrice: 0.4, MarketType: "political"}
	src := &fakeSource{market: m, orderBook: model.OrderBook{
		Bids: []model.PriceLevel{{Price: 0.59, Size: 500}},
		Asks: []model.PriceLevel{{Price: 0.6, Size: 500}},
	}}
	ex := &Executor{
		Source: src, Store: s, Learning: ls, Rand: rand.New(rand.NewSource(1)),
		Params: ExecutionParams{Paper: true, OrderType: OrderTaker},
		ModelID: "model-a", ExperimentRunID: "run-1",
	}
	c := model.TradeCandidate{Market: m, Side: model.BuyYes, PositionSize: 100}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r, err := ex.Execute(context.Background(), c, market.Tier1, now)
	if err != nil {
		t.Fatal(err)
	}
	if r == nil {
		t.Fatal("expected a filled record, got nil")
	}
	if r.MarketPriceAtScan <= m.YesPrice {
		t.Errorf("MarketPriceAtScan = %v, want > yes price %v (unfavorable slippage)", r.MarketPriceAtScan, m.YesPrice)
	}
	if err := s.InsertTradeRecord(*r); err != nil {
		t.Fatal(err)
	}
}

func TestExecutor_Execute_MakerUnfilledProducesNilRecord(t *testing.T) {
	s := openExecStore(t)
	ls, _ := LoadLearningState(s)
	m := model.Market{MarketID: "m1", YesPrice: 0.99, MarketType: "political"} // far from midpoint: fill odds well under 1
	src := &fakeSource{market: m}
	ex := &Executor{
		Source: src, Store: s, Learning: ls, Rand: rand.New(rand.NewSource(7)),
		Params: ExecutionParams{Paper: true, OrderType: OrderMaker},
	}
	c := model.TradeCandidate{Market: m, Side: model.BuyYes, PositionSize: 50}

	var filled, unfilled int
	for i := 0; i < 200; i++ {
		r, err := ex.Execute(context.Background(), c, market.Tier1, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if r == nil {
			unfilled++
		} else {
			filled++
		}
	}
	if unfilled == 0 {
		t.Error("expected at least one unfilled maker order across 200 draws at an extreme price")
	}
}

func TestExecutor_Execute_SkipBuildsRecordWithNoSideEffects(t *testing.T) {
	s := openExecStore(t)
	ls, _ := LoadLearningState(s)
	ex := &Executor{Store: s, Learning: ls, ModelID: "model-a", ExperimentRunID: "run-1"}
	c := model.TradeCandidate{
		Market:     model.Market{MarketID: "m1", MarketType: "political"},
		Side:       model.Skip,
		SkipReason: model.SkipEdgeBelowThreshold,
	}
	r, err := ex.Execute(context.Background(), c, market.Tier1, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if r.Action != model.Skip || r.SkipReason != model.SkipEdgeBelowThreshold {
		t.Errorf("record = %+v, want SKIP/edge_below_threshold", r)
	}
}

func TestExecutor_PollResolutions_WinningBuyYes(t *testing.T) {
	s := openExecStore(t)
	ls, err := LoadLearningState(s)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := model.TradeRecord{
		ID: "t1", ExperimentRunID: "run-1", ModelID: "model-a",
		MarketID: "m1", MarketType: "political", MarketPriceAtScan: 0.5,
		RawProbability: 0.7, RawConfidence: 0.8, AdjustedProbability: 0.7, AdjustedConfidence: 0.8,
		Action: model.BuyYes, PositionSize: 100, DecidedAt: now,
	}
	if err := s.InsertTradeRecord(rec); err != nil {
		t.Fatal(err)
	}

	outcome := 1.0
	src := &fakeSource{resolution: model.Resolution{MarketID: "m1", Resolved: true, Outcome: &outcome}}
	ex := &Executor{Source: src, Store: s, Learning: ls}
	portfolio := model.Portfolio{Cash: 5000, TotalEquity: 5000, OpenPositions: 1}

	n, err := ex.PollResolutions(context.Background(), &portfolio, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("resolved count = %d, want 1", n)
	}
	wantPnL := 100/0.5 - 100 // 100
	if portfolio.TotalPnL != wantPnL {
		t.Errorf("portfolio.TotalPnL = %v, want %v", portfolio.TotalPnL, wantPnL)
	}
	if portfolio.OpenPositions != 0 {
		t.Errorf("OpenPositions = %d, want 0", portfolio.OpenPositions)
	}

	resolved, err := s.ListResolvedNonVoidAscending()
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 1 || resolved[0].PnL != wantPnL {
		t.Errorf("resolved = %+v, want one record with pnl %v", resolved, wantPnL)
	}
}

func TestExecutor_SweepAdverseMoves_FlagsDeterioratingPosition(t *testing.T) {
	s := openExecStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := model.TradeRecord{
		ID: "t1", ExperimentRunID: "run-1", ModelID: "model-a",
		MarketID: "m1", MarketType: "political", MarketPriceAtScan: 0.6,
		Action: model.BuyYes, PositionSize: 100, DecidedAt: now,
	}
	if err := s.InsertTradeRecord(rec); err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{market: model.Market{MarketID: "m1", YesPrice: 0.4, NoPrice: 0.6}}
	ex := &Executor{Source: src, Store: s}

	n, err := ex.SweepAdverseMoves(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}
	open, err := s.ListOpenTradeRecords()
	if err != nil {
		t.Fatal(err)
	}
	wantFraction := (0.6 - 0.4) / 0.6
	if open[0].UnrealizedAdverseMove < wantFraction-1e-9 || open[0].UnrealizedAdverseMove > wantFraction+1e-9 {
		t.Errorf("UnrealizedAdverseMove = %v, want %v", open[0].UnrealizedAdverseMove, wantFraction)
	}
}
