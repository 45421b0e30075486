package engine

import (
	"math"
	"testing"
	"time"

	"predictionmarket-trader/internal/model"
)

func testMarket(id, marketType string, yesPrice, feeRate, hoursToResolution float64, resTime time.Time, keywords []string) model.Market {
	return model.Market{
		MarketID:          id,
		YesPrice:          yesPrice,
		NoPrice:           1 - yesPrice,
		FeeRate:           feeRate,
		MarketType:        marketType,
		ResolutionTime:    resTime,
		HoursToResolution: hoursToResolution,
		Keywords:          keywords,
	}
}

func TestDecideCandidate_SideAndEdge(t *testing.T) {
	params := DecisionParams{KellyFraction: 0.25, MaxPositionPct: 0.08, Bankroll: 5000}
	m := testMarket("m1", "political", 0.60, 0.01, 24, time.Now(), nil)

	c := DecideCandidate(m, 0.80, 0.75, 0, params)
	if c.Side != model.BuyYes {
		t.Errorf("Side = %v, want BUY_YES", c.Side)
	}
	wantEdge := math.Abs(0.80-0.60) - 0.01
	if math.Abs(c.CalculatedEdge-wantEdge) > 1e-9 {
		t.Errorf("CalculatedEdge = %v, want %v", c.CalculatedEdge, wantEdge)
	}

	c2 := DecideCandidate(m, 0.40, 0.75, 0, params)
	if c2.Side != model.BuyNo {
		t.Errorf("Side = %v, want BUY_NO", c2.Side)
	}
}

// TestDecideCandidate_KellyCapped is the §8 literal scenario 2: p=0.80,
// q=0.60, bankroll=5000, kelly_fraction=0.25, cap=0.08 -> f*=0.5, quarter
// stake 625 exceeds the 400 cap, so position size clamps to 400.
func TestDecideCandidate_KellyCapped(t *testing.T) {
	params := DecisionParams{KellyFraction: 0.25, MaxPositionPct: 0.08, Bankroll: 5000}
	m := testMarket("m1", "political", 0.60, 0, 24, time.Now(), nil)

	c := DecideCandidate(m, 0.80, 0.75, 0, params)
	if math.Abs(c.KellyFraction-0.125) > 1e-9 {
		t.Errorf("KellyFraction = %v, want 0.125", c.KellyFraction)
	}
	if math.Abs(c.PositionSize-400) > 1e-9 {
		t.Errorf("PositionSize = %v, want 400 (capped)", c.PositionSize)
	}
}

func TestDecideCandidate_EqualPriceSkipsWithZeroSize(t *testing.T) {
	params := DecisionParams{KellyFraction: 0.25, MaxPositionPct: 0.08, Bankroll: 5000}
	m := testMarket("m1", "political", 0.60, 0, 24, time.Now(), nil)

	c := DecideCandidate(m, 0.60, 0.70, 0, params)
	if c.Side != model.Skip {
		t.Fatalf("Side = %v, want SKIP when adjusted probability equals price", c.Side)
	}
	if c.PositionSize != 0 {
		t.Errorf("PositionSize = %v, want 0", c.PositionSize)
	}
}

func TestDecideCandidate_BuyNoAlwaysProfitableDirection(t *testing.T) {
	params := DecisionParams{KellyFraction: 0.25, MaxPositionPct: 0.08, Bankroll: 5000}
	m := testMarket("m1", "political", 0.60, 0, 24, time.Now(), nil)

	c := DecideCandidate(m, 0.40, 0.70, 0, params)
	if c.Side != model.BuyNo {
		t.Fatalf("Side = %v, want BUY_NO", c.Side)
	}
	if c.PositionSize <= 0 {
		t.Errorf("PositionSize = %v, want positive (q=0.60 > p=0.40)", c.PositionSize)
	}
}

func TestApplyEdgeThreshold(t *testing.T) {
	candidates := []model.TradeCandidate{
		{CalculatedEdge: 0.02, Side: model.BuyYes},
		{CalculatedEdge: 0.05, Side: model.BuyYes},
	}
	ApplyEdgeThreshold(candidates, 0.03)
	if candidates[0].Side != model.Skip || candidates[0].SkipReason != model.SkipEdgeBelowThreshold {
		t.Errorf("candidate 0 = %+v, want SKIP/edge_below_threshold", candidates[0])
	}
	if candidates[1].Side != model.BuyYes {
		t.Errorf("candidate 1 side = %v, want unchanged BUY_YES", candidates[1].Side)
	}
}

// TestAssignClusters_JoinsOnProximityAndKeywordOverlap is the §8 literal
// scenario 3's clustering half: two same-market_type candidates 30 minutes
// apart with keyword Jaccard 2/4=0.5 join one cluster.
func TestAssignClusters_JoinsOnProximityAndKeywordOverlap(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	candidates := []model.TradeCandidate{
		{Market: testMarket("a", "political", 0.5, 0, 24, base, []string{"trump", "executive", "order"})},
		{Market: testMarket("b", "political", 0.5, 0, 24, base.Add(30*time.Minute), []string{"trump", "executive", "immigration"})},
		{Market: testMarket("c", "political", 0.5, 0, 24, base.Add(10*time.Hour), []string{"trump", "executive", "order"})},
	}
	AssignClusters(candidates)

	if candidates[0].MarketClusterID == "" || candidates[0].MarketClusterID != candidates[1].MarketClusterID {
		t.Errorf("a/b cluster ids = %q/%q, want equal and non-empty", candidates[0].MarketClusterID, candidates[1].MarketClusterID)
	}
	if candidates[2].MarketClusterID == candidates[0].MarketClusterID {
		t.Errorf("c joined a/b's cluster despite a 10h resolution-time gap")
	}
}

func TestAssignClusters_NeverCrossesMarketType(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	candidates := []model.TradeCandidate{
		{Market: testMarket("a", "political", 0.5, 0, 24, base, []string{"x", "y"})},
		{Market: testMarket("b", "sports", 0.5, 0, 24, base.Add(time.Minute), []string{"x", "y"})},
	}
	AssignClusters(candidates)
	if candidates[0].MarketClusterID == candidates[1].MarketClusterID {
		t.Error("candidates of different market_type must never share a cluster")
	}
}

// TestRankAndGate_ClusterRejection is the §8 literal scenario 3: bankroll
// 5000, max_cluster_exposure_pct 0.12 -> cap 600. Existing cluster exposure
// 500 plus a 200 candidate is 700 > 600 -> SKIP cluster_exposure_limit.
func TestRankAndGate_ClusterRejection(t *testing.T) {
	candidates := []model.TradeCandidate{
		{Market: model.Market{MarketID: "a"}, Side: model.BuyYes, PositionSize: 200, Score: 1.0, MarketClusterID: "political:a"},
	}
	params := DecisionParams{MaxClusterExposurePct: 0.12, Bankroll: 5000}
	lookup := func(clusterID string) (float64, error) { return 500, nil }

	out, err := RankAndGate(candidates, 10, params, lookup)
	if err != nil {
		t.Fatalf("RankAndGate: %v", err)
	}
	if out[0].Side != model.Skip || out[0].SkipReason != model.SkipClusterExposure {
		t.Errorf("candidate = %+v, want SKIP/cluster_exposure_limit", out[0])
	}
}

func TestRankAndGate_TierCapRejectsBelowCutoff(t *testing.T) {
	candidates := []model.TradeCandidate{
		{Market: model.Market{MarketID: "a"}, Side: model.BuyYes, PositionSize: 100, Score: 3.0, MarketClusterID: "a"},
		{Market: model.Market{MarketID: "b"}, Side: model.BuyYes, PositionSize: 100, Score: 2.0, MarketClusterID: "b"},
		{Market: model.Market{MarketID: "c"}, Side: model.BuyYes, PositionSize: 100, Score: 1.0, MarketClusterID: "c"},
	}
	params := DecisionParams{MaxClusterExposurePct: 1, Bankroll: 5000}
	lookup := func(clusterID string) (float64, error) { return 0, nil }

	out, err := RankAndGate(candidates, 2, params, lookup)
	if err != nil {
		t.Fatalf("RankAndGate: %v", err)
	}
	if out[0].Side != model.BuyYes || out[1].Side != model.BuyYes {
		t.Errorf("top two by score should be admitted, got %+v / %+v", out[0], out[1])
	}
	if out[2].Side != model.Skip || out[2].SkipReason != model.SkipRankedBelowCutoff {
		t.Errorf("third candidate = %+v, want SKIP/ranked_below_cutoff", out[2])
	}
}

func TestRankAndGate_TieBreaksByMarketIDAscending(t *testing.T) {
	candidates := []model.TradeCandidate{
		{Market: model.Market{MarketID: "zzz"}, Side: model.BuyYes, PositionSize: 10, Score: 1.0, MarketClusterID: "zzz"},
		{Market: model.Market{MarketID: "aaa"}, Side: model.BuyYes, PositionSize: 10, Score: 1.0, MarketClusterID: "aaa"},
	}
	params := DecisionParams{MaxClusterExposurePct: 1, Bankroll: 5000}
	lookup := func(clusterID string) (float64, error) { return 0, nil }

	out, err := RankAndGate(candidates, 1, params, lookup)
	if err != nil {
		t.Fatalf("RankAndGate: %v", err)
	}
	admitted := -1
	for i, c := range out {
		if c.Side != model.Skip {
			admitted = i
		}
	}
	if admitted == -1 || out[admitted].Market.MarketID != "aaa" {
		t.Errorf("tie should admit the lower market_id first, admitted = %+v", out)
	}
}

func TestJaccard(t *testing.T) {
	if got := jaccard([]string{"trump", "executive", "order"}, []string{"trump", "executive", "immigration"}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("jaccard = %v, want 0.5", got)
	}
	if got := jaccard(nil, nil); got != 0 {
		t.Errorf("jaccard(nil,nil) = %v, want 0", got)
	}
}
