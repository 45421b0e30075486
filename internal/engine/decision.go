package engine

import (
	"math"
	"sort"
	"strings"
	"time"

	"predictionmarket-trader/internal/model"
)

// DecisionParams are the sizing/threshold inputs the Decision Engine needs,
// sourced from config (§4.7).
type DecisionParams struct {
	MinEdgeThreshold      float64
	KellyFraction         float64
	MaxPositionPct        float64
	MaxClusterExposurePct float64
	Bankroll              float64
}

// clusterTimeWindow is the resolution-time proximity bound for two markets
// of the same type to be considered for clustering (§4.7).
const clusterTimeWindow = time.Hour

// clusterJaccardThreshold is the minimum keyword-set similarity for two
// proximate markets to join one cluster (§4.7).
const clusterJaccardThreshold = 0.5

// DecideCandidate computes edge, side, Kelly size, and score for one
// candidate given its market snapshot and the adjustment output (§4.7). It
// does not apply the min-edge-threshold SKIP or ranking — those operate
// over the full candidate set in ApplyEdgeThreshold and RankAndGate.
func DecideCandidate(market model.Market, adjP, adjC, extraEdge float64, params DecisionParams) model.TradeCandidate {
	price := market.YesPrice
	edge := math.Abs(adjP-price) - market.FeeRate - extraEdge

	side := model.Skip
	switch {
	case adjP > price:
		side = model.BuyYes
	case adjP < price:
		side = model.BuyNo
	}

	size, kellyFraction := kellyPosition(side, adjP, price, params)

	resolutionHours := market.HoursToResolution
	score := edge * adjC * (1 / math.Max(resolutionHours, 0.5))

	return model.TradeCandidate{
		Market:               market,
		AdjustedProbability:  adjP,
		AdjustedConfidence:   adjC,
		CalculatedEdge:       edge,
		Side:                 side,
		PositionSize:         size,
		KellyFraction:        kellyFraction,
		Score:                score,
		ResolutionHours:      resolutionHours,
		IntendedSide:         side,
		IntendedPositionSize: size,
	}
}

// kellyPosition computes the Kelly-capped position size for a binary
// contract (§4.7). p is adjusted probability, q is the market's YES price
// for either side.
func kellyPosition(side model.Side, p float64, q float64, params DecisionParams) (size, kellyFraction float64) {
	var fStar float64
	switch side {
	case model.BuyYes:
		if p > q {
			fStar = (p - q) / (1 - q)
		}
	case model.BuyNo:
		if p < q {
			fStar = (q - p) / q
		}
	default:
		return 0, 0
	}
	if fStar <= 0 {
		return 0, 0
	}
	kellyFraction = fStar * params.KellyFraction
	uncapped := kellyFraction * params.Bankroll
	capped := params.MaxPositionPct * params.Bankroll
	return math.Min(uncapped, capped), kellyFraction
}

// ApplyEdgeThreshold marks every candidate whose edge does not clear
// min_edge_threshold as SKIP (§4.7), leaving the rest untouched for
// clustering and ranking.
func ApplyEdgeThreshold(candidates []model.TradeCandidate, minEdge float64) {
	for i := range candidates {
		if candidates[i].CalculatedEdge <= minEdge {
			candidates[i].Side = model.Skip
			candidates[i].PositionSize = 0
			candidates[i].SkipReason = model.SkipEdgeBelowThreshold
		}
	}
}

// AssignClusters groups candidates of the same market_type whose resolution
// times fall within clusterTimeWindow of each other and whose keyword sets
// have Jaccard similarity at or above clusterJaccardThreshold (§4.7).
// Clusters never cross market_type. Cluster ids are deterministic given the
// same input order, built from the market_type and the lowest market_id in
// the cluster.
func AssignClusters(candidates []model.TradeCandidate) {
	byType := make(map[string][]int)
	for i, c := range candidates {
		byType[c.Market.MarketType] = append(byType[c.Market.MarketType], i)
	}

	for _, idxs := range byType {
		parent := make(map[int]int, len(idxs))
		for _, i := range idxs {
			parent[i] = i
		}
		var find func(int) int
		find = func(i int) int {
			if parent[i] != i {
				parent[i] = find(parent[i])
			}
			return parent[i]
		}
		union := func(a, b int) {
			ra, rb := find(a), find(b)
			if ra != rb {
				parent[ra] = rb
			}
		}

		for a := 0; a < len(idxs); a++ {
			for b := a + 1; b < len(idxs); b++ {
				ia, ib := idxs[a], idxs[b]
				diff := candidates[ia].Market.ResolutionTime.Sub(candidates[ib].Market.ResolutionTime)
				if diff < 0 {
					diff = -diff
				}
				if diff > clusterTimeWindow {
					continue
				}
				if jaccard(candidates[ia].Market.Keywords, candidates[ib].Market.Keywords) >= clusterJaccardThreshold {
					union(ia, ib)
				}
			}
		}

		groups := make(map[int][]int)
		for _, i := range idxs {
			root := find(i)
			groups[root] = append(groups[root], i)
		}
		for _, members := range groups {
			clusterID := clusterIDFor(candidates, members)
			for _, i := range members {
				candidates[i].MarketClusterID = clusterID
			}
		}
	}
}

func clusterIDFor(candidates []model.TradeCandidate, members []int) string {
	marketType := candidates[members[0]].Market.MarketType
	lowest := candidates[members[0]].Market.MarketID
	for _, i := range members[1:] {
		if candidates[i].Market.MarketID < lowest {
			lowest = candidates[i].Market.MarketID
		}
	}
	return marketType + ":" + lowest
}

// jaccard is the intersection-over-union similarity of two keyword sets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, k := range a {
		setA[strings.ToLower(k)] = true
	}
	setB := make(map[string]bool, len(b))
	for _, k := range b {
		setB[strings.ToLower(k)] = true
	}
	var intersection int
	for k := range setA {
		if setB[k] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// ClusterExposureLookup resolves the already-committed (open + pending)
// position size for a cluster id, backed by the store in production and a
// map in tests.
type ClusterExposureLookup func(clusterID string) (float64, error)

// RankAndGate sorts non-SKIP candidates by score descending (ties broken by
// market_id ascending, §8), then walks the list admitting a candidate only
// while the remaining tier cap allows another trade and its cluster's
// exposure (existing + already-admitted-this-pass + this candidate) stays
// at or under max_cluster_exposure_pct * bankroll (§4.7). Rejected
// candidates become SKIP with the applicable reason.
func RankAndGate(candidates []model.TradeCandidate, remainingTierCap int, params DecisionParams, existingClusterExposure ClusterExposureLookup) ([]model.TradeCandidate, error) {
	out := make([]model.TradeCandidate, len(candidates))
	copy(out, candidates)

	var eligible []int
	for i, c := range out {
		if c.Side != model.Skip {
			eligible = append(eligible, i)
		}
	}
	sort.SliceStable(eligible, func(a, b int) bool {
		ca, cb := out[eligible[a]], out[eligible[b]]
		if ca.Score != cb.Score {
			return ca.Score > cb.Score
		}
		return ca.Market.MarketID < cb.Market.MarketID
	})

	maxClusterExposure := params.MaxClusterExposurePct * params.Bankroll
	pendingCluster := make(map[string]float64)
	admitted := 0

	for _, i := range eligible {
		c := out[i]
		if admitted >= remainingTierCap {
			out[i].Side = model.Skip
			out[i].PositionSize = 0
			out[i].SkipReason = model.SkipRankedBelowCutoff
			continue
		}

		clusterTotal := pendingCluster[c.MarketClusterID]
		if clusterTotal == 0 {
			existing, err := existingClusterExposure(c.MarketClusterID)
			if err != nil {
				return nil, WrapGlobal(KindTransientIO, err)
			}
			clusterTotal = existing
		}
		if clusterTotal+c.PositionSize > maxClusterExposure {
			out[i].Side = model.Skip
			out[i].PositionSize = 0
			out[i].SkipReason = model.SkipClusterExposure
			continue
		}

		pendingCluster[c.MarketClusterID] = clusterTotal + c.PositionSize
		admitted++
	}

	return out, nil
}
