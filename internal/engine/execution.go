package engine

import (
	"context"
	"math/rand"
	"time"

	"predictionmarket-trader/internal/market"
	"predictionmarket-trader/internal/model"
	"predictionmarket-trader/internal/store"
)

// OrderType selects the paper-simulation fill model (§4.8). Not named by
// the spec's formulas directly; routed via config since nothing else in
// the candidate determines it.
type OrderType string

const (
	OrderTaker OrderType = "taker"
	OrderMaker OrderType = "maker"
)

// ExecutionParams configures how admitted candidates become fills.
type ExecutionParams struct {
	Paper     bool // true: simulate; false: delegate to the live Market Source
	OrderType OrderType
}

// Executor turns a gated candidate list into trade records: paper
// simulation or live placement for admitted candidates, a SKIP record for
// everything else, one store write per candidate either way (§4.8, §5
// "all candidates, executed and skipped, are recorded"), except a maker
// order that does not fill, which writes no record.
type Executor struct {
	Source          market.Source
	Store           *store.Store
	Learning        *LearningState
	Rand            *rand.Rand
	Params          ExecutionParams
	ModelID         string
	ExperimentRunID string
}

// clampPrice bounds an executed contract price to the valid range (§4.8).
func clampPrice(p float64) float64 {
	if p < 0.01 {
		return 0.01
	}
	if p > 0.99 {
		return 0.99
	}
	return p
}

// takerSlippage scales with how much of the visible depth the order
// consumes (§4.8).
func takerSlippage(size float64, ob model.OrderBook) float64 {
	bidDepth, askDepth := ob.DepthSum(5)
	depth := bidDepth + askDepth
	if depth <= 0 {
		depth = 1
	}
	ratio := size / depth
	if ratio > 1 {
		ratio = 1
	}
	return 0.005 + 0.01*ratio
}

// executedYesPrice applies slippage to the quoted YES price in the
// direction unfavorable to the trader: a YES buy pushes the book up, a NO
// buy (economically a YES sell) pushes it down. Kelly sizing and the edge
// formula already treat q as the YES price uniformly regardless of side
// (§4.7); execution keeps that convention and derives the held side's
// contract price from it.
func executedYesPrice(side model.Side, yesPrice, slippage float64) float64 {
	switch side {
	case model.BuyYes:
		return yesPrice + slippage
	case model.BuyNo:
		return yesPrice - slippage
	default:
		return yesPrice
	}
}

// contractPrice converts an executed YES-price quote into the $1-payout
// price of the side actually held.
func contractPrice(side model.Side, execYes float64) float64 {
	if side == model.BuyNo {
		return clampPrice(1 - execYes)
	}
	return clampPrice(execYes)
}

// makerFillProbability is highest at the 0.50 midpoint and falls off
// toward the edges of the price range (§4.8).
func makerFillProbability(yesPrice float64) float64 {
	d := yesPrice - 0.5
	if d < 0 {
		d = -d
	}
	return 0.4 + 0.4*(1-d)
}

// simulate runs the paper order model for one candidate, returning the
// filled contract price and whether the order filled at all. A maker order
// that doesn't fill produces no record (§4.8).
func (e *Executor) simulate(c model.TradeCandidate, ob model.OrderBook) (price float64, filled bool) {
	yesPrice := c.Market.YesPrice
	if e.Params.OrderType == OrderMaker {
		if e.Rand.Float64() >= makerFillProbability(yesPrice) {
			return 0, false
		}
		return contractPrice(c.Side, yesPrice), true
	}
	slippage := takerSlippage(c.PositionSize, ob)
	return contractPrice(c.Side, executedYesPrice(c.Side, yesPrice, slippage)), true
}

// buildSkipRecord builds the audit row for a candidate the Decision Engine
// or risk gate never sent to execution. When the candidate had a real
// intended side, MarketPriceAtScan is set to the hypothetical contract
// price it would have paid (no slippage — it never reached the book), so
// the resolution poller can score a counterfactual payout against it.
func buildSkipRecord(c model.TradeCandidate, modelID, runID string, now time.Time) model.TradeRecord {
	r := baseRecord(c, modelID, runID, now)
	r.Action = model.Skip
	if c.IntendedSide != model.Skip {
		r.MarketPriceAtScan = contractPrice(c.IntendedSide, c.Market.YesPrice)
	}
	return r
}

// baseRecord fills in the fields every TradeRecord carries regardless of
// outcome — the pre-sizing audit trail of the Adjustment Pipeline (§4.6).
func baseRecord(c model.TradeCandidate, modelID, runID string, now time.Time) model.TradeRecord {
	headlineOnly := len(c.Signals) > 0
	for _, s := range c.Signals {
		if !s.HeadlineOnly {
			headlineOnly = false
			break
		}
	}
	return model.TradeRecord{
		ID:              NewTradeRecordID(),
		ExperimentRunID: runID,
		ModelID:         modelID,

		MarketID:       c.Market.MarketID,
		Question:       c.Market.Question,
		MarketType:     c.Market.MarketType,
		FeeRate:        c.Market.FeeRate,
		ResolutionTime: c.Market.ResolutionTime,

		RawProbability: c.RawProbability,
		RawConfidence:  c.RawConfidence,
		Reasoning:      c.Reasoning,
		SignalTags:     c.SignalTags,

		CalibrationConfidenceDelta:  c.CalibrationConfidenceDelta,
		SignalWeightConfidenceDelta: c.SignalWeightConfidenceDelta,
		ProbabilityShrinkageApplied: c.ProbabilityShrinkageApplied,
		ShrinkageFactor:             c.ShrinkageFactor,
		MarketTypeExtraEdge:         c.MarketTypeExtraEdge,
		TemporalDecayConfidenceMult: c.TemporalDecayConfidenceMult,

		AdjustedProbability: c.AdjustedProbability,
		AdjustedConfidence:  c.AdjustedConfidence,

		PositionSize:    c.PositionSize,
		KellyFraction:   c.KellyFraction,
		CalculatedEdge:  c.CalculatedEdge,
		Score:           c.Score,
		SkipReason:      c.SkipReason,
		MarketClusterID: c.MarketClusterID,

		IntendedSide:         c.IntendedSide,
		IntendedPositionSize: c.IntendedPositionSize,

		DecidedAt:    now,
		HeadlineOnly: headlineOnly,
	}
}

// Execute turns one admitted candidate into a filled trade record, or nil
// if a maker order didn't fill. tier is persisted on the record so the
// tier-daily-cap count can be scoped correctly on the next scan.
func (e *Executor) Execute(ctx context.Context, c model.TradeCandidate, tier market.Tier, now time.Time) (*model.TradeRecord, error) {
	if c.Side == model.Skip {
		r := buildSkipRecord(c, e.ModelID, e.ExperimentRunID, now)
		r.MarketTier = int(tier)
		return &r, nil
	}

	r := baseRecord(c, e.ModelID, e.ExperimentRunID, now)
	r.MarketTier = int(tier)
	r.Action = c.Side

	if e.Params.Paper {
		ob, err := e.Source.GetOrderBook(ctx, c.Market.MarketID)
		if err != nil {
			return nil, Wrap(KindTransientIO, c.Market.MarketID, err)
		}
		price, filled := e.simulate(c, ob)
		if !filled {
			return nil, nil
		}
		r.MarketPriceAtScan = price
		return &r, nil
	}

	fill, err := e.Source.PlaceOrder(ctx, c.Market.MarketID, c.Side, c.Market.YesPrice, c.PositionSize)
	if err != nil {
		return nil, Wrap(KindTransientIO, c.Market.MarketID, err)
	}
	if !fill.Filled {
		return nil, nil
	}
	r.MarketPriceAtScan = clampPrice(fill.FillPrice)
	r.PositionSize = fill.FillSize
	return &r, nil
}

// Run executes every admitted candidate in gated and persists a record for
// every candidate, admitted or SKIP, in one pass (§5); an unfilled maker
// order is not persisted. Returns the number of records written.
func (e *Executor) Run(ctx context.Context, gated []model.TradeCandidate, tier market.Tier, now time.Time) (int, error) {
	written := 0
	for _, c := range gated {
		r, err := e.Execute(ctx, c, tier, now)
		if err != nil {
			return written, err
		}
		if r == nil {
			continue // unfilled maker order: no record (§4.8)
		}
		if err := e.Store.InsertTradeRecord(*r); err != nil {
			return written, WrapGlobal(KindConsistency, err)
		}
		written++
	}
	return written, nil
}

// PollResolutions checks every open, non-void record against the Market
// Source and resolves the ones that have settled (§4.8). portfolio is
// mutated in place for the caller to persist under the shared mutex (§5).
func (e *Executor) PollResolutions(ctx context.Context, portfolio *model.Portfolio, now time.Time) (int, error) {
	open, err := e.Store.ListOpenTradeRecords()
	if err != nil {
		return 0, WrapGlobal(KindTransientIO, err)
	}

	resolved := 0
	for _, r := range open {
		_, res, err := e.Source.GetMarket(ctx, r.MarketID)
		if err != nil {
			continue // transient lookup failure: retried next sweep
		}
		if !res.Resolved || res.Outcome == nil {
			continue
		}
		outcome := *res.Outcome

		if r.Action == model.Skip {
			// SKIP records never held a real position, but still resolve
			// against the market outcome: the intended side and price
			// preserved at decision time score a counterfactual payout
			// instead of a real one (§3, §4.9 step 3). No portfolio
			// mutation — no capital was ever committed.
			pnl := counterfactualPnL(r, outcome)
			if _, err := e.Learning.RecordResolution(e.Store, r, outcome, pnl, now); err != nil {
				return resolved, err
			}
			resolved++
			continue
		}

		won := (r.Action == model.BuyYes && outcome == 1) || (r.Action == model.BuyNo && outcome == 0)
		var pnl float64
		if won {
			pnl = r.PositionSize/r.MarketPriceAtScan - r.PositionSize
		} else {
			pnl = -r.PositionSize
		}

		if _, err := e.Learning.RecordResolution(e.Store, r, outcome, pnl, now); err != nil {
			return resolved, err
		}
		portfolio.ApplyPnL(pnl)
		portfolio.OpenPositions--
		resolved++
	}
	return resolved, nil
}

// counterfactualPnL scores a SKIP record's preserved intended side and
// hypothetical entry price against the real outcome, mirroring the real
// trade payout formula. A record with no intended side (the rare case
// where DecideCandidate found no mispricing at all) scores zero either
// way, since IntendedPositionSize is already zero for it.
func counterfactualPnL(r model.TradeRecord, outcome float64) float64 {
	if r.IntendedSide == model.Skip || r.IntendedPositionSize <= 0 || r.MarketPriceAtScan <= 0 {
		return 0
	}
	won := (r.IntendedSide == model.BuyYes && outcome == 1) || (r.IntendedSide == model.BuyNo && outcome == 0)
	if won {
		return r.IntendedPositionSize/r.MarketPriceAtScan - r.IntendedPositionSize
	}
	return -r.IntendedPositionSize
}

// SweepAdverseMoves recomputes the unrealized adverse-move fraction for
// every open executed record against the market's current price (§4.8),
// feeding the risk gate's cooldown check. Only adverse (against-position)
// movement is recorded; a favorable move floors at zero.
func (e *Executor) SweepAdverseMoves(ctx context.Context) (int, error) {
	open, err := e.Store.ListOpenTradeRecords()
	if err != nil {
		return 0, WrapGlobal(KindTransientIO, err)
	}

	swept := 0
	for _, r := range open {
		if r.Action == model.Skip {
			continue
		}
		m, _, err := e.Source.GetMarket(ctx, r.MarketID)
		if err != nil {
			continue
		}

		currentContractPrice := m.YesPrice
		if r.Action == model.BuyNo {
			currentContractPrice = m.NoPrice
		}
		entry := r.MarketPriceAtScan
		if entry <= 0 {
			continue
		}
		fraction := (entry - currentContractPrice) / entry
		if fraction < 0 {
			fraction = 0
		}

		if err := e.Store.UpdateUnrealizedAdverseMove(r.ID, fraction); err != nil {
			return swept, WrapGlobal(KindConsistency, err)
		}
		swept++
	}
	return swept, nil
}
