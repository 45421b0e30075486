package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"predictionmarket-trader/internal/collectors"
	"predictionmarket-trader/internal/keywords"
	"predictionmarket-trader/internal/llm"
	"predictionmarket-trader/internal/logger"
	"predictionmarket-trader/internal/market"
	"predictionmarket-trader/internal/model"
	"predictionmarket-trader/internal/store"
)

// maxConcurrentMarkets bounds the per-market fan-out so a scan with many
// open markets doesn't open unbounded LM/collector connections at once
// (adapted from the teacher's bounded history-enrichment fan-out,
// scanner.go's enrichWithHistory).
const maxConcurrentMarkets = 10

// Pipeline wires every collaborator the scan cycle needs (§5 Asynchronous
// control flow: fan-out to bounded concurrency, collect, then rank —
// per-market failure never aborts the scan).
type Pipeline struct {
	Source          market.Source
	News            *collectors.NewsCollector
	Social          *collectors.SocialCollector
	Keywords        *keywords.Extractor
	LM              *llm.Client
	Store           *store.Store
	Learning        *LearningState
	DecisionParams  DecisionParams // Bankroll is overwritten per run from the live portfolio
	GateParams      GateParams
	InitialBankroll float64
	ModelID         string
	ExperimentRunID string
}

// marketResult is one market's pipeline outcome, collected over the
// fan-out channel before the ranking barrier.
type marketResult struct {
	candidate model.TradeCandidate
	signals   []model.Signal
	err       error
}

// Run executes one full scan cycle for the given tier: discover, gather,
// estimate, adjust, rank, gate (§4.1–§4.7). It returns the final ranked and
// gated candidate list; Execute (execution.go) turns it into orders and
// trade records. observeOnly skips the LM call entirely and SKIPs every
// discovered market with daily_cap_observe_only (§4.7).
func (p *Pipeline) Run(ctx context.Context, tier market.Tier, now time.Time, remainingTierCap int, observeOnly bool) ([]model.TradeCandidate, []model.Signal, error) {
	markets, err := p.Source.ListActive(ctx, tier)
	if err != nil {
		return nil, nil, Wrap(KindTransientIO, "", err)
	}

	portfolio, err := p.Store.LoadPortfolio(p.InitialBankroll)
	if err != nil {
		return nil, nil, WrapGlobal(KindTransientIO, err)
	}
	p.DecisionParams.Bankroll = portfolio.TotalEquity

	newsSignals := p.News.Collect(ctx, now)

	if observeOnly {
		candidates := make([]model.TradeCandidate, len(markets))
		for i, m := range markets {
			candidates[i] = model.TradeCandidate{
				Market:     m,
				Side:       model.Skip,
				SkipReason: model.SkipDailyCapObserve,
			}
		}
		return candidates, newsSignals, nil
	}

	results := make([]marketResult, len(markets))
	sem := make(chan struct{}, maxConcurrentMarkets)
	var wg sync.WaitGroup
	wg.Add(len(markets))
	for i, m := range markets {
		sem <- struct{}{}
		go func(i int, m model.Market) {
			defer wg.Done()
			defer func() { <-sem }()
			c, signals, err := p.runOne(ctx, m, newsSignals, now)
			results[i] = marketResult{candidate: c, signals: signals, err: err}
		}(i, m)
	}
	wg.Wait()

	candidates := make([]model.TradeCandidate, 0, len(markets))
	for _, r := range results {
		if r.err != nil {
			logger.Warn("pipeline", "market "+r.candidate.Market.MarketID+" failed: "+r.err.Error())
			continue
		}
		candidates = append(candidates, r.candidate)
	}

	ApplyEdgeThreshold(candidates, p.DecisionParams.MinEdgeThreshold)
	AssignClusters(candidates)

	ranked, err := RankAndGate(candidates, remainingTierCap, p.DecisionParams, p.clusterExposureLookup)
	if err != nil {
		return nil, nil, err
	}

	gs, err := p.loadGateState(portfolio, tier, now)
	if err != nil {
		return nil, nil, err
	}
	gated := ApplyGate(ranked, gs, p.GateParams)
	return gated, newsSignals, nil
}

// runOne runs gather->estimate->adjust->decide for one market. Any failure
// here is isolated to this market and reported to the caller, never
// aborting the rest of the scan (§5, §7).
func (p *Pipeline) runOne(ctx context.Context, m model.Market, newsSignals []model.Signal, now time.Time) (model.TradeCandidate, []model.Signal, error) {
	kw, err := p.Keywords.Extract(ctx, m.MarketID, m.Question, m.MarketType)
	if err != nil {
		return model.TradeCandidate{Market: m}, nil, Wrap(KindTransientIO, m.MarketID, err)
	}

	signals := matchByKeyword(newsSignals, kw)
	signals = append(signals, p.Social.Collect(ctx, kw, now)...)

	ob, err := p.Source.GetOrderBook(ctx, m.MarketID)
	if err != nil {
		return model.TradeCandidate{Market: m}, signals, Wrap(KindTransientIO, m.MarketID, err)
	}
	signals = append(signals, marketDerivedSignal(ob, now))

	prompt := llm.BuildPrompt(m, ob, signals)
	lmOut, ok := p.LM.Call(ctx, prompt, m.MarketID)
	if !ok {
		return model.TradeCandidate{Market: m, Side: model.Skip, SkipReason: "lm_unavailable"}, signals, nil
	}
	applyInfoTypes(signals, lmOut.SignalInfoTypes)

	adj := Adjust(p.Learning, lmOut.EstimatedProbability, lmOut.Confidence, m.MarketType, signals, now)
	candidate := DecideCandidate(m, adj.AdjustedProbability, adj.AdjustedConfidence, adj.ExtraEdge, p.DecisionParams)
	candidate.Signals = signals
	candidate.SignalTags = adj.SignalTags
	candidate.RawProbability = lmOut.EstimatedProbability
	candidate.RawConfidence = lmOut.Confidence
	candidate.Reasoning = lmOut.Reasoning
	candidate.CalibrationConfidenceDelta = adj.CalibrationConfidenceDelta
	candidate.SignalWeightConfidenceDelta = adj.SignalWeightConfidenceDelta
	candidate.ProbabilityShrinkageApplied = adj.ProbabilityShrinkageApplied
	candidate.ShrinkageFactor = adj.ShrinkageFactor
	candidate.MarketTypeExtraEdge = adj.MarketTypeExtraEdge
	candidate.TemporalDecayConfidenceMult = adj.TemporalDecayConfidenceMult
	return candidate, signals, nil
}

// matchByKeyword filters news signals (collected once per scan, market-
// agnostic) down to the ones relevant to a market's keyword set: a
// case-insensitive substring match against the headline text.
func matchByKeyword(signals []model.Signal, kw []string) []model.Signal {
	var matched []model.Signal
	for _, sig := range signals {
		text := strings.ToLower(sig.Text)
		for _, k := range kw {
			if strings.Contains(text, strings.ToLower(k)) {
				matched = append(matched, sig)
				break
			}
		}
	}
	return matched
}

// marketDerivedSignal turns an order book's top-5 bid/ask skew into a
// signal the prompt and Adjustment Pipeline can weigh alongside news and
// social evidence — the collector-assigned I6 case the glossary calls out.
func marketDerivedSignal(ob model.OrderBook, now time.Time) model.Signal {
	skew := ob.Skew(5)
	direction := "balanced"
	switch {
	case skew > 0.1:
		direction = "bid-heavy"
	case skew < -0.1:
		direction = "ask-heavy"
	}
	return model.Signal{
		SourceKind:  model.SourceMarket,
		SourceTier:  model.TierS5,
		InfoType:    model.I6MarketDerived,
		Text:        "order book " + direction,
		Credibility: model.TierCredibility[model.TierS5],
		Timestamp:   now,
	}
}

// applyInfoTypes stamps the LM's per-signal info type classification back
// onto the signals the prompt carried, keyed by signal text (§4.4).
func applyInfoTypes(signals []model.Signal, infoTypes map[string]model.InfoType) {
	for i := range signals {
		if it, ok := infoTypes[signals[i].Text]; ok {
			signals[i].InfoType = it
		} else if signals[i].SourceKind == model.SourceMarket {
			signals[i].InfoType = model.I6MarketDerived
		}
	}
}

func (p *Pipeline) clusterExposureLookup(clusterID string) (float64, error) {
	return p.Store.SumClusterExposure(clusterID)
}

func (p *Pipeline) loadGateState(portfolio model.Portfolio, tier market.Tier, now time.Time) (*GateState, error) {
	dailyPnL, err := p.Store.SumResolvedPnLSince(now.Truncate(24 * time.Hour))
	if err != nil {
		return nil, WrapGlobal(KindTransientIO, err)
	}
	weeklyPnL, err := p.Store.SumResolvedPnLSince(now.AddDate(0, 0, -7))
	if err != nil {
		return nil, WrapGlobal(KindTransientIO, err)
	}
	recent, err := p.Store.ListNonSkipDescending(50)
	if err != nil {
		return nil, WrapGlobal(KindTransientIO, err)
	}
	executedToday, err := p.Store.CountExecutedToday(int(tier), now.Truncate(24*time.Hour))
	if err != nil {
		return nil, WrapGlobal(KindTransientIO, err)
	}
	apiSpent, err := p.Store.SumAPICostToday(now)
	if err != nil {
		return nil, WrapGlobal(KindTransientIO, err)
	}
	openExposure, err := p.Store.SumOpenExposure()
	if err != nil {
		return nil, WrapGlobal(KindTransientIO, err)
	}

	return &GateState{
		Portfolio:        portfolio,
		TierExecuted:     executedToday,
		DailyPnL:         dailyPnL,
		WeeklyPnL:        weeklyPnL,
		RecentNonSkip:    recent,
		APISpentToday:    apiSpent,
		ExistingExposure: openExposure,
		ClusterPending:   map[string]float64{},
		Now:              now,
	}, nil
}

// NewTradeRecordID generates a fresh identifier for a trade record, the
// same approach the store uses for experiment runs and model-swap events.
func NewTradeRecordID() string {
	return uuid.NewString()
}
