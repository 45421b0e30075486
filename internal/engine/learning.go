package engine

import (
	"fmt"
	"math"
	"time"

	"predictionmarket-trader/internal/model"
	"predictionmarket-trader/internal/store"
)

// modelSwapBrierDampen is how many of a market type's most recent Brier
// scores survive a model swap (§4.10).
const modelSwapBrierDampen = 15

// SignalKey identifies one SignalTracker row: the (source tier, info type,
// market type) combination the Adjustment Pipeline's signal-weighting step
// and §4.9 step 4 key off of.
type SignalKey struct {
	Tier       model.SourceTier
	InfoType   model.InfoType
	MarketType string
}

// LearningState is the three in-memory managers loaded from the store at
// startup and mutated only by the resolution path (§3 Ownership and
// lifecycle): Calibration, MarketType, SignalTracker. A scan reads a single
// consistent snapshot of this struct for its duration; only RecordResolution,
// Swap, and Void/Recalculate mutate it.
type LearningState struct {
	// Calibration is index-aligned with model.CalibrationRanges.
	Calibration []model.CalibrationBucket
	MarketTypes map[string]model.MarketTypePerformance
	Signals     map[SignalKey]model.SignalTracker
}

// LoadLearningState reads the full learning state from the store at startup.
func LoadLearningState(s *store.Store) (*LearningState, error) {
	buckets, err := s.LoadCalibrationBuckets()
	if err != nil {
		return nil, fmt.Errorf("load learning state: %w", err)
	}
	if len(buckets) != len(model.CalibrationRanges) {
		return nil, fmt.Errorf("load learning state: expected %d calibration buckets, got %d", len(model.CalibrationRanges), len(buckets))
	}

	mtList, err := s.ListMarketTypePerformance()
	if err != nil {
		return nil, fmt.Errorf("load learning state: %w", err)
	}
	marketTypes := make(map[string]model.MarketTypePerformance, len(mtList))
	for _, m := range mtList {
		marketTypes[m.MarketType] = m
	}

	trackers, err := s.ListAllSignalTrackers()
	if err != nil {
		return nil, fmt.Errorf("load learning state: %w", err)
	}
	signals := make(map[SignalKey]model.SignalTracker, len(trackers))
	for _, t := range trackers {
		signals[SignalKey{Tier: t.Tier, InfoType: t.InfoType, MarketType: t.MarketType}] = t
	}

	return &LearningState{Calibration: buckets, MarketTypes: marketTypes, Signals: signals}, nil
}

// marketType returns the tracked row for mt, or a fresh zero-value row.
func (ls *LearningState) marketType(mt string) model.MarketTypePerformance {
	if m, ok := ls.MarketTypes[mt]; ok {
		return m
	}
	return model.MarketTypePerformance{MarketType: mt}
}

// signalWeight looks up the confidence weight for one (tier, info_type,
// market_type) combo, defaulting to the neutral 1.0 a never-seen combo
// implies (§3 SignalTracker.Weight on a zero-value tracker).
func (ls *LearningState) signalWeight(tier model.SourceTier, infoType model.InfoType, marketType string) float64 {
	t, ok := ls.Signals[SignalKey{Tier: tier, InfoType: infoType, MarketType: marketType}]
	if !ok {
		return 1.0
	}
	return t.Weight()
}

// RecordResolution applies the §4.9 five-step learning feedback for one
// newly resolved, non-void record and persists every write in a single
// transaction, the record's own ResolveTradeRecord write included. outcome
// is 0 or 1. It returns the record with its resolution fields populated
// (the caller supplies pnl, since Execution owns the sim/live payout and
// counterfactual-pnl computation).
func (ls *LearningState) RecordResolution(s *store.Store, r model.TradeRecord, outcome, pnl float64, resolvedAt time.Time) (model.TradeRecord, error) {
	brierRaw := model.Brier(r.RawProbability, outcome)
	brierAdjusted := model.Brier(r.AdjustedProbability, outcome)

	rawCorrect := model.Correct(r.RawProbability, outcome)
	adjCorrect := model.Correct(r.AdjustedProbability, outcome)

	bucketIdx := model.BucketForProbability(r.RawConfidence)
	daysSinceEntry := resolvedAt.Sub(r.DecidedAt).Hours() / 24
	if daysSinceEntry < 0 {
		daysSinceEntry = 0
	}
	weight := pow95(daysSinceEntry)

	bucket := ls.Calibration[bucketIdx]
	bucket.Update(rawCorrect, weight)

	mt := ls.marketType(r.MarketType)
	mt.AppendBrier(brierAdjusted)
	if r.Action == model.Skip {
		mt.TotalObservedSkips++
		mt.CounterfactualPnL += pnl
	} else {
		mt.TotalTrades++
		mt.TotalPnL += pnl
	}

	changedTrackers := ls.applySignalTrackerUpdates(r.MarketType, r.SignalTags, adjCorrect)

	err := s.WithTx(func(tx *store.Store) error {
		if err := tx.SaveCalibrationBucket(bucketIdx, bucket); err != nil {
			return err
		}
		if err := tx.SaveMarketTypePerformance(mt); err != nil {
			return err
		}
		for _, t := range changedTrackers {
			if err := tx.SaveSignalTracker(t); err != nil {
				return err
			}
		}
		return tx.ResolveTradeRecord(r.ID, outcome, pnl, brierRaw, brierAdjusted, resolvedAt)
	})
	if err != nil {
		return model.TradeRecord{}, WrapGlobal(KindConsistency, fmt.Errorf("record resolution: %w", err))
	}

	ls.Calibration[bucketIdx] = bucket
	ls.MarketTypes[r.MarketType] = mt
	for _, t := range changedTrackers {
		ls.Signals[SignalKey{Tier: t.Tier, InfoType: t.InfoType, MarketType: t.MarketType}] = t
	}

	r.Resolved = true
	r.ActualOutcome = &outcome
	r.PnL = pnl
	r.BrierRaw = &brierRaw
	r.BrierAdjusted = &brierAdjusted
	r.ResolvedAt = &resolvedAt
	return r, nil
}

// applySignalTrackerUpdates folds one resolution's outcome into every
// SignalTracker combo ever observed for marketType (§4.9 step 4): present
// combos get their present-winning/present-losing counter bumped, every
// other combo tracked for this market type gets its absent-winning/
// absent-losing counter bumped. Combos appearing for the first time on tags
// are created fresh. Returns the full set of trackers that changed.
func (ls *LearningState) applySignalTrackerUpdates(marketType string, tags []model.SignalTag, correct bool) []model.SignalTracker {
	present := make(map[SignalKey]bool, len(tags))
	for _, tag := range tags {
		present[SignalKey{Tier: tag.Tier, InfoType: tag.InfoType, MarketType: marketType}] = true
	}

	touched := make(map[SignalKey]bool)
	for k := range ls.Signals {
		if k.MarketType == marketType {
			touched[k] = true
		}
	}
	for k := range present {
		touched[k] = true
	}

	var changed []model.SignalTracker
	for k := range touched {
		t, ok := ls.Signals[k]
		if !ok {
			t = model.SignalTracker{Tier: k.Tier, InfoType: k.InfoType, MarketType: k.MarketType}
		}
		t.Record(present[k], correct)
		changed = append(changed, t)
	}
	return changed
}

// pow95 computes 0.95^days, the recency decay weight applied to a
// calibration update (§4.9 step 2).
func pow95(days float64) float64 {
	if days <= 0 {
		return 1
	}
	return math.Pow(0.95, days)
}

// Swap applies §4.10's model-swap semantics: Calibration resets to priors,
// MarketType Brier history is dampened to the most recent 15 entries (
// should_disable is derived, not stored, so it simply re-evaluates against
// the dampened history on next read), SignalTrackers are left untouched.
// The ExperimentRun/ModelSwapEvent bookkeeping is the caller's
// responsibility (cmd/trader's model-swap command), since it also needs
// config-snapshot and run-id generation outside this package's scope.
func Swap(s *store.Store, ls *LearningState) (*LearningState, error) {
	var dampened map[string]model.MarketTypePerformance
	err := s.WithTx(func(tx *store.Store) error {
		if err := tx.ResetCalibrationToPriors(); err != nil {
			return err
		}
		mtList, err := tx.ListMarketTypePerformance()
		if err != nil {
			return err
		}
		dampened = make(map[string]model.MarketTypePerformance, len(mtList))
		for _, m := range mtList {
			m.TruncateBrierHistory(modelSwapBrierDampen)
			if err := tx.SaveMarketTypePerformance(m); err != nil {
				return err
			}
			dampened[m.MarketType] = m
		}
		return nil
	})
	if err != nil {
		return nil, WrapGlobal(KindConsistency, fmt.Errorf("model swap: %w", err))
	}

	resetBuckets := make([]model.CalibrationBucket, len(ls.Calibration))
	for i, b := range ls.Calibration {
		b.Alpha, b.Beta = 1, 1
		resetBuckets[i] = b
	}
	return &LearningState{Calibration: resetBuckets, MarketTypes: dampened, Signals: ls.Signals}, nil
}

// Void marks record id voided and fully rebuilds Calibration, MarketType,
// and SignalTracker state from every remaining non-void resolved record,
// replayed in ascending decision-timestamp order from priors/zero (§4.10).
func Void(s *store.Store, id, reason string) (*LearningState, error) {
	if err := s.VoidTradeRecord(id, reason); err != nil {
		return nil, WrapGlobal(KindConsistency, fmt.Errorf("void trade record: %w", err))
	}
	return Recalculate(s)
}

// Recalculate rebuilds Calibration, MarketType, and SignalTracker state from
// scratch by replaying every resolved, non-void record in ascending
// decision-timestamp order (§4.10 void rebuild, and the recalculate_learning
// CLI command). The replay uses each record's own resolved_at as the
// weighting reference for calibration decay, so the result is independent of
// when Recalculate happens to run — required for the §8 void+rebuild
// byte-equality property.
func Recalculate(s *store.Store) (*LearningState, error) {
	records, err := s.ListResolvedNonVoidAscending()
	if err != nil {
		return nil, WrapGlobal(KindConsistency, fmt.Errorf("recalculate learning: %w", err))
	}

	fresh := &LearningState{
		Calibration: freshCalibrationBuckets(),
		MarketTypes: map[string]model.MarketTypePerformance{},
		Signals:     map[SignalKey]model.SignalTracker{},
	}

	for _, r := range records {
		if r.ActualOutcome == nil || r.ResolvedAt == nil {
			continue
		}
		outcome := *r.ActualOutcome
		rawCorrect := model.Correct(r.RawProbability, outcome)
		adjCorrect := model.Correct(r.AdjustedProbability, outcome)

		bucketIdx := model.BucketForProbability(r.RawConfidence)
		daysSinceEntry := r.ResolvedAt.Sub(r.DecidedAt).Hours() / 24
		if daysSinceEntry < 0 {
			daysSinceEntry = 0
		}
		bucket := fresh.Calibration[bucketIdx]
		bucket.Update(rawCorrect, pow95(daysSinceEntry))
		fresh.Calibration[bucketIdx] = bucket

		mt := fresh.marketType(r.MarketType)
		mt.AppendBrier(*r.BrierAdjusted)
		if r.Action == model.Skip {
			mt.TotalObservedSkips++
			mt.CounterfactualPnL += r.PnL
		} else {
			mt.TotalTrades++
			mt.TotalPnL += r.PnL
		}
		fresh.MarketTypes[r.MarketType] = mt

		for _, t := range fresh.applySignalTrackerUpdates(r.MarketType, r.SignalTags, adjCorrect) {
			fresh.Signals[SignalKey{Tier: t.Tier, InfoType: t.InfoType, MarketType: t.MarketType}] = t
		}
	}

	err = s.WithTx(func(tx *store.Store) error {
		for i, b := range fresh.Calibration {
			if err := tx.SaveCalibrationBucket(i, b); err != nil {
				return err
			}
		}
		if err := tx.DeleteAllMarketTypePerformance(); err != nil {
			return err
		}
		for _, m := range fresh.MarketTypes {
			if err := tx.SaveMarketTypePerformance(m); err != nil {
				return err
			}
		}
		if err := tx.DeleteAllSignalTrackers(); err != nil {
			return err
		}
		for _, t := range fresh.Signals {
			if err := tx.SaveSignalTracker(t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, WrapGlobal(KindFatal, fmt.Errorf("recalculate learning: persist: %w", err))
	}

	return fresh, nil
}

func freshCalibrationBuckets() []model.CalibrationBucket {
	buckets := make([]model.CalibrationBucket, len(model.CalibrationRanges))
	for i, r := range model.CalibrationRanges {
		buckets[i] = model.CalibrationBucket{RangeLo: r[0], RangeHi: r[1], Alpha: 1, Beta: 1}
	}
	return buckets
}
