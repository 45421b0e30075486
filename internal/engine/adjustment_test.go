package engine

import (
	"math"
	"testing"
	"time"

	"predictionmarket-trader/internal/model"
)

func freshLearningState() *LearningState {
	return &LearningState{
		Calibration: freshCalibrationBuckets(),
		MarketTypes: map[string]model.MarketTypePerformance{},
		Signals:     map[SignalKey]model.SignalTracker{},
	}
}

// TestAdjust_ShrinkageBothSides is the §8 literal scenario 1: bucket
// [0.70,0.80) with alpha=6, beta=14 (sample_count=18, expected_accuracy=0.30,
// midpoint=0.75, s=0.40).
func TestAdjust_ShrinkageBothSides(t *testing.T) {
	ls := freshLearningState()
	idx := model.BucketForProbability(0.75)
	ls.Calibration[idx] = model.CalibrationBucket{RangeLo: 0.70, RangeHi: 0.80, Alpha: 6, Beta: 14}
	now := time.Now().UTC()

	res := Adjust(ls, 0.80, 0.75, "political", nil, now)
	if math.Abs(res.AdjustedProbability-0.62) > 1e-9 {
		t.Errorf("adj_p (raw_p=0.80) = %v, want 0.62", res.AdjustedProbability)
	}
	if !res.ProbabilityShrinkageApplied {
		t.Error("expected shrinkage applied")
	}
	if math.Abs(res.ShrinkageFactor-0.40) > 1e-9 {
		t.Errorf("shrinkage factor = %v, want 0.40", res.ShrinkageFactor)
	}

	res2 := Adjust(ls, 0.20, 0.75, "political", nil, now)
	if math.Abs(res2.AdjustedProbability-0.38) > 1e-9 {
		t.Errorf("adj_p (raw_p=0.20) = %v, want 0.38", res2.AdjustedProbability)
	}
}

func TestAdjust_NoShrinkageBelowSampleThreshold(t *testing.T) {
	ls := freshLearningState()
	now := time.Now().UTC()
	res := Adjust(ls, 0.80, 0.75, "political", nil, now)
	if res.ProbabilityShrinkageApplied {
		t.Error("expected no shrinkage with a fresh (uniform-prior) bucket")
	}
	if math.Abs(res.AdjustedProbability-0.80) > 1e-9 {
		t.Errorf("adj_p = %v, want unchanged raw_p 0.80", res.AdjustedProbability)
	}
}

func TestAdjust_SignalWeightingSkipsWhenNoTags(t *testing.T) {
	ls := freshLearningState()
	now := time.Now().UTC()
	res := Adjust(ls, 0.70, 0.70, "sports", nil, now)
	if res.SignalWeightConfidenceDelta != 0 {
		t.Errorf("SignalWeightConfidenceDelta = %v, want 0 with no signals", res.SignalWeightConfidenceDelta)
	}
}

func TestAdjust_SignalWeightingUsesTrackerLift(t *testing.T) {
	ls := freshLearningState()
	key := SignalKey{Tier: model.TierS2, InfoType: model.I2Strong, MarketType: "sports"}
	// 8 present-winning, 0 present-losing, 2 absent-winning, 8 absent-losing:
	// winrate_present=1.0, winrate_absent=0.2, lift=5 -> weight clamps to 1.2.
	ls.Signals[key] = model.SignalTracker{Tier: model.TierS2, InfoType: model.I2Strong, MarketType: "sports", PresentWinning: 8, AbsentWinning: 2, AbsentLosing: 8}
	now := time.Now().UTC()

	signals := []model.Signal{{SourceTier: model.TierS2, InfoType: model.I2Strong, Timestamp: now.Add(-30 * time.Minute)}}
	res := Adjust(ls, 0.70, 0.70, "sports", signals, now)
	wantDelta := (1.2 - 1) * 0.1
	if math.Abs(res.SignalWeightConfidenceDelta-wantDelta) > 1e-9 {
		t.Errorf("SignalWeightConfidenceDelta = %v, want %v", res.SignalWeightConfidenceDelta, wantDelta)
	}
}

func TestAdjust_TemporalDecayBoostsOnFreshI1(t *testing.T) {
	ls := freshLearningState()
	now := time.Now().UTC()
	signals := []model.Signal{{SourceTier: model.TierS1, InfoType: model.I1Deterministic, Timestamp: now.Add(-10 * time.Minute)}}
	res := Adjust(ls, 0.70, 0.70, "politics", signals, now)
	if res.TemporalDecayConfidenceMult != 1.05 {
		t.Errorf("TemporalDecayConfidenceMult = %v, want 1.05", res.TemporalDecayConfidenceMult)
	}
	if res.AdjustedConfidence <= 0.70 {
		t.Errorf("AdjustedConfidence = %v, want boosted above 0.70", res.AdjustedConfidence)
	}
}

func TestAdjust_TemporalDecayPenalizesStaleSignals(t *testing.T) {
	ls := freshLearningState()
	now := time.Now().UTC()
	signals := []model.Signal{{SourceTier: model.TierS3, InfoType: model.I3Weak, Timestamp: now.Add(-3 * time.Hour)}}
	res := Adjust(ls, 0.70, 0.70, "politics", signals, now)
	if res.TemporalDecayConfidenceMult >= 1.0 {
		t.Errorf("TemporalDecayConfidenceMult = %v, want <1.0 for a 3h-old signal", res.TemporalDecayConfidenceMult)
	}
	if res.AdjustedConfidence >= 0.70 {
		t.Errorf("AdjustedConfidence = %v, want decayed below 0.70", res.AdjustedConfidence)
	}
}

func TestAdjust_ExtraEdgeNotAppliedToProbability(t *testing.T) {
	ls := freshLearningState()
	ls.MarketTypes["political"] = model.MarketTypePerformance{
		MarketType:  "political",
		TotalTrades: 20,
		BrierScores: []float64{0.35, 0.35, 0.35},
	}
	now := time.Now().UTC()
	res := Adjust(ls, 0.70, 0.70, "political", nil, now)
	if res.ExtraEdge <= 0 {
		t.Errorf("ExtraEdge = %v, want positive for a poorly-calibrated market type", res.ExtraEdge)
	}
	if math.Abs(res.AdjustedProbability-0.70) > 1e-9 {
		t.Errorf("AdjustedProbability = %v, extra_edge must not move adj_p", res.AdjustedProbability)
	}
}

// TestAdjust_InvariantBounds is the §8 universal-invariant property check
// over a representative input grid: adj_c in [0.50,0.99], adj_p in
// [0.01,0.99] for all raw_p, raw_c and calibration states.
func TestAdjust_InvariantBounds(t *testing.T) {
	now := time.Now().UTC()
	buckets := []model.CalibrationBucket{
		{RangeLo: 0.50, RangeHi: 0.60, Alpha: 1, Beta: 1},
		{RangeLo: 0.60, RangeHi: 0.70, Alpha: 40, Beta: 5},
		{RangeLo: 0.70, RangeHi: 0.80, Alpha: 5, Beta: 40},
		{RangeLo: 0.80, RangeHi: 0.90, Alpha: 20, Beta: 20},
		{RangeLo: 0.90, RangeHi: 0.95, Alpha: 1, Beta: 1},
		{RangeLo: 0.95, RangeHi: 1.00, Alpha: 1, Beta: 1},
	}
	for _, rawP := range []float64{0.01, 0.3, 0.5, 0.7, 0.99} {
		for _, rawC := range []float64{0.50, 0.65, 0.75, 0.85, 0.99} {
			ls := &LearningState{Calibration: buckets, MarketTypes: map[string]model.MarketTypePerformance{}, Signals: map[SignalKey]model.SignalTracker{}}
			res := Adjust(ls, rawP, rawC, "political", nil, now)
			if res.AdjustedConfidence < 0.50 || res.AdjustedConfidence > 0.99 {
				t.Errorf("raw_p=%v raw_c=%v: adj_c = %v, out of [0.50,0.99]", rawP, rawC, res.AdjustedConfidence)
			}
			if res.AdjustedProbability < 0.01 || res.AdjustedProbability > 0.99 {
				t.Errorf("raw_p=%v raw_c=%v: adj_p = %v, out of [0.01,0.99]", rawP, rawC, res.AdjustedProbability)
			}
		}
	}
}
