package engine

import (
	"time"

	"predictionmarket-trader/internal/model"
)

// unknownSignalAgeHours is the freshest-signal-age fallback when a
// candidate has no signals (§4.6 step 5).
const unknownSignalAgeHours = 2.0

// AdjustmentResult is the output of the five-step Adjustment Pipeline
// (§4.6), carrying both the final adjusted values and the per-step audit
// deltas the TradeRecord persists.
type AdjustmentResult struct {
	AdjustedProbability float64
	AdjustedConfidence  float64
	ExtraEdge           float64
	SignalTags          []model.SignalTag

	CalibrationConfidenceDelta  float64
	SignalWeightConfidenceDelta float64
	ProbabilityShrinkageApplied bool
	ShrinkageFactor             float64
	MarketTypeExtraEdge         float64
	TemporalDecayConfidenceMult float64
}

// Adjust runs the deterministic five-step Adjustment Pipeline, turning one
// candidate's raw LM output into adjusted values and the extra edge
// requirement the Decision Engine applies (§4.6). Steps execute in the
// exact order the spec fixes; later steps read the prior step's adj_c, not
// raw_c, except step 3 which reads raw_p.
func Adjust(ls *LearningState, rawP, rawC float64, marketType string, signals []model.Signal, now time.Time) AdjustmentResult {
	tags := signalTagsOf(signals)

	// Step 1: calibration of confidence.
	bucketIdx := model.BucketForProbability(rawC)
	bucket := ls.Calibration[bucketIdx]
	adjC := clamp(rawC+bucket.Correction(), 0.50, 0.99)
	calibrationDelta := adjC - rawC

	// Step 2: signal-type weighting of confidence.
	var signalDelta float64
	if len(tags) > 0 {
		var sum float64
		for _, tag := range tags {
			sum += ls.signalWeight(tag.Tier, tag.InfoType, marketType)
		}
		wbar := sum / float64(len(tags))
		before := adjC
		adjC = clamp(adjC+(wbar-1)*0.1, 0.50, 0.99)
		signalDelta = adjC - before
	}

	// Step 3: probability shrinkage.
	var adjP float64
	var shrinkageApplied bool
	var shrinkageFactor float64
	midpoint := (bucket.RangeLo + bucket.RangeHi) / 2
	if bucket.SampleCount() >= 10 && midpoint > 0 {
		shrinkageFactor = bucket.ExpectedAccuracy() / midpoint
		adjP = clamp(0.5+(rawP-0.5)*shrinkageFactor, 0.01, 0.99)
		shrinkageApplied = true
	} else {
		adjP = clamp(rawP, 0.01, 0.99)
	}

	// Step 4: market-type edge penalty — not applied to adj_p.
	extraEdge := ls.marketType(marketType).EdgeAdjustment()

	// Step 5: temporal decay of confidence.
	freshestAge, hasI1 := freshestSignalAge(signals, now)
	decayMult := 1.0
	switch {
	case hasI1 && freshestAge < 0.5:
		decayMult = 1.05
		adjC = minFloat2(0.99, adjC*decayMult)
	case freshestAge > 1.0:
		decayMult = maxFloat64(0.85, 1-0.05*(freshestAge-1))
		adjC = maxFloat64(0.50, adjC*decayMult)
	}

	return AdjustmentResult{
		AdjustedProbability:         adjP,
		AdjustedConfidence:          adjC,
		ExtraEdge:                   extraEdge,
		SignalTags:                  tags,
		CalibrationConfidenceDelta:  calibrationDelta,
		SignalWeightConfidenceDelta: signalDelta,
		ProbabilityShrinkageApplied: shrinkageApplied,
		ShrinkageFactor:             shrinkageFactor,
		MarketTypeExtraEdge:         extraEdge,
		TemporalDecayConfidenceMult: decayMult,
	}
}

// signalTagsOf derives the (tier, info_type) shape of every classified
// signal; a signal whose info type hasn't been assigned yet is excluded —
// it carries no signal-weighting or tracker information.
func signalTagsOf(signals []model.Signal) []model.SignalTag {
	var tags []model.SignalTag
	for _, sig := range signals {
		if sig.InfoType == "" {
			continue
		}
		tags = append(tags, model.SignalTag{Tier: sig.SourceTier, InfoType: sig.InfoType})
	}
	return tags
}

// freshestSignalAge returns the age in hours of the most recent signal and
// whether any signal carries info type I1. unknownSignalAgeHours is
// returned for an empty signal set (§4.6 step 5).
func freshestSignalAge(signals []model.Signal, now time.Time) (age float64, hasI1 bool) {
	if len(signals) == 0 {
		return unknownSignalAgeHours, false
	}
	age = unknownSignalAgeHours
	for i, sig := range signals {
		a := now.Sub(sig.Timestamp).Hours()
		if i == 0 || a < age {
			age = a
		}
		if sig.InfoType == model.I1Deterministic {
			hasI1 = true
		}
	}
	return age, hasI1
}

func maxFloat64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
