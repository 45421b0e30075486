package model

// Side is the trade direction (or SKIP, the only way candidates without a
// position still flow through ranking and the audit trail).
type Side string

const (
	BuyYes Side = "BUY_YES"
	BuyNo  Side = "BUY_NO"
	Skip   Side = "SKIP"
)

// Skip reasons, referenced by the Decision Engine (§4.7) and the Scheduler's
// observe-only mode (§4.7).
const (
	SkipEdgeBelowThreshold = "edge_below_threshold"
	SkipRankedBelowCutoff  = "ranked_below_cutoff"
	SkipClusterExposure    = "cluster_exposure_limit"
	SkipDailyCapObserve    = "daily_cap_observe_only"
	SkipTierDailyCap       = "tier_daily_cap_reached"
	SkipDailyLossLimit     = "daily_loss_limit"
	SkipWeeklyLossLimit    = "weekly_loss_limit"
	SkipCooldown           = "cooldown"
	SkipMaxExposure        = "max_exposure"
	SkipAPIBudgetExceeded  = "api_budget_exceeded"
)

// LMOutput is the validated, tolerantly-parsed response from the LM Client
// (§4.4). SignalInfoTypes maps a signal's text (or a caller-assigned key) to
// the info type the LM judged it to carry.
type LMOutput struct {
	EstimatedProbability float64
	Confidence           float64
	Reasoning            string
	KeySignals           []string
	Contradictions       []string
	SignalInfoTypes      map[string]InfoType
}

// SignalTag is a (tier, info_type) pair observed for one candidate, the
// unit the Adjustment Pipeline's signal-weighting step and the
// SignalTracker key off of.
type SignalTag struct {
	Tier     SourceTier
	InfoType InfoType
}

// TradeCandidate is the in-memory result of one market's pipeline run for a
// scan cycle: raw LM output, adjusted values, and (once Decision has run)
// the sizing/ranking/skip decision.
type TradeCandidate struct {
	Market             Market
	Signals            []Signal
	SignalTags         []SignalTag
	RawProbability     float64
	RawConfidence      float64
	Reasoning          string
	AdjustedProbability float64
	AdjustedConfidence  float64

	// Adjustment deltas, one per Adjustment Pipeline step (§4.6), carried
	// through so the executed or skipped record can audit which step moved
	// the estimate and by how much.
	CalibrationConfidenceDelta  float64
	SignalWeightConfidenceDelta float64
	ProbabilityShrinkageApplied bool
	ShrinkageFactor             float64
	MarketTypeExtraEdge         float64
	TemporalDecayConfidenceMult float64

	CalculatedEdge      float64
	Side                Side
	PositionSize        float64
	KellyFraction       float64 // uncapped f*·kelly_fraction, recorded pre-cap for audit
	Score               float64
	ResolutionHours     float64
	MarketClusterID     string
	SkipReason          string // unset ("") unless Side == Skip

	// IntendedSide and IntendedPositionSize are set once, by DecideCandidate,
	// from the mispricing direction and Kelly size before any downstream
	// SKIP override (edge threshold, ranking cutoff, cluster exposure, risk
	// gate) can zero them out. A candidate that ends up SKIP still carries
	// the side and size it would have traded, so its trade record can be
	// scored against the real outcome for counterfactual PnL (§3, §4.9).
	IntendedSide         Side
	IntendedPositionSize float64
}
