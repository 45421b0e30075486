package model

import "time"

// ExperimentRun identifies an uninterrupted period under one model identity.
// TradeRecord.ExperimentRunID is a foreign key into this table, enforced by
// the store (invariant 1, §3).
type ExperimentRun struct {
	ID          string
	Description string
	ModelID     string
	ConfigJSON  string // snapshot of the config in effect, for audit
	StartedAt   time.Time
	EndedAt     *time.Time // nil while current
}

// ModelSwapEvent is the audit log entry for a §4.10 swap.
type ModelSwapEvent struct {
	ID            string
	OldModelID    string
	NewModelID    string
	Reason        string
	NewRunID      string
	SwappedAt     time.Time
}

// TradeRecord is the full audit row for one candidate, executed or skipped.
// Created once at decision time (§3 Ownership and lifecycle). While open,
// the adverse-move sweep rewrites UnrealizedAdverseMove; resolution fills
// in the outcome fields once. Resolved non-void records are immutable
// thereafter except via the void mechanism.
type TradeRecord struct {
	ID              string
	ExperimentRunID string
	ModelID         string

	MarketID          string
	Question          string
	MarketType        string
	MarketTier        int // 0 = tier1, 1 = tier2 (mirrors market.Tier without importing it)
	MarketPriceAtScan float64 // contract price of the held side: the fill price, or for a SKIP the no-slippage price of its intended side
	FeeRate           float64
	ResolutionTime    time.Time

	RawProbability float64
	RawConfidence  float64
	Reasoning      string

	// SignalTags is the (tier, info_type) shape of every signal considered
	// for this candidate, persisted so recalculate-learning (§4.10) can
	// replay the SignalTracker updates of §4.9 step 4 exactly.
	SignalTags []SignalTag

	// Adjustment deltas, one per pipeline step (§4.6), kept for audit so a
	// reviewer can see which step moved the estimate and by how much.
	CalibrationConfidenceDelta float64
	SignalWeightConfidenceDelta float64
	ProbabilityShrinkageApplied bool
	ShrinkageFactor             float64
	MarketTypeExtraEdge         float64
	TemporalDecayConfidenceMult float64

	AdjustedProbability float64
	AdjustedConfidence  float64

	Action          Side
	PositionSize    float64
	KellyFraction   float64
	CalculatedEdge  float64
	Score           float64
	SkipReason      string
	MarketClusterID string

	// IntendedSide and IntendedPositionSize preserve what a SKIP record
	// would have traded, so the resolution poller can score it against the
	// real market outcome for counterfactual PnL (§3, §4.9 step 3). Unused
	// for executed records, where Action already carries the real side.
	IntendedSide         Side
	IntendedPositionSize float64

	DecidedAt time.Time

	// Resolution fields, populated exactly once by the resolution poller.
	Resolved               bool
	ActualOutcome          *float64 // 0 or 1
	PnL                    float64
	BrierRaw               *float64
	BrierAdjusted          *float64
	ResolvedAt             *time.Time
	UnrealizedAdverseMove  float64 // not a resolution field: rewritten by each adverse-move sweep while open

	Voided     bool
	VoidReason string

	HeadlineOnly bool // true if every signal used was headline_only (partial index, §6)
}

// IsOpen reports whether this record still needs resolution polling.
func (r TradeRecord) IsOpen() bool {
	return !r.Resolved && !r.Voided
}

// Correct reports whether the probability p implies the observed outcome,
// per the §4.9 `correct` convention: (p > 0.5) == outcome.
func Correct(p float64, outcome float64) bool {
	return (p > 0.5) == (outcome == 1)
}

// Brier computes the squared error between a probability forecast and a
// binary outcome (invariant 5, §3).
func Brier(p, outcome float64) float64 {
	d := p - outcome
	return d * d
}
