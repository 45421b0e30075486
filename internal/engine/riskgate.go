package engine

import (
	"time"

	"predictionmarket-trader/internal/model"
)

// adverseStreakThreshold is the consecutive-adverse-event count that trips
// the cooldown check (§4.7).
const adverseStreakThreshold = 3

// GateParams are the account-level thresholds Monk Mode enforces (§4.7),
// sourced from config.
type GateParams struct {
	Tier1DailyCap         int
	DailyLossLimitPct     float64
	WeeklyLossLimitPct    float64
	CooldownWindow        time.Duration
	MaxExposurePct        float64
	DailyAPIBudget        float64
	MaxClusterExposurePct float64
}

// GateState is the running account/exposure snapshot Monk Mode consults and
// updates as it walks a ranked candidate list for one scan cycle. Cooldown
// history (RecentNonSkip) is loaded once per scan, not re-queried per
// candidate — nothing in the store changes mid-gate-pass since the record
// step runs after gating, so this is equivalent to recomputing fresh on
// every call while avoiding redundant store round-trips (§9 Open Question).
type GateState struct {
	Portfolio        model.Portfolio
	TierExecuted     int
	DailyPnL         float64
	WeeklyPnL        float64
	RecentNonSkip    []model.TradeRecord // newest first
	APISpentToday    float64
	ExistingExposure float64            // sum of still-open positions from prior scans
	ClusterPending   map[string]float64 // running exposure added this pass, keyed by cluster id
	Now              time.Time
}

// isAdverseEvent reports whether a non-SKIP record counts toward the
// cooldown streak: a resolved loss, or an open position whose unrealized
// move has crossed the 10% adverse threshold.
func isAdverseEvent(r model.TradeRecord) bool {
	if r.Resolved {
		return r.PnL < 0
	}
	return r.UnrealizedAdverseMove > 0.10
}

// consecutiveAdverseStreak counts adverse events from the most recent
// non-SKIP record backwards, stopping at the first non-adverse record or
// once events fall outside the cooldown window.
func consecutiveAdverseStreak(records []model.TradeRecord, now time.Time, window time.Duration) int {
	streak := 0
	for _, r := range records {
		if now.Sub(r.DecidedAt) > window {
			break
		}
		if !isAdverseEvent(r) {
			break
		}
		streak++
	}
	return streak
}

// EvaluateGate runs the six ordered Monk Mode checks against one candidate
// and returns the SKIP reason of the first check it fails, or "" if the
// candidate clears every check (§4.7). On a pass, gs is mutated to reflect
// the candidate's tentative admission so later candidates in the same pass
// see the cumulative exposure.
func EvaluateGate(gs *GateState, c model.TradeCandidate, params GateParams) string {
	if gs.TierExecuted >= params.Tier1DailyCap {
		return model.SkipTierDailyCap
	}
	if gs.Portfolio.TotalEquity > 0 && gs.DailyPnL/gs.Portfolio.TotalEquity <= -params.DailyLossLimitPct {
		return model.SkipDailyLossLimit
	}
	if gs.Portfolio.TotalEquity > 0 && gs.WeeklyPnL/gs.Portfolio.TotalEquity <= -params.WeeklyLossLimitPct {
		return model.SkipWeeklyLossLimit
	}
	if consecutiveAdverseStreak(gs.RecentNonSkip, gs.Now, params.CooldownWindow) >= adverseStreakThreshold {
		return model.SkipCooldown
	}
	if gs.Portfolio.TotalEquity > 0 {
		clusterTotal := gs.ClusterPending[c.MarketClusterID] + c.PositionSize
		projected := (gs.ExistingExposure + totalPendingExposureExcluding(gs, c.MarketClusterID) + clusterTotal) / gs.Portfolio.TotalEquity
		if projected > params.MaxExposurePct {
			return model.SkipMaxExposure
		}
	}
	if gs.APISpentToday >= params.DailyAPIBudget {
		return model.SkipAPIBudgetExceeded
	}

	if gs.ClusterPending == nil {
		gs.ClusterPending = map[string]float64{}
	}
	gs.ClusterPending[c.MarketClusterID] += c.PositionSize
	gs.TierExecuted++
	return ""
}

// totalPendingExposureExcluding sums exposure pending this pass across
// every cluster other than exclude, so max_exposure can be evaluated
// against projected total committed capital without double-counting the
// cluster under consideration.
func totalPendingExposureExcluding(gs *GateState, exclude string) float64 {
	var total float64
	for id, v := range gs.ClusterPending {
		if id == exclude {
			continue
		}
		total += v
	}
	return total
}

// ApplyGate walks ranked candidates in order, running EvaluateGate on every
// admitted (non-SKIP) one and converting the first failures into SKIPs with
// the triggering reason. gs accumulates state across the walk.
func ApplyGate(candidates []model.TradeCandidate, gs *GateState, params GateParams) []model.TradeCandidate {
	out := make([]model.TradeCandidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		if out[i].Side == model.Skip {
			continue
		}
		if reason := EvaluateGate(gs, out[i], params); reason != "" {
			out[i].Side = model.Skip
			out[i].PositionSize = 0
			out[i].SkipReason = reason
		}
	}
	return out
}
