package model

// MaxBrierHistory bounds the per-market-type Brier score window kept for
// the decayed average (§3); a model swap truncates it further to 15.
const MaxBrierHistory = 100

// MarketTypePerformance tracks resolved-trade accuracy and pnl per market
// type. AvgBrier decays toward recent performance so a type that was
// profitable a month ago but has since gone cold loses influence (§4.2).
type MarketTypePerformance struct {
	MarketType         string
	TotalTrades        int
	TotalPnL           float64
	BrierScores        []float64 // bounded history, oldest first
	TotalObservedSkips int
	CounterfactualPnL  float64
}

// AvgBrier is the exponentially decayed mean of BrierScores with decay
// factor 0.95 and the newest entry weighted 1. Defaults to 0.25 (coin-flip
// calibration) when no scores have been recorded yet.
func (m MarketTypePerformance) AvgBrier() float64 {
	if len(m.BrierScores) == 0 {
		return 0.25
	}
	var weighted, weightSum float64
	weight := 1.0
	for i := len(m.BrierScores) - 1; i >= 0; i-- {
		weighted += weight * m.BrierScores[i]
		weightSum += weight
		weight *= 0.95
	}
	return weighted / weightSum
}

// AppendBrier records one resolved trade's Brier score, trimming the
// history to MaxBrierHistory.
func (m *MarketTypePerformance) AppendBrier(brier float64) {
	m.BrierScores = append(m.BrierScores, brier)
	if len(m.BrierScores) > MaxBrierHistory {
		m.BrierScores = m.BrierScores[len(m.BrierScores)-MaxBrierHistory:]
	}
}

// TruncateBrierHistory keeps only the most recent n scores, used by the
// model-swap dampening step (§4.10).
func (m *MarketTypePerformance) TruncateBrierHistory(n int) {
	if len(m.BrierScores) > n {
		m.BrierScores = m.BrierScores[len(m.BrierScores)-n:]
	}
}

// EdgeAdjustment is the extra edge requirement this market type imposes on
// top of the base threshold (§3): zero below 15 trades, then piecewise by
// AvgBrier.
func (m MarketTypePerformance) EdgeAdjustment() float64 {
	if m.TotalTrades < 15 {
		return 0
	}
	avg := m.AvgBrier()
	switch {
	case avg > 0.30:
		return 0.05
	case avg > 0.25:
		return 0.03
	case avg > 0.20:
		return 0.01
	default:
		return 0
	}
}

// ShouldDisable reports whether this market type has accumulated enough
// trades with a poor enough pnl track record that the Decision Engine
// should stop trading it entirely: trades >= 30 and total_pnl < -0.15 *
// trades (§3).
func (m MarketTypePerformance) ShouldDisable() bool {
	return m.TotalTrades >= 30 && m.TotalPnL < -0.15*float64(m.TotalTrades)
}
