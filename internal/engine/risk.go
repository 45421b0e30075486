package engine

import (
	"math"
	"sort"
	"time"

	"predictionmarket-trader/internal/model"
)

// PortfolioRiskSummary is a snapshot of portfolio risk computed from
// resolved trade records. Adapted from the teacher's wallet-transaction
// risk summary (internal/engine/risk.go): the statistical core (EWMA
// volatility, Cornish-Fisher VaR/ES, bias-corrected capacity multiplier)
// is unchanged; the input series is now daily realized PnL from
// TradeRecord rather than FIFO-matched ISK wallet transactions.
type PortfolioRiskSummary struct {
	RiskScore float64
	RiskLevel string // "safe", "balanced", "high"

	Var95 float64
	Var99 float64
	ES95  float64
	ES99  float64

	TypicalDailyPnl float64
	WorstDayLoss    float64

	SampleDays int
	WindowDays int

	CapacityMultiplier float64

	LowSample     bool
	Var99Reliable bool
}

const (
	riskLookbackDays  = 180
	minRiskSampleDays = 5
	minVaR99Days      = 30
)

// ComputePortfolioRisk builds a daily realized P&L series from resolved,
// non-void trade records and estimates risk metrics. Records with no
// resolved_at (still open) contribute nothing; the adverse-move sweep
// covers open-position risk separately.
func ComputePortfolioRisk(records []model.TradeRecord, now time.Time) *PortfolioRiskSummary {
	cutoff := now.AddDate(0, 0, -riskLookbackDays)

	dailyPnL := make(map[time.Time]float64)
	for _, r := range records {
		if !r.Resolved || r.Voided || r.ResolvedAt == nil {
			continue
		}
		t := r.ResolvedAt.UTC()
		if t.Before(cutoff) {
			continue
		}
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		dailyPnL[day] += r.PnL
	}

	if len(dailyPnL) < minRiskSampleDays {
		return nil
	}

	type dayPnl struct {
		day time.Time
		pnl float64
	}
	series := make([]dayPnl, 0, len(dailyPnL))
	for d, pnl := range dailyPnL {
		series = append(series, dayPnl{day: d, pnl: pnl})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].day.Before(series[j].day) })

	pnls := make([]float64, len(series))
	for i, dp := range series {
		pnls[i] = dp.pnl
	}

	typical := robustScale(pnls)
	if typical <= 0 {
		return nil
	}

	returns := make([]float64, len(pnls))
	for i, v := range pnls {
		returns[i] = v / typical
	}

	n := len(pnls)

	var95, var99, es95, es99 := portfolioVarEs(pnls)
	worstLoss := minFloat64(pnls)

	ewmaStd := ewmaVolatility(returns, 0.94)

	score := sanitizeFloat(ewmaStd * 40)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	level := "balanced"
	switch {
	case score < 30:
		level = "safe"
	case score > 70:
		level = "high"
	}

	meanRet := mean(returns)
	capacity := 1.0
	if score < 70 && ewmaStd > 0 {
		sharpeLike := meanRet / ewmaStd
		if n > 3 {
			sharpeLike *= math.Sqrt(float64(n-3) / float64(n))
		}
		switch {
		case sharpeLike > 1.0:
			capacity = 2.0
		case sharpeLike > 0.5:
			capacity = 1.5
		default:
			capacity = 1.2
		}
	}

	return &PortfolioRiskSummary{
		RiskScore:          score,
		RiskLevel:          level,
		Var95:              -var95,
		Var99:              -var99,
		ES95:               -es95,
		ES99:               -es99,
		TypicalDailyPnl:    typical,
		WorstDayLoss:       -worstLoss,
		SampleDays:         n,
		WindowDays:         riskLookbackDays,
		CapacityMultiplier: capacity,
		LowSample:          n < 20,
		Var99Reliable:      n >= minVaR99Days,
	}
}

func portfolioVarEs(pnls []float64) (var95, var99, es95, es99 float64) {
	if len(pnls) == 0 {
		return
	}

	n := len(pnls)

	if n < 20 {
		mu := mean(pnls)
		sigma := math.Sqrt(variance(pnls))
		if sigma <= 0 {
			var95, var99, es95, es99 = mu, mu, mu, mu
			return
		}
		skew := sampleSkewness(pnls)
		exKurt := sampleExcessKurtosis(pnls)

		const (
			z95 = -1.6449
			z99 = -2.3263
		)
		cf95 := cornishFisherQuantile(z95, skew, exKurt)
		cf99 := cornishFisherQuantile(z99, skew, exKurt)

		var95 = mu + cf95*sigma
		var99 = mu + cf99*sigma

		es95 = mu - sigma*normalPDF(cf95)/0.05
		es99 = mu - sigma*normalPDF(cf99)/0.01
		return
	}

	sorted := make([]float64, n)
	copy(sorted, pnls)
	sort.Float64s(sorted)

	idx95 := clampIndex(int(math.Floor(0.05*float64(n))), n)
	idx99 := clampIndex(int(math.Floor(0.01*float64(n))), n)

	var95 = sorted[idx95]
	var99 = sorted[idx99]

	es95 = mean(sorted[:idx95+1])
	es99 = mean(sorted[:idx99+1])
	return
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
