package engine

import (
	"math"
	"sort"
	"time"

	"predictionmarket-trader/internal/model"
)

// PortfolioPnL is the full analytics breakdown over a window of resolved
// trade records. Adapted from the teacher's wallet-transaction analytics
// (internal/engine/portfolio.go): daily aggregation, drawdown tracking,
// Sharpe/Calmar/profit-factor/expectancy are unchanged in method; the
// per-item breakdown becomes a per-market-type breakdown (there is no
// station/location concept in this domain, so StationPnL has no
// equivalent and is dropped).
type PortfolioPnL struct {
	DailyPnL   []DailyPnLEntry   `json:"daily_pnl"`
	Summary    PortfolioPnLStats `json:"summary"`
	ByMarketType []MarketTypePnL `json:"by_market_type"`
}

// DailyPnLEntry represents one day's resolved trading activity.
type DailyPnLEntry struct {
	Date          string  `json:"date"` // YYYY-MM-DD
	NetPnL        float64 `json:"net_pnl"`
	CumulativePnL float64 `json:"cumulative_pnl"`
	DrawdownPct   float64 `json:"drawdown_pct"` // drawdown from cumulative peak (0 to -100)
	Trades        int     `json:"trades"`
}

// PortfolioPnLStats is the aggregated summary across the period.
type PortfolioPnLStats struct {
	TotalPnL       float64 `json:"total_pnl"`
	AvgDailyPnL    float64 `json:"avg_daily_pnl"`
	BestDayPnL     float64 `json:"best_day_pnl"`
	BestDayDate    string  `json:"best_day_date"`
	WorstDayPnL    float64 `json:"worst_day_pnl"`
	WorstDayDate   string  `json:"worst_day_date"`
	ProfitableDays int     `json:"profitable_days"`
	LosingDays     int     `json:"losing_days"`
	TotalDays      int     `json:"total_days"`
	WinRate        float64 `json:"win_rate"` // 0-100%

	SharpeRatio        float64 `json:"sharpe_ratio"`
	MaxDrawdownPct     float64 `json:"max_drawdown_pct"`
	MaxDrawdownAbs     float64 `json:"max_drawdown_abs"`
	MaxDrawdownDays    int     `json:"max_drawdown_days"`
	CalmarRatio        float64 `json:"calmar_ratio"`
	ProfitFactor       float64 `json:"profit_factor"`
	AvgWin             float64 `json:"avg_win"`
	AvgLoss            float64 `json:"avg_loss"`
	ExpectancyPerTrade float64 `json:"expectancy_per_trade"`
}

// MarketTypePnL is the per-market-type breakdown of resolved trading
// activity, the domain substitute for the teacher's per-item breakdown.
type MarketTypePnL struct {
	MarketType   string  `json:"market_type"`
	NetPnL       float64 `json:"net_pnl"`
	Trades       int     `json:"trades"`
	WinRate      float64 `json:"win_rate"`
	AvgBrier     float64 `json:"avg_brier"`
}

// ComputePortfolioPnL builds a full P&L analysis from resolved, non-void
// trade records. lookbackDays controls how far back to look (e.g. 7, 30,
// 90, 180).
func ComputePortfolioPnL(records []model.TradeRecord, lookbackDays int, now time.Time) *PortfolioPnL {
	if len(records) == 0 {
		return &PortfolioPnL{DailyPnL: []DailyPnLEntry{}, ByMarketType: []MarketTypePnL{}}
	}

	cutoff := now.AddDate(0, 0, -lookbackDays)

	type dayKey string
	dayMap := make(map[dayKey]*DailyPnLEntry)
	typeMap := make(map[string]*marketTypeAccum)

	for _, r := range records {
		if !r.Resolved || r.Voided || r.ResolvedAt == nil {
			continue
		}
		t := r.ResolvedAt.UTC()
		if t.Before(cutoff) {
			continue
		}

		dk := dayKey(t.Format("2006-01-02"))
		entry, ok := dayMap[dk]
		if !ok {
			entry = &DailyPnLEntry{Date: string(dk)}
			dayMap[dk] = entry
		}
		entry.NetPnL += r.PnL
		entry.Trades++

		acc, ok := typeMap[r.MarketType]
		if !ok {
			acc = &marketTypeAccum{marketType: r.MarketType}
			typeMap[r.MarketType] = acc
		}
		acc.netPnL += r.PnL
		acc.trades++
		if r.PnL > 0 {
			acc.wins++
		}
		if r.BrierAdjusted != nil {
			acc.brierSum += *r.BrierAdjusted
			acc.brierCount++
		}
	}

	days := make([]DailyPnLEntry, 0, len(dayMap))
	for _, entry := range dayMap {
		days = append(days, *entry)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	cumulative, cumulativePeak, maxDrawdownAbs := 0.0, 0.0, 0.0
	maxDrawdownPeakIdx, maxDrawdownTroughIdx, currentPeakIdx := 0, 0, 0

	for i := range days {
		cumulative += days[i].NetPnL
		days[i].CumulativePnL = cumulative

		if cumulative > cumulativePeak {
			cumulativePeak = cumulative
			currentPeakIdx = i
		}

		drawdown := cumulative - cumulativePeak
		if cumulativePeak > 0 {
			days[i].DrawdownPct = sanitizeFloat(drawdown / cumulativePeak * 100)
		}
		if drawdown < maxDrawdownAbs {
			maxDrawdownAbs = drawdown
			maxDrawdownPeakIdx = currentPeakIdx
			maxDrawdownTroughIdx = i
		}
	}

	summary := PortfolioPnLStats{TotalDays: len(days)}
	if len(days) > 0 {
		summary.BestDayPnL = days[0].NetPnL
		summary.BestDayDate = days[0].Date
		summary.WorstDayPnL = days[0].NetPnL
		summary.WorstDayDate = days[0].Date
	}

	var grossProfit, grossLoss, totalWin, totalLoss float64
	for _, d := range days {
		summary.TotalPnL += d.NetPnL
		if d.NetPnL > 0 {
			summary.ProfitableDays++
			grossProfit += d.NetPnL
			totalWin += d.NetPnL
		} else if d.NetPnL < 0 {
			summary.LosingDays++
			grossLoss += -d.NetPnL
			totalLoss += -d.NetPnL
		}
		if d.NetPnL > summary.BestDayPnL {
			summary.BestDayPnL = d.NetPnL
			summary.BestDayDate = d.Date
		}
		if d.NetPnL < summary.WorstDayPnL {
			summary.WorstDayPnL = d.NetPnL
			summary.WorstDayDate = d.Date
		}
	}

	if summary.TotalDays > 0 {
		summary.AvgDailyPnL = summary.TotalPnL / float64(summary.TotalDays)
		summary.WinRate = float64(summary.ProfitableDays) / float64(summary.TotalDays) * 100
	}

	if summary.TotalDays >= 2 {
		dailyPnLs := make([]float64, len(days))
		for i, d := range days {
			dailyPnLs[i] = d.NetPnL
		}
		mu := mean(dailyPnLs)
		sigma := math.Sqrt(variance(dailyPnLs))
		if sigma > 0 {
			summary.SharpeRatio = (mu / sigma) * math.Sqrt(365)
		}
	}

	summary.MaxDrawdownAbs = -maxDrawdownAbs
	if cumulativePeak > 0 {
		summary.MaxDrawdownPct = -maxDrawdownAbs / cumulativePeak * 100
	}
	if maxDrawdownTroughIdx > maxDrawdownPeakIdx {
		peakDate, errP := time.Parse("2006-01-02", days[maxDrawdownPeakIdx].Date)
		troughDate, errT := time.Parse("2006-01-02", days[maxDrawdownTroughIdx].Date)
		if errP == nil && errT == nil {
			summary.MaxDrawdownDays = int(troughDate.Sub(peakDate).Hours() / 24)
		} else {
			summary.MaxDrawdownDays = maxDrawdownTroughIdx - maxDrawdownPeakIdx
		}
	}

	if summary.MaxDrawdownAbs > 0 && summary.TotalDays > 0 {
		annualizedReturn := summary.TotalPnL * 365 / float64(summary.TotalDays)
		summary.CalmarRatio = annualizedReturn / summary.MaxDrawdownAbs
	}
	if grossLoss > 0 {
		summary.ProfitFactor = grossProfit / grossLoss
	}
	if summary.ProfitableDays > 0 {
		summary.AvgWin = totalWin / float64(summary.ProfitableDays)
	}
	if summary.LosingDays > 0 {
		summary.AvgLoss = totalLoss / float64(summary.LosingDays)
	}
	if summary.TotalDays > 0 {
		winRate := float64(summary.ProfitableDays) / float64(summary.TotalDays)
		lossRate := float64(summary.LosingDays) / float64(summary.TotalDays)
		summary.ExpectancyPerTrade = winRate*summary.AvgWin - lossRate*summary.AvgLoss
	}

	byType := make([]MarketTypePnL, 0, len(typeMap))
	for _, acc := range typeMap {
		mt := MarketTypePnL{MarketType: acc.marketType, NetPnL: acc.netPnL, Trades: acc.trades}
		if acc.trades > 0 {
			mt.WinRate = float64(acc.wins) / float64(acc.trades) * 100
		}
		if acc.brierCount > 0 {
			mt.AvgBrier = acc.brierSum / float64(acc.brierCount)
		}
		byType = append(byType, mt)
	}
	sort.Slice(byType, func(i, j int) bool {
		return math.Abs(byType[i].NetPnL) > math.Abs(byType[j].NetPnL)
	})

	return &PortfolioPnL{DailyPnL: days, Summary: summary, ByMarketType: byType}
}

type marketTypeAccum struct {
	marketType string
	netPnL     float64
	trades     int
	wins       int
	brierSum   float64
	brierCount int
}
