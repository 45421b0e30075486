package engine

import (
	"math"
	"testing"
	"time"

	"predictionmarket-trader/internal/model"
)

// --- Pure math helpers: exact expected values ---

func TestMean(t *testing.T) {
	tests := []struct {
		name string
		x    []float64
		want float64
	}{
		{"empty", nil, 0},
		{"single", []float64{42}, 42},
		{"five", []float64{1, 2, 3, 4, 5}, 3},
		{"negative", []float64{-10, -20, -30}, -20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mean(tt.x)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("mean(%v) = %v, want %v", tt.x, got, tt.want)
			}
		})
	}
}

func TestMinFloat64(t *testing.T) {
	tests := []struct {
		name string
		x    []float64
		want float64
	}{
		{"empty", nil, 0},
		{"single", []float64{7}, 7},
		{"positive", []float64{3, 1, 2}, 1},
		{"negative", []float64{-100, -50, -200}, -200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := minFloat64(tt.x)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("minFloat64(%v) = %v, want %v", tt.x, got, tt.want)
			}
		})
	}
}

func TestRobustScale(t *testing.T) {
	tests := []struct {
		name string
		x    []float64
		want float64
	}{
		{"empty", nil, 0},
		{"single", []float64{10}, 10},
		{"odd median of abs", []float64{1, 2, 3, 4, 5}, 3},
		{"even median of abs", []float64{1, 2, 3, 4, 5, 6}, 3.5},
		{"negative values", []float64{-5, -4, -3, -2, -1}, 3},
		{"mixed", []float64{-100, 50, 80, -20, 40}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := robustScale(tt.x)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("robustScale(%v) = %v, want %v", tt.x, got, tt.want)
			}
		})
	}
}

func TestPortfolioVarEs(t *testing.T) {
	pnls := []float64{-100, -90, -80, -70, -60, -50, -40, -30, -20, -10}
	// n=10 < 20 takes the Cornish-Fisher path: mean -55, sample stddev
	// ~30.28, skewness 0, excess kurtosis -1.2.
	var95, var99, es95, es99 := portfolioVarEs(pnls)
	if math.Abs(var95-(-105.53466440123886)) > 1e-9 {
		t.Errorf("var95 = %v, want -105.53466440123886", var95)
	}
	if math.Abs(var99-(-116.93925940704776)) > 1e-9 {
		t.Errorf("var99 = %v, want -116.93925940704776", var99)
	}
	if math.Abs(es95-(-114.99192009036176)) > 1e-9 {
		t.Errorf("es95 = %v, want -114.99192009036176", es95)
	}
	if math.Abs(es99-(-204.00540664185777)) > 1e-9 {
		t.Errorf("es99 = %v, want -204.00540664185777", es99)
	}

	pnls2 := make([]float64, 20)
	for i := range pnls2 {
		pnls2[i] = -100 + float64(i)*5
	}
	var95, var99, es95, es99 = portfolioVarEs(pnls2)
	if math.Abs(var95-(-95)) > 1e-9 {
		t.Errorf("var95 (n=20) = %v, want -95", var95)
	}
	if math.Abs(var99-(-100)) > 1e-9 {
		t.Errorf("var99 (n=20) = %v, want -100", var99)
	}
	wantES95 := (-100.0 + -95.0) / 2.0
	if math.Abs(es95-wantES95) > 1e-9 {
		t.Errorf("es95 (n=20) = %v, want %v", es95, wantES95)
	}
	if math.Abs(es99-(-100)) > 1e-9 {
		t.Errorf("es99 (n=20) = %v, want -100", es99)
	}
}

func TestPortfolioVarEs_EmptyAndSmall(t *testing.T) {
	var95, var99, es95, es99 := portfolioVarEs(nil)
	if var95 != 0 || var99 != 0 || es95 != 0 || es99 != 0 {
		t.Errorf("portfolioVarEs(nil) should return zeros, got var95=%v var99=%v es95=%v es99=%v", var95, var99, es95, es99)
	}

	var95, var99, es95, es99 = portfolioVarEs([]float64{-50})
	if math.Abs(var95-(-50)) > 1e-9 || math.Abs(es95-(-50)) > 1e-9 {
		t.Errorf("portfolioVarEs([-50]) = var95 %v es95 %v, want -50", var95, es95)
	}
}

func resolvedRecord(pnl float64, resolvedAt time.Time) model.TradeRecord {
	return model.TradeRecord{
		Resolved:   true,
		PnL:        pnl,
		ResolvedAt: &resolvedAt,
	}
}

func TestComputePortfolioRisk_EmptyAndTooFewDays(t *testing.T) {
	now := time.Now().UTC()
	if got := ComputePortfolioRisk(nil, now); got != nil {
		t.Errorf("ComputePortfolioRisk(nil) want nil, got %+v", got)
	}

	records := []model.TradeRecord{resolvedRecord(100, now.AddDate(0, 0, -1))}
	if got := ComputePortfolioRisk(records, now); got != nil {
		t.Errorf("ComputePortfolioRisk(1 day) want nil, got %+v", got)
	}
}

func TestComputePortfolioRisk_EnoughDays_DeterministicOutput(t *testing.T) {
	now := time.Now().UTC()
	base := now.AddDate(0, 0, -10)
	dayPnls := []float64{100, -50, 80, -20, 60, 40, -80, 30, 20, 10}
	var records []model.TradeRecord
	for i, pnl := range dayPnls {
		records = append(records, resolvedRecord(pnl, base.AddDate(0, 0, i)))
	}

	out := ComputePortfolioRisk(records, now)
	if out == nil {
		t.Fatal("ComputePortfolioRisk: expected non-nil summary with 10 days")
	}
	if out.SampleDays != 10 {
		t.Errorf("SampleDays = %d, want 10", out.SampleDays)
	}
	if out.WindowDays != riskLookbackDays {
		t.Errorf("WindowDays = %d, want %d", out.WindowDays, riskLookbackDays)
	}
	if math.Abs(out.WorstDayLoss-80) > 1e-6 {
		t.Errorf("WorstDayLoss = %v, want 80", out.WorstDayLoss)
	}
	if out.Var95 < 0 || out.Var99 < 0 {
		t.Errorf("Var95/Var99 should be positive (reported loss): Var95=%v Var99=%v", out.Var95, out.Var99)
	}
	wantTypical := 45.0
	if math.Abs(out.TypicalDailyPnl-wantTypical) > 1e-6 {
		t.Errorf("TypicalDailyPnl = %v, want %v", out.TypicalDailyPnl, wantTypical)
	}
	if out.RiskScore < 0 || out.RiskScore > 100 {
		t.Errorf("RiskScore = %v, want in [0,100]", out.RiskScore)
	}
	if out.RiskLevel != "safe" && out.RiskLevel != "balanced" && out.RiskLevel != "high" {
		t.Errorf("RiskLevel = %q, want safe|balanced|high", out.RiskLevel)
	}
}

func TestComputePortfolioRisk_IgnoresOpenAndVoidedRecords(t *testing.T) {
	now := time.Now().UTC()
	base := now.AddDate(0, 0, -10)
	dayPnls := []float64{100, -50, 80, -20, 60}
	var records []model.TradeRecord
	for i, pnl := range dayPnls {
		records = append(records, resolvedRecord(pnl, base.AddDate(0, 0, i)))
	}
	records = append(records, model.TradeRecord{Resolved: false, PnL: 999})
	voided := resolvedRecord(999, base.AddDate(0, 0, 5))
	voided.Voided = true
	records = append(records, voided)

	out := ComputePortfolioRisk(records, now)
	if out == nil {
		t.Fatal("expected non-nil summary")
	}
	if out.SampleDays != 5 {
		t.Errorf("SampleDays = %d, want 5 (open/voided records excluded)", out.SampleDays)
	}
}
