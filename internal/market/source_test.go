package market

import (
	"testing"

	"predictionmarket-trader/internal/model"
)

func TestTier1Filter(t *testing.T) {
	f := Tier1Filter{MinHoursToResolution: 1, MaxHoursToResolution: 72, MinLiquidity: 500}

	tests := []struct {
		name string
		m    model.Market
		want bool
	}{
		{"within window and liquid", model.Market{HoursToResolution: 24, Liquidity: 1000}, true},
		{"too soon", model.Market{HoursToResolution: 0.5, Liquidity: 1000}, false},
		{"too far out", model.Market{HoursToResolution: 100, Liquidity: 1000}, false},
		{"illiquid", model.Market{HoursToResolution: 24, Liquidity: 100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Matches(tt.m); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTier2Filter(t *testing.T) {
	f := Tier2Filter{MaxHoursToResolution: 0.25}

	tests := []struct {
		name string
		m    model.Market
		want bool
	}{
		{"crypto 15-minute market", model.Market{MarketType: "crypto", HoursToResolution: 0.2}, true},
		{"crypto but too long", model.Market{MarketType: "crypto", HoursToResolution: 2}, false},
		{"non-crypto short market", model.Market{MarketType: "political", HoursToResolution: 0.1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Matches(tt.m); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
