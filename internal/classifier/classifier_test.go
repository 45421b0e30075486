package classifier

import (
	"testing"

	"predictionmarket-trader/internal/config"
	"predictionmarket-trader/internal/model"
)

func testClassifier() *Classifier {
	return New(&config.SourceList{
		S1Handles:     []string{"@WhiteHouse"},
		S1Domains:     []string{"sec.gov"},
		S2Handles:     []string{"@Reuters"},
		S2Domains:     []string{"reuters.com"},
		S3Handles:     []string{"@nytimes"},
		S3Domains:     []string{"nytimes.com"},
		S4ExpertWords: []string{"economist", "professor"},
	})
}

func TestClassify(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		name string
		meta model.SourceMeta
		want model.SourceTier
	}{
		{
			name: "S1 handle case-insensitive",
			meta: model.SourceMeta{Handle: "@whitehouse"},
			want: model.TierS1,
		},
		{
			name: "S1 domain",
			meta: model.SourceMeta{Domain: "SEC.GOV"},
			want: model.TierS1,
		},
		{
			name: "S2 handle",
			meta: model.SourceMeta{Handle: "@Reuters"},
			want: model.TierS2,
		},
		{
			name: "S3 domain",
			meta: model.SourceMeta{Domain: "nytimes.com"},
			want: model.TierS3,
		},
		{
			name: "S4 verified expert",
			meta: model.SourceMeta{
				Handle:    "@random_trader",
				Verified:  true,
				Followers: 60000,
				Bio:       "Economist and market commentator",
			},
			want: model.TierS4,
		},
		{
			name: "S4 rejected below follower floor",
			meta: model.SourceMeta{
				Handle:    "@random_trader",
				Verified:  true,
				Followers: 10000,
				Bio:       "Economist",
			},
			want: model.TierS6,
		},
		{
			name: "S4 rejected without expert keyword",
			meta: model.SourceMeta{
				Handle:    "@random_trader",
				Verified:  true,
				Followers: 60000,
				Bio:       "Just here for the memes",
			},
			want: model.TierS6,
		},
		{
			name: "S5 market-derived",
			meta: model.SourceMeta{Kind: model.SourceMarket, IsMarketQuote: true},
			want: model.TierS5,
		},
		{
			name: "S6 fallback for unknown source",
			meta: model.SourceMeta{Handle: "@nobody", Domain: "example.com"},
			want: model.TierS6,
		},
		{
			name: "missing fields never fail",
			meta: model.SourceMeta{},
			want: model.TierS6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.meta); got != tt.want {
				t.Errorf("Classify(%+v) = %s, want %s", tt.meta, got, tt.want)
			}
		})
	}
}

func TestCredibility(t *testing.T) {
	if got := Credibility(model.TierS1); got != 0.95 {
		t.Errorf("Credibility(S1) = %v, want 0.95", got)
	}
	if got := Credibility(model.TierS6); got != 0.30 {
		t.Errorf("Credibility(S6) = %v, want 0.30", got)
	}
}
