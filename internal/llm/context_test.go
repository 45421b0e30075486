package llm

import (
	"strings"
	"testing"
	"time"

	"predictionmarket-trader/internal/model"
)

func TestBuildPrompt_IncludesCoreFieldsAndCapsSignals(t *testing.T) {
	m := model.Market{
		Question:          "Will the bill pass?",
		YesPrice:           0.4,
		NoPrice:            0.6,
		ResolutionTime:     time.Now().Add(48 * time.Hour),
		HoursToResolution:  48,
		Volume24h:          10000,
		Liquidity:          5000,
	}
	ob := model.OrderBook{
		Bids: []model.PriceLevel{{Price: 0.39, Size: 100}},
		Asks: []model.PriceLevel{{Price: 0.41, Size: 80}},
	}

	var signals []model.Signal
	for i := 0; i < 10; i++ {
		signals = append(signals, model.Signal{
			SourceTier:  model.TierS3,
			Credibility: float64(i) / 10,
			Text:        "evidence item",
		})
	}

	prompt := BuildPrompt(m, ob, signals)

	if !strings.Contains(prompt, "Will the bill pass?") {
		t.Error("prompt missing market question")
	}
	if !strings.Contains(prompt, "estimated_probability") {
		t.Error("prompt missing JSON schema instructions")
	}
	if strings.Count(prompt, "evidence item") > maxPromptSignals {
		t.Errorf("prompt includes more than %d signals", maxPromptSignals)
	}
}

func TestBuildPrompt_NoSignals(t *testing.T) {
	m := model.Market{Question: "Will it happen?"}
	prompt := BuildPrompt(m, model.OrderBook{}, nil)
	if !strings.Contains(prompt, "No signals available") {
		t.Error("expected no-signals notice in prompt")
	}
}
