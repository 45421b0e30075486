package llm

import (
	"fmt"
	"sort"
	"strings"

	"predictionmarket-trader/internal/model"
)

const maxPromptSignals = 7

// BuildPrompt formats a market, its order book, and its top signals into
// the §4.5 prompt: market question and prices, resolution timing, volume
// and liquidity, top-5 depth and skew, and up to seven signals sorted by
// credibility descending, each with tier and credibility. Asks for a
// strict JSON object.
func BuildPrompt(m model.Market, ob model.OrderBook, signals []model.Signal) string {
	sorted := make([]model.Signal, len(signals))
	copy(sorted, signals)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Credibility > sorted[j].Credibility
	})
	if len(sorted) > maxPromptSignals {
		sorted = sorted[:maxPromptSignals]
	}

	bidDepth, askDepth := ob.DepthSum(5)
	skew := ob.Skew(5)

	var b strings.Builder
	fmt.Fprintf(&b, "Market question: %s\n", m.Question)
	fmt.Fprintf(&b, "Current YES price: %.3f  NO price: %.3f\n", m.YesPrice, m.NoPrice)
	fmt.Fprintf(&b, "Resolution time: %s (%.1f hours remaining)\n", m.ResolutionTime.UTC().Format("2006-01-02 15:04 MST"), m.HoursToResolution)
	fmt.Fprintf(&b, "24h volume: %.2f  Liquidity: %.2f\n", m.Volume24h, m.Liquidity)
	fmt.Fprintf(&b, "Top-5 bid depth: %.2f  Top-5 ask depth: %.2f  Skew: %.3f\n\n", bidDepth, askDepth, skew)

	if len(sorted) == 0 {
		b.WriteString("No signals available for this market.\n\n")
	} else {
		b.WriteString("Signals (sorted by source credibility, most credible first):\n")
		for i, s := range sorted {
			fmt.Fprintf(&b, "%d. [tier=%s credibility=%.2f] %s\n", i+1, s.SourceTier, s.Credibility, s.Text)
		}
		b.WriteString("\n")
	}

	b.WriteString("Respond with ONLY a strict JSON object with these fields:\n")
	b.WriteString(`{"estimated_probability": <0-1>, "confidence": <0-1>, "reasoning": "<short explanation>", ` +
		`"key_signals": ["<signal text used>", ...], "contradictions": ["<conflicting signal text>", ...], ` +
		"\"signal_info_types\": {\"<signal text>\": \"I1|I2|I3|I4|I5\", ...}}\n")
	b.WriteString("I1=deterministic outcome, I2=strong directional, I3=weak directional, I4=sentiment shift, I5=contradictory.\n")

	return b.String()
}
