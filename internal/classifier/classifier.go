// Package classifier implements the Source Classifier (§4.1): a pure
// function mapping a signal's provenance metadata to a credibility tier.
package classifier

import (
	"strings"

	"predictionmarket-trader/internal/config"
	"predictionmarket-trader/internal/model"
)

// Classifier holds the configured handle/domain lists and expert-keyword
// list, loaded once at startup (§4.1).
type Classifier struct {
	s1Handles map[string]struct{}
	s1Domains map[string]struct{}
	s2Handles map[string]struct{}
	s2Domains map[string]struct{}
	s3Handles map[string]struct{}
	s3Domains map[string]struct{}
	s4Words   []string
}

// New builds a Classifier from a loaded SourceList, lowercasing every entry
// so lookups can stay case-insensitive without re-normalizing per call.
func New(list *config.SourceList) *Classifier {
	c := &Classifier{
		s1Handles: toSet(list.S1Handles),
		s1Domains: toSet(list.S1Domains),
		s2Handles: toSet(list.S2Handles),
		s2Domains: toSet(list.S2Domains),
		s3Handles: toSet(list.S3Handles),
		s3Domains: toSet(list.S3Domains),
	}
	c.s4Words = make([]string, len(list.S4ExpertWords))
	for i, w := range list.S4ExpertWords {
		c.s4Words[i] = strings.ToLower(w)
	}
	return c
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = struct{}{}
	}
	return set
}

// Classify maps a signal's provenance metadata to a tier. Never fails:
// missing or unrecognized fields fall through to S6 (§4.1).
func (c *Classifier) Classify(meta model.SourceMeta) model.SourceTier {
	handle := strings.ToLower(meta.Handle)
	domain := strings.ToLower(meta.Domain)

	if _, ok := c.s1Handles[handle]; ok && handle != "" {
		return model.TierS1
	}
	if _, ok := c.s1Domains[domain]; ok && domain != "" {
		return model.TierS1
	}
	if _, ok := c.s2Handles[handle]; ok && handle != "" {
		return model.TierS2
	}
	if _, ok := c.s2Domains[domain]; ok && domain != "" {
		return model.TierS2
	}
	if _, ok := c.s3Handles[handle]; ok && handle != "" {
		return model.TierS3
	}
	if _, ok := c.s3Domains[domain]; ok && domain != "" {
		return model.TierS3
	}
	if meta.Verified && meta.Followers >= 50000 && c.bioHasExpertWord(meta.Bio) {
		return model.TierS4
	}
	if meta.IsMarketQuote || meta.Kind == model.SourceMarket {
		return model.TierS5
	}
	return model.TierS6
}

func (c *Classifier) bioHasExpertWord(bio string) bool {
	if bio == "" {
		return false
	}
	lower := strings.ToLower(bio)
	for _, w := range c.s4Words {
		if w != "" && strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Credibility returns the fixed credibility score for a tier.
func Credibility(tier model.SourceTier) float64 {
	return model.TierCredibility[tier]
}
