// Package keywords implements the Keyword Extractor (§4.3): deriving 3-5
// search keywords from a market's question, regex-first with an LM
// fallback, cached per market_id for the process lifetime.
package keywords

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Completer is the minimal LM dependency this package needs — a single
// free-text completion call. Defined locally (rather than importing the
// llm package's concrete client) so keywords and llm have no import-cycle
// risk and keywords can be tested without any LM wiring at all.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// MarketTypeSupplements adds market-type-specific keywords regardless of
// what the regex pass finds, since a question like "Will BTC hit 100k?"
// benefits from an explicit "crypto" keyword even though it's not a proper
// noun or ticker the regex would otherwise miss.
var MarketTypeSupplements = map[string][]string{
	"crypto":    {"crypto", "cryptocurrency"},
	"political": {"politics", "election"},
	"sports":    {"sports"},
	"economics": {"economy", "economic"},
}

const maxKeywords = 5

var (
	properNounBigramRe = regexp.MustCompile(`\b[A-Z][a-zA-Z]+\s+[A-Z][a-zA-Z]+\b`)
	acronymRe          = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	tickerRe           = regexp.MustCompile(`\$[A-Z]{2,6}\b`)
	namedTokenRe       = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)
)

var stopTokens = map[string]struct{}{
	"Will": {}, "The": {}, "What": {}, "Who": {}, "How": {}, "When": {}, "Is": {}, "Are": {},
}

// Extractor derives keywords for a market and caches the result by
// market_id for the process lifetime. Concurrent calls for the same
// market_id are coalesced via singleflight, grounded on the same pattern
// the order cache uses for region-order fetch deduplication.
type Extractor struct {
	llm   Completer
	group singleflight.Group
	cache sync.Map // market_id -> []string
}

// New builds an Extractor. llm may be nil if the caller never expects the
// regex pass to fall through (tests commonly do this).
func New(llm Completer) *Extractor {
	return &Extractor{llm: llm}
}

// Extract returns up to 5 keywords for (marketID, question, marketType),
// using the cached result if this marketID has already been processed.
func (e *Extractor) Extract(ctx context.Context, marketID, question, marketType string) ([]string, error) {
	if cached, ok := e.cache.Load(marketID); ok {
		return cached.([]string), nil
	}

	result, err, _ := e.group.Do(marketID, func() (interface{}, error) {
		kws, err := e.extract(ctx, question, marketType)
		if err != nil {
			return nil, err
		}
		e.cache.Store(marketID, kws)
		return kws, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (e *Extractor) extract(ctx context.Context, question, marketType string) ([]string, error) {
	entities := regexEntities(question)
	if len(entities) >= 2 {
		return withSupplements(entities, marketType), nil
	}

	if e.llm == nil {
		return withSupplements(entities, marketType), nil
	}

	prompt := fmt.Sprintf(
		"Return a JSON array of 3-5 short search keywords for this prediction market question. "+
			"Respond with ONLY the JSON array, no other text.\n\nQuestion: %s", question)
	text, err := e.llm.Complete(ctx, prompt, 200)
	if err != nil {
		return withSupplements(entities, marketType), nil
	}

	var fromLLM []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &fromLLM); err != nil {
		return withSupplements(entities, marketType), nil
	}
	return withSupplements(append(entities, fromLLM...), marketType), nil
}

// regexEntities extracts named tokens, proper-noun bigrams, acronyms, and
// ticker forms from the question text, deduplicated and order-preserving.
func regexEntities(question string) []string {
	var found []string
	seen := make(map[string]struct{})

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		found = append(found, s)
	}

	for _, m := range tickerRe.FindAllString(question, -1) {
		add(m)
	}
	for _, m := range properNounBigramRe.FindAllString(question, -1) {
		add(m)
	}
	for _, m := range acronymRe.FindAllString(question, -1) {
		add(m)
	}
	for _, m := range namedTokenRe.FindAllString(question, -1) {
		if _, stop := stopTokens[m]; stop {
			continue
		}
		add(m)
	}
	return found
}

func withSupplements(entities []string, marketType string) []string {
	seen := make(map[string]struct{}, len(entities))
	result := make([]string, 0, maxKeywords)
	for _, e := range entities {
		key := strings.ToLower(e)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, e)
		if len(result) >= maxKeywords {
			return result
		}
	}
	for _, s := range MarketTypeSupplements[marketType] {
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, s)
		if len(result) >= maxKeywords {
			break
		}
	}
	return result
}
