// Package model holds the data types shared across the scan pipeline and the
// learning system: signals, markets, trade candidates and records, and the
// three learning tables. Types here are immutable snapshots or audit rows;
// the packages that own behavior (engine, collectors, classifier) operate on
// them but do not embed storage or transport concerns.
package model

import "time"

// SourceTier is the provenance credibility classification assigned by the
// Source Classifier.
type SourceTier string

const (
	TierS1 SourceTier = "S1" // official primary
	TierS2 SourceTier = "S2" // wire services
	TierS3 SourceTier = "S3" // institutional media
	TierS4 SourceTier = "S4" // verified expert social account
	TierS5 SourceTier = "S5" // market-derived
	TierS6 SourceTier = "S6" // fallback
)

// TierCredibility is the fixed credibility score assigned to each tier.
var TierCredibility = map[SourceTier]float64{
	TierS1: 0.95,
	TierS2: 0.90,
	TierS3: 0.80,
	TierS4: 0.65,
	TierS5: 0.70,
	TierS6: 0.30,
}

// InfoType is the LM-assigned (or collector-assigned, for I6) semantic
// classification of a signal's informational character.
type InfoType string

const (
	I1Deterministic InfoType = "I1" // deterministic outcome
	I2Strong        InfoType = "I2" // strong directional
	I3Weak          InfoType = "I3" // weak directional
	I4Sentiment     InfoType = "I4" // sentiment shift
	I5Contradictory InfoType = "I5" // contradictory
	I6MarketDerived InfoType = "I6" // purely market-derived price action
)

// SourceKind discriminates the provenance shape of a Signal without an
// inheritance hierarchy — a single flat Signal struct with this tag is
// sufficient (§9 Design Notes: Polymorphism over signal sources).
type SourceKind string

const (
	SourceNews   SourceKind = "news"
	SourceSocial SourceKind = "social"
	SourceMarket SourceKind = "market"
)

// Signal is a single piece of evidence about a market, normalized from a
// news headline or social post. Immutable once classified: the tier and
// credibility are set at collection time and never revised in place.
type Signal struct {
	SourceKind   SourceKind
	SourceTier   SourceTier
	InfoType     InfoType // unset ("") until the LM assigns it, except I6
	Text         string
	Credibility  float64
	Author       string
	Followers    int64
	Engagement   int64
	Timestamp    time.Time
	HeadlineOnly bool
}

// SourceMeta is the provenance evidence the Source Classifier inspects. It
// carries only what a collector can observe about where a signal came from,
// never the signal text itself.
type SourceMeta struct {
	Kind          SourceKind
	Handle        string // social handle or RSS author, lowercased by caller
	Domain        string // RSS/article domain, lowercased by caller
	Verified      bool
	Followers     int64
	Bio           string
	IsMarketQuote bool // true when the "signal" is actually an order-book/price read
}
