package model

// SignalTracker accumulates outcome statistics for one (source tier, info
// type, market type) combination, the unit the Adjustment Pipeline's
// signal-weighting step consults to learn which evidence shapes actually
// predict outcomes in which markets (§3, §4.6). Updates use the ADJUSTED
// prediction's correctness (invariant 6) — never raw.
type SignalTracker struct {
	Tier       SourceTier
	InfoType   InfoType
	MarketType string

	PresentWinning int
	PresentLosing  int
	AbsentWinning  int
	AbsentLosing   int
}

// Record folds one resolved candidate's outcome into this tracker. present
// indicates the (tier, info_type) combo was observed among the candidate's
// signals; correct indicates (adjusted_probability > 0.5) == outcome.
func (s *SignalTracker) Record(present, correct bool) {
	switch {
	case present && correct:
		s.PresentWinning++
	case present && !correct:
		s.PresentLosing++
	case !present && correct:
		s.AbsentWinning++
	default:
		s.AbsentLosing++
	}
}

func (s SignalTracker) presentSamples() int { return s.PresentWinning + s.PresentLosing }
func (s SignalTracker) absentSamples() int  { return s.AbsentWinning + s.AbsentLosing }

// WinratePresent is the hit rate among candidates where this signal shape
// was present, 0 with no samples.
func (s SignalTracker) WinratePresent() float64 {
	n := s.presentSamples()
	if n == 0 {
		return 0
	}
	return float64(s.PresentWinning) / float64(n)
}

// WinrateAbsent is the hit rate among candidates where this signal shape
// was absent, 0 with no samples.
func (s SignalTracker) WinrateAbsent() float64 {
	n := s.absentSamples()
	if n == 0 {
		return 0
	}
	return float64(s.AbsentWinning) / float64(n)
}

// Lift is winrate_present / winrate_absent, 1.0 (neutral) whenever either
// side has fewer than 5 samples or the absent winrate is 0 (§3).
func (s SignalTracker) Lift() float64 {
	if s.presentSamples() < 5 || s.absentSamples() < 5 {
		return 1.0
	}
	absent := s.WinrateAbsent()
	if absent == 0 {
		return 1.0
	}
	return s.WinratePresent() / absent
}

// Weight is the confidence multiplier the Adjustment Pipeline applies to a
// signal carrying this (tier, info_type) combination: clamp(1 +
// 0.3*(lift-1), 0.8, 1.2) (§3).
func (s SignalTracker) Weight() float64 {
	w := 1 + 0.3*(s.Lift()-1)
	switch {
	case w < 0.8:
		return 0.8
	case w > 1.2:
		return 1.2
	default:
		return w
	}
}
