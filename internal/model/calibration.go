package model

import "math"

// CalibrationRanges are the six fixed probability buckets the Bayesian
// calibration layer tracks (§3). A value in [0.50, 1.00] falls in exactly
// one: each range includes its lower bound, and the last also includes 1.00.
var CalibrationRanges = [][2]float64{
	{0.50, 0.60},
	{0.60, 0.70},
	{0.70, 0.80},
	{0.80, 0.90},
	{0.90, 0.95},
	{0.95, 1.00},
}

// CalibrationBucket tracks Beta(alpha, beta) posterior counts for one
// probability range. Alpha and Beta start at 1 (uniform prior) and are
// incremented by resolution outcomes (§4.2).
type CalibrationBucket struct {
	RangeLo float64
	RangeHi float64
	Alpha   float64
	Beta    float64
}

// ExpectedAccuracy is the posterior mean, alpha/(alpha+beta).
func (b CalibrationBucket) ExpectedAccuracy() float64 {
	return b.Alpha / (b.Alpha + b.Beta)
}

// SampleCount is the number of resolved outcomes folded into this bucket,
// floor(alpha+beta-2) since the prior contributes exactly 1 to each.
func (b CalibrationBucket) SampleCount() int {
	n := math.Floor(b.Alpha + b.Beta - 2)
	if n < 0 {
		return 0
	}
	return int(n)
}

// Uncertainty is the width of the 95% central interval of Beta(alpha, beta),
// approximated via the normal approximation to the Beta distribution since
// the module avoids a special-functions dependency: stddev = sqrt(ab /
// ((a+b)^2 (a+b+1))), and the 95% central interval width is ~ 2*1.96*stddev
// clamped to [0, 1].
func (b CalibrationBucket) Uncertainty() float64 {
	a, bb := b.Alpha, b.Beta
	n := a + bb
	variance := (a * bb) / (n * n * (n + 1))
	stddev := math.Sqrt(variance)
	width := 2 * 1.96 * stddev
	if width > 1 {
		return 1
	}
	if width < 0 {
		return 0
	}
	return width
}

// Correction is the confidence adjustment this bucket contributes: the gap
// between observed accuracy and the bucket's nominal midpoint, damped by
// how uncertain that observation still is. Zero until the bucket has at
// least 10 resolved samples (§4.2).
func (b CalibrationBucket) Correction() float64 {
	if b.SampleCount() < 10 {
		return 0
	}
	midpoint := (b.RangeLo + b.RangeHi) / 2
	damp := 1 - 2*b.Uncertainty()
	if damp < 0 {
		damp = 0
	}
	return (b.ExpectedAccuracy() - midpoint) * damp
}

// Update folds one resolved outcome into this bucket's Beta posterior,
// weighted by w (typically a recency decay, §4.9 step 2). correct is
// (raw_probability > 0.5) == outcome.
func (b *CalibrationBucket) Update(correct bool, w float64) {
	if correct {
		b.Alpha += w
	} else {
		b.Beta += w
	}
}

// BucketForProbability returns the index into CalibrationRanges containing
// p, clamping p=1.0 into the final (inclusive) bucket. A p below 0.50,
// which no range contains, also gets the final bucket's index.
func BucketForProbability(p float64) int {
	for i, r := range CalibrationRanges {
		if p >= r[0] && p < r[1] {
			return i
		}
	}
	return len(CalibrationRanges) - 1
}
