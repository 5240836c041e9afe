// Package score turns one cycle's traffic metrics and classifier reason
// tags into a confidence value in [0,1]. It is a pure function of its
// inputs so repeated cycles over unchanged data produce identical scores.
package score

import "strings"

type Params struct {
	HitsK       float64
	UniqK       float64
	HoursK      float64
	WeightHits  float64
	WeightUniq  float64
	WeightHours float64
	BoostCap    float64
}

func DefaultParams() Params {
	return Params{
		HitsK:       20,
		UniqK:       3,
		HoursK:      6,
		WeightHits:  0.4,
		WeightUniq:  0.3,
		WeightHours: 0.3,
		BoostCap:    0.6,
	}
}

// Per-reason booster increments. CNAME-derived tags weigh at least as
// much as their direct counterparts so cloaked trackers are not scored
// below plainly visible ones.
const (
	boostSubstr     = 0.25
	boostLearned    = 0.15
	boostTLD        = 0.20
	boostFamily     = 0.15
	boostCNAMEOther = 0.20
)

// Compute blends saturating-normalized traffic metrics with heuristic
// boosters and clamps to [0,1].
func Compute(hits, uniq, hours uint64, reasons []string, p Params) float64 {
	base := p.WeightHits*saturate(float64(hits), p.HitsK) +
		p.WeightUniq*saturate(float64(uniq), p.UniqK) +
		p.WeightHours*saturate(float64(hours), p.HoursK)

	boost := 0.0
	for _, r := range reasons {
		boost += boostFor(r)
	}
	if boost > p.BoostCap {
		boost = p.BoostCap
	}

	return clamp(base+boost, 0, 1)
}

func boostFor(reason string) float64 {
	switch {
	case strings.HasPrefix(reason, "substr:"), strings.HasPrefix(reason, "cname_substr"):
		return boostSubstr
	case strings.HasPrefix(reason, "learn:"):
		return boostLearned
	case reason == "tld", strings.HasPrefix(reason, "cname_tld"):
		return boostTLD
	case strings.HasPrefix(reason, "fam:"), strings.HasPrefix(reason, "cname_fam"):
		return boostFamily
	case strings.HasPrefix(reason, "cname_"):
		return boostCNAMEOther
	}
	return 0
}

// saturate squashes x into [0,1) with diminishing returns around the
// half-saturation constant k, bounding the influence of outlier talkers.
func saturate(x, k float64) float64 {
	if x <= 0 || x+k == 0 {
		return 0
	}
	return x / (x + k)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
