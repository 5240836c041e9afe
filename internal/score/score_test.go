package score

import (
	"math"
	"testing"
)

func TestComputeReferenceScenario(t *testing.T) {
	// hits=50, uniq=5, hours=8 with k=20/3/6 and weights .4/.3/.3:
	// base = .4*(50/70) + .3*(5/8) + .3*(8/14) ≈ 0.645, plus tld boost 0.20.
	got := Compute(50, 5, 8, []string{"tld"}, DefaultParams())
	want := 0.845
	if math.Abs(got-want) > 0.005 {
		t.Errorf("Compute() = %.4f, want ≈ %.3f", got, want)
	}
}

func TestComputeStaysInUnitInterval(t *testing.T) {
	tests := []struct {
		name    string
		hits    uint64
		uniq    uint64
		hours   uint64
		reasons []string
	}{
		{name: "zero traffic", hits: 0, uniq: 0, hours: 0, reasons: nil},
		{name: "huge traffic", hits: 1 << 40, uniq: 1 << 30, hours: 1 << 20, reasons: nil},
		{name: "huge traffic all boosts", hits: 1 << 40, uniq: 1 << 30, hours: 1 << 20,
			reasons: []string{"substr:track", "learn:ads", "tld", "fam:x.com", "cname_substr:a", "cname_tld:b"}},
		{name: "boosts only", hits: 0, uniq: 0, hours: 0,
			reasons: []string{"substr:track", "tld", "fam:x.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.hits, tt.uniq, tt.hours, tt.reasons, DefaultParams())
			if got < 0 || got > 1 {
				t.Errorf("Compute() = %v, outside [0,1]", got)
			}
		})
	}
}

func TestComputeDeterministic(t *testing.T) {
	reasons := []string{"substr:metrics", "tld"}
	first := Compute(120, 7, 13, reasons, DefaultParams())
	for i := 0; i < 10; i++ {
		if got := Compute(120, 7, 13, reasons, DefaultParams()); got != first {
			t.Fatalf("Compute() not deterministic: %v != %v", got, first)
		}
	}
}

func TestBoostCap(t *testing.T) {
	// With no traffic, the score is pure booster and must not exceed the cap.
	reasons := []string{"substr:a", "learn:b", "tld", "fam:c.com", "cname_substr:d", "cname_tld:e"}
	got := Compute(0, 0, 0, reasons, DefaultParams())
	if got > DefaultParams().BoostCap {
		t.Errorf("boost-only score %v exceeds cap %v", got, DefaultParams().BoostCap)
	}
}

func TestCNAMEBoostsAtLeastDirect(t *testing.T) {
	pairs := []struct{ direct, cname string }{
		{direct: "substr:track", cname: "cname_substr:track.evil.com"},
		{direct: "learn:ads", cname: "cname_learn:ads.evil.com"},
		{direct: "tld", cname: "cname_tld:evil.xyz"},
		{direct: "fam:evil.com", cname: "cname_fam:evil.com"},
	}
	for _, p := range pairs {
		d := Compute(0, 0, 0, []string{p.direct}, DefaultParams())
		c := Compute(0, 0, 0, []string{p.cname}, DefaultParams())
		if c < d {
			t.Errorf("cname tag %q boost %v below direct %q boost %v", p.cname, c, p.direct, d)
		}
	}
}

func TestAllowlistTagContributesNothing(t *testing.T) {
	plain := Compute(50, 5, 8, nil, DefaultParams())
	allow := Compute(50, 5, 8, []string{"allowlist"}, DefaultParams())
	if plain != allow {
		t.Errorf("allowlist tag changed score: %v != %v", allow, plain)
	}
}
