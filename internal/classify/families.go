package classify

import "github.com/BPFLNALCR/pihole-autoblocker/internal/core"

// CorpusEntry is one blocklisted domain together with the identifier of
// the list source that contributed it.
type CorpusEntry struct {
	Domain string
	Source int64
}

// BuildFamilies returns the set of second-level families corroborated by
// at least threshold distinct list sources. Reputation is earned through
// independent-source overlap, not raw listing volume. A threshold of
// zero or less disables the heuristic entirely.
func BuildFamilies(entries []CorpusEntry, threshold int) map[string]struct{} {
	fams := make(map[string]struct{})
	if threshold <= 0 {
		return fams
	}
	sources := make(map[string]map[int64]struct{})
	for _, e := range entries {
		d := core.Normalize(e.Domain)
		if d == "" {
			continue
		}
		fam := core.Family(d)
		ids, ok := sources[fam]
		if !ok {
			ids = make(map[int64]struct{})
			sources[fam] = ids
		}
		ids[e.Source] = struct{}{}
	}
	for fam, ids := range sources {
		if len(ids) >= threshold {
			fams[fam] = struct{}{}
		}
	}
	return fams
}
