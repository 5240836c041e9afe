package classify

import (
	"sort"
	"strings"
	"time"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/core"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/state"
	"go.uber.org/zap"
)

const minTokenLen = 3

// Miner derives suspicious substrings from a reference domain corpus
// (the aggregated blocklist contents). The artifact is rebuilt wholesale
// once it is older than the refresh TTL, never incrementally.
type Miner struct {
	path       string
	refresh    time.Duration
	minSupport int
	maxKW      int
	stopwords  map[string]struct{}
	enabled    bool
	logger     *zap.Logger
}

func NewMiner(path string, refresh time.Duration, minSupport, maxKeywords int, stopwords []string, enabled bool, logger *zap.Logger) *Miner {
	stop := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		stop[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return &Miner{
		path:       path,
		refresh:    refresh,
		minSupport: minSupport,
		maxKW:      maxKeywords,
		stopwords:  stop,
		enabled:    enabled,
		logger:     logger,
	}
}

// Load returns the current artifact, or an empty set when mining is
// disabled or no artifact exists yet.
func (m *Miner) Load() core.LearnedKeywordSet {
	var set core.LearnedKeywordSet
	if !m.enabled || m.path == "" {
		return set
	}
	state.Load(m.path, &set)
	return set
}

// RebuildIfStale re-mines the keyword set from corpus when the persisted
// artifact is older than the refresh TTL. A fresh artifact or disabled
// miner is a no-op.
func (m *Miner) RebuildIfStale(corpus []string, now time.Time) core.LearnedKeywordSet {
	existing := m.Load()
	if !m.enabled || m.path == "" {
		return existing
	}
	if existing.BuiltAt > 0 && existing.Age(now) < m.refresh {
		return existing
	}
	if len(corpus) == 0 {
		return existing
	}

	rebuilt := core.LearnedKeywordSet{
		Keywords: m.mine(corpus),
		BuiltAt:  now.Unix(),
	}
	if err := state.Save(m.path, rebuilt); err != nil {
		m.logger.Warn("Failed to persist learned keywords", zap.Error(err))
		return existing
	}
	m.logger.Info("Rebuilt learned keywords",
		zap.Int("keywords", len(rebuilt.Keywords)),
		zap.Int("corpus_size", len(corpus)),
	)
	return rebuilt
}

// mine tokenizes every corpus domain on dots and keeps tokens that recur
// across at least minSupport distinct second-level families. Family
// support, not raw frequency, is the anti-overfitting guard: a thousand
// subdomains of one tracker count as a single family.
func (m *Miner) mine(corpus []string) []string {
	support := make(map[string]map[string]struct{})
	for _, dom := range corpus {
		d := core.Normalize(dom)
		if d == "" {
			continue
		}
		fam := core.Family(d)
		for _, tok := range strings.Split(d, ".") {
			if len(tok) < minTokenLen {
				continue
			}
			if _, stopped := m.stopwords[tok]; stopped {
				continue
			}
			fams, ok := support[tok]
			if !ok {
				fams = make(map[string]struct{})
				support[tok] = fams
			}
			fams[fam] = struct{}{}
		}
	}

	candidates := make([]string, 0, len(support))
	for tok, fams := range support {
		if len(fams) >= m.minSupport {
			candidates = append(candidates, tok)
		}
	}
	// Descending support, lexicographic within ties, so truncation is
	// deterministic for identical input.
	sort.Slice(candidates, func(i, j int) bool {
		si, sj := len(support[candidates[i]]), len(support[candidates[j]])
		if si != sj {
			return si > sj
		}
		return candidates[i] < candidates[j]
	})
	if len(candidates) > m.maxKW {
		candidates = candidates[:m.maxKW]
	}
	return candidates
}
