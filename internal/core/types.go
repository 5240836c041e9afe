package core

import "time"

// TrafficMetric is one cycle's view of a domain's query traffic over the
// lookback window. It is produced by the metrics source, consumed by the
// classifier and scorer, and discarded at the end of the cycle.
type TrafficMetric struct {
	Hits          uint64 `json:"hits"`
	UniqueClients uint64 `json:"uniq"`
	ActiveHours   uint64 `json:"hours"`
}

// QuarantineRecord is the persistent per-domain watch entry. Score and
// reasons always reflect the most recent cycle, never an accumulation.
type QuarantineRecord struct {
	FirstSeen     int64    `json:"first_seen"`
	LastSeen      int64    `json:"last_seen"`
	Score         float64  `json:"score"`
	Reasons       []string `json:"reason"`
	Hits          uint64   `json:"hits"`
	UniqueClients uint64   `json:"uniq"`
	ActiveHours   uint64   `json:"hours"`
}

// ReviewItem is the flattened, export-facing view of a quarantine record.
type ReviewItem struct {
	Domain        string   `json:"domain"`
	Score         float64  `json:"score"`
	Reasons       []string `json:"reason"`
	FirstSeen     int64    `json:"first_seen"`
	LastSeen      int64    `json:"last_seen"`
	Hits          uint64   `json:"hits"`
	UniqueClients uint64   `json:"uniq"`
	ActiveHours   uint64   `json:"hours"`
}

// PromotionEvent records a committed promotion. The event log is
// append-only; entries are never mutated or removed.
type PromotionEvent struct {
	Domain    string  `json:"domain"`
	Timestamp int64   `json:"ts"`
	Score     float64 `json:"score"`
}

// CNAMEChainEntry is a cached CNAME chain with its expiry. An entry past
// ExpiresAt is treated as absent.
type CNAMEChainEntry struct {
	Chain     []string `json:"chain"`
	ExpiresAt int64    `json:"until"`
}

// Expired reports whether the entry is past its TTL at the given time.
func (e CNAMEChainEntry) Expired(now time.Time) bool {
	return e.ExpiresAt <= now.Unix()
}

// LearnedKeywordSet is the persisted keyword-mining artifact. It is
// rebuilt wholesale when older than the refresh TTL.
type LearnedKeywordSet struct {
	Keywords []string `json:"keywords"`
	BuiltAt  int64    `json:"built_at"`
}

// Age returns how long ago the set was built.
func (s LearnedKeywordSet) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(s.BuiltAt, 0))
}
