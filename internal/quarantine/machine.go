// Package quarantine owns the per-domain quarantine records and their
// lifecycle: create on first suspicion, refresh every cycle the domain
// remains a candidate, promote after the dwell period at sustained high
// confidence, evict after prolonged absence.
package quarantine

import (
	"context"
	"sort"
	"time"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/core"
	"go.uber.org/zap"
)

// SuppressionOracle answers whether a domain is already blocked.
type SuppressionOracle interface {
	IsBlocked(ctx context.Context, domain string) bool
}

// PromotionSink commits a promotion decision.
type PromotionSink interface {
	Commit(ctx context.Context, domain, comment string) bool
}

type Machine struct {
	records    map[string]core.QuarantineRecord
	events     EventLog
	oracle     SuppressionOracle
	sink       PromotionSink
	dwell      time.Duration
	minScore   float64
	staleAfter time.Duration
	comment    string
	dryRun     bool
	logger     *zap.Logger
}

type MachineOptions struct {
	Dwell             time.Duration
	PromotionMinScore float64
	StaleAfter        time.Duration
	PromotionComment  string
	DryRun            bool
}

func NewMachine(records map[string]core.QuarantineRecord, events EventLog, oracle SuppressionOracle, sink PromotionSink, opts MachineOptions, logger *zap.Logger) *Machine {
	if records == nil {
		records = make(map[string]core.QuarantineRecord)
	}
	return &Machine{
		records:    records,
		events:     events,
		oracle:     oracle,
		sink:       sink,
		dwell:      opts.Dwell,
		minScore:   opts.PromotionMinScore,
		staleAfter: opts.StaleAfter,
		comment:    opts.PromotionComment,
		dryRun:     opts.DryRun,
		logger:     logger,
	}
}

// Observe records this cycle's view of a candidate domain. A new domain
// enters quarantine with firstSeen = lastSeen = now; an existing record
// keeps its firstSeen and has score, reasons and metrics overwritten
// with the latest computed values.
func (m *Machine) Observe(domain string, metric core.TrafficMetric, score float64, reasons []string, now time.Time) {
	d := core.Normalize(domain)
	ts := now.Unix()

	rec, ok := m.records[d]
	if !ok {
		rec = core.QuarantineRecord{FirstSeen: ts}
	}
	rec.LastSeen = ts
	rec.Score = score
	rec.Reasons = sortedUnique(reasons)
	rec.Hits = metric.Hits
	rec.UniqueClients = metric.UniqueClients
	rec.ActiveHours = metric.ActiveHours
	m.records[d] = rec
}

// Result summarizes one Evaluate pass.
type Result struct {
	Promoted []string
	Evicted  []string
}

// Evaluate walks every quarantined domain and applies the promote and
// staleness branches. Promotion requires the full dwell period, renewed
// candidacy this cycle, the score threshold, and confirmation that the
// domain is not already blocked. Staleness eviction is independent of
// score and fires only when the promote branch does not.
//
// A failed sink commit retains the record so the promotion retries next
// cycle; dropping it would silently forget the decision until the domain
// re-qualified from scratch.
func (m *Machine) Evaluate(ctx context.Context, candidates map[string]bool, now time.Time) Result {
	var res Result

	for _, d := range m.sortedDomains() {
		rec := m.records[d]
		age := now.Sub(time.Unix(rec.FirstSeen, 0))
		idle := now.Sub(time.Unix(rec.LastSeen, 0))

		if age >= m.dwell && candidates[d] && rec.Score >= m.minScore {
			if m.oracle.IsBlocked(ctx, d) {
				delete(m.records, d)
				continue
			}
			if m.dryRun {
				m.logger.Info("Would promote (dry run)",
					zap.String("domain", d),
					zap.Float64("score", rec.Score),
				)
				delete(m.records, d)
				continue
			}
			if !m.sink.Commit(ctx, d, m.comment) {
				m.logger.Warn("Promotion commit failed, keeping record",
					zap.String("domain", d),
				)
				continue
			}
			m.events.Blocked = append(m.events.Blocked, core.PromotionEvent{
				Domain:    d,
				Timestamp: now.Unix(),
				Score:     rec.Score,
			})
			delete(m.records, d)
			res.Promoted = append(res.Promoted, d)
			m.logger.Info("Promoted to blacklist",
				zap.String("domain", d),
				zap.Float64("score", rec.Score),
			)
			continue
		}

		if idle > m.staleAfter {
			delete(m.records, d)
			res.Evicted = append(res.Evicted, d)
			m.logger.Debug("Evicted stale quarantine record", zap.String("domain", d))
		}
	}
	return res
}

// Snapshot returns the flattened quarantine view ordered by descending
// score (domain name ascending within equal scores).
func (m *Machine) Snapshot() []core.ReviewItem {
	return SnapshotOf(m.records)
}

// SnapshotOf flattens and orders an arbitrary record map the same way.
func SnapshotOf(records map[string]core.QuarantineRecord) []core.ReviewItem {
	items := make([]core.ReviewItem, 0, len(records))
	for d, rec := range records {
		items = append(items, core.ReviewItem{
			Domain:        d,
			Score:         rec.Score,
			Reasons:       rec.Reasons,
			FirstSeen:     rec.FirstSeen,
			LastSeen:      rec.LastSeen,
			Hits:          rec.Hits,
			UniqueClients: rec.UniqueClients,
			ActiveHours:   rec.ActiveHours,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Domain < items[j].Domain
	})
	return items
}

// Records exposes the current record map for persistence.
func (m *Machine) Records() map[string]core.QuarantineRecord { return m.records }

// Events exposes the append-only promotion log for persistence.
func (m *Machine) Events() EventLog { return m.events }

// Size returns the number of quarantined domains.
func (m *Machine) Size() int { return len(m.records) }

func (m *Machine) sortedDomains() []string {
	domains := make([]string, 0, len(m.records))
	for d := range m.records {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

func sortedUnique(values []string) []string {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
