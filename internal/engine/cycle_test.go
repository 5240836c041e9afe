package engine

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/config"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/core"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/quarantine"
	"go.uber.org/zap"
)

type fakeSource struct {
	metrics map[string]core.TrafficMetric
}

func (f *fakeSource) FetchMetrics(context.Context, time.Duration) map[string]core.TrafficMetric {
	out := make(map[string]core.TrafficMetric, len(f.metrics))
	for k, v := range f.metrics {
		out[k] = v
	}
	return out
}

type fakeOracle struct {
	blocked map[string]bool
}

func (f *fakeOracle) IsBlocked(_ context.Context, domain string) bool {
	return f.blocked[domain]
}

type fakeSink struct {
	committed []string
}

func (f *fakeSink) Commit(_ context.Context, domain, _ string) bool {
	f.committed = append(f.committed, domain)
	return true
}

type fakeCache struct {
	chains map[string][]string
}

func (f *fakeCache) Resolve(_ context.Context, domain string, _ int) []string {
	return f.chains[domain]
}

func (f *fakeCache) Persist() error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		State: config.StateConfig{
			QuarantineFile: filepath.Join(dir, "quarantine.json"),
			EventsFile:     filepath.Join(dir, "state.json"),
			ReviewJSONFile: filepath.Join(dir, "review.json"),
			ReviewTSVFile:  filepath.Join(dir, "review.tsv"),
			LogFile:        filepath.Join(dir, "autoblocker.log"),
		},
		Thresholds: config.ThresholdConfig{
			LookbackHours:    24,
			MinHits:          10,
			MinUniqueClients: 2,
			TopNCNAME:        10,
		},
		Quarantine: config.QuarantineConfig{
			DwellHours:        12,
			PromotionMinScore: 0.90,
		},
		Heuristics: config.HeuristicConfig{
			SuspiciousSubstrings: []string{"track"},
			Allowlist:            []string{"trusted.com"},
		},
		Score: config.ScoreConfig{
			HitsK: 20, UniqK: 3, HoursK: 6,
			WeightHits: 0.4, WeightUniq: 0.3, WeightHours: 0.3,
			BoostCap: 0.6,
		},
		Pihole: config.PiholeConfig{PromotionComment: "autoblocker"},
	}
}

func newTestEngine(cfg *config.Config, source *fakeSource, oracle *fakeOracle, sink *fakeSink, cache *fakeCache, at time.Time) *Engine {
	e := New(cfg, source, oracle, sink, nil, cache, nil, nil, nil, zap.NewNop())
	e.now = func() time.Time { return at }
	return e
}

func busyTracker() map[string]core.TrafficMetric {
	return map[string]core.TrafficMetric{
		"telemetry.tracker.io": {Hits: 1000, UniqueClients: 50, ActiveHours: 24},
		"quiet.example.org":    {Hits: 3, UniqueClients: 1, ActiveHours: 2},
		"www.trusted.com":      {Hits: 500, UniqueClients: 40, ActiveHours: 24},
	}
}

func TestCycleQuarantinesAndPromotes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Heuristics.SuspiciousSubstrings = []string{"telemetry"}
	source := &fakeSource{metrics: busyTracker()}
	sink := &fakeSink{}
	t0 := time.Unix(1_700_000_000, 0)

	// Cycle 1: the busy tracker enters quarantine; nothing promotes yet.
	e := newTestEngine(cfg, source, &fakeOracle{}, sink, &fakeCache{}, t0)
	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Candidates != 1 || summary.Promoted != 0 {
		t.Fatalf("cycle 1 summary = %+v", summary)
	}

	records := quarantine.LoadRecords(cfg.State.QuarantineFile)
	rec, ok := records["telemetry.tracker.io"]
	if !ok {
		t.Fatalf("tracker not quarantined: %v", records)
	}
	if rec.Score < 0.90 {
		t.Fatalf("score %v below promotion threshold; test premise broken", rec.Score)
	}

	// Cycle 2, past the dwell period: promotes and clears the record.
	e = newTestEngine(cfg, source, &fakeOracle{}, sink, &fakeCache{}, t0.Add(13*time.Hour))
	summary, err = e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Promoted != 1 {
		t.Fatalf("cycle 2 summary = %+v", summary)
	}
	if !reflect.DeepEqual(sink.committed, []string{"telemetry.tracker.io"}) {
		t.Errorf("sink commits = %v", sink.committed)
	}
	if records := quarantine.LoadRecords(cfg.State.QuarantineFile); len(records) != 0 {
		t.Errorf("records after promotion: %v", records)
	}
	events := quarantine.LoadEvents(cfg.State.EventsFile)
	if len(events.Blocked) != 1 || events.Blocked[0].Domain != "telemetry.tracker.io" {
		t.Errorf("events = %+v", events.Blocked)
	}
}

func TestCycleIdempotentOnUnchangedInput(t *testing.T) {
	cfg := testConfig(t)
	source := &fakeSource{metrics: map[string]core.TrafficMetric{
		"pixel.track.net": {Hits: 40, UniqueClients: 4, ActiveHours: 6},
	}}
	t0 := time.Unix(1_700_000_000, 0)

	e := newTestEngine(cfg, source, &fakeOracle{}, &fakeSink{}, &fakeCache{}, t0)
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	first := quarantine.LoadRecords(cfg.State.QuarantineFile)

	// Same metrics, same clock: state must be byte-for-byte stable.
	e = newTestEngine(cfg, source, &fakeOracle{}, &fakeSink{}, &fakeCache{}, t0)
	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Promoted != 0 || summary.Evicted != 0 {
		t.Errorf("idempotent re-run produced transitions: %+v", summary)
	}
	second := quarantine.LoadRecords(cfg.State.QuarantineFile)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("records drifted on unchanged input:\n%+v\n%+v", first, second)
	}
}

func TestCycleSkipsSuppressedAndAllowlisted(t *testing.T) {
	cfg := testConfig(t)
	source := &fakeSource{metrics: map[string]core.TrafficMetric{
		"pixel.track.net":   {Hits: 40, UniqueClients: 4, ActiveHours: 6},
		"ads.track.blocked": {Hits: 90, UniqueClients: 9, ActiveHours: 9},
		"cdn.trusted.com":   {Hits: 200, UniqueClients: 30, ActiveHours: 24},
	}}
	oracle := &fakeOracle{blocked: map[string]bool{"ads.track.blocked": true}}
	t0 := time.Unix(1_700_000_000, 0)

	e := newTestEngine(cfg, source, oracle, &fakeSink{}, &fakeCache{}, t0)
	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Eligible != 2 {
		t.Errorf("eligible = %d, want 2 (suppressed domain filtered)", summary.Eligible)
	}

	records := quarantine.LoadRecords(cfg.State.QuarantineFile)
	if _, ok := records["pixel.track.net"]; !ok {
		t.Error("expected pixel.track.net quarantined")
	}
	if _, ok := records["ads.track.blocked"]; ok {
		t.Error("suppressed domain quarantined")
	}
	if _, ok := records["cdn.trusted.com"]; ok {
		t.Error("allowlisted domain quarantined")
	}
}

func TestCycleCNAMECloaking(t *testing.T) {
	cfg := testConfig(t)
	cfg.CNAME.MaxDepth = 3
	source := &fakeSource{metrics: map[string]core.TrafficMetric{
		"metrics.example.com": {Hits: 60, UniqueClients: 5, ActiveHours: 10},
	}}
	cache := &fakeCache{chains: map[string][]string{
		"metrics.example.com": {"edge.cdn.net", "collector.track.io"},
	}}
	t0 := time.Unix(1_700_000_000, 0)

	e := newTestEngine(cfg, source, &fakeOracle{}, &fakeSink{}, cache, t0)
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	records := quarantine.LoadRecords(cfg.State.QuarantineFile)
	rec, ok := records["metrics.example.com"]
	if !ok {
		t.Fatalf("cloaked domain not quarantined: %v", records)
	}
	if len(rec.Reasons) != 1 || rec.Reasons[0] != "cname_substr:collector.track.io" {
		t.Errorf("reasons = %v", rec.Reasons)
	}
}
