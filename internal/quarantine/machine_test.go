package quarantine

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/core"
	"go.uber.org/zap"
)

type fakeOracle struct {
	blocked map[string]bool
	asked   []string
}

func (f *fakeOracle) IsBlocked(_ context.Context, domain string) bool {
	f.asked = append(f.asked, domain)
	return f.blocked[domain]
}

type fakeSink struct {
	fail      bool
	committed []string
}

func (f *fakeSink) Commit(_ context.Context, domain, _ string) bool {
	if f.fail {
		return false
	}
	f.committed = append(f.committed, domain)
	return true
}

func testOptions() MachineOptions {
	return MachineOptions{
		Dwell:             12 * time.Hour,
		PromotionMinScore: 0.90,
		StaleAfter:        72 * time.Hour,
		PromotionComment:  "autoblocker",
	}
}

func newTestMachine(oracle *fakeOracle, sink *fakeSink, opts MachineOptions) *Machine {
	return NewMachine(nil, EventLog{}, oracle, sink, opts, zap.NewNop())
}

func TestObserveCreatesAndRefreshes(t *testing.T) {
	m := newTestMachine(&fakeOracle{}, &fakeSink{}, testOptions())
	t0 := time.Unix(1_700_000_000, 0)

	m.Observe("tracker.example.com", core.TrafficMetric{Hits: 50, UniqueClients: 5, ActiveHours: 8}, 0.95, []string{"tld"}, t0)

	rec := m.Records()["tracker.example.com"]
	if rec.FirstSeen != t0.Unix() || rec.LastSeen != t0.Unix() {
		t.Fatalf("new record timestamps = %d/%d, want both %d", rec.FirstSeen, rec.LastSeen, t0.Unix())
	}

	// Next cycle: firstSeen sticks, everything else is overwritten, not accumulated.
	t1 := t0.Add(2 * time.Hour)
	m.Observe("tracker.example.com", core.TrafficMetric{Hits: 10, UniqueClients: 2, ActiveHours: 3}, 0.40, []string{"substr:track"}, t1)

	rec = m.Records()["tracker.example.com"]
	if rec.FirstSeen != t0.Unix() {
		t.Errorf("firstSeen changed on refresh: %d", rec.FirstSeen)
	}
	if rec.LastSeen != t1.Unix() {
		t.Errorf("lastSeen = %d, want %d", rec.LastSeen, t1.Unix())
	}
	if rec.Score != 0.40 {
		t.Errorf("score = %v, want latest value 0.40", rec.Score)
	}
	if !reflect.DeepEqual(rec.Reasons, []string{"substr:track"}) {
		t.Errorf("reasons = %v, want latest cycle's reasons", rec.Reasons)
	}
}

func TestDwellGate(t *testing.T) {
	oracle := &fakeOracle{}
	sink := &fakeSink{}
	m := newTestMachine(oracle, sink, testOptions())
	t0 := time.Unix(1_700_000_000, 0)
	candidates := map[string]bool{"tracker.example.com": true}

	m.Observe("tracker.example.com", core.TrafficMetric{}, 0.95, []string{"tld"}, t0)

	// 11h in: dwell not met, even at score 0.95.
	res := m.Evaluate(context.Background(), candidates, t0.Add(11*time.Hour))
	if len(res.Promoted) != 0 {
		t.Fatalf("promoted before dwell elapsed: %v", res.Promoted)
	}
	if _, ok := m.Records()["tracker.example.com"]; !ok {
		t.Fatal("record removed before dwell elapsed")
	}

	// 13h in, still a candidate: promotes, record removed, event appended.
	res = m.Evaluate(context.Background(), candidates, t0.Add(13*time.Hour))
	if !reflect.DeepEqual(res.Promoted, []string{"tracker.example.com"}) {
		t.Fatalf("Promoted = %v", res.Promoted)
	}
	if _, ok := m.Records()["tracker.example.com"]; ok {
		t.Error("record survived promotion")
	}
	events := m.Events().Blocked
	if len(events) != 1 || events[0].Domain != "tracker.example.com" || events[0].Score != 0.95 {
		t.Errorf("events = %+v", events)
	}
	if !reflect.DeepEqual(sink.committed, []string{"tracker.example.com"}) {
		t.Errorf("sink commits = %v", sink.committed)
	}
}

func TestPromotionRequiresRenewedCandidacy(t *testing.T) {
	m := newTestMachine(&fakeOracle{}, &fakeSink{}, testOptions())
	t0 := time.Unix(1_700_000_000, 0)

	m.Observe("tracker.example.com", core.TrafficMetric{}, 0.95, []string{"tld"}, t0)

	// Past dwell but not a candidate this cycle: no promotion, record stays.
	res := m.Evaluate(context.Background(), map[string]bool{}, t0.Add(13*time.Hour))
	if len(res.Promoted) != 0 {
		t.Errorf("promoted a non-candidate: %v", res.Promoted)
	}
	if _, ok := m.Records()["tracker.example.com"]; !ok {
		t.Error("record evicted before staleness window")
	}
}

func TestPromotionScoreThreshold(t *testing.T) {
	m := newTestMachine(&fakeOracle{}, &fakeSink{}, testOptions())
	t0 := time.Unix(1_700_000_000, 0)
	candidates := map[string]bool{"tracker.example.com": true}

	m.Observe("tracker.example.com", core.TrafficMetric{}, 0.50, []string{"tld"}, t0)

	res := m.Evaluate(context.Background(), candidates, t0.Add(13*time.Hour))
	if len(res.Promoted) != 0 {
		t.Errorf("promoted below min score: %v", res.Promoted)
	}
}

func TestAlreadyBlockedDropsWithoutEvent(t *testing.T) {
	oracle := &fakeOracle{blocked: map[string]bool{"tracker.example.com": true}}
	sink := &fakeSink{}
	m := newTestMachine(oracle, sink, testOptions())
	t0 := time.Unix(1_700_000_000, 0)

	m.Observe("tracker.example.com", core.TrafficMetric{}, 0.95, []string{"tld"}, t0)
	res := m.Evaluate(context.Background(), map[string]bool{"tracker.example.com": true}, t0.Add(13*time.Hour))

	if len(res.Promoted) != 0 || len(sink.committed) != 0 {
		t.Error("already-blocked domain reached the sink")
	}
	if _, ok := m.Records()["tracker.example.com"]; ok {
		t.Error("already-blocked record not dropped")
	}
	if len(m.Events().Blocked) != 0 {
		t.Error("event logged for suppressed promotion")
	}
}

func TestSinkFailureRetainsRecord(t *testing.T) {
	sink := &fakeSink{fail: true}
	m := newTestMachine(&fakeOracle{}, sink, testOptions())
	t0 := time.Unix(1_700_000_000, 0)
	candidates := map[string]bool{"tracker.example.com": true}

	m.Observe("tracker.example.com", core.TrafficMetric{}, 0.95, []string{"tld"}, t0)
	res := m.Evaluate(context.Background(), candidates, t0.Add(13*time.Hour))

	if len(res.Promoted) != 0 {
		t.Error("failed commit reported as promotion")
	}
	if _, ok := m.Records()["tracker.example.com"]; !ok {
		t.Error("record dropped on sink failure; promotion would be forgotten")
	}
	if len(m.Events().Blocked) != 0 {
		t.Error("event logged for failed promotion")
	}

	// Sink recovers: next cycle promotes.
	sink.fail = false
	res = m.Evaluate(context.Background(), candidates, t0.Add(14*time.Hour))
	if len(res.Promoted) != 1 {
		t.Errorf("recovered sink did not promote: %v", res.Promoted)
	}
}

func TestDryRunSkipsSinkButRemovesRecord(t *testing.T) {
	sink := &fakeSink{}
	opts := testOptions()
	opts.DryRun = true
	m := newTestMachine(&fakeOracle{}, sink, opts)
	t0 := time.Unix(1_700_000_000, 0)

	m.Observe("tracker.example.com", core.TrafficMetric{}, 0.95, []string{"tld"}, t0)
	res := m.Evaluate(context.Background(), map[string]bool{"tracker.example.com": true}, t0.Add(13*time.Hour))

	if len(sink.committed) != 0 {
		t.Error("dry run reached the sink")
	}
	if len(res.Promoted) != 0 || len(m.Events().Blocked) != 0 {
		t.Error("dry run recorded a real promotion")
	}
	if _, ok := m.Records()["tracker.example.com"]; ok {
		t.Error("dry run should still remove the record")
	}
}

func TestStalenessEviction(t *testing.T) {
	m := newTestMachine(&fakeOracle{}, &fakeSink{}, testOptions())
	t0 := time.Unix(1_700_000_000, 0)

	m.Observe("gone.example.com", core.TrafficMetric{}, 0.99, []string{"tld"}, t0)

	// Within the window: kept.
	res := m.Evaluate(context.Background(), map[string]bool{}, t0.Add(72*time.Hour))
	if len(res.Evicted) != 0 {
		t.Errorf("evicted at exactly the window boundary: %v", res.Evicted)
	}

	// Past 3× lookback with no renewed candidacy: evicted despite the
	// high score, and no event is logged.
	res = m.Evaluate(context.Background(), map[string]bool{}, t0.Add(72*time.Hour+time.Minute))
	if !reflect.DeepEqual(res.Evicted, []string{"gone.example.com"}) {
		t.Fatalf("Evicted = %v", res.Evicted)
	}
	if len(m.Events().Blocked) != 0 {
		t.Error("eviction logged a promotion event")
	}
}

func TestEvaluateIdempotentOnUnchangedInput(t *testing.T) {
	m := newTestMachine(&fakeOracle{}, &fakeSink{}, testOptions())
	t0 := time.Unix(1_700_000_000, 0)
	metric := core.TrafficMetric{Hits: 50, UniqueClients: 5, ActiveHours: 8}
	candidates := map[string]bool{"tracker.example.com": true}

	m.Observe("tracker.example.com", metric, 0.85, []string{"tld"}, t0)
	m.Evaluate(context.Background(), candidates, t0)
	first := m.Records()["tracker.example.com"]

	// Same input, same clock: nothing may change.
	m.Observe("tracker.example.com", metric, 0.85, []string{"tld"}, t0)
	res := m.Evaluate(context.Background(), candidates, t0)
	if len(res.Promoted) != 0 || len(res.Evicted) != 0 {
		t.Errorf("idempotent re-run changed outcomes: %+v", res)
	}
	if !reflect.DeepEqual(m.Records()["tracker.example.com"], first) {
		t.Errorf("record changed on identical re-run")
	}
}

func TestSnapshotOrdering(t *testing.T) {
	m := newTestMachine(&fakeOracle{}, &fakeSink{}, testOptions())
	t0 := time.Unix(1_700_000_000, 0)

	m.Observe("low.example.com", core.TrafficMetric{}, 0.30, []string{"tld"}, t0)
	m.Observe("high.example.com", core.TrafficMetric{}, 0.90, []string{"tld"}, t0)
	m.Observe("mid-b.example.com", core.TrafficMetric{}, 0.50, []string{"tld"}, t0)
	m.Observe("mid-a.example.com", core.TrafficMetric{}, 0.50, []string{"tld"}, t0)

	var domains []string
	for _, it := range m.Snapshot() {
		domains = append(domains, it.Domain)
	}
	want := []string{"high.example.com", "mid-a.example.com", "mid-b.example.com", "low.example.com"}
	if !reflect.DeepEqual(domains, want) {
		t.Errorf("snapshot order = %v, want %v", domains, want)
	}
}
