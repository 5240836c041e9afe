// Package engine orchestrates one quarantine cycle: ingest traffic
// metrics, filter, classify, score, update the quarantine state machine,
// and persist state plus operator artifacts. Each invocation is
// stateless; all authority lives in the persisted files.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/classify"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/config"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/core"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/metrics"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/output"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/quarantine"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/score"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricsSource supplies per-domain traffic metrics for the lookback
// window. An empty map means no data, never an error.
type MetricsSource interface {
	FetchMetrics(ctx context.Context, lookback time.Duration) map[string]core.TrafficMetric
}

// CorpusSource supplies the blocklist reference corpus for the learned
// miners.
type CorpusSource interface {
	Corpus(ctx context.Context) []string
	CorpusWithSources(ctx context.Context) []classify.CorpusEntry
}

// ChainCache is the CNAME resolution cache with end-of-cycle
// persistence.
type ChainCache interface {
	classify.ChainResolver
	Persist() error
}

type Engine struct {
	cfg       *config.Config
	source    MetricsSource
	oracle    quarantine.SuppressionOracle
	sink      quarantine.PromotionSink
	corpus    CorpusSource
	cache     ChainCache
	miner     *classify.Miner
	collector *metrics.Collector
	composer  *output.Composer
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg *config.Config, source MetricsSource, oracle quarantine.SuppressionOracle, sink quarantine.PromotionSink, corpus CorpusSource, cache ChainCache, miner *classify.Miner, collector *metrics.Collector, composer *output.Composer, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		source:    source,
		oracle:    oracle,
		sink:      sink,
		corpus:    corpus,
		cache:     cache,
		miner:     miner,
		collector: collector,
		composer:  composer,
		logger:    logger,
		now:       time.Now,
	}
}

// Summary is the one-line outcome of a cycle.
type Summary struct {
	Eligible   int
	Candidates int
	Promoted   int
	Evicted    int
	Duration   time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("Scan complete. Eligible: %d. New/updated quarantined: %d. Promoted to blacklist: %d.",
		s.Eligible, s.Candidates, s.Promoted)
}

// Run executes one full cycle. External failures degrade to empty
// results; the only errors returned are state-persistence failures.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	started := e.now()
	logger := e.logger.With(zap.String("run_id", uuid.New().String()))

	records := quarantine.LoadRecords(e.cfg.State.QuarantineFile)
	events := quarantine.LoadEvents(e.cfg.State.EventsFile)
	machine := quarantine.NewMachine(records, events, e.oracle, e.sink, quarantine.MachineOptions{
		Dwell:             e.cfg.Dwell(),
		PromotionMinScore: e.cfg.Quarantine.PromotionMinScore,
		StaleAfter:        e.cfg.StaleAfter(),
		PromotionComment:  e.cfg.Pihole.PromotionComment,
		DryRun:            e.cfg.Quarantine.DryRun,
	}, logger)

	classifier := e.buildClassifier(ctx, started)

	observed := e.source.FetchMetrics(ctx, e.cfg.Lookback())
	eligible := e.filterEligible(ctx, observed)
	candidates, reasons := e.classifyAll(ctx, classifier, eligible, observed)

	now := e.now()
	params := e.scoreParams()
	for _, d := range sortedKeys(candidates) {
		metric := observed[d]
		s := scoreOf(metric, reasons[d], params)
		machine.Observe(d, metric, s, reasons[d], now)
	}

	result := machine.Evaluate(ctx, candidates, now)

	if err := quarantine.SaveRecords(e.cfg.State.QuarantineFile, machine.Records()); err != nil {
		return Summary{}, err
	}
	if err := quarantine.SaveEvents(e.cfg.State.EventsFile, machine.Events()); err != nil {
		return Summary{}, err
	}
	if err := e.cache.Persist(); err != nil {
		logger.Warn("Failed to persist CNAME cache", zap.Error(err))
	}

	snapshot := machine.Snapshot()
	if err := output.WriteReviewJSON(e.cfg.State.ReviewJSONFile, snapshot); err != nil {
		logger.Warn("Failed to write review JSON", zap.Error(err))
	}
	if err := output.WriteReviewTSV(e.cfg.State.ReviewTSVFile, snapshot); err != nil {
		logger.Warn("Failed to write review TSV", zap.Error(err))
	}
	if e.composer != nil {
		if err := e.composer.Write(ctx); err != nil {
			logger.Warn("Failed to write blocklist artifact", zap.Error(err))
		}
	}

	summary := Summary{
		Eligible:   len(eligible),
		Candidates: len(candidates),
		Promoted:   len(result.Promoted),
		Evicted:    len(result.Evicted),
		Duration:   e.now().Sub(started),
	}

	if e.collector != nil {
		e.collector.RecordCycle(summary.Eligible, summary.Candidates, machine.Size(),
			summary.Promoted, summary.Evicted, summary.Duration.Seconds(), e.now().Unix())
		if err := e.collector.WriteTextfile(e.cfg.State.MetricsFile); err != nil {
			logger.Warn("Failed to write metrics textfile", zap.Error(err))
		}
	}

	e.appendCycleLog(summary.String())
	logger.Info("Cycle complete",
		zap.Int("eligible", summary.Eligible),
		zap.Int("candidates", summary.Candidates),
		zap.Int("promoted", summary.Promoted),
		zap.Int("evicted", summary.Evicted),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// buildClassifier assembles the read-only heuristic snapshots for this
// cycle: learned keywords (rebuilt first when stale) and family
// reputation. Corpus queries are skipped when the feature is off.
func (e *Engine) buildClassifier(ctx context.Context, now time.Time) *classify.Classifier {
	var learned []string
	if e.miner != nil {
		var corpusDomains []string
		if e.cfg.Learn.Enabled {
			corpusDomains = e.corpus.Corpus(ctx)
		}
		learned = e.miner.RebuildIfStale(corpusDomains, now).Keywords
	}

	families := map[string]struct{}{}
	if e.cfg.Heuristics.FamilyListThreshold > 0 {
		families = classify.BuildFamilies(
			e.corpus.CorpusWithSources(ctx),
			e.cfg.Heuristics.FamilyListThreshold,
		)
	}

	return classify.NewClassifier(
		e.cfg.Heuristics.Allowlist,
		e.cfg.Heuristics.SuspiciousSubstrings,
		e.cfg.Heuristics.SuspiciousTLDs,
		learned,
		families,
		e.cache,
		e.cfg.CNAME.MaxDepth,
	)
}

// filterEligible applies the traffic threshold pre-filter and the
// suppression filter, returning the surviving domains in sorted order.
func (e *Engine) filterEligible(ctx context.Context, observed map[string]core.TrafficMetric) []string {
	th := e.cfg.Thresholds
	var eligible []string
	for _, d := range sortedMetricKeys(observed) {
		m := observed[d]
		if m.Hits < th.MinHits || m.UniqueClients < th.MinUniqueClients {
			continue
		}
		if th.MinHoursActive > 0 && m.ActiveHours < th.MinHoursActive {
			continue
		}
		if e.oracle.IsBlocked(ctx, d) {
			continue
		}
		eligible = append(eligible, d)
	}
	return eligible
}

// classifyAll runs the cheap checks on every eligible domain, then the
// CNAME re-check on the top-N busiest of the rest. The volume cap bounds
// lookup cost, at the accepted price that low-traffic domains may only
// be CNAME-checked on quieter runs.
func (e *Engine) classifyAll(ctx context.Context, classifier *classify.Classifier, eligible []string, observed map[string]core.TrafficMetric) (map[string]bool, map[string][]string) {
	candidates := make(map[string]bool)
	reasons := make(map[string][]string)

	var remaining []string
	for _, d := range eligible {
		sus, tags := classifier.Classify(d)
		if sus {
			candidates[d] = true
			reasons[d] = tags
			continue
		}
		remaining = append(remaining, d)
	}

	sort.SliceStable(remaining, func(i, j int) bool {
		hi, hj := observed[remaining[i]].Hits, observed[remaining[j]].Hits
		if hi != hj {
			return hi > hj
		}
		return remaining[i] < remaining[j]
	})
	if top := e.cfg.Thresholds.TopNCNAME; top >= 0 && len(remaining) > top {
		remaining = remaining[:top]
	}
	for _, d := range remaining {
		sus, tags := classifier.ClassifyCNAME(ctx, d)
		if sus {
			candidates[d] = true
			reasons[d] = tags
		}
	}
	return candidates, reasons
}

// appendCycleLog appends the human-readable one-liner to the persistent
// log file, timestamped the way the log has always been.
func (e *Engine) appendCycleLog(msg string) {
	path := e.cfg.State.LogFile
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%s] %s\n", e.now().Format("2006-01-02T15:04:05"), msg)
}

func (e *Engine) scoreParams() score.Params {
	return score.Params{
		HitsK:       e.cfg.Score.HitsK,
		UniqK:       e.cfg.Score.UniqK,
		HoursK:      e.cfg.Score.HoursK,
		WeightHits:  e.cfg.Score.WeightHits,
		WeightUniq:  e.cfg.Score.WeightUniq,
		WeightHours: e.cfg.Score.WeightHours,
		BoostCap:    e.cfg.Score.BoostCap,
	}
}

func scoreOf(m core.TrafficMetric, reasons []string, p score.Params) float64 {
	return score.Compute(m.Hits, m.UniqueClients, m.ActiveHours, reasons, p)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedMetricKeys(m map[string]core.TrafficMetric) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
