// Command review is the operator tool over the quarantine export: list
// the current candidates, promote selected domains (or everything above
// a score threshold) to the manual block file, or release domains to the
// allow file. Batch flags only; changes regenerate the blocklist
// artifact in place.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/config"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/core"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/output"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/pihole"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/quarantine"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/state"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	var (
		top          = flag.Int("top", 20, "show the top N candidates")
		asJSON       = flag.Bool("json", false, "print the listing as JSON")
		minScore     = flag.Float64("min-score", 0, "only list candidates at or above this score")
		promoteScore = flag.Float64("promote-score", 0, "promote every candidate at or above this score")
		promote      = flag.String("promote", "", "comma-separated domains to promote")
		release      = flag.String("release", "", "comma-separated domains to release to the allowlist")
		commit       = flag.Bool("commit", false, "also commit promotions to Pi-hole, not just the manual block file")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	items := loadItems(cfg)

	toPromote := splitDomains(*promote)
	if *promoteScore > 0 {
		for _, it := range items {
			if it.Score >= *promoteScore {
				toPromote = append(toPromote, it.Domain)
			}
		}
	}
	toRelease := splitDomains(*release)

	if len(toPromote) == 0 && len(toRelease) == 0 {
		list(items, *top, *minScore, *asJSON)
		return
	}

	if len(toPromote) > 0 {
		if err := appendDomains(cfg.Output.ManualBlockFile, toPromote); err != nil {
			log.Fatalf("Failed to update manual block file: %v", err)
		}
		fmt.Printf("Promoted %d domain(s) to %s\n", len(toPromote), cfg.Output.ManualBlockFile)
		if *commit {
			commitPromotions(cfg, toPromote, logger)
		}
	}
	if len(toRelease) > 0 {
		if err := appendDomains(cfg.Output.AllowFile, toRelease); err != nil {
			log.Fatalf("Failed to update allow file: %v", err)
		}
		fmt.Printf("Released %d domain(s) to %s\n", len(toRelease), cfg.Output.AllowFile)
	}

	regenerate(cfg, logger)
}

// loadItems prefers the review export written by the last cycle and
// falls back to flattening the raw quarantine file.
func loadItems(cfg *config.Config) []core.ReviewItem {
	var items []core.ReviewItem
	if state.Load(cfg.State.ReviewJSONFile, &items) && len(items) > 0 {
		sort.Slice(items, func(i, j int) bool {
			if items[i].Score != items[j].Score {
				return items[i].Score > items[j].Score
			}
			return items[i].Domain < items[j].Domain
		})
		return items
	}
	return quarantine.SnapshotOf(quarantine.LoadRecords(cfg.State.QuarantineFile))
}

func list(items []core.ReviewItem, top int, minScore float64, asJSON bool) {
	if minScore > 0 {
		filtered := items[:0]
		for _, it := range items {
			if it.Score >= minScore {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	if top >= 0 && len(items) > top {
		items = items[:top]
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(items); err != nil {
			log.Fatalf("Failed to encode listing: %v", err)
		}
		return
	}

	fmt.Printf("%-4s %-7s %-6s %-5s %-4s %-40s %s\n", "idx", "score", "hits", "uniq", "hrs", "domain", "reason")
	fmt.Println(strings.Repeat("-", 100))
	for i, it := range items {
		fmt.Printf("%-4d %-7.3f %-6d %-5d %-4d %-40s %s\n",
			i, it.Score, it.Hits, it.UniqueClients, it.ActiveHours,
			truncate(it.Domain, 40), truncate(strings.Join(it.Reasons, ","), 40))
	}
}

func commitPromotions(cfg *config.Config, domains []string, logger *zap.Logger) {
	db, err := pihole.OpenDBWritable(cfg.Pihole.GravityDB)
	if err != nil {
		logger.Warn("Gravity database unavailable, skipping commit", zap.Error(err))
		return
	}
	defer db.Close()

	sink := pihole.NewSink(db, cfg.Pihole.CLIPath, cfg.Pihole.SQLPromotion,
		cfg.Pihole.PromotionGroup, cfg.Pihole.Timeout, logger)
	for _, d := range domains {
		if sink.Commit(context.Background(), d, cfg.Pihole.PromotionComment) {
			fmt.Printf("Committed %s\n", d)
		} else {
			fmt.Printf("Commit failed for %s\n", d)
		}
	}
}

// regenerate rewrites the blocklist artifact so promote/release actions
// take effect without waiting for the next cycle.
func regenerate(cfg *config.Config, logger *zap.Logger) {
	db, err := pihole.OpenDB(cfg.Pihole.GravityDB)
	var promoted output.PromotedLister
	if err == nil {
		defer db.Close()
		promoted = pihole.NewGravity(db, cfg.Pihole.Timeout, logger)
	}
	composer := output.NewComposer(
		cfg.Output.BlocklistFile,
		cfg.Output.LegacyOutputSymlink,
		cfg.Output.AllowFile,
		cfg.Output.ManualBlockFile,
		cfg.Pihole.PromotionComment,
		promoted,
		logger,
	)
	if err := composer.Write(context.Background()); err != nil {
		logger.Warn("Failed to rewrite blocklist artifact", zap.Error(err))
	}
}

func appendDomains(path string, domains []string) error {
	existing := make(map[string]struct{})
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			existing[core.Normalize(line)] = struct{}{}
		}
	}
	var fresh []string
	for _, d := range domains {
		d = core.Normalize(d)
		if d == "" {
			continue
		}
		if _, ok := existing[d]; ok {
			continue
		}
		existing[d] = struct{}{}
		fresh = append(fresh, d)
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(strings.Join(fresh, "\n") + "\n")
	return err
}

func splitDomains(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, d := range strings.Split(csv, ",") {
		if d = core.Normalize(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
