package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/core"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/state"
)

// WriteReviewJSON exports the quarantine snapshot (already ordered by
// descending score) as a JSON array for the review tooling.
func WriteReviewJSON(path string, items []core.ReviewItem) error {
	if path == "" {
		return nil
	}
	return state.Save(path, items)
}

// WriteReviewTSV exports the same snapshot as a tab-separated table for
// quick terminal inspection.
func WriteReviewTSV(path string, items []core.ReviewItem) error {
	if path == "" {
		return nil
	}
	var b strings.Builder
	b.WriteString("domain\tscore\treason\tfirst_seen\tlast_seen\thits\tuniq\thours\n")
	for _, it := range items {
		fmt.Fprintf(&b, "%s\t%.3f\t%s\t%d\t%d\t%d\t%d\t%d\n",
			it.Domain,
			it.Score,
			strings.Join(it.Reasons, ","),
			it.FirstSeen,
			it.LastSeen,
			it.Hits,
			it.UniqueClients,
			it.ActiveHours,
		)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
