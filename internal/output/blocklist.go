// Package output composes the operator-facing artifacts: the adlist
// file Pi-hole ingests, the optional legacy mirror, and the review
// exports consumed by the review tooling.
package output

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/core"
	"go.uber.org/zap"
)

// PromotedLister returns the domains this tool has already committed to
// the blacklist, identified by the promotion comment tag.
type PromotedLister interface {
	PromotedDomains(ctx context.Context, comment string) []string
}

type Composer struct {
	blocklistPath string
	legacyPath    string
	allowPath     string
	manualPath    string
	comment       string
	promoted      PromotedLister
	logger        *zap.Logger
}

func NewComposer(blocklistPath, legacyPath, allowPath, manualPath, comment string, promoted PromotedLister, logger *zap.Logger) *Composer {
	return &Composer{
		blocklistPath: blocklistPath,
		legacyPath:    legacyPath,
		allowPath:     allowPath,
		manualPath:    manualPath,
		comment:       comment,
		promoted:      promoted,
		logger:        logger,
	}
}

// Write composes the blocklist file: operator-curated manual entries
// plus SQL-promoted domains, minus everything on the allow file, sorted
// unique. The file is rewritten every run so it never drifts from the
// database.
func (c *Composer) Write(ctx context.Context) error {
	if c.blocklistPath == "" {
		return nil
	}

	domains := make(map[string]struct{})
	for _, d := range readDomainLines(c.manualPath) {
		domains[d] = struct{}{}
	}
	if c.promoted != nil {
		for _, d := range c.promoted.PromotedDomains(ctx, c.comment) {
			domains[core.Normalize(d)] = struct{}{}
		}
	}
	for _, d := range readDomainLines(c.allowPath) {
		delete(domains, d)
	}

	sorted := make([]string, 0, len(domains))
	for d := range domains {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)

	content := strings.Join(sorted, "\n")
	if len(sorted) > 0 {
		content += "\n"
	}
	if err := os.MkdirAll(filepath.Dir(c.blocklistPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(c.blocklistPath, []byte(content), 0o644); err != nil {
		return err
	}

	c.mirrorLegacy()
	return nil
}

// mirrorLegacy keeps the old output path usable: symlink when possible,
// best-effort copy otherwise.
func (c *Composer) mirrorLegacy() {
	if c.legacyPath == "" {
		return
	}
	if _, err := os.Lstat(c.legacyPath); err == nil {
		os.Remove(c.legacyPath)
	}
	if err := os.MkdirAll(filepath.Dir(c.legacyPath), 0o755); err != nil {
		c.logger.Warn("Legacy mirror directory failed", zap.Error(err))
		return
	}
	if err := os.Symlink(c.blocklistPath, c.legacyPath); err != nil {
		data, rerr := os.ReadFile(c.blocklistPath)
		if rerr != nil {
			c.logger.Warn("Legacy mirror failed", zap.Error(err))
			return
		}
		if werr := os.WriteFile(c.legacyPath, data, 0o644); werr != nil {
			c.logger.Warn("Legacy mirror copy failed", zap.Error(werr))
		}
	}
}

// readDomainLines loads one domain per line, ignoring blanks and
// comments. Missing files are treated as empty.
func readDomainLines(path string) []string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, core.Normalize(line))
	}
	return out
}
