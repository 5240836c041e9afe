package pihole

import (
	"context"
	"time"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/classify"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Gravity wraps gravity.db: the suppression oracle (is this domain
// already blocked), the blocklist corpus used by the learned miners, and
// the lookup of previously promoted entries for blocklist composition.
type Gravity struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  *zap.Logger
}

func NewGravity(db *sqlx.DB, timeout time.Duration, logger *zap.Logger) *Gravity {
	return &Gravity{db: db, timeout: timeout, logger: logger}
}

// IsBlocked reports whether domain is already blocked either by an
// exact/regex blacklist entry or by any subscribed adlist. A query
// failure is answered conservatively with false so promotion is not
// silently skipped forever.
func (g *Gravity) IsBlocked(ctx context.Context, domain string) bool {
	if g.db == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var one int
	err := g.db.GetContext(ctx, &one,
		`SELECT 1 FROM domainlist WHERE domain = ? AND type IN (1,3) AND enabled = 1 LIMIT 1`, domain)
	if err == nil {
		return true
	}
	err = g.db.GetContext(ctx, &one, `SELECT 1 FROM gravity WHERE domain = ? LIMIT 1`, domain)
	return err == nil
}

// Corpus returns every adlist-sourced domain, the reference corpus for
// keyword mining. Empty on failure.
func (g *Gravity) Corpus(ctx context.Context) []string {
	if g.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var domains []string
	if err := g.db.SelectContext(ctx, &domains, `SELECT domain FROM gravity`); err != nil {
		g.logger.Warn("Gravity corpus query failed", zap.Error(err))
		return nil
	}
	return domains
}

// CorpusWithSources returns the corpus annotated with the contributing
// adlist IDs, for family-reputation building. Empty on failure.
func (g *Gravity) CorpusWithSources(ctx context.Context) []classify.CorpusEntry {
	if g.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rows, err := g.db.QueryxContext(ctx, `SELECT domain, adlist_id FROM gravity`)
	if err != nil {
		g.logger.Warn("Gravity source query failed", zap.Error(err))
		return nil
	}
	defer rows.Close()

	var entries []classify.CorpusEntry
	for rows.Next() {
		var e classify.CorpusEntry
		if err := rows.Scan(&e.Domain, &e.Source); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// PromotedDomains returns enabled blacklist entries carrying the given
// promotion comment tag, i.e. entries this tool committed earlier.
func (g *Gravity) PromotedDomains(ctx context.Context, comment string) []string {
	if g.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var domains []string
	err := g.db.SelectContext(ctx, &domains,
		`SELECT domain FROM domainlist WHERE enabled = 1 AND type IN (1,3) AND comment = ?`, comment)
	if err != nil {
		g.logger.Warn("Promoted-domain query failed", zap.Error(err))
		return nil
	}
	return domains
}
