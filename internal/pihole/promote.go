package pihole

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Sink commits promotion decisions to Pi-hole. The SQL path inserts
// directly into gravity.db (and reloads FTL's lists); the CLI path
// shells out to `pihole -b`. Commit reports success or failure only:
// there are no partial-commit semantics.
type Sink struct {
	db           *sqlx.DB
	cliPath      string
	sqlPromotion bool
	group        string
	timeout      time.Duration
	logger       *zap.Logger
}

func NewSink(db *sqlx.DB, cliPath string, sqlPromotion bool, group string, timeout time.Duration, logger *zap.Logger) *Sink {
	return &Sink{
		db:           db,
		cliPath:      cliPath,
		sqlPromotion: sqlPromotion,
		group:        group,
		timeout:      timeout,
		logger:       logger,
	}
}

func (s *Sink) Commit(ctx context.Context, domain, comment string) bool {
	if s.sqlPromotion {
		if s.sqlPromote(ctx, domain, comment) {
			return true
		}
		s.logger.Warn("SQL promotion failed, falling back to CLI", zap.String("domain", domain))
	}
	return s.cliPromote(ctx, domain)
}

// sqlPromote inserts an exact blacklist entry tied to the configured
// group, then asks FTL to reload its lists so the entry takes effect.
func (s *Sink) sqlPromote(ctx context.Context, domain, comment string) bool {
	if s.db == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.Warn("Promotion transaction failed", zap.Error(err))
		return false
	}
	defer tx.Rollback()

	var groupID int64
	if err := tx.GetContext(ctx, &groupID,
		`SELECT id FROM 'group' WHERE name = ? AND enabled = 1`, s.group); err != nil {
		s.logger.Warn("Promotion group not found", zap.String("group", s.group), zap.Error(err))
		return false
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO domainlist (type, domain, enabled, comment, date_added, date_modified)
		VALUES (1, ?, 1, ?, strftime('%s','now'), strftime('%s','now'))`, domain, comment)
	if err != nil {
		s.logger.Warn("Blacklist insert failed", zap.String("domain", domain), zap.Error(err))
		return false
	}
	entryID, err := res.LastInsertId()
	if err != nil {
		return false
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO domainlist_by_group (domainlist_id, group_id) VALUES (?, ?)`,
		entryID, groupID); err != nil {
		return false
	}
	if err := tx.Commit(); err != nil {
		return false
	}

	s.reloadLists(ctx)
	return true
}

func (s *Sink) cliPromote(ctx context.Context, domain string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.cliPath, "-b", domain)
	if out, err := cmd.CombinedOutput(); err != nil {
		s.logger.Warn("pihole -b failed",
			zap.String("domain", domain),
			zap.String("output", string(out)),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (s *Sink) reloadLists(ctx context.Context) {
	cmd := exec.CommandContext(ctx, s.cliPath, "restartdns", "reload-lists")
	if err := cmd.Run(); err != nil {
		s.logger.Warn("List reload failed", zap.Error(fmt.Errorf("%s restartdns: %w", s.cliPath, err)))
	}
}
