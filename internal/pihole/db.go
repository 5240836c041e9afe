// Package pihole contains the adapters around Pi-hole's own state: the
// FTL query database (traffic metrics), gravity.db (suppression checks,
// blocklist corpus, SQL promotion) and the pihole CLI. Every external
// call is timeout-bounded and collapses failure into an empty result;
// nothing in this package aborts a cycle.
package pihole

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// OpenDB opens a Pi-hole sqlite database read-only. The databases are
// owned and migrated by Pi-hole itself; this process never writes schema.
func OpenDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_time_format=sqlite", path))
	if err != nil {
		return nil, fmt.Errorf("pihole: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// OpenDBWritable opens gravity.db for the SQL promotion path.
func OpenDBWritable(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", fmt.Sprintf("file:%s?_time_format=sqlite", path))
	if err != nil {
		return nil, fmt.Errorf("pihole: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
