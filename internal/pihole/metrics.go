package pihole

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/core"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// FTLSource supplies per-domain traffic metrics from Pi-hole's FTL query
// database, falling back to parsing the raw query log when the database
// is unreadable.
type FTLSource struct {
	db      *sqlx.DB
	logPath string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewFTLSource(db *sqlx.DB, logPath string, timeout time.Duration, logger *zap.Logger) *FTLSource {
	return &FTLSource{
		db:      db,
		logPath: logPath,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// FetchMetrics returns hit, unique-client and active-hour counts per
// domain over the lookback window. Reverse-DNS pseudo-domains and empty
// names are excluded at the source. Any failure yields an empty map.
func (s *FTLSource) FetchMetrics(ctx context.Context, lookback time.Duration) map[string]core.TrafficMetric {
	metrics := s.fromDatabase(ctx, lookback)
	if len(metrics) == 0 {
		metrics = s.fromLog()
	}
	return metrics
}

func (s *FTLSource) fromDatabase(ctx context.Context, lookback time.Duration) map[string]core.TrafficMetric {
	if s.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	since := s.now().Add(-lookback).Unix()
	rows, err := s.db.QueryxContext(ctx, `
		SELECT domain, COUNT(*) AS hits, COUNT(DISTINCT client) AS uniq
		FROM queries
		WHERE timestamp >= ?
		  AND domain NOT NULL
		  AND domain != ''
		  AND domain NOT LIKE '%.in-addr.arpa'
		  AND domain NOT LIKE '%.ip6.arpa'
		GROUP BY domain`, since)
	if err != nil {
		s.logger.Warn("FTL query failed, will try log fallback", zap.Error(err))
		return nil
	}
	defer rows.Close()

	out := make(map[string]core.TrafficMetric)
	for rows.Next() {
		var domain string
		var hits, uniq uint64
		if err := rows.Scan(&domain, &hits, &uniq); err != nil {
			continue
		}
		out[core.Normalize(domain)] = core.TrafficMetric{Hits: hits, UniqueClients: uniq}
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("FTL query iteration failed", zap.Error(err))
		return nil
	}

	s.fillActiveHours(ctx, since, out)
	return out
}

// fillActiveHours adds the distinct-active-hours dimension. Failure here
// leaves the hour counts at zero rather than discarding the metrics.
func (s *FTLSource) fillActiveHours(ctx context.Context, since int64, metrics map[string]core.TrafficMetric) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT domain, COUNT(DISTINCT strftime('%Y%m%d%H', datetime(timestamp,'unixepoch'))) AS hrs
		FROM queries
		WHERE timestamp >= ?
		GROUP BY domain`, since)
	if err != nil {
		s.logger.Warn("FTL active-hours query failed", zap.Error(err))
		return
	}
	defer rows.Close()

	for rows.Next() {
		var domain string
		var hrs uint64
		if err := rows.Scan(&domain, &hrs); err != nil {
			continue
		}
		d := core.Normalize(domain)
		if m, ok := metrics[d]; ok {
			m.ActiveHours = hrs
			metrics[d] = m
		}
	}
}

// fromLog derives hit and unique-client counts from the dnsmasq-format
// query log. Active hours are not recoverable from this source.
func (s *FTLSource) fromLog() map[string]core.TrafficMetric {
	if s.logPath == "" {
		return map[string]core.TrafficMetric{}
	}
	f, err := os.Open(s.logPath)
	if err != nil {
		s.logger.Warn("Query log unavailable", zap.String("path", s.logPath), zap.Error(err))
		return map[string]core.TrafficMetric{}
	}
	defer f.Close()
	return ParseQueryLog(f)
}

// ParseQueryLog accumulates per-domain counts from dnsmasq query lines
// of the form "... query[A] domain.example from 192.168.1.10".
func ParseQueryLog(r io.Reader) map[string]core.TrafficMetric {
	type agg struct {
		hits    uint64
		clients map[string]struct{}
	}
	counts := make(map[string]*agg)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, " query[") || !strings.Contains(line, " from ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			continue
		}
		domain := core.Normalize(fields[5])
		client := fields[7]
		if domain == "" || core.IsReverseLookup(domain) {
			continue
		}
		a, ok := counts[domain]
		if !ok {
			a = &agg{clients: make(map[string]struct{})}
			counts[domain] = a
		}
		a.hits++
		a.clients[client] = struct{}{}
	}

	out := make(map[string]core.TrafficMetric, len(counts))
	for d, a := range counts {
		out[d] = core.TrafficMetric{Hits: a.hits, UniqueClients: uint64(len(a.clients))}
	}
	return out
}
