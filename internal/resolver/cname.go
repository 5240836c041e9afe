// Package resolver follows CNAME chains through the local Pi-hole and
// memoizes them in a two-level cache: an unbounded in-run map for the
// life of one cycle, and a TTL-stamped persistent store across cycles.
package resolver

import (
	"context"
	"time"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/core"
	"github.com/BPFLNALCR/pihole-autoblocker/internal/state"
	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Exchanger issues one DNS query. Satisfied by *dns.Client.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

type Options struct {
	Server    string
	CacheFile string
	TTL       time.Duration
	CacheOnly bool
	Timeout   time.Duration
	Rate      float64
}

// CNAMECache resolves and caches CNAME chains. It is not safe for
// concurrent use; the engine runs a single cycle at a time.
type CNAMECache struct {
	client    Exchanger
	opts      Options
	persisted map[string]core.CNAMEChainEntry
	session   map[string][]string
	limiter   *rate.Limiter
	logger    *zap.Logger
	now       func() time.Time
	dirty     bool
}

func NewCNAMECache(opts Options, logger *zap.Logger) *CNAMECache {
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	c := &CNAMECache{
		client:    &dns.Client{Timeout: opts.Timeout},
		opts:      opts,
		persisted: make(map[string]core.CNAMEChainEntry),
		session:   make(map[string][]string),
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
		now:       time.Now,
	}
	if opts.CacheFile != "" {
		state.Load(opts.CacheFile, &c.persisted)
	}
	return c
}

// Resolve returns up to maxDepth CNAME hops for domain, first-listed
// record at each hop. A lookup failure mid-chain returns the hops
// collected so far; it is never a hard failure. maxDepth < 1 disables
// resolution outright.
func (c *CNAMECache) Resolve(ctx context.Context, domain string, maxDepth int) []string {
	if maxDepth < 1 {
		return nil
	}
	d := core.Normalize(domain)

	if entry, ok := c.persisted[d]; ok && !entry.Expired(c.now()) {
		return entry.Chain
	}
	if chain, ok := c.session[d]; ok {
		return chain
	}

	chain := []string{}
	current := d
	for i := 0; i < maxDepth; i++ {
		target, ok := c.lookup(ctx, current)
		if !ok {
			break
		}
		chain = append(chain, target)
		current = target
	}

	c.session[d] = chain
	c.persisted[d] = core.CNAMEChainEntry{
		Chain:     chain,
		ExpiresAt: c.now().Add(c.opts.TTL).Unix(),
	}
	c.dirty = true
	return chain
}

// lookup resolves a single hop, returning the first CNAME record of the
// answer. Cache-only mode sends non-recursive queries so the resolver's
// own cache is consulted without generating fresh upstream lookups.
func (c *CNAMECache) lookup(ctx context.Context, domain string) (string, bool) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", false
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeCNAME)
	if c.opts.CacheOnly {
		m.RecursionDesired = false
	}

	r, _, err := c.client.ExchangeContext(ctx, m, c.opts.Server)
	if err != nil || r == nil {
		c.logger.Debug("CNAME lookup failed", zap.String("domain", domain), zap.Error(err))
		return "", false
	}
	for _, rr := range r.Answer {
		if cname, ok := rr.(*dns.CNAME); ok {
			return core.Normalize(cname.Target), true
		}
	}
	return "", false
}

// Persist writes the TTL-stamped cache back to disk. Expired entries are
// dropped on the way out.
func (c *CNAMECache) Persist() error {
	if c.opts.CacheFile == "" || !c.dirty {
		return nil
	}
	now := c.now()
	for d, entry := range c.persisted {
		if entry.Expired(now) {
			delete(c.persisted, d)
		}
	}
	return state.Save(c.opts.CacheFile, c.persisted)
}
