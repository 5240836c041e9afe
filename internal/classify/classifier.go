// Package classify holds the tiered heuristic verdict logic: cheap
// lexical checks, learned keywords, suspicious TLDs, family reputation,
// and CNAME-chain re-checks for domains that pass everything else.
package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/BPFLNALCR/pihole-autoblocker/internal/core"
)

// ChainResolver resolves a domain's CNAME chain up to maxDepth hops.
type ChainResolver interface {
	Resolve(ctx context.Context, domain string, maxDepth int) []string
}

// Classifier evaluates one domain against the configured and learned
// suspicion signals. The learned keyword and family snapshots are fixed
// for the classifier's lifetime; a new cycle builds a new classifier.
type Classifier struct {
	allowlist  []string
	substrings []string
	tlds       []string
	learned    []string
	families   map[string]struct{}
	resolver   ChainResolver
	maxDepth   int
}

func NewClassifier(allowlist, substrings, tlds, learned []string, families map[string]struct{}, resolver ChainResolver, cnameMaxDepth int) *Classifier {
	lowered := make([]string, 0, len(substrings))
	for _, s := range substrings {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			lowered = append(lowered, s)
		}
	}
	return &Classifier{
		allowlist:  allowlist,
		substrings: lowered,
		tlds:       tlds,
		learned:    learned,
		families:   families,
		resolver:   resolver,
		maxDepth:   cnameMaxDepth,
	}
}

// Classify runs the cheap checks only, ordered cheapest first. An
// allowlist match wins over every other signal.
func (c *Classifier) Classify(domain string) (bool, []string) {
	d := core.Normalize(domain)
	if core.SuffixMatch(d, c.allowlist) {
		return false, []string{"allowlist"}
	}

	var reasons []string
	for _, ss := range c.substrings {
		if strings.Contains(d, ss) {
			reasons = append(reasons, "substr:"+ss)
			break
		}
	}
	for _, tok := range c.learned {
		if strings.Contains(d, tok) {
			reasons = append(reasons, "learn:"+tok)
			break
		}
	}
	if core.SuffixMatch(d, c.tlds) {
		reasons = append(reasons, "tld")
	}
	if _, ok := c.families[core.Family(d)]; ok {
		reasons = append(reasons, "fam:"+core.Family(d))
	}
	return len(reasons) > 0, reasons
}

// ClassifyCNAME resolves the domain's CNAME chain and re-applies the
// cheap checks to every hop. An allow match anywhere in the chain clears
// the domain. Chain resolution is the expensive step; callers bound how
// many domains reach it.
func (c *Classifier) ClassifyCNAME(ctx context.Context, domain string) (bool, []string) {
	if c.maxDepth < 1 || c.resolver == nil {
		return false, nil
	}
	for _, hop := range c.resolver.Resolve(ctx, domain, c.maxDepth) {
		hop = core.Normalize(hop)
		if core.SuffixMatch(hop, c.allowlist) {
			return false, []string{"cname_allowlist"}
		}
		for _, ss := range c.substrings {
			if strings.Contains(hop, ss) {
				return true, []string{"cname_substr:" + hop}
			}
		}
		for _, tok := range c.learned {
			if strings.Contains(hop, tok) {
				return true, []string{"cname_learn:" + hop}
			}
		}
		if core.SuffixMatch(hop, c.tlds) {
			return true, []string{"cname_tld:" + hop}
		}
		if fam := core.Family(hop); c.hasFamily(fam) {
			return true, []string{fmt.Sprintf("cname_fam:%s", fam)}
		}
	}
	return false, nil
}

func (c *Classifier) hasFamily(fam string) bool {
	_, ok := c.families[fam]
	return ok
}
