package core

import "strings"

// Normalize canonicalizes a domain name for use as a state key:
// lowercase, surrounding whitespace removed, no trailing dot.
func Normalize(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

// SuffixMatch reports whether domain exactly matches or falls under any
// entry in suffixes. Entries may carry a leading "*" wildcard marker,
// which is stripped before matching. Empty entries are skipped.
func SuffixMatch(domain string, suffixes []string) bool {
	d := Normalize(domain)
	for _, s := range suffixes {
		s = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(s)), "*")
		if s == "" {
			continue
		}
		if d == s || strings.HasSuffix(d, "."+s) || strings.HasSuffix(d, s) {
			return true
		}
	}
	return false
}

// Family returns the second-level "family" of a domain: its last two
// dot-separated labels, or the whole domain when it has fewer than two.
func Family(domain string) string {
	d := strings.Trim(Normalize(domain), ".")
	labels := strings.Split(d, ".")
	if len(labels) < 2 {
		return d
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// IsReverseLookup reports whether the domain is a reverse-DNS
// pseudo-domain, which the pipeline never classifies.
func IsReverseLookup(domain string) bool {
	d := Normalize(domain)
	return strings.HasSuffix(d, ".in-addr.arpa") || strings.HasSuffix(d, ".ip6.arpa")
}
