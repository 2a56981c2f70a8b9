// Package symbols maps broker-specific trading-symbol spellings to one
// canonical symbol per instrument.
package symbols

import "strings"

// DefaultSuffixes are broker account-type suffixes observed across source
// servers, checked longest-first. The bare letter suffixes are only stripped
// when the remainder is still a plausible symbol (see minBaseLen).
var DefaultSuffixes = []string{
	".micro",
	".mini",
	".pro",
	".raw",
	".ecn",
	".std",
	".a",
	".b",
	".c",
	".e",
	".i",
	".m",
	".r",
	".x",
	"_sb",
	"-z",
	"m",
	"c",
	"z",
}

// minBaseLen guards bare-letter suffix stripping: "EURUSDm" -> "EURUSD",
// but "XAU" style short bases are never truncated further.
const minBaseLen = 6

// Canonicalizer applies a deterministic, versioned rule set:
// explicit overrides first, then longest-suffix matching, then an
// uppercased suffix-stripped heuristic as the total fallback.
type Canonicalizer struct {
	suffixes  []string // uppercased, sorted longest-first
	overrides map[string]string
	version   string
}

// Option configures a Canonicalizer.
type Option func(*Canonicalizer)

// WithOverrides sets the explicit override table for ambiguous spellings.
// Keys are matched case-insensitively against the raw input.
func WithOverrides(overrides map[string]string) Option {
	return func(c *Canonicalizer) {
		for k, v := range overrides {
			c.overrides[strings.ToUpper(k)] = strings.ToUpper(v)
		}
	}
}

// WithSuffixes replaces the default broker-suffix table.
func WithSuffixes(suffixes []string) Option {
	return func(c *Canonicalizer) {
		c.suffixes = normalizeSuffixes(suffixes)
	}
}

// WithVersion tags the rule-set version reported by Version.
func WithVersion(v string) Option {
	return func(c *Canonicalizer) {
		c.version = v
	}
}

// New creates a Canonicalizer with the default suffix table.
func New(opts ...Option) *Canonicalizer {
	c := &Canonicalizer{
		suffixes:  normalizeSuffixes(DefaultSuffixes),
		overrides: make(map[string]string),
		version:   "v1",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Version returns the deployed rule-set version. The same raw symbol always
// canonicalizes identically within one version.
func (c *Canonicalizer) Version() string {
	return c.version
}

// Canonicalize maps a raw symbol to its canonical form. Total for any
// non-empty input: unmapped symbols fall back to an uppercased,
// suffix-stripped heuristic and are reported with fallback=true so they can
// be flagged for review.
func (c *Canonicalizer) Canonicalize(raw string) (canonical string, fallback bool) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if upper == "" {
		return "", true
	}

	if mapped, ok := c.overrides[upper]; ok {
		return mapped, false
	}

	if stripped, ok := c.stripKnownSuffix(upper); ok {
		return stripped, false
	}

	// Already-clean spellings with no broker suffix are canonical as-is.
	cleaned := stripNonAlnum(upper)
	if cleaned == upper {
		return upper, false
	}

	// Fallback heuristic: drop separators and anything non-alphanumeric,
	// then retry the suffix table once on the cleaned spelling.
	if cleaned == "" {
		return upper, true
	}
	if stripped, ok := c.stripKnownSuffix(cleaned); ok {
		return stripped, true
	}
	return cleaned, true
}

func (c *Canonicalizer) stripKnownSuffix(s string) (string, bool) {
	for _, suffix := range c.suffixes {
		if !strings.HasSuffix(s, suffix) {
			continue
		}
		base := s[:len(s)-len(suffix)]
		// Dotted suffixes are unambiguous; bare ones need a plausible base.
		if !strings.HasPrefix(suffix, ".") && len(base) < minBaseLen {
			continue
		}
		if base == "" {
			continue
		}
		return stripNonAlnum(base), true
	}
	return "", false
}

func stripNonAlnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func normalizeSuffixes(suffixes []string) []string {
	out := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		out = append(out, strings.ToUpper(s))
	}
	// Longest-first so ".micro" wins over ".m" etc. Stable order for equal
	// lengths keeps the rule set deterministic.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && len(out[j]) > len(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
