package usecase

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

type excludeRule struct {
	raw  string
	glob glob.Glob
}

// Excluder matches paths against a job's exclusion patterns. A pattern
// excludes a path when it equals the base name, when it contains '*' and
// globs the base name, or when it occurs anywhere in the full path.
type Excluder struct {
	rules []excludeRule
}

func NewExcluder(patterns []string) *Excluder {
	e := &Excluder{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		rule := excludeRule{raw: p}
		if strings.Contains(p, "*") {
			if g, err := glob.Compile(p); err == nil {
				rule.glob = g
			}
		}
		e.rules = append(e.rules, rule)
	}
	return e
}

func (e *Excluder) Match(path string) bool {
	if e == nil {
		return false
	}
	base := filepath.Base(path)
	for _, r := range e.rules {
		if base == r.raw {
			return true
		}
		if r.glob != nil && r.glob.Match(base) {
			return true
		}
		if strings.Contains(path, r.raw) {
			return true
		}
	}
	return false
}
