package logging

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// minLiteralLen keeps short env values such as "1" or "true" readable.
const minLiteralLen = 6

// Sanitizer redacts sensitive information from log messages.
type Sanitizer struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

// defaultPatterns covers credentials that show up in test-runner output:
// registry tokens from package managers, cloud keys from integration
// suites, and URLs with embedded passwords.
func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		`gh[pousr]_[A-Za-z0-9]{36}`,
		`github_pat_[A-Za-z0-9_]{60,}`,
		`npm_[A-Za-z0-9]{36}`,
		// crates.io
		`cio[A-Za-z0-9]{32}`,
		`glpat-[A-Za-z0-9_-]{20}`,
		`AKIA[0-9A-Z]{16}`,
		`(?i)aws[_-]?secret[_-]?access[_-]?key["'\s:=]+[A-Za-z0-9/+=]{40}`,
		`xox[baprs]-[0-9a-zA-Z-]{10,}`,
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		`(?i)(api[_-]?key|secret|token)["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		`(?i)password["'\s:=]+[^\s"']{8,}`,
		`(?i)[a-z][a-z0-9+.-]*://[^\s:/@]+:[^\s@]+@`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := input
	for _, lit := range s.literals {
		result = strings.ReplaceAll(result, lit, s.redacted)
	}
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns, re)
	return nil
}

// SetLiterals replaces the set of exact values to redact, such as adapter
// environment overrides. Values shorter than a few characters are ignored.
func (s *Sanitizer) SetLiterals(values []string) {
	seen := make(map[string]bool, len(values))
	lits := make([]string, 0, len(values))
	for _, v := range values {
		if len(v) < minLiteralLen || seen[v] {
			continue
		}
		seen[v] = true
		lits = append(lits, v)
	}
	// Longest first so a value containing another is redacted whole.
	sort.Slice(lits, func(i, j int) bool { return len(lits[i]) > len(lits[j]) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.literals = lits
}
