package logging

import (
	"regexp"
)

// Redactor scrubs secret-looking substrings from text before it is logged
// or persisted. Upstream backends occasionally echo credentials back in
// error messages; job records and logs must never store them verbatim.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// NewRedactor creates a Redactor with the built-in patterns.
func NewRedactor() *Redactor {
	r := &Redactor{}

	add := func(expr, replacement string) {
		r.patterns = append(r.patterns, &redactPattern{
			regex:       regexp.MustCompile(expr),
			replacement: replacement,
		})
	}

	// Provider API keys (OpenAI-style sk- prefixes and generic api_key=...).
	add(`sk-[a-zA-Z0-9_-]{8,}`, "sk-***")
	add(`(?i)api[-_]?key[=:]\s*[a-zA-Z0-9_-]+`, "api_key=***")

	// Bearer tokens in echoed request headers.
	add(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]+`, "Bearer ***")

	// Passwords in echoed URLs or form bodies.
	add(`(?i)password[=:]\s*\S+`, "password=***")

	return r
}

// Redact returns s with all matching secrets replaced.
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// Truncate limits s to max runes, appending an ellipsis marker when cut.
// Upstream error messages can be arbitrarily long; job records keep a
// bounded prefix.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
