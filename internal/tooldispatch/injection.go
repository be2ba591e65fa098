package tooldispatch

import (
	"encoding/json"
	"regexp"

	"github.com/haasonsaas/nexus/pkg/orcherr"
)

// maxParameterBytes bounds a single tool call's serialized parameters;
// exceeding it is treated as an injection attempt rather than a
// legitimate large payload, per spec.md §4.6 step 4.
const maxParameterBytes = 64 * 1024

// maxRepeatedRun is the longest run of an identical byte tolerated in a
// single string value before it is flagged as a buffer-stuffing attempt.
const maxRepeatedRun = 512

var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[\s>]`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on(error|load|click)\s*=`),
	regexp.MustCompile("[;&|`]\\s*(rm|curl|wget|nc|bash|sh|chmod|sudo)\\b"),
	regexp.MustCompile(`\$\([^)]*\)`),
	regexp.MustCompile(`\.\./\.\./`),
	regexp.MustCompile(`(?i)\bdrop\s+table\b`),
)

// scanner performs the stdlib regexp-based injection/unsafe-parameter
// scan. It is the one deliberately stdlib-only leaf in this package —
// no third-party sanitizer in the pack offers pattern matching over
// arbitrary tool parameters any more directly than regexp does.
type scanner struct {
	patterns []*regexp.Regexp
}

func newScanner() *scanner {
	return &scanner{patterns: unsafePatterns}
}

// Scan rejects a tool call's raw parameters for unsafe content: script
// injection, shell metacharacters, path traversal, oversize payloads,
// and long repeated runs that suggest buffer-stuffing.
func (s *scanner) Scan(params json.RawMessage) error {
	if len(params) > maxParameterBytes {
		return orcherr.New(orcherr.KindUnsafeParameters, "tooldispatch.injection",
			"parameters exceed the maximum allowed size")
	}

	var payload any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &payload); err != nil {
			return orcherr.New(orcherr.KindInvalidToolParameters, "tooldispatch.injection", "parameters are not valid JSON")
		}
	}

	var offending string
	walkStrings(payload, func(v string) bool {
		if s.isUnsafe(v) {
			offending = v
			return false
		}
		return true
	})
	if offending != "" {
		return orcherr.New(orcherr.KindUnsafeParameters, "tooldispatch.injection",
			"parameters contain a pattern that looks unsafe")
	}
	return nil
}

func (s *scanner) isUnsafe(v string) bool {
	for _, p := range s.patterns {
		if p.MatchString(v) {
			return true
		}
	}
	return hasLongRepeatedRun(v, maxRepeatedRun)
}

func hasLongRepeatedRun(v string, limit int) bool {
	if len(v) < limit {
		return false
	}
	run := 1
	for i := 1; i < len(v); i++ {
		if v[i] == v[i-1] {
			run++
			if run >= limit {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// walkStrings visits every string leaf in a decoded JSON value
// (objects, arrays, and scalars), stopping early if visit returns
// false.
func walkStrings(v any, visit func(string) bool) bool {
	switch t := v.(type) {
	case string:
		return visit(t)
	case []any:
		for _, e := range t {
			if !walkStrings(e, visit) {
				return false
			}
		}
	case map[string]any:
		for _, e := range t {
			if !walkStrings(e, visit) {
				return false
			}
		}
	}
	return true
}

// redactForLog trims a parameter string for safe inclusion in audit
// detail fields, avoiding multi-kilobyte log lines.
func redactForLog(s string) string {
	const max = 256
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
