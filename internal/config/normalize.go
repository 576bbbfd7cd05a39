package config

import (
	"regexp"
	"strings"
)

// DefaultName replaces names that normalize to nothing.
const DefaultName = "default"

var (
	validNameRe  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	leadingDash  = regexp.MustCompile(`^-+`)
	trailingDash = regexp.MustCompile(`-+$`)
)

// NormalizeName turns a user-provided store, namespace or key prefix into a
// safe identifier: lowercase, at most 64 chars of [a-z0-9_-], runs of other
// characters collapsed to "-", no leading or trailing dashes. Empty input or
// output yields DefaultName.
func NormalizeName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultName
	}

	lower := strings.ToLower(trimmed)
	if validNameRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = leadingDash.ReplaceAllString(result, "")
	result = trailingDash.ReplaceAllString(result, "")

	if len(result) > 64 {
		result = trailingDash.ReplaceAllString(result[:64], "")
	}

	if result == "" {
		return DefaultName
	}
	return result
}
