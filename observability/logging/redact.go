package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces short sensitive values in logs.
const RedactedValue = "[REDACTED]"

// abbreviateMin is the shortest value that is shortened rather than fully
// redacted. Bech32 account addresses are well above it.
const abbreviateMin = 16

var plainKeys = map[string]struct{}{
	"service":    {},
	"env":        {},
	"error":      {},
	"module":     {},
	"request_id": {},
	"method":     {},
	"route":      {},
	"status":     {},
	"loan_id":    {},
}

// IsAllowlisted reports whether values under key are logged verbatim.
func IsAllowlisted(key string) bool {
	_, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField hides value unless key is allowlisted. Long values such as
// account addresses keep their first eight and last four characters so log
// lines stay correlatable; shorter ones are replaced entirely.
func MaskField(key, value string) slog.Attr {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	if len(trimmed) >= abbreviateMin {
		return slog.String(key, trimmed[:8]+"…"+trimmed[len(trimmed)-4:])
	}
	return slog.String(key, RedactedValue)
}
