package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credential material in log lines.
const RedactedValue = "[REDACTED]"

// plainKeys are emitted verbatim by MaskField.
var plainKeys = map[string]struct{}{
	"service":   {},
	"env":       {},
	"component": {},
	"op":        {},
	"tx_id":     {},
	"height":    {},
	"kind":      {},
	"code":      {},
	"route":     {},
	"method":    {},
	"status":    {},
	"security":  {},
	"reason":    {},
	"error":     {},
}

// sensitiveKeys are masked by the handler even when logged with slog.String.
var sensitiveKeys = map[string]struct{}{
	"authorization":   {},
	"passphrase":      {},
	"secret":          {},
	"jwt_secret":      {},
	"token":           {},
	"private_key":     {},
	"idempotency_key": {},
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// IsPlain reports whether key may be logged without masking.
func IsPlain(key string) bool {
	_, ok := plainKeys[normalizeKey(key)]
	return ok
}

// MaskValue hides non-empty values. An authorization header keeps its scheme
// so "Bearer" and "Basic" failures stay distinguishable.
func MaskValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}
	if scheme, _, ok := strings.Cut(trimmed, " "); ok && isAuthScheme(scheme) {
		return scheme + " " + RedactedValue
	}
	return RedactedValue
}

func isAuthScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "bearer", "basic":
		return true
	default:
		return false
	}
}

// MaskField returns value under key unless key is outside the plain set, in
// which case the value is masked. Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsPlain(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}

// redactSensitive masks string attributes whose key names credential material.
func redactSensitive(attr slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[normalizeKey(attr.Key)]; !ok {
		return attr
	}
	if attr.Value.Kind() != slog.KindString {
		return slog.String(attr.Key, RedactedValue)
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
