// Package logger provides structured logging for tidekv.
package logger

import (
	"log/slog"
	"strings"
)

// authKeyPrefix mirrors authcatalog.Prefix. It is duplicated here rather
// than imported so the ambient logging package never depends on a domain
// package; the two must be kept in sync.
const authKeyPrefix = "__auth/"

// maxLoggedValueBytes bounds how much of a raw value is ever written to a
// log line (§10.1): anything longer is elided, never the whole record.
const maxLoggedValueBytes = 256

// Sensitive key name patterns: any attribute whose key contains one of
// these is fully redacted regardless of its value.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"credential",
	"bearer",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// elidedValue is the placeholder for a value elided only for size.
const elidedValue = "***ELIDED***"

// redactSensitive checks if an attribute contains sensitive data (an auth
// catalog key or value, or a key name matching a sensitive pattern) and
// redacts it, or elides it if it is merely oversized.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		strVal := a.Value.String()

		if strings.HasPrefix(strVal, authKeyPrefix) {
			return slog.String(a.Key, redactedValue)
		}

		keyLower := strings.ToLower(a.Key)
		for _, pattern := range sensitiveKeyPatterns {
			if strings.Contains(keyLower, pattern) {
				if strVal != "" {
					return slog.String(a.Key, redactedValue)
				}
				break
			}
		}

		if len(strVal) > maxLoggedValueBytes {
			return slog.String(a.Key, elidedValue)
		}
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}

	return a
}

// RedactString manually redacts a string value before logging it outside
// the ReplaceAttr hook (e.g. when building an error message).
func RedactString(value string) string {
	if strings.HasPrefix(value, authKeyPrefix) {
		return redactedValue
	}
	if len(value) > maxLoggedValueBytes {
		return elidedValue
	}
	return value
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}
