// Package config defines tidekv's configuration structure.
package config

import "strings"

// Sanitize returns a copy of cfg with sensitive fields masked, safe to
// pass to the logger when dumping effective configuration at startup.
func Sanitize(cfg *Config) *Config {
	sanitized := *cfg
	if sanitized.Security.EncryptionKey != "" {
		sanitized.Security.EncryptionKey = maskSecret(sanitized.Security.EncryptionKey)
	}
	return &sanitized
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
