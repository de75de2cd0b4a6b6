package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestRedactSensitive_AuthCatalogKey(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.Info("catalog entry touched", "key", "__auth/role:admin")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}

	val, ok := logEntry["key"].(string)
	if !ok {
		t.Fatal("expected key field in log")
	}
	if val != redactedValue {
		t.Errorf("auth catalog key should be redacted, got %q", val)
	}
}

func TestRedactSensitive_SensitiveKeyName(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		key   string
		value string
	}{
		{"password", "mysecret123"},
		{"user_password", "hunter2"},
		{"api_secret", "some-secret-value"},
		{"auth_token", "bearer-xyz"},
		{"credential", "cred123"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			buf.Reset()
			l.Info("test", tt.key, tt.value)

			var logEntry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
				t.Fatalf("failed to parse JSON log: %v", err)
			}

			val, ok := logEntry[tt.key].(string)
			if !ok {
				t.Fatalf("expected %s field in log", tt.key)
			}
			if val != redactedValue {
				t.Errorf("key %q should be redacted, got %q", tt.key, val)
			}
		})
	}
}

func TestRedactSensitive_NormalValues(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.Info("key set", "key", "users/42", "shard", "3")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}

	if got, ok := logEntry["key"].(string); !ok || got != "users/42" {
		t.Errorf("ordinary key should not be redacted, got: %v", logEntry["key"])
	}
	if got, ok := logEntry["shard"].(string); !ok || got != "3" {
		t.Errorf("shard field should not be redacted, got: %v", logEntry["shard"])
	}
}

func TestRedactSensitive_ElidesOversizedValue(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	big := strings.Repeat("x", maxLoggedValueBytes+1)
	l.Info("value written", "value", big)

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}

	val, ok := logEntry["value"].(string)
	if !ok {
		t.Fatal("expected value field in log")
	}
	if val != elidedValue {
		t.Errorf("oversized value should be elided, got %q", val)
	}
}

func TestRedactString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"auth catalog key", "__auth/role:admin", redactedValue},
		{"normal value", "normalvalue123", "normalvalue123"},
		{"oversized value", strings.Repeat("y", maxLoggedValueBytes+1), elidedValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := RedactString(tt.input); result != tt.expected {
				t.Errorf("RedactString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key       string
		sensitive bool
	}{
		{"password", true},
		{"user_password", true},
		{"PASSWORD", true},
		{"secret", true},
		{"api_secret", true},
		{"token", true},
		{"auth_token", true},
		{"credential", true},
		{"bearer", true},
		{"username", false},
		{"user_id", false},
		{"request_id", false},
		{"data", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if result := IsSensitiveKey(tt.key); result != tt.sensitive {
				t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, result, tt.sensitive)
			}
		})
	}
}
