package logging

import (
	"regexp"
	"strings"
)

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// DefaultPreviewLength is the number of runes of message text that log lines carry.
const DefaultPreviewLength = 48

// Setting names whose values never reach the logs.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"credential",
	"private_key",
	"dsn",
}

// Chat text routinely carries pasted credentials.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9]{20,})`),
	regexp.MustCompile(`(?i)(ghp_[a-zA-Z0-9]{36})`),
	regexp.MustCompile(`(?i)(github_pat_[a-zA-Z0-9]{22}_[a-zA-Z0-9]+)`),
	regexp.MustCompile(`(?i)(AIza[a-zA-Z0-9_-]{35})`),
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`(?i)(key|token|secret|password)[=:]["']?([a-zA-Z0-9+/=_-]{16,})["']?`),
}

// Redact replaces secrets in s.
func Redact(s string) string {
	for _, pattern := range secretPatterns {
		s = pattern.ReplaceAllString(s, RedactedValue)
	}
	return s
}

// Preview returns message text fit for a log line: redacted, on one line and
// cut to max runes. A non-positive max uses DefaultPreviewLength.
func Preview(text string, max int) string {
	if max <= 0 {
		max = DefaultPreviewLength
	}
	text = strings.Join(strings.Fields(Redact(text)), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}

// RedactSettings returns a copy of a nested settings map with sensitive
// values replaced, e.g. before logging the effective configuration.
func RedactSettings(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case IsSensitiveField(k):
			result[k] = RedactedValue
		default:
			switch val := v.(type) {
			case map[string]any:
				result[k] = RedactSettings(val)
			case string:
				result[k] = Redact(val)
			default:
				result[k] = v
			}
		}
	}
	return result
}

// IsSensitiveField checks if a setting name is considered sensitive.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}
