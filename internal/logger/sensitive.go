package logger

import (
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// sensitiveDataPatterns match credentials embedded in free-form values such as
// shoutrrr service URLs, MQTT broker URLs and OAuth tokens.
var sensitiveDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((api|access|refresh|token|secret|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)([^;,\s&]{5,})`),
	regexp.MustCompile(`([a-z][a-z0-9+.-]*://[^:/@\s]*:)([^@\s]+)(@)`),
}

var sensitiveKeywords = []string{
	"password", "passwd", "secret", "credential", "token", "api_key", "apikey", "authorization",
}

// RedactSensitiveData replaces credentials in input with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for i, pattern := range sensitiveDataPatterns {
		if i == len(sensitiveDataPatterns)-1 {
			input = pattern.ReplaceAllString(input, "${1}"+redactedValue+"${3}")
			continue
		}
		input = pattern.ReplaceAllString(input, "${1}"+redactedValue)
	}
	return input
}

// isSensitiveKey reports whether a field key names a secret.
func isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(keyLower, kw) {
			return true
		}
	}
	return false
}
