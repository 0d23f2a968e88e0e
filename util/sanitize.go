package util

import "strings"

// SanitizeEnvValue cleans an environment variable value by removing surrounding
// quotes and trimming whitespace.
func SanitizeEnvValue(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			s = s[1 : len(s)-1]
		}
	}
	return strings.TrimSpace(s)
}

// ParseBool interprets common truthy spellings ("true", "1", "yes", "on").
// Anything else, including the empty string, is false.
func ParseBool(s string) bool {
	switch strings.ToLower(SanitizeEnvValue(s)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
