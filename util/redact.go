package util

// RedactedMarker replaces sensitive values in log output.
const RedactedMarker = "REDACTED"

// sensitiveWord triggers redaction when found in an action or key name.
const sensitiveWord = "password"

// RedactPositional returns a log-safe copy of payload.
//
// When action mentions a password, a positional payload ([]interface{} or
// []string) has its element at index 1 replaced with RedactedMarker. Map
// payloads always have values under password-like keys replaced. The input is
// never modified.
func RedactPositional(action string, payload interface{}) interface{} {
	sensitive := ContainsFold(action, sensitiveWord)

	switch p := payload.(type) {
	case []interface{}:
		out := make([]interface{}, len(p))
		copy(out, p)
		if sensitive && len(out) > 1 {
			out[1] = RedactedMarker
		}
		return out
	case []string:
		out := make([]interface{}, len(p))
		for i, v := range p {
			out[i] = v
		}
		if sensitive && len(out) > 1 {
			out[1] = RedactedMarker
		}
		return out
	case map[string]interface{}:
		return RedactMap(p)
	default:
		return payload
	}
}

// RedactMap returns a copy of m with values under password-like keys replaced.
// Nested maps are redacted recursively.
func RedactMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if ContainsFold(k, sensitiveWord) {
			out[k] = RedactedMarker
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = RedactMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
