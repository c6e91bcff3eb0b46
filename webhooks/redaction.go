package webhooks

import "regexp"

const redactedValue = "[REDACTED]"

// sensitiveHeader matches header names that may carry credentials or
// provider signatures.
var sensitiveHeader = regexp.MustCompile(`(?i)authorization|cookie|signature|hmac|token|secret|api-?key`)

// RedactHeaders copies headers for storage with credential values masked.
// The raw signature is persisted separately on the event.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if sensitiveHeader.MatchString(name) {
			value = redactedValue
		}
		out[name] = value
	}
	return out
}
