package observability

import (
	"strings"
	"unicode"
)

const defaultStringLimit = 256

// Field names that must never reach a log line with their value intact.
// The CVV exists only long enough to be encrypted at submission; payment
// tokens are opaque but still not for logs.
var redactedFields = map[string]struct{}{
	"cvv":           {},
	"paymenttoken":  {},
	"cardtoken":     {},
	"encryptedcvv":  {},
	"signingsecret": {},
}

// sanitizeString trims unwanted characters and limits string length to avoid log injection.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod removes control characters in HTTP methods.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeShopperID limits potential identifiers to reduce PII leakage in logs.
func SanitizeShopperID(id string) string {
	if len(id) == 0 {
		return ""
	}
	return sanitizeString(id, 64)
}

// RedactField returns the loggable value for a named field, replacing the
// value of sensitive fields with a fixed marker.
func RedactField(name, value string) string {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
	if _, sensitive := redactedFields[key]; sensitive {
		return "[REDACTED]"
	}
	return sanitizeString(value, defaultStringLimit)
}
