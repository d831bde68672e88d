package log

import (
	"strings"
)

// sensitiveKeywords match field keys whose values must never reach the log
// verbatim. Matching is case-insensitive and by substring.
var sensitiveKeywords = []string{
	"password", "secret",
	"token", "authorization", "cookie",
	"api_key", "apikey",
	"credential", "private_key",
}

// exactSensitiveKeys are short keys that would produce false positives as
// substrings ("code" inside "status_code").
var exactSensitiveKeys = map[string]bool{
	"code":  true,
	"otp":   true,
	"state": true,
}

// SanitizeField masks value when key names a secret. Emails keep their
// domain so support can still correlate users.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	if strings.Contains(lowerKey, "email") {
		return sanitizeEmail(value)
	}

	if exactSensitiveKeys[lowerKey] {
		return maskValue(value)
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return maskValue(value)
		}
	}

	return value
}

// maskValue keeps the first and last 4 characters of long values and only
// the edges of short ones.
func maskValue(value string) string {
	n := len(value)
	switch {
	case n <= 2:
		return strings.Repeat("*", n)
	case n <= 8:
		return value[:1] + strings.Repeat("*", n-2) + value[n-1:]
	default:
		return value[:4] + strings.Repeat("*", n-8) + value[n-4:]
	}
}

func sanitizeEmail(value string) string {
	at := strings.LastIndex(value, "@")
	if at < 0 || strings.Count(value, "@") != 1 {
		return strings.Repeat("*", len(value))
	}

	local, domain := value[:at], value[at+1:]
	switch {
	case local == "":
		return "@" + domain
	case len(local) <= 3:
		return local[:1] + strings.Repeat("*", len(local)-1) + "@" + domain
	default:
		return local[:3] + "***@" + domain
	}
}
