// Package logutil shapes values before they reach logs and reports.
package logutil

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

const truncatedSuffix = "... [truncated]"

// sensitiveFragments match header or field names whose values never get logged.
var sensitiveFragments = []string{"authorization", "cookie", "token", "secret", "password", "credential", "amzsecurity"}

// IsSensitiveLogField reports whether key names a value that must be redacted.
func IsSensitiveLogField(key string) bool {
	k := strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(key)))
	return slices.ContainsFunc(sensitiveFragments, func(f string) bool { return strings.Contains(k, f) })
}

// FormatHeadersForLog renders headers sorted by name with sensitive values
// redacted.
func FormatHeadersForLog(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	slices.Sort(names)

	var b strings.Builder
	for i, k := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(strings.ToLower(k))
		b.WriteByte('=')
		switch values := headers.Values(k); {
		case len(values) == 0:
			b.WriteString("<empty>")
		case IsSensitiveLogField(k):
			b.WriteString(`"[REDACTED]"`)
		default:
			b.WriteString(strconv.Quote(strings.Join(values, ", ")))
		}
	}
	return b.String()
}

// TruncateForLog flattens value onto one line and cuts it to at most maxChars
// bytes without splitting a rune. A non-positive maxChars only flattens.
func TruncateForLog(value string, maxChars int) string {
	flat := strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\n`).Replace(strings.TrimSpace(value))
	if maxChars <= 0 || len(flat) <= maxChars {
		return flat
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(flat[cut]) {
		cut--
	}
	return flat[:cut] + truncatedSuffix
}
