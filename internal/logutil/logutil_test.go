package logutil

import (
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func TestTruncateForLog_NeverExceedsLimit(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		value := rapid.StringMatching(`[a-z<>/ \n]{0,300}`).Draw(rt, "value")
		limit := rapid.IntRange(1, 200).Draw(rt, "limit")

		got := TruncateForLog(value, limit)
		if strings.Contains(got, "\n") {
			rt.Fatalf("output contains newline: %q", got)
		}
		body := strings.TrimSuffix(got, "... [truncated]")
		if len(body) > limit {
			rt.Fatalf("body length %d exceeds limit %d", len(body), limit)
		}
	})
}

func TestFormatHeadersForLog_RedactsSensitive(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer abc")
	h.Set("Accept", "text/html")
	h.Add("Cookie", "sid=1")

	got := FormatHeadersForLog(h)
	if strings.Contains(got, "abc") || strings.Contains(got, "sid=1") {
		t.Fatalf("sensitive values leaked: %s", got)
	}
	if !strings.HasPrefix(got, `accept="text/html"`) {
		t.Fatalf("headers should be sorted with accept first: %s", got)
	}
	if FormatHeadersForLog(nil) != "{}" {
		t.Fatal("empty headers should render as {}")
	}
}

func TestTruncateForLog_KeepsRunesWhole(t *testing.T) {
	got := TruncateForLog("şifreler eşleşmiyor", 2)
	if got != "ş"+truncatedSuffix {
		t.Fatalf("got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("invalid UTF-8: %q", got)
	}
	if TruncateForLog("a\r\nb", 0) != `a\nb` {
		t.Fatal("CRLF should flatten to a single escaped newline")
	}
}

func TestIsSensitiveLogField(t *testing.T) {
	for key, want := range map[string]bool{
		"Authorization":         true,
		"X-Amz-Security-Token":  true,
		"aws_secret_access_key": true,
		"Set-Cookie":            true,
		"Accept":                false,
		"X-Request-Id":          false,
	} {
		if got := IsSensitiveLogField(key); got != want {
			t.Errorf("IsSensitiveLogField(%q) = %t, want %t", key, got, want)
		}
	}
}
