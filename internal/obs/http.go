package obs

import (
	"net/http"
	"strings"
	"time"

	"github.com/kuitang/xpire-e2e/internal/logutil"
)

// FallbackHeader is set by handlers that answered a client route with the
// application shell instead of a file.
const FallbackHeader = "X-Spa-Fallback"

// accessRecorder captures what the static server wrote. Responses are small
// and never streamed, so it does not forward http.Flusher.
type accessRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *accessRecorder) WriteHeader(code int) {
	if r.status != 0 {
		return
	}
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *accessRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

// RequestContextMiddleware echoes or assigns X-Request-Id and puts it in the
// request context so access lines can be matched to browser traces.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(WithCorrelation(r.Context(), Correlation{RequestID: id})))
	})
}

// AccessLogMiddleware logs one debug line per request served.
func AccessLogMiddleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &accessRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		From(r.Context()).With("pkg", pkg).Debug("http_access",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"content_type", rec.Header().Get("Content-Type"),
			"spa_fallback", rec.Header().Get(FallbackHeader) != "",
			"resp_bytes", rec.bytes,
			"dur_ms", float64(time.Since(start).Microseconds())/1000.0,
			"headers", logutil.FormatHeadersForLog(r.Header),
		)
	})
}
