package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/practicepulse/careprep-platform/pkg/logging"
)

// RequestLogger emits structured logs for every HTTP request. Tokens ride in
// the URL path here, so paths are logged only up to the first path parameter.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			path := redactPath(r.URL.Path)
			logger.Info("request started",
				"method", r.Method,
				"path", path,
				"request_id", reqID,
				"remote_ip", r.RemoteAddr,
			)
			next.ServeHTTP(w, r)
			logger.Info("request completed",
				"method", r.Method,
				"path", path,
				"request_id", reqID,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// redactPath strips everything after known token-bearing prefixes so signed
// form tokens never land in logs.
func redactPath(path string) string {
	for _, prefix := range []string{
		"/api/careprep/forms/token/",
		"/api/careprep/forms/summary/",
		"/api/careprep/forms/form/",
	} {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				return prefix + "{token}" + rest[i:]
			}
			return prefix + "{token}"
		}
	}
	return path
}
