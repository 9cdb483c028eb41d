package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cun0/batch-ingest/internal/jsonlog"
	"github.com/go-chi/chi/v5"
)

// responseRecorder captures what the handler sent back.
type responseRecorder struct {
	http.ResponseWriter
	code    int
	written int
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.code == 0 {
		rr.code = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(p []byte) (int, error) {
	if rr.code == 0 {
		rr.code = http.StatusOK
	}
	n, err := rr.ResponseWriter.Write(p)
	rr.written += n
	return n, err
}

func (rr *responseRecorder) status() int {
	if rr.code == 0 {
		return http.StatusOK
	}
	return rr.code
}

// AccessLog writes one line per request. Requests whose route pattern is in
// quiet (health checks, metric scrapes) are only logged when they fail.
// Server errors are logged at error level.
func AccessLog(logger *jsonlog.Logger, quiet ...string) func(http.Handler) http.Handler {
	logger = logger.With(map[string]string{"component": "http"})

	skip := make(map[string]struct{}, len(quiet))
	for _, q := range quiet {
		skip[q] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rr := &responseRecorder{ResponseWriter: w}

			next.ServeHTTP(rr, r)

			code := rr.status()
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if pattern := rc.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			if _, ok := skip[route]; ok && code < http.StatusInternalServerError {
				return
			}

			props := map[string]string{
				"request_id":  GetRequestID(r.Context()),
				"method":      r.Method,
				"route":       route,
				"path":        r.URL.Path,
				"status":      strconv.Itoa(code),
				"bytes":       strconv.Itoa(rr.written),
				"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
				"remote_ip":   clientIP(r),
			}

			if code >= http.StatusInternalServerError {
				logger.PrintError(fmt.Errorf("%s %s: %d %s", r.Method, route, code, http.StatusText(code)), props)
				return
			}
			logger.PrintInfo("request completed", props)
		}
		return http.HandlerFunc(fn)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
