package middleware

import (
	"fmt"
	"net/http"

	"github.com/cun0/batch-ingest/internal/jsonlog"
)

func Recover(logger *jsonlog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(map[string]string{"component": "http"})
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.PrintErrorWithTrace(errFromPanic(rec), map[string]string{
					"request_id": GetRequestID(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
				})
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal error"}` + "\n"))
			}()

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

func errFromPanic(rec any) error {
	switch v := rec.(type) {
	case error:
		return fmt.Errorf("panic: %w", v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}
