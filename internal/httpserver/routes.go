package httpserver

import (
	"net/http"
	"time"

	"github.com/cun0/batch-ingest/internal/httpserver/middleware"
	"github.com/cun0/batch-ingest/internal/ingest"
	"github.com/cun0/batch-ingest/internal/jsonlog"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	RequestTimeout time.Duration

	// SubmitRPS limits POST /ingest per client IP; 0 disables the limit.
	SubmitRPS   float64
	SubmitBurst int
}

func BuildHandler(cfg Config, logger *jsonlog.Logger, sink ingest.Sink, gatherer prometheus.Gatherer) http.Handler {
	h := New(logger, sink)

	const maxIngestBody = 1 << 20 // 1MB

	r := chi.NewRouter()

	r.Use(middleware.Recover(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.AccessLog(logger, "/healthz", "/metrics"))

	r.Get("/healthz", h.Healthz)

	r.With(
		middleware.RateLimit(cfg.SubmitRPS, cfg.SubmitBurst),
		middleware.BodyLimit(maxIngestBody),
	).Post("/ingest", h.PostIngest)

	r.Get("/status/{id}", h.GetStatus)
	r.Get("/batches/{id}", h.GetBatch)
	r.Get("/stats", h.GetStats)

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
