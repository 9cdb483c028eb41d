package httpserver

import (
	"net/http"

	"github.com/cun0/batch-ingest/internal/ingest"
	"github.com/cun0/batch-ingest/internal/jsonlog"
)

type Handler struct {
	logger *jsonlog.Logger
	ingest ingest.Sink
}

func New(logger *jsonlog.Logger, sink ingest.Sink) *Handler {
	return &Handler{
		logger: logger,
		ingest: sink,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
