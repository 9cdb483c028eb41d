package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cun0/batch-ingest/internal/domain"
	"github.com/cun0/batch-ingest/internal/httpserver/middleware"
	"github.com/cun0/batch-ingest/internal/ingest"
	"github.com/go-chi/chi/v5"
)

const statusClientClosedRequest = 499

func (h *Handler) PostIngest(w http.ResponseWriter, r *http.Request) {
	var p domain.IngestPayload
	if err := decodeJSON(r.Body, &p); err != nil {
		writeDecodeError(w, err)
		return
	}

	sub, err := p.Validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.ingest.Submit(r.Context(), sub)
	if err != nil {
		h.writeFailure(w, r, err, "post_ingest")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"ingestion_id": res.IngestionID,
		"batches":      len(res.BatchIDs),
	})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "ingestion id is required")
		return
	}

	ing, err := h.ingest.Ingestion(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, err, "get_status")
		return
	}

	writeJSON(w, http.StatusOK, toIngestionView(ing))
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "batch id is required")
		return
	}

	b, err := h.ingest.Batch(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, err, "get_batch")
		return
	}

	writeJSON(w, http.StatusOK, toBatchView(b, true))
}

// writeFailure maps core errors to transport status codes.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error, component string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, statusClientClosedRequest, "client closed request")
	case errors.Is(err, ingest.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "ingestion temporarily unavailable")
	default:
		h.logger.PrintError(err, map[string]string{
			"request_id": middleware.GetRequestID(r.Context()),
			"component":  component,
		})
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
