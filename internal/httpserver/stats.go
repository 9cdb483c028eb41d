package httpserver

import (
	"net/http"

	"github.com/cun0/batch-ingest/internal/domain"
)

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.ingest.Stats(r.Context())
	if err != nil {
		h.writeFailure(w, r, err, "get_stats")
		return
	}

	batches := map[string]int64{}
	var total int64
	for _, s := range []domain.BatchStatus{
		domain.StatusYetToStart, domain.StatusTriggered, domain.StatusCompleted, domain.StatusFailed,
	} {
		batches[string(s)] = st.Batches[s]
		total += st.Batches[s]
	}

	queue := map[string]int{}
	pending := 0
	for _, p := range domain.Priorities {
		queue[p.String()] = st.QueueDepth[p]
		pending += st.QueueDepth[p]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batches":     batches,
		"total":       total,
		"queue":       queue,
		"queue_total": pending,
	})
}
