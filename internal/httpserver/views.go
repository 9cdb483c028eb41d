package httpserver

import (
	"time"

	"github.com/cun0/batch-ingest/internal/domain"
)

type batchView struct {
	BatchID     string             `json:"batch_id"`
	IngestionID string             `json:"ingestion_id,omitempty"`
	IDs         []int64            `json:"ids"`
	Status      domain.BatchStatus `json:"status"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	TriggeredAt *time.Time         `json:"triggered_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

type ingestionView struct {
	IngestionID string                 `json:"ingestion_id"`
	Priority    domain.Priority        `json:"priority"`
	Status      domain.IngestionStatus `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	Batches     []batchView            `json:"batches"`
}

func toBatchView(b domain.Batch, withParent bool) batchView {
	v := batchView{
		BatchID:     b.ID,
		IDs:         b.IDs,
		Status:      b.Status,
		Error:       b.Error,
		CreatedAt:   b.CreatedAt,
		TriggeredAt: b.TriggeredAt,
		CompletedAt: b.CompletedAt,
	}
	if withParent {
		v.IngestionID = b.IngestionID
	}
	if v.IDs == nil {
		v.IDs = []int64{}
	}
	return v
}

func toIngestionView(ing domain.Ingestion) ingestionView {
	v := ingestionView{
		IngestionID: ing.ID,
		Priority:    ing.Priority,
		Status:      ing.Status(),
		CreatedAt:   ing.CreatedAt,
		Batches:     make([]batchView, 0, len(ing.Batches)),
	}
	for _, b := range ing.Batches {
		v.Batches = append(v.Batches, toBatchView(b, false))
	}
	return v
}
