package ingest

import (
	"context"

	"github.com/cun0/batch-ingest/internal/domain"
)

// Sink is what the transport layer needs from the scheduler.
type Sink interface {
	Start() error
	Stop(ctx context.Context) error
	Submit(ctx context.Context, sub domain.Submission) (Result, error)
	Ingestion(ctx context.Context, id string) (domain.Ingestion, error)
	Batch(ctx context.Context, id string) (domain.Batch, error)
	Stats(ctx context.Context) (Stats, error)
}

// Registry stores ingestion and batch records. Every method is atomic per
// record and a write is visible to any read that follows it.
type Registry interface {
	CreateIngestion(ctx context.Context, ing domain.Ingestion) error
	GetIngestion(ctx context.Context, id string) (domain.Ingestion, error)
	GetBatch(ctx context.Context, id string) (domain.Batch, error)
	// UpdateBatchStatus applies u only if the batch currently holds the single
	// allowed predecessor of u.Status, otherwise it returns *domain.TransitionError.
	UpdateBatchStatus(ctx context.Context, id string, u domain.StatusUpdate) (domain.Batch, error)

	// ListUnfinishedBatches returns yet_to_start and triggered batches.
	ListUnfinishedBatches(ctx context.Context) ([]domain.Batch, error)
	CountBatches(ctx context.Context) (domain.BatchCounts, error)
}
