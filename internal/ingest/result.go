package ingest

import "github.com/cun0/batch-ingest/internal/domain"

// Result is returned for an accepted submission.
type Result struct {
	IngestionID string
	BatchIDs    []string
}

// Stats is a point-in-time view of scheduler progress.
type Stats struct {
	Batches    domain.BatchCounts
	QueueDepth map[domain.Priority]int
}
