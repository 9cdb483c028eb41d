package domain

import "time"

// Ingestion is one client submission, decomposed into batches at creation.
type Ingestion struct {
	ID        string
	Priority  Priority
	CreatedAt time.Time
	Batches   []Batch
}

// Batch is the unit of dispatch and status tracking.
type Batch struct {
	ID          string
	IngestionID string
	Position    int
	IDs         []int64
	Priority    Priority
	// Seq is the enqueue sequence number; FIFO tie-breaker within a tier.
	Seq    uint64
	Status BatchStatus
	Error  string

	CreatedAt   time.Time
	TriggeredAt *time.Time
	CompletedAt *time.Time
}

// StatusUpdate describes one batch transition.
type StatusUpdate struct {
	Status BatchStatus
	At     time.Time
	// Error is recorded only for StatusFailed.
	Error string
}

// Status is always computed from the batches, never stored.
func (in Ingestion) Status() IngestionStatus {
	statuses := make([]BatchStatus, 0, len(in.Batches))
	for _, b := range in.Batches {
		statuses = append(statuses, b.Status)
	}
	return DeriveStatus(statuses)
}

// Counts returns the number of batches per status.
func (in Ingestion) Counts() BatchCounts {
	c := BatchCounts{}
	for _, b := range in.Batches {
		c[b.Status]++
	}
	return c
}

// BatchCounts maps a status to the number of batches holding it.
type BatchCounts map[BatchStatus]int64

// Apply returns a copy of b with u applied. The caller checks the transition.
func (b Batch) Apply(u StatusUpdate) Batch {
	at := u.At.UTC()
	b.Status = u.Status
	switch u.Status {
	case StatusTriggered:
		b.TriggeredAt = &at
	case StatusCompleted:
		b.CompletedAt = &at
	case StatusFailed:
		b.CompletedAt = &at
		b.Error = u.Error
	}
	return b
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (b Batch) Clone() Batch {
	out := b
	out.IDs = append([]int64(nil), b.IDs...)
	if b.TriggeredAt != nil {
		t := *b.TriggeredAt
		out.TriggeredAt = &t
	}
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func (in Ingestion) Clone() Ingestion {
	out := in
	out.Batches = make([]Batch, len(in.Batches))
	for i, b := range in.Batches {
		out.Batches[i] = b.Clone()
	}
	return out
}
