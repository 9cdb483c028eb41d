package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cun0/batch-ingest/internal/domain"
)

// MemoryRegistry keeps ingestions and batches in process memory.
// One RWMutex makes every read and status update atomic.
type MemoryRegistry struct {
	mu         sync.RWMutex
	ingestions map[string]*memIngestion
	batches    map[string]*domain.Batch
}

type memIngestion struct {
	ing      domain.Ingestion
	batchIDs []string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		ingestions: make(map[string]*memIngestion),
		batches:    make(map[string]*domain.Batch),
	}
}

func (r *MemoryRegistry) CreateIngestion(ctx context.Context, ing domain.Ingestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ingestions[ing.ID]; ok {
		return fmt.Errorf("ingestion %q already exists", ing.ID)
	}
	for _, b := range ing.Batches {
		if _, ok := r.batches[b.ID]; ok {
			return fmt.Errorf("batch %q already exists", b.ID)
		}
	}

	rec := &memIngestion{ing: ing, batchIDs: make([]string, 0, len(ing.Batches))}
	rec.ing.Batches = nil
	for _, b := range ing.Batches {
		cp := b.Clone()
		r.batches[b.ID] = &cp
		rec.batchIDs = append(rec.batchIDs, b.ID)
	}
	r.ingestions[ing.ID] = rec
	return nil
}

func (r *MemoryRegistry) GetIngestion(ctx context.Context, id string) (domain.Ingestion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.ingestions[id]
	if !ok {
		return domain.Ingestion{}, domain.NotFound("ingestion", id)
	}

	out := rec.ing
	out.Batches = make([]domain.Batch, 0, len(rec.batchIDs))
	for _, bid := range rec.batchIDs {
		out.Batches = append(out.Batches, r.batches[bid].Clone())
	}
	return out, nil
}

func (r *MemoryRegistry) GetBatch(ctx context.Context, id string) (domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.batches[id]
	if !ok {
		return domain.Batch{}, domain.NotFound("batch", id)
	}
	return b.Clone(), nil
}

func (r *MemoryRegistry) UpdateBatchStatus(ctx context.Context, id string, u domain.StatusUpdate) (domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[id]
	if !ok {
		return domain.Batch{}, domain.NotFound("batch", id)
	}
	if !b.Status.CanTransitionTo(u.Status) {
		return domain.Batch{}, &domain.TransitionError{BatchID: id, From: b.Status, To: u.Status}
	}

	*b = b.Apply(u)
	return b.Clone(), nil
}

func (r *MemoryRegistry) ListUnfinishedBatches(ctx context.Context) ([]domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Batch
	for _, b := range r.batches {
		if !b.Status.IsTerminal() {
			out = append(out, b.Clone())
		}
	}
	sortByDispatchOrder(out)
	return out, nil
}

func (r *MemoryRegistry) CountBatches(ctx context.Context) (domain.BatchCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := domain.BatchCounts{}
	for _, b := range r.batches {
		out[b.Status]++
	}
	return out, nil
}

func sortByDispatchOrder(bs []domain.Batch) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].Priority != bs[j].Priority {
			return bs[i].Priority < bs[j].Priority
		}
		return bs[i].Seq < bs[j].Seq
	})
}
