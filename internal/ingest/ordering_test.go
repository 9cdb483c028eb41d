package ingest

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cun0/batch-ingest/internal/domain"
	"github.com/cun0/batch-ingest/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRegistry remembers every batch that moved to triggered, in order.
type recordingRegistry struct {
	Registry

	mu        sync.Mutex
	triggered []domain.Batch
}

func (r *recordingRegistry) UpdateBatchStatus(ctx context.Context, id string, u domain.StatusUpdate) (domain.Batch, error) {
	b, err := r.Registry.UpdateBatchStatus(ctx, id, u)
	if err == nil && u.Status == domain.StatusTriggered {
		r.mu.Lock()
		r.triggered = append(r.triggered, b)
		r.mu.Unlock()
	}
	return b, err
}

func (r *recordingRegistry) order() []domain.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Batch(nil), r.triggered...)
}

// gatedRegistry parks the first CreateIngestion until release is closed.
type gatedRegistry struct {
	*recordingRegistry

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRegistry) CreateIngestion(ctx context.Context, ing domain.Ingestion) error {
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.entered)
		<-r.release
	}
	return r.recordingRegistry.CreateIngestion(ctx, ing)
}

func TestSlowPersistDoesNotLetLaterSubmissionJumpAhead(t *testing.T) {
	rec := &recordingRegistry{Registry: repo.NewMemoryRegistry()}
	gated := &gatedRegistry{
		recordingRegistry: rec,
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	h := newHarness(t, withRegistry(gated))
	ctx := context.Background()

	var first, second Result
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		first, err = h.svc.Submit(ctx, domain.Submission{IDs: []int64{1}, Priority: domain.PriorityHigh})
		assert.NoError(t, err)
	}()
	<-gated.entered

	go func() {
		defer wg.Done()
		var err error
		second, err = h.svc.Submit(ctx, domain.Submission{IDs: []int64{2}, Priority: domain.PriorityHigh})
		assert.NoError(t, err)
	}()
	// Give the second submission time to reach the service.
	time.Sleep(20 * time.Millisecond)

	assert.False(t, h.disp.Tick(ctx), "nothing may dispatch while the earlier submission is being stored")

	close(gated.release)
	wg.Wait()

	require.True(t, h.tick(t))
	require.True(t, h.tick(t))

	got := rec.order()
	require.Len(t, got, 2)
	assert.Equal(t, first.BatchIDs[0], got[0].ID)
	assert.Equal(t, second.BatchIDs[0], got[1].ID)
	assert.Less(t, got[0].Seq, got[1].Seq)
}

func TestTerminalStatusSurvivesExpiredExecContext(t *testing.T) {
	reg, err := repo.NewSQLiteRegistry(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, reg.Migrate(context.Background()))

	h := newHarness(t,
		withRegistry(reg),
		withExecTimeout(30*time.Millisecond),
		withProcessor(ProcessorFunc(func(ctx context.Context, b domain.Batch, id int64) error {
			<-ctx.Done()
			return ctx.Err()
		})),
	)
	res := h.submit(t, domain.PriorityMedium, 1, 2)

	require.True(t, h.tick(t))

	b := h.batch(t, res.BatchIDs[0])
	assert.Equal(t, domain.StatusFailed, b.Status)
	assert.Contains(t, b.Error, "deadline exceeded")
	require.NotNil(t, b.CompletedAt)
}

// Submissions racing the dispatcher are each dispatched once, and a batch
// never goes out ahead of an earlier, equal-or-higher priority batch.
func TestConcurrentSubmitAndDispatch(t *testing.T) {
	rec := &recordingRegistry{Registry: repo.NewMemoryRegistry()}
	h := newHarness(t, withRegistry(rec))
	ctx := context.Background()

	const (
		submitters = 8
		perWorker  = 20
	)

	var (
		mu      sync.Mutex
		batches = map[string]bool{}
		wg      sync.WaitGroup
		done    atomic.Bool
	)
	for w := 0; w < submitters; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < perWorker; i++ {
				p := domain.Priorities[rng.Intn(len(domain.Priorities))]
				res, err := h.svc.Submit(ctx, domain.Submission{
					IDs:      idRange(1, int64(1+rng.Intn(7))),
					Priority: p,
				})
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				for _, id := range res.BatchIDs {
					batches[id] = true
				}
				mu.Unlock()
			}
		}(int64(w))
	}
	go func() {
		wg.Wait()
		done.Store(true)
	}()

	for !done.Load() || h.queue.Len() > 0 {
		h.disp.Tick(ctx)
	}
	h.disp.Wait()

	got := rec.order()
	require.Len(t, got, len(batches))

	seen := map[string]bool{}
	for _, b := range got {
		require.False(t, seen[b.ID], "batch %s dispatched twice", b.ID)
		seen[b.ID] = true
		require.True(t, batches[b.ID])
	}

	// An earlier-sequenced batch was already queued when a later one was
	// dispatched, so it may only trail it from a lower tier.
	for i := range got {
		for j := i + 1; j < len(got); j++ {
			if got[j].Seq < got[i].Seq {
				require.Greater(t, got[j].Priority, got[i].Priority,
					"batch seq %d (%s) dispatched after seq %d (%s)",
					got[j].Seq, got[j].Priority, got[i].Seq, got[i].Priority)
			}
		}
	}

	st, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(batches)), st.Batches[domain.StatusCompleted])
}
