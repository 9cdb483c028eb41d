package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cun0/batch-ingest/internal/domain"
	"github.com/cun0/batch-ingest/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	eventually = 2 * time.Second
	poll       = 5 * time.Millisecond
)

func (h *harness) waitStatus(t *testing.T, batchID string, want domain.BatchStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.batchStatus(batchID) == want
	}, eventually, poll, "batch %s never reached %s", batchID, want)
}

// batchStatus is safe to call from the condition goroutine of Eventually.
func (h *harness) batchStatus(batchID string) domain.BatchStatus {
	b, err := h.registry.GetBatch(context.Background(), batchID)
	if err != nil {
		return ""
	}
	return b.Status
}

// waitTicker blocks until the dispatcher loop has armed its ticker.
func (h *harness) waitTicker(t *testing.T) {
	t.Helper()
	require.Eventually(t, h.clock.HasWaiters, eventually, poll)
}

func TestDispatchOneBatchPerInterval(t *testing.T) {
	h := newHarness(t)
	res := h.submit(t, domain.PriorityHigh, idRange(1, 6)...)
	require.Len(t, res.BatchIDs, 2)

	require.NoError(t, h.svc.Start())
	t.Cleanup(func() { _ = h.svc.Stop(context.Background()) })
	h.waitTicker(t)

	// Nothing runs before the first interval elapses.
	h.clock.Step(4 * time.Second)
	assert.Never(t, func() bool {
		return h.batchStatus(res.BatchIDs[0]) != domain.StatusYetToStart
	}, 50*time.Millisecond, poll)

	h.clock.Step(time.Second)
	h.waitStatus(t, res.BatchIDs[0], domain.StatusCompleted)
	assert.Equal(t, domain.StatusYetToStart, h.batch(t, res.BatchIDs[1]).Status)
	assert.Equal(t, domain.IngestionTriggered, h.status(t, res.IngestionID))

	h.clock.Step(4 * time.Second)
	assert.Never(t, func() bool {
		return h.batchStatus(res.BatchIDs[1]) != domain.StatusYetToStart
	}, 50*time.Millisecond, poll)

	h.clock.Step(time.Second)
	h.waitStatus(t, res.BatchIDs[1], domain.StatusCompleted)
	assert.Equal(t, domain.IngestionCompleted, h.status(t, res.IngestionID))

	first := h.batch(t, res.BatchIDs[0]).TriggeredAt
	second := h.batch(t, res.BatchIDs[1]).TriggeredAt
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, epoch.Add(5*time.Second), *first)
	assert.GreaterOrEqual(t, second.Sub(*first), 5*time.Second)
}

func TestTickOnEmptyQueue(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.disp.Tick(context.Background()))
}

func TestTickDropsStaleRef(t *testing.T) {
	h := newHarness(t)
	res := h.submit(t, domain.PriorityLow, 1)
	_, err := h.exec.Trigger(context.Background(), res.BatchIDs[0])
	require.NoError(t, err)

	assert.False(t, h.disp.Tick(context.Background()))
	assert.Equal(t, 0, h.queue.Len())

	h.queue.Push(BatchRef{BatchID: "ghost", Priority: domain.PriorityHigh})
	assert.False(t, h.disp.Tick(context.Background()))
	assert.Equal(t, 0, h.queue.Len())
}

type flakyRegistry struct {
	Registry
	fail atomic.Bool
}

func (r *flakyRegistry) UpdateBatchStatus(ctx context.Context, id string, u domain.StatusUpdate) (domain.Batch, error) {
	if r.fail.Load() {
		return domain.Batch{}, errors.New("connection refused")
	}
	return r.Registry.UpdateBatchStatus(ctx, id, u)
}

func TestTickRequeuesOnRegistryError(t *testing.T) {
	flaky := &flakyRegistry{Registry: repo.NewMemoryRegistry()}
	h := newHarness(t, withRegistry(flaky))

	res := h.submit(t, domain.PriorityLow, 1)
	flaky.fail.Store(true)

	assert.False(t, h.disp.Tick(context.Background()))
	assert.Equal(t, 1, h.queue.Len())
	assert.Equal(t, domain.StatusYetToStart, h.batch(t, res.BatchIDs[0]).Status)

	flaky.fail.Store(false)
	assert.True(t, h.tick(t))
	assert.Equal(t, domain.StatusCompleted, h.batch(t, res.BatchIDs[0]).Status)
}

func TestStopDrainsInFlightBatch(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	h := newHarness(t, withProcessor(ProcessorFunc(func(ctx context.Context, b domain.Batch, id int64) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})))
	res := h.submit(t, domain.PriorityHigh, 1)

	require.NoError(t, h.svc.Start())
	h.waitTicker(t)
	h.clock.Step(5 * time.Second)
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- h.svc.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a batch was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	assert.Equal(t, domain.StatusCompleted, h.batch(t, res.BatchIDs[0]).Status)
}

func TestStopHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, withProcessor(ProcessorFunc(func(ctx context.Context, b domain.Batch, id int64) error {
		<-release
		return nil
	})))
	h.submit(t, domain.PriorityHigh, 1)
	require.True(t, h.disp.Tick(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.svc.Stop(ctx), context.DeadlineExceeded)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Start())
	require.NoError(t, h.svc.Stop(context.Background()))
	require.NoError(t, h.svc.Stop(context.Background()))
}
