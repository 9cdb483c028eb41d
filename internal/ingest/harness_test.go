package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cun0/batch-ingest/internal/domain"
	"github.com/cun0/batch-ingest/internal/repo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	clock    *testclock.FakeClock
	registry Registry
	queue    *Queue
	exec     *Executor
	disp     *Dispatcher
	svc      *Service
	metrics  *Metrics
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	registry  Registry
	processor Processor
	batchSize   int
	execTimeout time.Duration
}

func withRegistry(r Registry) harnessOption {
	return func(c *harnessConfig) { c.registry = r }
}

func withProcessor(p Processor) harnessOption {
	return func(c *harnessConfig) { c.processor = p }
}

func withExecTimeout(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.execTimeout = d }
}

func sequentialIDs(prefix string) IDFunc {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{batchSize: 3}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.registry == nil {
		cfg.registry = repo.NewMemoryRegistry()
	}

	h := &harness{
		clock:    testclock.NewFakeClock(epoch),
		registry: cfg.registry,
		queue:    NewQueue(),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	h.exec = NewExecutor(h.registry, cfg.processor, h.clock, nil, h.metrics)
	h.disp = NewDispatcher(h.queue, h.exec, DispatcherConfig{
		Interval:    5 * time.Second,
		ExecTimeout: cfg.execTimeout,
	}, h.clock, nil, h.metrics)
	h.svc = NewService(h.registry, h.queue, h.disp, h.exec, ServiceConfig{
		BatchSize: cfg.batchSize,
		NewID:     sequentialIDs("id"),
		Clock:     h.clock,
	}, nil, h.metrics)
	return h
}

func (h *harness) submit(t *testing.T, p domain.Priority, ids ...int64) Result {
	t.Helper()
	res, err := h.svc.Submit(context.Background(), domain.Submission{IDs: ids, Priority: p})
	require.NoError(t, err)
	return res
}

func (h *harness) batch(t *testing.T, id string) domain.Batch {
	t.Helper()
	b, err := h.svc.Batch(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (h *harness) status(t *testing.T, id string) domain.IngestionStatus {
	t.Helper()
	ing, err := h.svc.Ingestion(context.Background(), id)
	require.NoError(t, err)
	return ing.Status()
}

// tick runs one scheduling step and waits for the dispatched batch to finish.
func (h *harness) tick(t *testing.T) bool {
	t.Helper()
	ok := h.disp.Tick(context.Background())
	h.disp.Wait()
	return ok
}

func idRange(from, to int64) []int64 {
	out := make([]int64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}
