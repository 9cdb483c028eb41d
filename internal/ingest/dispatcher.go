package ingest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cun0/batch-ingest/internal/domain"
	"github.com/cun0/batch-ingest/internal/jsonlog"
	"k8s.io/utils/clock"
)

var ErrStopped = errors.New("ingest dispatcher stopped")

type DispatcherConfig struct {
	// Interval is the fixed period between dequeues: one batch per tick.
	Interval time.Duration
	// ExecTimeout bounds the registry writes and processing of one batch.
	ExecTimeout time.Duration
}

// Dispatcher drains the queue one batch per interval on a wall-clock ticker.
// Execution of a dequeued batch runs in its own goroutine so a slow batch
// never delays the next tick.
type Dispatcher struct {
	queue   *Queue
	exec    *Executor
	clock   clock.WithTicker
	cfg     DispatcherConfig
	logger  *jsonlog.Logger
	metrics *Metrics

	mu      sync.Mutex
	started bool
	stopped bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	inflight sync.WaitGroup
}

func NewDispatcher(queue *Queue, exec *Executor, cfg DispatcherConfig, clk clock.WithTicker, logger *jsonlog.Logger, metrics *Metrics) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 5 * time.Second
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = jsonlog.Discard()
	}

	return &Dispatcher{
		queue:   queue,
		exec:    exec,
		clock:   clk,
		cfg:     cfg,
		logger:  logger.With(map[string]string{"component": "dispatcher"}),
		metrics: metrics,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start arms the ticker and launches the loop. The ticker is created before
// Start returns, so the first tick is due exactly one interval later.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if d.started {
		return nil
	}
	d.started = true

	ticker := d.clock.NewTicker(d.cfg.Interval)
	go d.loop(ticker)

	d.logger.PrintInfo("dispatcher started", map[string]string{
		"interval": d.cfg.Interval.String(),
	})
	return nil
}

// Stop cancels the ticker, lets the current tick finish, and waits for every
// dequeued batch to reach a terminal status or for ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	started := d.started
	if !d.stopped {
		d.stopped = true
		close(d.stopCh)
	}
	d.mu.Unlock()

	if started {
		select {
		case <-d.doneCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	idle := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		d.logger.PrintInfo("dispatcher stopped", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop(ticker clock.Ticker) {
	defer close(d.doneCh)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C():
			// Stop wins over a tick that became ready at the same time.
			select {
			case <-d.stopCh:
				return
			default:
			}
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ExecTimeout)
			d.Tick(ctx)
			cancel()
		}
	}
}

// Tick performs one scheduling step: dequeue at most one batch, mark it
// triggered, and hand it to the executor. It reports whether a batch was
// dispatched.
func (d *Dispatcher) Tick(ctx context.Context) bool {
	ref, ok := d.queue.Pop()
	if !ok {
		return false
	}
	defer d.metrics.depth(d.queue.LenByPriority())

	b, err := d.exec.Trigger(ctx, ref.BatchID)
	if err != nil {
		var te *domain.TransitionError
		if errors.Is(err, domain.ErrNotFound) || errors.As(err, &te) {
			// Not ours to run: missing or already past yet_to_start.
			return false
		}
		// Registry unavailable; keep the batch at its place in line.
		d.queue.Push(ref)
		d.logger.PrintError(err, map[string]string{
			"batch_id": ref.BatchID,
			"action":   "requeued",
		})
		return false
	}
	d.metrics.dispatch(b.Priority)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()

		// Detached from shutdown: a triggered batch always runs to a terminal status.
		runCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ExecTimeout)
		defer cancel()

		if err := d.exec.Run(runCtx, b); err != nil {
			d.logger.PrintError(err, map[string]string{
				"batch_id": b.ID,
				"seq":      strconv.FormatUint(b.Seq, 10),
			})
		}
	}()
	return true
}

// Wait blocks until every batch dispatched so far has finished running.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
