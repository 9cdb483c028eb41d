package ingest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cun0/batch-ingest/internal/domain"
	"github.com/cun0/batch-ingest/internal/jsonlog"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// IDFunc generates opaque unique identifiers for ingestions and batches.
type IDFunc func() string

type ServiceConfig struct {
	BatchSize int
	NewID     IDFunc
	Clock     clock.PassiveClock
}

// Service accepts submissions, feeds the queue, and answers status queries.
type Service struct {
	registry   Registry
	queue      *Queue
	dispatcher *Dispatcher
	executor   *Executor
	cfg        ServiceConfig
	logger     *jsonlog.Logger
	metrics    *Metrics

	// submitMu keeps sequence reservation, persistence and enqueue in one
	// step, so batches enter the queue in sequence order.
	submitMu sync.Mutex
	stopped  atomic.Bool
}

var _ Sink = (*Service)(nil)

func NewService(registry Registry, queue *Queue, dispatcher *Dispatcher, executor *Executor, cfg ServiceConfig, logger *jsonlog.Logger, metrics *Metrics) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if logger == nil {
		logger = jsonlog.Discard()
	}

	return &Service{
		registry:   registry,
		queue:      queue,
		dispatcher: dispatcher,
		executor:   executor,
		cfg:        cfg,
		logger:     logger.With(map[string]string{"component": "ingest"}),
		metrics:    metrics,
	}
}

func (s *Service) Start() error {
	return s.dispatcher.Start()
}

func (s *Service) Stop(ctx context.Context) error {
	s.stopped.Store(true)
	return s.dispatcher.Stop(ctx)
}

// Submit splits the identifiers into batches, records the ingestion with its
// full batch set, and enqueues every batch. Input is trusted to be validated.
func (s *Service) Submit(ctx context.Context, sub domain.Submission) (Result, error) {
	if s.stopped.Load() {
		return Result{}, ErrStopped
	}

	chunks := domain.Split(sub.IDs, s.cfg.BatchSize)
	now := s.cfg.Clock.Now().UTC()

	ing := domain.Ingestion{
		ID:        s.cfg.NewID(),
		Priority:  sub.Priority,
		CreatedAt: now,
		Batches:   make([]domain.Batch, 0, len(chunks)),
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	// Sequence numbers are reserved up front so the stored record carries the
	// same tie-breaker the queue will use.
	first := s.queue.Reserve(len(chunks))
	for i, ids := range chunks {
		ing.Batches = append(ing.Batches, domain.Batch{
			ID:          s.cfg.NewID(),
			IngestionID: ing.ID,
			Position:    i,
			IDs:         ids,
			Priority:    sub.Priority,
			Seq:         first + uint64(i),
			Status:      domain.StatusYetToStart,
			CreatedAt:   now,
		})
	}

	if err := s.registry.CreateIngestion(ctx, ing); err != nil {
		return Result{}, fmt.Errorf("create ingestion: %w", err)
	}

	refs := make([]BatchRef, 0, len(ing.Batches))
	res := Result{IngestionID: ing.ID, BatchIDs: make([]string, 0, len(ing.Batches))}
	for _, b := range ing.Batches {
		refs = append(refs, BatchRef{BatchID: b.ID, Priority: b.Priority, Seq: b.Seq})
		res.BatchIDs = append(res.BatchIDs, b.ID)
	}
	s.queue.Push(refs...)

	s.metrics.submitted(sub.Priority, len(sub.IDs))
	s.metrics.depth(s.queue.LenByPriority())

	s.logger.PrintInfo("ingestion accepted", map[string]string{
		"ingestion_id": ing.ID,
		"priority":     sub.Priority.String(),
		"ids":          strconv.Itoa(len(sub.IDs)),
		"batches":      strconv.Itoa(len(ing.Batches)),
	})
	return res, nil
}

func (s *Service) Ingestion(ctx context.Context, id string) (domain.Ingestion, error) {
	return s.registry.GetIngestion(ctx, id)
}

func (s *Service) Batch(ctx context.Context, id string) (domain.Batch, error) {
	return s.registry.GetBatch(ctx, id)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.registry.CountBatches(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Batches:    counts,
		QueueDepth: s.queue.LenByPriority(),
	}, nil
}

// Recover restores work left by a previous process from a durable registry:
// pending batches go back into the queue with their stored sequence numbers,
// and batches stranded in triggered are run to a terminal status.
func (s *Service) Recover(ctx context.Context) error {
	batches, err := s.registry.ListUnfinishedBatches(ctx)
	if err != nil {
		return fmt.Errorf("list unfinished batches: %w", err)
	}

	var refs []BatchRef
	var stranded []domain.Batch
	for _, b := range batches {
		switch b.Status {
		case domain.StatusYetToStart:
			refs = append(refs, BatchRef{BatchID: b.ID, Priority: b.Priority, Seq: b.Seq})
		case domain.StatusTriggered:
			stranded = append(stranded, b)
		}
	}

	s.submitMu.Lock()
	pushed := s.queue.Push(refs...)
	s.submitMu.Unlock()
	s.metrics.depth(s.queue.LenByPriority())

	for _, b := range stranded {
		if err := s.executor.Run(ctx, b); err != nil {
			return fmt.Errorf("finish batch %s: %w", b.ID, err)
		}
	}

	if len(pushed) > 0 || len(stranded) > 0 {
		s.logger.PrintInfo("recovered unfinished batches", map[string]string{
			"requeued": strconv.Itoa(len(pushed)),
			"finished": strconv.Itoa(len(stranded)),
		})
	}
	return nil
}
