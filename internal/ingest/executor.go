package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cun0/batch-ingest/internal/domain"
	"github.com/cun0/batch-ingest/internal/jsonlog"
	"k8s.io/utils/clock"
)

// Processor performs the per-identifier processing step of a batch.
type Processor interface {
	Process(ctx context.Context, b domain.Batch, id int64) error
}

type ProcessorFunc func(ctx context.Context, b domain.Batch, id int64) error

func (f ProcessorFunc) Process(ctx context.Context, b domain.Batch, id int64) error {
	return f(ctx, b, id)
}

// LogProcessor records each identifier at debug level and never fails.
type LogProcessor struct {
	Logger *jsonlog.Logger
}

func (p LogProcessor) Process(ctx context.Context, b domain.Batch, id int64) error {
	if p.Logger != nil {
		p.Logger.PrintDebug("process id", map[string]string{
			"batch_id":     b.ID,
			"ingestion_id": b.IngestionID,
			"id":           strconv.FormatInt(id, 10),
		})
	}
	return ctx.Err()
}

// finishTimeout bounds the terminal status write and the follow-up read.
const finishTimeout = 5 * time.Second

type Executor struct {
	registry  Registry
	processor Processor
	clock     clock.PassiveClock
	logger    *jsonlog.Logger
	metrics   *Metrics
}

func NewExecutor(registry Registry, processor Processor, clk clock.PassiveClock, logger *jsonlog.Logger, metrics *Metrics) *Executor {
	if logger == nil {
		logger = jsonlog.Discard()
	}
	if processor == nil {
		processor = LogProcessor{Logger: logger}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Executor{
		registry:  registry,
		processor: processor,
		clock:     clk,
		logger:    logger.With(map[string]string{"component": "executor"}),
		metrics:   metrics,
	}
}

// Execute triggers the batch and runs it to a terminal status.
func (e *Executor) Execute(ctx context.Context, batchID string) error {
	b, err := e.Trigger(ctx, batchID)
	if err != nil {
		return err
	}
	return e.Run(ctx, b)
}

// Trigger moves a batch from yet_to_start to triggered.
func (e *Executor) Trigger(ctx context.Context, batchID string) (domain.Batch, error) {
	b, err := e.transition(ctx, batchID, domain.StatusUpdate{
		Status: domain.StatusTriggered,
		At:     e.clock.Now(),
	})
	if err != nil {
		return domain.Batch{}, err
	}

	e.logger.PrintInfo("batch triggered", map[string]string{
		"batch_id":     b.ID,
		"ingestion_id": b.IngestionID,
		"priority":     b.Priority.String(),
		"seq":          strconv.FormatUint(b.Seq, 10),
	})
	return b, nil
}

// Run processes a triggered batch and records completed or failed.
// A processing error is recorded on the batch and not returned.
func (e *Executor) Run(ctx context.Context, b domain.Batch) error {
	next := domain.StatusUpdate{Status: domain.StatusCompleted}
	for _, id := range b.IDs {
		if err := e.processor.Process(ctx, b, id); err != nil {
			next = domain.StatusUpdate{
				Status: domain.StatusFailed,
				Error:  fmt.Sprintf("process id %d: %v", id, err),
			}
			break
		}
	}
	next.At = e.clock.Now()

	// The terminal write must land even when processing used up ctx.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	done, err := e.transition(ctx, b.ID, next)
	if err != nil {
		return err
	}
	e.metrics.finished(done.Status)

	props := map[string]string{
		"batch_id":     done.ID,
		"ingestion_id": done.IngestionID,
		"status":       done.Status.String(),
	}
	if done.Status == domain.StatusFailed {
		e.logger.PrintError(errors.New(done.Error), props)
	} else {
		e.logger.PrintInfo("batch finished", props)
	}

	ing, err := e.registry.GetIngestion(ctx, done.IngestionID)
	if err != nil {
		e.logger.PrintError(fmt.Errorf("load ingestion: %w", err), props)
		return nil
	}
	e.logger.PrintInfo("ingestion status", map[string]string{
		"ingestion_id": ing.ID,
		"status":       string(ing.Status()),
	})
	return nil
}

func (e *Executor) transition(ctx context.Context, batchID string, u domain.StatusUpdate) (domain.Batch, error) {
	b, err := e.registry.UpdateBatchStatus(ctx, batchID, u)
	if err == nil {
		return b, nil
	}

	var te *domain.TransitionError
	if errors.As(err, &te) {
		e.metrics.violation()
		e.logger.PrintErrorWithTrace(err, map[string]string{
			"batch_id": batchID,
			"from":     te.From.String(),
			"to":       te.To.String(),
		})
		return domain.Batch{}, err
	}

	e.logger.PrintError(err, map[string]string{
		"batch_id": batchID,
		"to":       u.Status.String(),
	})
	return domain.Batch{}, fmt.Errorf("update batch %s to %s: %w", batchID, u.Status, err)
}
