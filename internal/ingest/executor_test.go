package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/cun0/batch-ingest/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteCompletes(t *testing.T) {
	var seen []int64
	h := newHarness(t, withProcessor(ProcessorFunc(func(ctx context.Context, b domain.Batch, id int64) error {
		seen = append(seen, id)
		return nil
	})))
	res := h.submit(t, domain.PriorityHigh, 7, 8, 9)

	require.NoError(t, h.exec.Execute(context.Background(), res.BatchIDs[0]))

	b := h.batch(t, res.BatchIDs[0])
	assert.Equal(t, domain.StatusCompleted, b.Status)
	assert.Equal(t, []int64{7, 8, 9}, seen)
	require.NotNil(t, b.TriggeredAt)
	require.NotNil(t, b.CompletedAt)
	assert.Equal(t, epoch, *b.TriggeredAt)
	assert.Empty(t, b.Error)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.outcomes.WithLabelValues("completed")))
}

func TestExecuteRecordsFailure(t *testing.T) {
	h := newHarness(t, withProcessor(ProcessorFunc(func(ctx context.Context, b domain.Batch, id int64) error {
		if id == 2 {
			return errors.New("downstream rejected")
		}
		return nil
	})))
	res := h.submit(t, domain.PriorityHigh, 1, 2, 3, 4)

	require.NoError(t, h.exec.Execute(context.Background(), res.BatchIDs[0]))
	require.NoError(t, h.exec.Execute(context.Background(), res.BatchIDs[1]))

	failed := h.batch(t, res.BatchIDs[0])
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "process id 2")
	assert.Contains(t, failed.Error, "downstream rejected")

	assert.Equal(t, domain.StatusCompleted, h.batch(t, res.BatchIDs[1]).Status)
	// A failed batch keeps the ingestion from ever completing.
	assert.Equal(t, domain.IngestionTriggered, h.status(t, res.IngestionID))
}

func TestTriggerTwiceIsAViolation(t *testing.T) {
	h := newHarness(t)
	res := h.submit(t, domain.PriorityLow, 1)
	ctx := context.Background()

	_, err := h.exec.Trigger(ctx, res.BatchIDs[0])
	require.NoError(t, err)

	_, err = h.exec.Trigger(ctx, res.BatchIDs[0])
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.StatusTriggered, te.From)
	assert.Equal(t, domain.StatusTriggered, te.To)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.violations))
	assert.Equal(t, domain.StatusTriggered, h.batch(t, res.BatchIDs[0]).Status)
}

func TestRunOnFinishedBatchIsRejected(t *testing.T) {
	h := newHarness(t)
	res := h.submit(t, domain.PriorityLow, 1)
	ctx := context.Background()

	require.NoError(t, h.exec.Execute(ctx, res.BatchIDs[0]))
	done := h.batch(t, res.BatchIDs[0])

	err := h.exec.Run(ctx, done)
	var te *domain.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.StatusCompleted, te.From)
	assert.Equal(t, domain.StatusCompleted, h.batch(t, res.BatchIDs[0]).Status)
}

func TestTriggerUnknownBatch(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec.Trigger(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
