package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cun0/batch-ingest/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

func (r *PostgresRegistry) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const batchColumns = `id, ingestion_id, position, ids, priority, seq, status, error, created_at, triggered_at, completed_at`

func (r *PostgresRegistry) CreateIngestion(ctx context.Context, ing domain.Ingestion) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `INSERT INTO ingestions (id, priority, created_at) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, q, ing.ID, int16(ing.Priority), ing.CreatedAt); err != nil {
		return err
	}

	if len(ing.Batches) > 0 {
		sql, args := buildInsertBatchesSQL(ing.Batches)
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// buildInsertBatchesSQL writes one multi-row INSERT; 9 params per batch.
func buildInsertBatchesSQL(batches []domain.Batch) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(batches)*9)

	b.WriteString(`
	INSERT INTO batches (id, ingestion_id, position, ids, priority, seq, status, error, created_at)
	VALUES
`)

	argPos := 1
	for i, bt := range batches {
		if i > 0 {
			b.WriteString(",\n")
		}

		b.WriteString(fmt.Sprintf(
			"($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			argPos, argPos+1, argPos+2, argPos+3, argPos+4, argPos+5, argPos+6, argPos+7, argPos+8,
		))

		args = append(args,
			bt.ID,
			bt.IngestionID,
			bt.Position,
			bt.IDs,
			int16(bt.Priority),
			int64(bt.Seq),
			string(bt.Status),
			bt.Error,
			bt.CreatedAt,
		)

		argPos += 9
	}

	return b.String(), args
}

func (r *PostgresRegistry) GetIngestion(ctx context.Context, id string) (domain.Ingestion, error) {
	const q = `SELECT id, priority, created_at FROM ingestions WHERE id = $1`

	var ing domain.Ingestion
	var prio int16
	err := r.pool.QueryRow(ctx, q, id).Scan(&ing.ID, &prio, &ing.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Ingestion{}, domain.NotFound("ingestion", id)
	}
	if err != nil {
		return domain.Ingestion{}, err
	}
	ing.Priority = domain.Priority(prio)

	rows, err := r.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE ingestion_id = $1 ORDER BY position`, id)
	if err != nil {
		return domain.Ingestion{}, err
	}
	ing.Batches, err = collectBatches(rows)
	if err != nil {
		return domain.Ingestion{}, err
	}
	return ing, nil
}

func (r *PostgresRegistry) GetBatch(ctx context.Context, id string) (domain.Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Batch{}, domain.NotFound("batch", id)
	}
	return b, err
}

func (r *PostgresRegistry) UpdateBatchStatus(ctx context.Context, id string, u domain.StatusUpdate) (domain.Batch, error) {
	from, ok := domain.Predecessor(u.Status)
	if !ok {
		return domain.Batch{}, r.transitionError(ctx, id, u.Status)
	}

	// Compare-and-set on the single allowed predecessor.
	const q = `
	UPDATE batches SET
	  status       = $2::text,
	  triggered_at = CASE WHEN $2::text = 'triggered' THEN $3::timestamptz ELSE triggered_at END,
	  completed_at = CASE WHEN $2::text IN ('completed', 'failed') THEN $3::timestamptz ELSE completed_at END,
	  error        = CASE WHEN $2::text = 'failed' THEN $4::text ELSE error END
	WHERE id = $1 AND status = $5::text
	RETURNING ` + batchColumns

	row := r.pool.QueryRow(ctx, q, id, string(u.Status), u.At.UTC(), u.Error, string(from))
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Batch{}, r.transitionError(ctx, id, u.Status)
	}
	return b, err
}

// transitionError explains why a CAS update matched no row.
func (r *PostgresRegistry) transitionError(ctx context.Context, id string, to domain.BatchStatus) error {
	var current string
	err := r.pool.QueryRow(ctx, `SELECT status FROM batches WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFound("batch", id)
	}
	if err != nil {
		return err
	}
	return &domain.TransitionError{BatchID: id, From: domain.BatchStatus(current), To: to}
}

func (r *PostgresRegistry) ListUnfinishedBatches(ctx context.Context) ([]domain.Batch, error) {
	rows, err := r.pool.Query(ctx, `
	SELECT `+batchColumns+`
	FROM batches
	WHERE status IN ('yet_to_start', 'triggered')
	ORDER BY priority, seq`)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

func (r *PostgresRegistry) CountBatches(ctx context.Context) (domain.BatchCounts, error) {
	const q = `
SELECT
  status,
  COUNT(*)::bigint AS total
FROM batches
GROUP BY status;
`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := domain.BatchCounts{}
	for rows.Next() {
		var status string
		var total int64
		if err := rows.Scan(&status, &total); err != nil {
			return nil, err
		}
		out[domain.BatchStatus(status)] = total
	}
	return out, rows.Err()
}

func scanBatch(row pgx.Row) (domain.Batch, error) {
	var b domain.Batch
	var prio int16
	var seq int64
	var status string
	var triggeredAt, completedAt *time.Time

	err := row.Scan(&b.ID, &b.IngestionID, &b.Position, &b.IDs, &prio, &seq, &status, &b.Error,
		&b.CreatedAt, &triggeredAt, &completedAt)
	if err != nil {
		return domain.Batch{}, err
	}

	b.Priority = domain.Priority(prio)
	b.Seq = uint64(seq)
	b.Status = domain.BatchStatus(status)
	b.TriggeredAt = triggeredAt
	b.CompletedAt = completedAt
	return b, nil
}

func collectBatches(rows pgx.Rows) ([]domain.Batch, error) {
	defer rows.Close()

	var out []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
