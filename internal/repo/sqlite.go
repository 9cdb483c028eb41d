package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cun0/batch-ingest/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteRegistry is a single-file durable registry for deployments without
// Postgres.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry opens (or creates) a SQLite database at path.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: ":memory:" is per-connection and writes serialize anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteRegistry{db: db}, nil
}

func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

func (r *SQLiteRegistry) Migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const sqliteBatchColumns = `id, ingestion_id, position, ids, priority, seq, status, error, created_at, triggered_at, completed_at`

func (r *SQLiteRegistry) CreateIngestion(ctx context.Context, ing domain.Ingestion) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ingestions (id, priority, created_at) VALUES (?, ?, ?)`,
		ing.ID, int(ing.Priority), ing.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert ingestion: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO batches (id, ingestion_id, position, ids, priority, seq, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range ing.Batches {
		idsJSON, err := json.Marshal(b.IDs)
		if err != nil {
			return fmt.Errorf("marshal ids: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			b.ID, b.IngestionID, b.Position, string(idsJSON), int(b.Priority), int64(b.Seq),
			string(b.Status), b.Error, b.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRegistry) GetIngestion(ctx context.Context, id string) (domain.Ingestion, error) {
	var ing domain.Ingestion
	var prio int
	var createdAt string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, priority, created_at FROM ingestions WHERE id = ?`, id,
	).Scan(&ing.ID, &prio, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Ingestion{}, domain.NotFound("ingestion", id)
	}
	if err != nil {
		return domain.Ingestion{}, err
	}
	ing.Priority = domain.Priority(prio)
	ing.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteBatchColumns+` FROM batches WHERE ingestion_id = ? ORDER BY position`, id)
	if err != nil {
		return domain.Ingestion{}, err
	}
	ing.Batches, err = collectSQLiteBatches(rows)
	if err != nil {
		return domain.Ingestion{}, err
	}
	return ing, nil
}

func (r *SQLiteRegistry) GetBatch(ctx context.Context, id string) (domain.Batch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteBatchColumns+` FROM batches WHERE id = ?`, id)
	b, err := scanSQLiteBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Batch{}, domain.NotFound("batch", id)
	}
	return b, err
}

func (r *SQLiteRegistry) UpdateBatchStatus(ctx context.Context, id string, u domain.StatusUpdate) (domain.Batch, error) {
	from, ok := domain.Predecessor(u.Status)
	if !ok {
		return domain.Batch{}, r.transitionError(ctx, id, u.Status)
	}

	at := u.At.UTC().Format(time.RFC3339Nano)
	var q string
	var args []any
	switch u.Status {
	case domain.StatusTriggered:
		q = `UPDATE batches SET status = ?, triggered_at = ? WHERE id = ? AND status = ?`
		args = []any{string(u.Status), at, id, string(from)}
	case domain.StatusFailed:
		q = `UPDATE batches SET status = ?, completed_at = ?, error = ? WHERE id = ? AND status = ?`
		args = []any{string(u.Status), at, u.Error, id, string(from)}
	default:
		q = `UPDATE batches SET status = ?, completed_at = ? WHERE id = ? AND status = ?`
		args = []any{string(u.Status), at, id, string(from)}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Batch{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return domain.Batch{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Batch{}, err
	}
	if n == 0 {
		_ = tx.Rollback()
		return domain.Batch{}, r.transitionError(ctx, id, u.Status)
	}

	b, err := scanSQLiteBatch(tx.QueryRowContext(ctx,
		`SELECT `+sqliteBatchColumns+` FROM batches WHERE id = ?`, id))
	if err != nil {
		return domain.Batch{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Batch{}, err
	}
	return b, nil
}

func (r *SQLiteRegistry) transitionError(ctx context.Context, id string, to domain.BatchStatus) error {
	var current string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM batches WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound("batch", id)
	}
	if err != nil {
		return err
	}
	return &domain.TransitionError{BatchID: id, From: domain.BatchStatus(current), To: to}
}

func (r *SQLiteRegistry) ListUnfinishedBatches(ctx context.Context) ([]domain.Batch, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteBatchColumns+` FROM batches
		 WHERE status IN ('yet_to_start', 'triggered')
		 ORDER BY priority, seq`)
	if err != nil {
		return nil, err
	}
	return collectSQLiteBatches(rows)
}

func (r *SQLiteRegistry) CountBatches(ctx context.Context) (domain.BatchCounts, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM batches GROUP BY status`)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteBatch(row rowScanner) (domain.Batch, error) {
	var b domain.Batch
	var idsJSON, status, createdAt string
	var prio int
	var seq int64
	var triggeredAt, completedAt *string

	err := row.Scan(&b.ID, &b.IngestionID, &b.Position, &idsJSON, &prio, &seq, &status, &b.Error,
		&createdAt, &triggeredAt, &completedAt)
	if err != nil {
		return domain.Batch{}, err
	}

	if err := json.Unmarshal([]byte(idsJSON), &b.IDs); err != nil {
		return domain.Batch{}, fmt.Errorf("unmarshal ids of batch %s: %w", b.ID, err)
	}
	b.Priority = domain.Priority(prio)
	b.Seq = uint64(seq)
	b.Status = domain.BatchStatus(status)
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	b.TriggeredAt = parseOptionalTime(triggeredAt)
	b.CompletedAt = parseOptionalTime(completedAt)
	return b, nil
}

func collectSQLiteBatches(rows *sql.Rows) ([]domain.Batch, error) {
	defer rows.Close()

	var out []domain.Batch
	for rows.Next() {
		b, err := scanSQLiteBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func parseOptionalTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
