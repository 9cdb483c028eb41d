package repo

// Each statement is idempotent; they run in order on startup.

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS ingestions (
		id         TEXT PRIMARY KEY,
		priority   SMALLINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id           TEXT PRIMARY KEY,
		ingestion_id TEXT NOT NULL REFERENCES ingestions(id),
		position     INT NOT NULL,
		ids          BIGINT[] NOT NULL,
		priority     SMALLINT NOT NULL,
		seq          BIGINT NOT NULL,
		status       TEXT NOT NULL,
		error        TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL,
		triggered_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		UNIQUE (ingestion_id, position)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_unfinished
		ON batches (priority, seq)
		WHERE status IN ('yet_to_start', 'triggered')`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS ingestions (
		id         TEXT PRIMARY KEY,
		priority   INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id           TEXT PRIMARY KEY,
		ingestion_id TEXT NOT NULL REFERENCES ingestions(id),
		position     INTEGER NOT NULL,
		ids          TEXT NOT NULL,
		priority     INTEGER NOT NULL,
		seq          INTEGER NOT NULL,
		status       TEXT NOT NULL,
		error        TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		triggered_at TEXT,
		completed_at TEXT,
		UNIQUE (ingestion_id, position)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_ingestion ON batches(ingestion_id)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status, priority, seq)`,
}
