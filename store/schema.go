package store

// Schema creates every permitpack table. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	address    TEXT NOT NULL DEFAULT '',
	ahj        TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	output_path   TEXT NOT NULL DEFAULT '',
	blob_key      TEXT NOT NULL DEFAULT '',
	processing_ms INTEGER NOT NULL DEFAULT 0,
	total         INTEGER NOT NULL DEFAULT 0,
	found         INTEGER NOT NULL DEFAULT 0,
	cached        INTEGER NOT NULL DEFAULT 0,
	missing       INTEGER NOT NULL DEFAULT 0,
	success_rate  REAL NOT NULL DEFAULT 0,
	report_json   TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id, created_at DESC);

CREATE TABLE IF NOT EXISTS run_components (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	row_index     INTEGER NOT NULL,
	part_name     TEXT NOT NULL DEFAULT '',
	part_number   TEXT NOT NULL DEFAULT '',
	manufacturer  TEXT NOT NULL DEFAULT '',
	quantity      INTEGER NOT NULL DEFAULT 1,
	status        TEXT NOT NULL,
	origin        TEXT NOT NULL DEFAULT '',
	resolved_path TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, row_index)
);

CREATE TABLE IF NOT EXISTS spec_notes (
	id          TEXT PRIMARY KEY,
	part_number TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	markdown    TEXT NOT NULL,
	fetched_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spec_notes_part ON spec_notes(part_number, fetched_at DESC);
`
