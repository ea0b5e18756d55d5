package store

import "fmt"

// migrations run in order. Each entry is applied once, tracked in
// schema_migrations by index.
var migrations = []string{
	// 0: base schema
	`CREATE TABLE IF NOT EXISTS items (
		id           TEXT PRIMARY KEY,
		url          TEXT NOT NULL DEFAULT '',
		author       TEXT NOT NULL DEFAULT '',
		caption      TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT 'post',
		posted_at    INTEGER NOT NULL DEFAULT 0,
		likes        INTEGER NOT NULL DEFAULT 0,
		comments     INTEGER NOT NULL DEFAULT 0,
		shares       INTEGER NOT NULL DEFAULT 0,
		views        INTEGER NOT NULL DEFAULT 0,
		imported_at  INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS raw_entities (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id    TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		category   TEXT NOT NULL,
		confidence REAL NOT NULL,
		modality   TEXT NOT NULL DEFAULT 'caption',
		snippet    TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT 0,
		UNIQUE(item_id, name, category, modality)
	);
	CREATE INDEX IF NOT EXISTS idx_raw_entities_item ON raw_entities(item_id);
	CREATE INDEX IF NOT EXISTS idx_raw_entities_category ON raw_entities(category);
	CREATE TABLE IF NOT EXISTS agg_views (
		version  INTEGER PRIMARY KEY,
		built_at INTEGER NOT NULL,
		payload  BLOB NOT NULL
	);`,

	// 1: persisted views record the synonym table they were normalized
	// against, so a table change invalidates them.
	`ALTER TABLE agg_views ADD COLUMN table_version TEXT NOT NULL DEFAULT '';`,
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		idx        INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(idx), -1) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading migration state: %w", err)
	}

	for i := current + 1; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", i, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", i, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (idx, applied_at) VALUES (?, strftime('%s','now'))", i); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", i, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", i, err)
		}
	}
	return nil
}
