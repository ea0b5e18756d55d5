package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveView stores an aggregate view payload under its build version, tagged
// with the synonym table version it was normalized against. Saving the same
// version again replaces the payload.
func (s *SQLiteStore) SaveView(ctx context.Context, version int64, tableVersion string, builtAt time.Time, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agg_views (version, table_version, built_at, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			table_version = excluded.table_version,
			built_at = excluded.built_at,
			payload = excluded.payload`,
		version, tableVersion, timestamp(builtAt), payload)
	if err != nil {
		return fmt.Errorf("saving view %d: %w", version, err)
	}
	// Keep only the most recent few views. Old payloads have no readers.
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM agg_views WHERE version NOT IN (
			SELECT version FROM agg_views ORDER BY version DESC LIMIT 3)`)
	if err != nil {
		return fmt.Errorf("pruning old views: %w", err)
	}
	return nil
}

// LoadView fetches the payload and synonym table version for a build version.
func (s *SQLiteStore) LoadView(ctx context.Context, version int64) ([]byte, string, time.Time, error) {
	var payload []byte
	var tableVersion string
	var builtAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, table_version, built_at FROM agg_views WHERE version = ?", version).
		Scan(&payload, &tableVersion, &builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", time.Time{}, fmt.Errorf("view %d: %w", version, ErrNotFound)
	}
	if err != nil {
		return nil, "", time.Time{}, fmt.Errorf("loading view %d: %w", version, err)
	}
	return payload, tableVersion, fromTimestamp(builtAt), nil
}
