// Package store provides the SQLite storage layer for stashsift.
//
// All data lives in a single SQLite database file:
// - Saved content items with engagement metrics and provenance
// - Raw extracted entities, one row per mention
// - Cached aggregated-entity views, one immutable payload per build version
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stashsift/stashsift/internal/entity"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.stashsift/stashsift.db"

// DefaultBatchSize is the default batch size for bulk inserts.
const DefaultBatchSize = 500

// Item is one saved content item.
type Item struct {
	ID          string
	URL         string
	Author      string
	Caption     string
	ContentType string // post, reel, carousel
	PostedAt    time.Time
	Engagement  entity.Engagement
	ImportedAt  time.Time
}

// ListOpts controls pagination for List operations.
type ListOpts struct {
	Limit  int
	Offset int
}

// Stats holds observability statistics about the store.
type Stats struct {
	ItemCount   int64
	EntityCount int64
	ViewCount   int64
	DBSizeBytes int64
}

// Config holds configuration for NewStore.
type Config struct {
	DBPath    string
	BatchSize int
}

// Store defines the storage interface.
type Store interface {
	// Items
	AddItem(ctx context.Context, it *Item) error
	GetItem(ctx context.Context, id string) (*Item, error)
	ListItems(ctx context.Context, opts ListOpts) ([]*Item, error)

	// Raw entities
	AddRawEntities(ctx context.Context, entities []entity.RawEntity) (int, error)
	ListRawEntities(ctx context.Context) ([]entity.RawEntity, error)

	// ChangeStamp is a monotonically increasing value that changes whenever
	// new content or entities are ingested. View builders use it to decide
	// whether a cached aggregate view is still current.
	ChangeStamp(ctx context.Context) (int64, error)

	// Aggregate views. tableVersion pins the synonym table a view was
	// normalized against; a view built under a different table is stale
	// even when the change stamp matches.
	SaveView(ctx context.Context, version int64, tableVersion string, builtAt time.Time, payload []byte) error
	LoadView(ctx context.Context, version int64) (payload []byte, tableVersion string, builtAt time.Time, err error)

	// Observability
	Stats(ctx context.Context) (*Stats, error)

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	dbPath    string
	batchSize int
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg Config) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:        db,
		dbPath:    cfg.DBPath,
		batchSize: cfg.BatchSize,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// GetDB exposes the underlying handle for callers that need raw queries.
func (s *SQLiteStore) GetDB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database. Manual only.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Stats returns counts and the database size.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&st.ItemCount); err != nil {
		return nil, fmt.Errorf("counting items: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM raw_entities").Scan(&st.EntityCount); err != nil {
		return nil, fmt.Errorf("counting raw entities: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agg_views").Scan(&st.ViewCount); err != nil {
		return nil, fmt.Errorf("counting views: %w", err)
	}
	if s.dbPath != ":memory:" {
		if fi, err := os.Stat(s.dbPath); err == nil {
			st.DBSizeBytes = fi.Size()
		}
	}
	return st, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
