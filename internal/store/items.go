package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// AddItem inserts a content item. Re-importing an existing ID updates the
// engagement metrics in place so repeated exports stay current.
func (s *SQLiteStore) AddItem(ctx context.Context, it *Item) error {
	if it.ID == "" {
		return errors.New("item ID is required")
	}
	if it.ImportedAt.IsZero() {
		it.ImportedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, url, author, caption, content_type, posted_at, likes, comments, shares, views, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			likes = excluded.likes,
			comments = excluded.comments,
			shares = excluded.shares,
			views = excluded.views`,
		it.ID, it.URL, it.Author, it.Caption, it.ContentType,
		timestamp(it.PostedAt),
		it.Engagement.Likes, it.Engagement.Comments, it.Engagement.Shares, it.Engagement.Views,
		timestamp(it.ImportedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting item %s: %w", it.ID, err)
	}
	return nil
}

// GetItem fetches a single item by ID.
func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, author, caption, content_type, posted_at, likes, comments, shares, views, imported_at
		FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching item %s: %w", id, err)
	}
	return it, nil
}

// ListItems returns items newest first.
func (s *SQLiteStore) ListItems(ctx context.Context, opts ListOpts) ([]*Item, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, author, caption, content_type, posted_at, likes, comments, shares, views, imported_at
		FROM items ORDER BY posted_at DESC, id ASC LIMIT ? OFFSET ?`, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*Item, error) {
	var it Item
	var postedAt, importedAt int64
	err := r.Scan(&it.ID, &it.URL, &it.Author, &it.Caption, &it.ContentType,
		&postedAt,
		&it.Engagement.Likes, &it.Engagement.Comments, &it.Engagement.Shares, &it.Engagement.Views,
		&importedAt)
	if err != nil {
		return nil, err
	}
	it.PostedAt = fromTimestamp(postedAt)
	it.ImportedAt = fromTimestamp(importedAt)
	return &it, nil
}

func timestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromTimestamp(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
