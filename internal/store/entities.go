package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stashsift/stashsift/internal/entity"
)

// AddRawEntities inserts extracted entity mentions in batches. Duplicate
// mentions of the same (item, name, category, modality) are skipped so
// re-running extraction is safe. Returns the number of rows inserted.
func (s *SQLiteStore) AddRawEntities(ctx context.Context, entities []entity.RawEntity) (int, error) {
	if len(entities) == 0 {
		return 0, nil
	}

	inserted := 0
	now := time.Now().Unix()

	for start := 0; start < len(entities); start += s.batchSize {
		end := start + s.batchSize
		if end > len(entities) {
			end = len(entities)
		}
		batch := entities[start:end]

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return inserted, fmt.Errorf("beginning batch: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO raw_entities (item_id, name, category, confidence, modality, snippet, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(item_id, name, category, modality) DO NOTHING`)
		if err != nil {
			tx.Rollback()
			return inserted, fmt.Errorf("preparing insert: %w", err)
		}
		for _, e := range batch {
			res, err := stmt.ExecContext(ctx, e.ItemID, e.Name, strings.ToLower(string(e.Category)),
				e.Confidence, string(e.Modality), e.Snippet, now)
			if err != nil {
				stmt.Close()
				tx.Rollback()
				return inserted, fmt.Errorf("inserting entity %q for item %s: %w", e.Name, e.ItemID, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return inserted, fmt.Errorf("committing batch: %w", err)
		}
	}
	return inserted, nil
}

// ListRawEntities returns every stored mention joined with its item's
// timestamp and engagement, ready for normalization and aggregation.
func (s *SQLiteStore) ListRawEntities(ctx context.Context) ([]entity.RawEntity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.item_id, e.name, e.category, e.confidence, e.modality, e.snippet,
		       i.posted_at, i.likes, i.comments, i.shares, i.views
		FROM raw_entities e
		JOIN items i ON i.id = e.item_id
		ORDER BY e.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing raw entities: %w", err)
	}
	defer rows.Close()

	var out []entity.RawEntity
	for rows.Next() {
		var e entity.RawEntity
		var cat, mod string
		var postedAt int64
		if err := rows.Scan(&e.ItemID, &e.Name, &cat, &e.Confidence, &mod, &e.Snippet,
			&postedAt,
			&e.Engagement.Likes, &e.Engagement.Comments, &e.Engagement.Shares, &e.Engagement.Views); err != nil {
			return nil, fmt.Errorf("scanning raw entity: %w", err)
		}
		e.Category = entity.Category(cat)
		e.Modality = entity.Modality(mod)
		e.ItemTimestamp = fromTimestamp(postedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ChangeStamp returns a value that increases whenever entities are added.
// AUTOINCREMENT guarantees the max rowid never decreases, even after deletes.
func (s *SQLiteStore) ChangeStamp(ctx context.Context) (int64, error) {
	var stamp int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(id), 0) FROM raw_entities").Scan(&stamp)
	if err != nil {
		return 0, fmt.Errorf("reading change stamp: %w", err)
	}
	return stamp, nil
}
