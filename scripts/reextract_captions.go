package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stashsift/stashsift/internal/analysis"
	"github.com/stashsift/stashsift/internal/store"
)

// Re-runs caption extraction over already-imported items after extractor rule
// changes. Vision and audio mentions are preserved; only caption and hashtag
// rows are replaced.

type itemRow struct {
	ID         string
	Caption    string
	PostedAt   int64
	Likes      int64
	Comments   int64
	Shares     int64
	Views      int64
	ImportedAt int64
}

type metrics struct {
	EntitiesTotal     int64            `json:"entities_total"`
	EntitiesByCat     map[string]int64 `json:"entities_by_category"`
	CaptionDerived    int64            `json:"caption_derived"`
	NonCaptionDerived int64            `json:"non_caption_derived"`
}

type report struct {
	DBPath      string    `json:"db_path"`
	GeneratedAt time.Time `json:"generated_at"`
	Mode        string    `json:"mode"`
	Limit       int       `json:"limit"`
	Offset      int       `json:"offset"`
	Since       string    `json:"since,omitempty"`
	Selected    int       `json:"selected_items"`
	BackupPath  string    `json:"backup_path,omitempty"`
	Before      metrics   `json:"before"`
	After       metrics   `json:"after"`
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed"`
	Deleted     int64     `json:"deleted_mentions"`
	Inserted    int64     `json:"inserted_mentions"`
	Errors      []string  `json:"errors,omitempty"`
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ",?"
	}
	return out
}

func collectItems(ctx context.Context, db *sql.DB, since int64, limit, offset int) ([]itemRow, error) {
	args := []any{}
	query := `
SELECT id, caption, posted_at, likes, comments, shares, views, imported_at
FROM items
WHERE caption != ''
`
	if since > 0 {
		query += "  AND imported_at >= ?\n"
		args = append(args, since)
	}
	query += "ORDER BY imported_at DESC\nLIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []itemRow{}
	for rows.Next() {
		var r itemRow
		if err := rows.Scan(&r.ID, &r.Caption, &r.PostedAt, &r.Likes, &r.Comments, &r.Shares, &r.Views, &r.ImportedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func calcMetrics(ctx context.Context, db *sql.DB, ids []string) (metrics, error) {
	m := metrics{EntitiesByCat: map[string]int64{}}
	if len(ids) == 0 {
		return m, nil
	}

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	ph := placeholders(len(ids))

	qTotal := fmt.Sprintf(`SELECT COUNT(*) FROM raw_entities WHERE item_id IN (%s)`, ph)
	if err := db.QueryRowContext(ctx, qTotal, args...).Scan(&m.EntitiesTotal); err != nil {
		return m, err
	}

	qCat := fmt.Sprintf(`SELECT category, COUNT(*) FROM raw_entities WHERE item_id IN (%s) GROUP BY category`, ph)
	rows, err := db.QueryContext(ctx, qCat, args...)
	if err != nil {
		return m, err
	}
	for rows.Next() {
		var c string
		var n int64
		if err := rows.Scan(&c, &n); err != nil {
			rows.Close()
			return m, err
		}
		m.EntitiesByCat[c] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return m, err
	}
	rows.Close()

	qMod := fmt.Sprintf(`SELECT COUNT(*) FROM raw_entities WHERE item_id IN (%s) AND modality IN ('caption','hashtag')`, ph)
	if err := db.QueryRowContext(ctx, qMod, args...).Scan(&m.CaptionDerived); err != nil {
		return m, err
	}
	m.NonCaptionDerived = m.EntitiesTotal - m.CaptionDerived

	return m, nil
}

func backupDB(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	return out.Sync()
}

func main() {
	dbPath := flag.String("db", filepath.Join(os.Getenv("HOME"), ".stashsift", "stashsift.db"), "Path to stashsift sqlite db")
	since := flag.String("since", "", "RFC3339 lower-bound for imported_at (optional)")
	limit := flag.Int("limit", 250, "Max items to reprocess")
	offset := flag.Int("offset", 0, "Offset into ordered items")
	dryRun := flag.Bool("dry-run", false, "Only report counts, do not mutate")
	backupPath := flag.String("backup", "", "Backup path before write mode")
	reportPath := flag.String("report", "", "Optional path to write JSON report")
	flag.Parse()

	var sinceTS int64
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			panic(fmt.Errorf("invalid -since: %w", err))
		}
		sinceTS = t.Unix()
	}

	ctx := context.Background()
	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	items, err := collectItems(ctx, db, sinceTS, *limit, *offset)
	if err != nil {
		panic(err)
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}

	rep := report{
		DBPath:      *dbPath,
		GeneratedAt: time.Now().UTC(),
		Mode:        map[bool]string{true: "dry-run", false: "write"}[*dryRun],
		Limit:       *limit,
		Offset:      *offset,
		Since:       *since,
		Selected:    len(items),
	}

	rep.Before, err = calcMetrics(ctx, db, ids)
	if err != nil {
		panic(err)
	}

	if !*dryRun {
		if *backupPath != "" {
			if err := backupDB(*dbPath, *backupPath); err != nil {
				panic(fmt.Errorf("backup failed: %w", err))
			}
			rep.BackupPath = *backupPath
		}

		chain, err := analysis.NewChain([]analysis.Extractor{analysis.NewHeuristicExtractor()}, nil, nil)
		if err != nil {
			panic(err)
		}
		now := time.Now().Unix()

		for _, row := range items {
			item := &store.Item{
				ID:       row.ID,
				Caption:  row.Caption,
				PostedAt: time.Unix(row.PostedAt, 0).UTC(),
			}
			item.Engagement.Likes = row.Likes
			item.Engagement.Comments = row.Comments
			item.Engagement.Shares = row.Shares
			item.Engagement.Views = row.Views

			mentions, err := chain.Extract(ctx, item)
			if err != nil {
				rep.Failed++
				rep.Errors = append(rep.Errors, fmt.Sprintf("item %s extract error: %v", row.ID, err))
				continue
			}

			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				rep.Failed++
				rep.Errors = append(rep.Errors, fmt.Sprintf("item %s tx begin error: %v", row.ID, err))
				continue
			}

			res, err := tx.ExecContext(ctx,
				`DELETE FROM raw_entities WHERE item_id = ? AND modality IN ('caption','hashtag')`, row.ID)
			if err != nil {
				_ = tx.Rollback()
				rep.Failed++
				rep.Errors = append(rep.Errors, fmt.Sprintf("item %s delete error: %v", row.ID, err))
				continue
			}
			deleted, _ := res.RowsAffected()
			rep.Deleted += deleted

			ok := true
			for _, m := range mentions {
				_, err := tx.ExecContext(ctx, `
INSERT INTO raw_entities (item_id, name, category, confidence, modality, snippet, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (item_id, name, category, modality) DO NOTHING
`, row.ID, m.Name, string(m.Category), m.Confidence, string(m.Modality), m.Snippet, now)
				if err != nil {
					_ = tx.Rollback()
					rep.Failed++
					rep.Errors = append(rep.Errors, fmt.Sprintf("item %s insert error: %v", row.ID, err))
					ok = false
					break
				}
				rep.Inserted++
			}
			if !ok {
				continue
			}

			if err := tx.Commit(); err != nil {
				rep.Failed++
				rep.Errors = append(rep.Errors, fmt.Sprintf("item %s commit error: %v", row.ID, err))
				continue
			}
			rep.Processed++
		}
	}

	rep.After, err = calcMetrics(ctx, db, ids)
	if err != nil {
		panic(err)
	}

	out, _ := json.MarshalIndent(rep, "", "  ")
	fmt.Println(string(out))
	if *reportPath != "" {
		if err := os.WriteFile(*reportPath, out, 0o644); err != nil {
			panic(err)
		}
	}
}
