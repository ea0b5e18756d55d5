package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stashsift/stashsift/internal/analysis"
	"github.com/stashsift/stashsift/internal/entity"
	"github.com/stashsift/stashsift/internal/store"
)

// Engine walks export files, parses them, and writes items and entity
// mentions to the store. Records that carry pre-analyzed entities use those;
// records without any go through the extraction chain.
type Engine struct {
	store     store.Store
	chain     *analysis.Chain
	importers []Importer
	logger    *zap.Logger
}

// NewEngine builds an import engine. chain may be nil to disable extraction
// for records without pre-analyzed entities.
func NewEngine(st store.Store, chain *analysis.Chain, logger *zap.Logger) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     st,
		chain:     chain,
		importers: []Importer{&JSONImporter{}, &YAMLImporter{}},
		logger:    logger,
	}, nil
}

// ImportPath imports a file or directory of export files.
func (e *Engine) ImportPath(ctx context.Context, path string, opts Options) (*Result, error) {
	opts.Normalize()

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return e.importFile(ctx, path, opts)
	}

	result := &Result{}
	walkErr := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fileResult, err := e.importFile(ctx, p, opts)
		if err != nil {
			result.Errors = append(result.Errors, ImportError{File: p, Message: err.Error()})
			result.FilesSkipped++
			return nil
		}
		result.Add(fileResult)
		return nil
	})
	if walkErr != nil {
		return result, walkErr
	}
	return result, nil
}

func (e *Engine) importFile(ctx context.Context, path string, opts Options) (*Result, error) {
	result := &Result{FilesScanned: 1}

	imp := e.importerFor(path)
	if imp == nil {
		result.FilesSkipped++
		return result, nil
	}
	if info, err := os.Stat(path); err == nil && info.Size() > opts.MaxFileSize {
		e.logger.Warn("skipping oversized file", zap.String("path", path), zap.Int64("size", info.Size()))
		result.FilesSkipped++
		return result, nil
	}

	records, err := imp.Import(ctx, path)
	if err != nil {
		return result, err
	}
	if len(records) == 0 {
		result.FilesSkipped++
		return result, nil
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := e.importRecord(ctx, rec, opts, result); err != nil {
			result.Errors = append(result.Errors, ImportError{File: path, Message: err.Error()})
		}
	}

	result.FilesImported++
	e.logger.Info("imported file",
		zap.String("path", path),
		zap.Int("items", result.ItemsImported),
		zap.Int("entities", result.EntitiesStored),
		zap.Int("entities_skipped", result.EntitiesSkipped))
	return result, nil
}

func (e *Engine) importRecord(ctx context.Context, rec ExportRecord, opts Options, result *Result) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	item := &store.Item{
		ID:          rec.ID,
		URL:         rec.URL,
		Author:      rec.Author,
		Caption:     rec.Caption,
		ContentType: rec.ContentType,
		PostedAt:    rec.PostedAt,
		Engagement:  rec.Engagement,
		ImportedAt:  time.Now(),
	}

	mentions, skipped := e.mentionsFor(ctx, rec, item)
	result.EntitiesSkipped += skipped

	if opts.DryRun {
		result.ItemsImported++
		result.EntitiesStored += len(mentions)
		return nil
	}

	if err := e.store.AddItem(ctx, item); err != nil {
		return fmt.Errorf("storing item %s: %w", item.ID, err)
	}
	result.ItemsImported++

	stored, err := e.store.AddRawEntities(ctx, mentions)
	if err != nil {
		return fmt.Errorf("storing entities for %s: %w", item.ID, err)
	}
	result.EntitiesStored += stored
	return nil
}

// mentionsFor converts a record's pre-analyzed entities, falling back to the
// extraction chain when none are present. Malformed entities are logged and
// counted, never imported.
func (e *Engine) mentionsFor(ctx context.Context, rec ExportRecord, item *store.Item) ([]entity.RawEntity, int) {
	if len(rec.Entities) == 0 {
		if e.chain == nil {
			return nil, 0
		}
		mentions, err := e.chain.Extract(ctx, item)
		if err != nil {
			e.logger.Warn("extraction failed", zap.String("item_id", item.ID), zap.Error(err))
			return nil, 0
		}
		return mentions, 0
	}

	var out []entity.RawEntity
	skipped := 0
	for _, ee := range rec.Entities {
		raw, err := convertEntity(ee, item)
		if err != nil {
			e.logger.Warn("skipping malformed entity",
				zap.String("item_id", item.ID),
				zap.String("name", ee.Name),
				zap.Error(err))
			skipped++
			continue
		}
		out = append(out, raw)
	}
	return out, skipped
}

func convertEntity(ee ExportEntity, item *store.Item) (entity.RawEntity, error) {
	if ee.Name == "" {
		return entity.RawEntity{}, fmt.Errorf("entity has no name")
	}
	cat, err := entity.ParseCategory(ee.Category)
	if err != nil {
		return entity.RawEntity{}, err
	}
	mod := entity.ModalityCaption
	if ee.Modality != "" {
		mod, err = entity.ParseModality(ee.Modality)
		if err != nil {
			return entity.RawEntity{}, err
		}
	}
	if ee.Confidence < 0 || ee.Confidence > 1 {
		return entity.RawEntity{}, fmt.Errorf("confidence %v out of range", ee.Confidence)
	}
	return entity.RawEntity{
		Name:          ee.Name,
		Category:      cat,
		Confidence:    ee.Confidence,
		Modality:      mod,
		Snippet:       ee.Snippet,
		ItemID:        item.ID,
		ItemTimestamp: item.PostedAt,
		Engagement:    item.Engagement,
	}, nil
}

func (e *Engine) importerFor(path string) Importer {
	for _, imp := range e.importers {
		if imp.CanHandle(path) {
			return imp
		}
	}
	return nil
}
