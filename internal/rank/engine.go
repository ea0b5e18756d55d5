package rank

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stashsift/stashsift/internal/entity"
)

// Snapshot is an immutable view of the aggregated-entity set at one build
// version. In-flight queries always complete against the snapshot taken at
// their start; new ingestion produces a new snapshot rather than mutating an
// old one.
type Snapshot struct {
	Version  int64
	BuiltAt  time.Time
	Entities []entity.AggregatedEntity
}

// SnapshotSource provides the current aggregated view.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Outcome is the typed result of one query. Either Results or Suggestions is
// populated; an empty candidate set is not an error.
type Outcome struct {
	QueryID           string         `json:"query_id"`
	SnapshotVersion   int64          `json:"snapshot_version"`
	Results           []RankedResult `json:"results,omitempty"`
	FilteredTotal     int            `json:"filtered_total"`
	InsufficientCount bool           `json:"insufficient_count,omitempty"`
	Suggestions       []string       `json:"suggestions,omitempty"`
}

// Engine runs the query pipeline: snapshot → score → filter → evidence or
// suggestions. Safe for concurrent use.
type Engine struct {
	src    SnapshotSource
	scorer *Scorer
	cfg    ResolveConfig
	logger *zap.Logger
	now    func() time.Time
}

// EngineConfig configures a query Engine.
type EngineConfig struct {
	Score   ScoreConfig
	Resolve ResolveConfig
	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// NewEngine builds an Engine over a snapshot source.
func NewEngine(src SnapshotSource, cfg EngineConfig, logger *zap.Logger) (*Engine, error) {
	if src == nil {
		return nil, fmt.Errorf("snapshot source is nil")
	}
	scorer, err := NewScorer(cfg.Score)
	if err != nil {
		return nil, fmt.Errorf("building scorer: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{src: src, scorer: scorer, cfg: cfg.Resolve, logger: logger, now: now}, nil
}

// Answer runs one query through the pipeline. Cancellation at any stage
// discards all intermediate products and returns the context error; no
// partial outcome leaks.
func (e *Engine) Answer(ctx context.Context, c Constraints) (*Outcome, error) {
	queryID := uuid.NewString()
	log := e.logger.With(zap.String("query_id", queryID))

	snap, err := e.src.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("taking snapshot: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Debug("snapshot taken",
		zap.Int64("version", snap.Version),
		zap.Int("candidates", len(snap.Entities)))

	scored := e.scorer.ScoreAll(snap.Entities, e.now().UTC())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolution := Resolve(scored, c, e.cfg)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Debug("constraints resolved",
		zap.Int("filtered", resolution.FilteredTotal),
		zap.Int("returned", len(resolution.Results)))

	out := &Outcome{
		QueryID:           queryID,
		SnapshotVersion:   snap.Version,
		FilteredTotal:     resolution.FilteredTotal,
		InsufficientCount: resolution.InsufficientCount,
	}

	if len(resolution.Results) == 0 {
		out.Suggestions = Suggest(scored, c, e.cfg)
		log.Debug("no candidates, suggestions produced", zap.Int("count", len(out.Suggestions)))
		return out, nil
	}

	out.Results = resolution.Results
	for i := range out.Results {
		block := AssembleEvidence(out.Results[i].Entity)
		out.Results[i].Evidence = &block
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
