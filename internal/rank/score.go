// Package rank turns aggregated entities into ordered, constraint-satisfying
// answer sets.
//
// The pipeline for one query is: score candidates against an immutable
// snapshot, apply query constraints, then either assemble evidence for the
// surviving results or produce fallback suggestions when nothing matches.
// Scoring weights and decay constants are immutable configuration; no scoring
// state is shared across concurrent queries.
package rank

import (
	"fmt"
	"math"
	"time"

	"github.com/stashsift/stashsift/internal/entity"
)

// DefaultHalfLife is the recency decay half-life.
const DefaultHalfLife = 30 * 24 * time.Hour

// Weights holds the relevance mix. They must be non-negative and sum to 1.
type Weights struct {
	Frequency  float64 `yaml:"frequency"`
	Recency    float64 `yaml:"recency"`
	Engagement float64 `yaml:"engagement"`
	Confidence float64 `yaml:"confidence"`
}

// DefaultWeights returns the default relevance mix.
func DefaultWeights() Weights {
	return Weights{Frequency: 0.3, Recency: 0.3, Engagement: 0.2, Confidence: 0.2}
}

// Validate checks that the weights form a convex combination.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"frequency":  w.Frequency,
		"recency":    w.Recency,
		"engagement": w.Engagement,
		"confidence": w.Confidence,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s is negative: %f", name, v)
		}
	}
	sum := w.Frequency + w.Recency + w.Engagement + w.Confidence
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("weights sum to %f, want 1", sum)
	}
	return nil
}

// ScoreConfig holds immutable scoring configuration.
type ScoreConfig struct {
	Weights  Weights
	HalfLife time.Duration
}

// DefaultScoreConfig returns the default scoring configuration.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{Weights: DefaultWeights(), HalfLife: DefaultHalfLife}
}

// Scores holds the per-entity score components for one query.
type Scores struct {
	Relevance  float64 `json:"relevance"`
	Recency    float64 `json:"recency"`
	Frequency  float64 `json:"frequency"`
	Engagement float64 `json:"engagement"`
	Confidence float64 `json:"confidence"`
}

// RankedResult pairs an aggregated entity with its scores and, once
// assembled, its evidence block. It exists only for the duration of one
// query and is never persisted.
type RankedResult struct {
	Entity   entity.AggregatedEntity `json:"entity"`
	Scores   Scores                  `json:"scores"`
	Evidence *EvidenceBlock          `json:"evidence,omitempty"`
}

// Scorer computes relevance scores. Safe for concurrent use: it holds only
// immutable configuration.
type Scorer struct {
	cfg    ScoreConfig
	lambda float64
}

// NewScorer builds a Scorer, applying defaults for zero values.
func NewScorer(cfg ScoreConfig) (*Scorer, error) {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultHalfLife
	}
	zero := Weights{}
	if cfg.Weights == zero {
		cfg.Weights = DefaultWeights()
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{
		cfg:    cfg,
		lambda: math.Ln2 / cfg.HalfLife.Hours(),
	}, nil
}

// ScoreAll scores every candidate against the candidate set. Engagement is
// min-max normalized over the set, so scores are comparable only within one
// call. Holding everything else fixed, a higher mention count, more recent
// latest timestamp, higher engagement, or higher aggregated confidence never
// lowers the relevance score.
func (s *Scorer) ScoreAll(candidates []entity.AggregatedEntity, now time.Time) []RankedResult {
	if len(candidates) == 0 {
		return nil
	}

	engagement := make([]float64, len(candidates))
	minEng, maxEng := math.Inf(1), math.Inf(-1)
	for i := range candidates {
		engagement[i] = candidates[i].MeanEngagement()
		if engagement[i] < minEng {
			minEng = engagement[i]
		}
		if engagement[i] > maxEng {
			maxEng = engagement[i]
		}
	}

	results := make([]RankedResult, 0, len(candidates))
	for i := range candidates {
		c := candidates[i]
		sc := Scores{
			Recency:    s.recency(c.LatestTS, now),
			Frequency:  math.Log1p(float64(c.MentionCount)),
			Engagement: minMax(engagement[i], minEng, maxEng),
			Confidence: c.Confidence,
		}
		w := s.cfg.Weights
		sc.Relevance = w.Frequency*sc.Frequency +
			w.Recency*sc.Recency +
			w.Engagement*sc.Engagement +
			w.Confidence*sc.Confidence
		results = append(results, RankedResult{Entity: c, Scores: sc})
	}
	return results
}

// recency decays exponentially with the age of the latest mention.
// An unknown (zero) timestamp scores 0; a future timestamp clamps to 1.
func (s *Scorer) recency(latest, now time.Time) float64 {
	if latest.IsZero() {
		return 0
	}
	ageHours := now.Sub(latest).Hours()
	if ageHours <= 0 {
		return 1
	}
	return math.Exp(-s.lambda * ageHours)
}

// minMax scales v into [0,1] over the observed range. A degenerate range
// maps any positive engagement to 1 so that raising engagement can never
// lower a score.
func minMax(v, lo, hi float64) float64 {
	if hi > lo {
		return (v - lo) / (hi - lo)
	}
	if v > 0 {
		return 1
	}
	return 0
}
