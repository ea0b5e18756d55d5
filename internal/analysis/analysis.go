// Package analysis extracts entity mentions from saved content items.
//
// Extractors are pluggable. The built-in heuristic extractor reads captions
// only; richer extractors (vision, audio transcription) satisfy the same
// interface and slot into the chain ahead of it.
package analysis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stashsift/stashsift/internal/entity"
	"github.com/stashsift/stashsift/internal/store"
)

// Extractor produces raw entity mentions from one content item.
type Extractor interface {
	// Name identifies the extractor in logs.
	Name() string
	// Extract returns the mentions found in the item. Returning an empty
	// slice is not an error.
	Extract(ctx context.Context, item *store.Item) ([]entity.RawEntity, error)
}

// Chain tries extractors in order and returns the mentions from the first one
// that succeeds. A failing or empty extractor is logged and the next one is
// tried, so one flaky backend never loses a whole item. An optional rate
// limiter throttles calls for extractors that hit external services.
type Chain struct {
	extractors []Extractor
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewChain builds an extraction chain. limiter may be nil for unthrottled
// local extraction.
func NewChain(extractors []Extractor, limiter *rate.Limiter, logger *zap.Logger) (*Chain, error) {
	if len(extractors) == 0 {
		return nil, fmt.Errorf("at least one extractor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{extractors: extractors, limiter: limiter, logger: logger}, nil
}

// Extract tries the chain over one item, stopping at the first extractor that
// returns mentions without error. Mentions are stamped with the item's
// provenance before being returned.
func (c *Chain) Extract(ctx context.Context, item *store.Item) ([]entity.RawEntity, error) {
	for _, ex := range c.extractors {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}
		start := time.Now()
		found, err := ex.Extract(ctx, item)
		if err != nil {
			c.logger.Warn("extractor failed",
				zap.String("extractor", ex.Name()),
				zap.String("item_id", item.ID),
				zap.Error(err))
			continue
		}
		c.logger.Debug("extractor ran",
			zap.String("extractor", ex.Name()),
			zap.String("item_id", item.ID),
			zap.Int("mentions", len(found)),
			zap.Duration("elapsed", time.Since(start)))
		if len(found) == 0 {
			continue
		}
		for i := range found {
			found[i].ItemID = item.ID
			found[i].ItemTimestamp = item.PostedAt
			found[i].Engagement = item.Engagement
		}
		return found, nil
	}
	return nil, nil
}
