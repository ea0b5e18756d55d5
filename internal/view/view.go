// Package view builds and caches aggregated-entity snapshots over the store.
//
// A snapshot is keyed by the store's change stamp and the synonym table
// version, so both new ingests and a table swap invalidate it. Building is
// expensive
// (normalization plus sharded aggregation), so finished snapshots are held in
// a TTL cache and persisted to the store so restarts do not rebuild from
// scratch. Queries always read a consistent snapshot; ingestion advances the
// stamp and the next query triggers a fresh build.
package view

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/stashsift/stashsift/internal/entity"
	"github.com/stashsift/stashsift/internal/rank"
	"github.com/stashsift/stashsift/internal/store"
)

// DefaultCacheTTL bounds how long a built snapshot stays in memory.
const DefaultCacheTTL = 10 * time.Minute

// Config holds snapshot builder settings.
type Config struct {
	CacheTTL time.Duration
	Agg      entity.AggregateOptions
}

// Manager builds aggregated snapshots on demand. It implements
// rank.SnapshotSource. Safe for concurrent use; concurrent queries for the
// same stamp build once.
type Manager struct {
	store      store.Store
	normalizer *entity.Normalizer
	cfg        Config
	cache      *gocache.Cache
	logger     *zap.Logger

	buildMu sync.Mutex
}

// NewManager creates a snapshot manager over the given store.
func NewManager(st store.Store, normalizer *entity.Normalizer, cfg Config, logger *zap.Logger) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if normalizer == nil {
		return nil, fmt.Errorf("normalizer is nil")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:      st,
		normalizer: normalizer,
		cfg:        cfg,
		cache:      gocache.New(cfg.CacheTTL, cfg.CacheTTL),
		logger:     logger,
	}, nil
}

// Snapshot returns the aggregated view for the store's current change stamp,
// building it if no cached or persisted copy exists.
func (m *Manager) Snapshot(ctx context.Context) (*rank.Snapshot, error) {
	stamp, err := m.store.ChangeStamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading change stamp: %w", err)
	}

	key := m.cacheKey(stamp)
	if v, ok := m.cache.Get(key); ok {
		return v.(*rank.Snapshot), nil
	}

	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	// Another query may have built it while we waited.
	if v, ok := m.cache.Get(key); ok {
		return v.(*rank.Snapshot), nil
	}

	if snap, err := m.loadPersisted(ctx, stamp); err == nil {
		m.cache.Set(key, snap, gocache.DefaultExpiration)
		return snap, nil
	}

	snap, err := m.build(ctx, stamp)
	if err != nil {
		return nil, err
	}
	m.cache.Set(key, snap, gocache.DefaultExpiration)
	return snap, nil
}

// Rebuild forces a fresh build at the current stamp, bypassing caches.
func (m *Manager) Rebuild(ctx context.Context) (*rank.Snapshot, error) {
	stamp, err := m.store.ChangeStamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading change stamp: %w", err)
	}

	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	snap, err := m.build(ctx, stamp)
	if err != nil {
		return nil, err
	}
	m.cache.Set(m.cacheKey(stamp), snap, gocache.DefaultExpiration)
	return snap, nil
}

func (m *Manager) build(ctx context.Context, stamp int64) (*rank.Snapshot, error) {
	start := time.Now()

	raws, err := m.store.ListRawEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing raw entities: %w", err)
	}

	normalized, skipped := m.normalizer.NormalizeAll(raws)
	for _, sk := range skipped {
		m.logger.Warn("skipping malformed entity",
			zap.String("item_id", sk.Entity.ItemID),
			zap.String("name", sk.Entity.Name),
			zap.String("reason", sk.Reason))
	}

	aggs, err := entity.AggregateSharded(ctx, normalized, m.cfg.Agg)
	if err != nil {
		return nil, fmt.Errorf("aggregating entities: %w", err)
	}

	snap := &rank.Snapshot{
		Version:  stamp,
		BuiltAt:  time.Now().UTC(),
		Entities: aggs,
	}

	if err := m.persist(ctx, snap); err != nil {
		// The snapshot is still usable; persistence only saves a rebuild
		// after restart.
		m.logger.Warn("persisting snapshot failed", zap.Int64("version", stamp), zap.Error(err))
	}

	m.logger.Info("built snapshot",
		zap.Int64("version", stamp),
		zap.Int("mentions", len(raws)),
		zap.Int("skipped", len(skipped)),
		zap.Int("entities", len(aggs)),
		zap.Duration("elapsed", time.Since(start)))
	return snap, nil
}

func (m *Manager) persist(ctx context.Context, snap *rank.Snapshot) error {
	payload, err := json.Marshal(snap.Entities)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return m.store.SaveView(ctx, snap.Version, m.normalizer.TableVersion(), snap.BuiltAt, payload)
}

func (m *Manager) loadPersisted(ctx context.Context, stamp int64) (*rank.Snapshot, error) {
	payload, tableVersion, builtAt, err := m.store.LoadView(ctx, stamp)
	if err != nil {
		return nil, err
	}
	if tableVersion != m.normalizer.TableVersion() {
		return nil, fmt.Errorf("persisted view %d normalized against table %q, want %q",
			stamp, tableVersion, m.normalizer.TableVersion())
	}
	var aggs []entity.AggregatedEntity
	if err := json.Unmarshal(payload, &aggs); err != nil {
		return nil, fmt.Errorf("decoding persisted view %d: %w", stamp, err)
	}
	m.logger.Debug("loaded persisted snapshot", zap.Int64("version", stamp), zap.Int("entities", len(aggs)))
	return &rank.Snapshot{Version: stamp, BuiltAt: builtAt, Entities: aggs}, nil
}

func (m *Manager) cacheKey(stamp int64) string {
	return fmt.Sprintf("snapshot:%d:%s", stamp, m.normalizer.TableVersion())
}
