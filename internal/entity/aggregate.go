package entity

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultFuzzyThreshold is the minimum surface similarity at which two
// canonical keys in the same category are folded into one aggregate.
const DefaultFuzzyThreshold = 0.85

// AggregateOptions controls grouping behavior.
type AggregateOptions struct {
	// FuzzyThreshold folds near-identical keys within a category.
	// Values >= 1 disable fuzzy folding; 0 means the default.
	FuzzyThreshold float64
	// Shards is the worker count for AggregateSharded. 0 means GOMAXPROCS.
	Shards int
}

// DefaultAggregateOptions returns sensible defaults.
func DefaultAggregateOptions() AggregateOptions {
	return AggregateOptions{FuzzyThreshold: DefaultFuzzyThreshold}
}

// Aggregate groups normalized entities by (canonical_key, category), folds
// fuzzy aliases, and returns finalized aggregates in deterministic order.
func Aggregate(entities []NormalizedEntity, opts AggregateOptions) []AggregatedEntity {
	return MergeAggregates(opts, GroupExact(entities))
}

// GroupExact builds partial aggregates keyed exactly by
// (canonical_key, category), without fuzzy folding or finalization.
// Partials from disjoint shards may be combined with MergeAggregates in any
// order: the merge is associative and commutative.
func GroupExact(entities []NormalizedEntity) []AggregatedEntity {
	groups := make(map[string]*AggregatedEntity)
	for _, e := range entities {
		gk := groupKey(e.CanonicalKey, e.Category)
		agg, ok := groups[gk]
		if !ok {
			groups[gk] = newAggregate(e)
			continue
		}
		absorbMention(agg, e)
	}
	out := make([]AggregatedEntity, 0, len(groups))
	for _, agg := range groups {
		out = append(out, *agg)
	}
	return out
}

// MergeAggregates merges any number of partial aggregate sets, folds fuzzy
// aliases across the merged whole, and finalizes. Folding runs only on the
// complete merged key set, which keeps the result independent of how the
// input was sharded.
func MergeAggregates(opts AggregateOptions, partials ...[]AggregatedEntity) []AggregatedEntity {
	merged := make(map[string]*AggregatedEntity)
	for _, partial := range partials {
		for i := range partial {
			src := &partial[i]
			rehydrate(src)
			gk := groupKey(src.CanonicalKey, src.Category)
			dst, ok := merged[gk]
			if !ok {
				cp := cloneAggregate(src)
				merged[gk] = cp
				continue
			}
			mergeAggregate(dst, src)
		}
	}

	folded := foldAliases(merged, fuzzyThreshold(opts))

	out := make([]AggregatedEntity, 0, len(folded))
	for _, agg := range folded {
		finalize(agg)
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].CanonicalKey < out[j].CanonicalKey
	})
	return out
}

// AggregateSharded splits the input into shards, groups each concurrently,
// and merges the partials. Equivalent to Aggregate on the whole input.
func AggregateSharded(ctx context.Context, entities []NormalizedEntity, opts AggregateOptions) ([]AggregatedEntity, error) {
	shards := opts.Shards
	if shards <= 0 {
		shards = runtime.GOMAXPROCS(0)
	}
	if shards > len(entities) {
		shards = len(entities)
	}
	if shards <= 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Aggregate(entities, opts), nil
	}

	partials := make([][]AggregatedEntity, shards)
	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(entities) + shards - 1) / shards
	for s := 0; s < shards; s++ {
		start := s * chunk
		end := start + chunk
		if end > len(entities) {
			end = len(entities)
		}
		if start >= end {
			continue
		}
		s := s
		shard := entities[start:end]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			partials[s] = GroupExact(shard)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return MergeAggregates(opts, partials...), nil
}

func fuzzyThreshold(opts AggregateOptions) float64 {
	if opts.FuzzyThreshold <= 0 {
		return DefaultFuzzyThreshold
	}
	return opts.FuzzyThreshold
}

func groupKey(canonicalKey string, category Category) string {
	return canonicalKey + "\x00" + string(category)
}

func newAggregate(e NormalizedEntity) *AggregatedEntity {
	agg := &AggregatedEntity{
		CanonicalKey: e.CanonicalKey,
		Category:     e.Category,
		Confidence:   clamp01(e.Confidence),
		EarliestTS:   e.ItemTimestamp,
		LatestTS:     e.ItemTimestamp,
		items:        map[string]struct{}{e.ItemID: {}},
		nameCounts:   map[string]int{strings.TrimSpace(e.Name): 1},
		Sources:      []SourceRef{sourceRef(e)},
	}
	return agg
}

func absorbMention(agg *AggregatedEntity, e NormalizedEntity) {
	agg.items[e.ItemID] = struct{}{}
	agg.nameCounts[strings.TrimSpace(e.Name)]++
	agg.Confidence = combineConfidence(agg.Confidence, clamp01(e.Confidence))
	agg.Sources = append(agg.Sources, sourceRef(e))
	extendWindow(agg, e.ItemTimestamp)
}

// mergeAggregate merges src into dst. Supporting items strictly grow under
// merge: the result set is the exact union of both sides, with no loss and
// no duplication.
func mergeAggregate(dst, src *AggregatedEntity) {
	for id := range src.items {
		dst.items[id] = struct{}{}
	}
	for name, count := range src.nameCounts {
		dst.nameCounts[name] += count
	}
	dst.Confidence = combineConfidence(dst.Confidence, src.Confidence)
	dst.Sources = append(dst.Sources, src.Sources...)
	extendWindow(dst, src.EarliestTS)
	extendWindow(dst, src.LatestTS)
}

func cloneAggregate(src *AggregatedEntity) *AggregatedEntity {
	cp := &AggregatedEntity{
		CanonicalKey: src.CanonicalKey,
		Category:     src.Category,
		Confidence:   src.Confidence,
		EarliestTS:   src.EarliestTS,
		LatestTS:     src.LatestTS,
		items:        make(map[string]struct{}, len(src.items)),
		nameCounts:   make(map[string]int, len(src.nameCounts)),
		Sources:      append([]SourceRef(nil), src.Sources...),
	}
	for id := range src.items {
		cp.items[id] = struct{}{}
	}
	for name, count := range src.nameCounts {
		cp.nameCounts[name] = count
	}
	return cp
}

// rehydrate rebuilds the item-id set for aggregates constructed outside this
// package (e.g. decoded from a persisted view). A decoded aggregate has no
// surface-form counts; finalize keeps its DisplayName as is.
func rehydrate(a *AggregatedEntity) {
	if a.items == nil {
		a.items = make(map[string]struct{}, len(a.SupportingItems))
		for _, id := range a.SupportingItems {
			a.items[id] = struct{}{}
		}
		for _, s := range a.Sources {
			a.items[s.ItemID] = struct{}{}
		}
	}
	if a.nameCounts == nil {
		a.nameCounts = map[string]int{}
	}
}

// foldAliases merges groups within a category whose canonical keys are
// near-identical. It runs on the complete merged key set only, so the fold
// is deterministic and independent of input order or sharding.
func foldAliases(groups map[string]*AggregatedEntity, threshold float64) []*AggregatedEntity {
	if threshold >= 1 {
		out := make([]*AggregatedEntity, 0, len(groups))
		for _, agg := range groups {
			out = append(out, agg)
		}
		return out
	}

	byCategory := make(map[Category][]*AggregatedEntity)
	for _, agg := range groups {
		byCategory[agg.Category] = append(byCategory[agg.Category], agg)
	}

	var out []*AggregatedEntity
	for _, members := range byCategory {
		sort.Slice(members, func(i, j int) bool {
			return members[i].CanonicalKey < members[j].CanonicalKey
		})

		parent := make([]int, len(members))
		for i := range parent {
			parent[i] = i
		}
		var find func(i int) int
		find = func(i int) int {
			for parent[i] != i {
				parent[i] = parent[parent[i]]
				i = parent[i]
			}
			return i
		}
		union := func(a, b int) {
			ra, rb := find(a), find(b)
			if ra != rb {
				if ra > rb {
					ra, rb = rb, ra
				}
				parent[rb] = ra
			}
		}

		for i := 0; i < len(members)-1; i++ {
			for j := i + 1; j < len(members); j++ {
				if SurfaceSimilarity(members[i].CanonicalKey, members[j].CanonicalKey) >= threshold {
					union(i, j)
				}
			}
		}

		components := make(map[int][]*AggregatedEntity)
		for i, agg := range members {
			root := find(i)
			components[root] = append(components[root], agg)
		}

		roots := make([]int, 0, len(components))
		for root := range components {
			roots = append(roots, root)
		}
		sort.Ints(roots)

		for _, root := range roots {
			component := components[root]
			rep := component[0]
			for _, agg := range component[1:] {
				if betterRepresentative(agg, rep) {
					rep = agg
				}
			}
			for _, agg := range component {
				if agg == rep {
					continue
				}
				mergeAggregate(rep, agg)
			}
			out = append(out, rep)
		}
	}
	return out
}

// betterRepresentative picks the key that survives an alias fold: most
// supporting items wins, ties go to the lexicographically smaller key.
func betterRepresentative(a, b *AggregatedEntity) bool {
	if len(a.items) != len(b.items) {
		return len(a.items) > len(b.items)
	}
	return a.CanonicalKey < b.CanonicalKey
}

func finalize(agg *AggregatedEntity) {
	agg.SupportingItems = make([]string, 0, len(agg.items))
	for id := range agg.items {
		agg.SupportingItems = append(agg.SupportingItems, id)
	}
	sort.Strings(agg.SupportingItems)
	agg.MentionCount = len(agg.SupportingItems)

	bestName := ""
	bestCount := 0
	for name, count := range agg.nameCounts {
		if count > bestCount || (count == bestCount && (bestName == "" || name < bestName)) {
			bestName = name
			bestCount = count
		}
	}
	if bestName != "" {
		agg.DisplayName = bestName
	}

	sort.Slice(agg.Sources, func(i, j int) bool {
		a, b := agg.Sources[i], agg.Sources[j]
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Modality != b.Modality {
			return a.Modality < b.Modality
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Snippet < b.Snippet
	})
}

func extendWindow(agg *AggregatedEntity, ts time.Time) {
	if ts.IsZero() {
		return
	}
	if agg.EarliestTS.IsZero() || ts.Before(agg.EarliestTS) {
		agg.EarliestTS = ts
	}
	if agg.LatestTS.IsZero() || ts.After(agg.LatestTS) {
		agg.LatestTS = ts
	}
}

func sourceRef(e NormalizedEntity) SourceRef {
	return SourceRef{
		ItemID:     e.ItemID,
		Modality:   e.Modality,
		Confidence: clamp01(e.Confidence),
		Snippet:    e.Snippet,
		Timestamp:  e.ItemTimestamp,
		Engagement: e.Engagement,
	}
}

// combineConfidence applies noisy-OR: repeated independent mentions raise
// confidence toward, but never past, 1.
func combineConfidence(a, b float64) float64 {
	return clamp01(1 - (1-a)*(1-b))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
