package entity

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"
)

func mention(name string, cat Category, conf float64, item string, ts time.Time) NormalizedEntity {
	n := NewNormalizer(nil)
	ne, skip := n.Normalize(RawEntity{
		Name:          name,
		Category:      cat,
		Confidence:    conf,
		Modality:      ModalityCaption,
		ItemID:        item,
		ItemTimestamp: ts,
	})
	if skip != nil {
		panic("test mention is malformed: " + skip.Reason)
	}
	return ne
}

func TestAggregateNoisyOR(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entities := []NormalizedEntity{
		mention("Paris Café", CategoryLocation, 0.8, "I1", ts),
		mention("paris cafe", CategoryLocation, 0.6, "I2", ts.Add(-5*24*time.Hour)),
	}

	got := Aggregate(entities, DefaultAggregateOptions())
	if len(got) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(got))
	}
	agg := got[0]

	if agg.CanonicalKey != "paris cafe" {
		t.Errorf("canonical key = %q", agg.CanonicalKey)
	}
	if !reflect.DeepEqual(agg.SupportingItems, []string{"I1", "I2"}) {
		t.Errorf("supporting items = %v", agg.SupportingItems)
	}
	if agg.MentionCount != 2 {
		t.Errorf("mention count = %d, want 2", agg.MentionCount)
	}
	want := 1 - (1-0.8)*(1-0.6)
	if math.Abs(agg.Confidence-want) > 1e-12 {
		t.Errorf("confidence = %.6f, want %.6f", agg.Confidence, want)
	}
	if !agg.EarliestTS.Equal(ts.Add(-5 * 24 * time.Hour)) {
		t.Errorf("earliest = %v", agg.EarliestTS)
	}
	if !agg.LatestTS.Equal(ts) {
		t.Errorf("latest = %v", agg.LatestTS)
	}
}

func TestAggregateConfidenceNeverExceedsOne(t *testing.T) {
	ts := time.Now().UTC()
	entities := make([]NormalizedEntity, 0, 50)
	for i := 0; i < 50; i++ {
		entities = append(entities, mention("running", CategoryConcept, 0.9, itemID(i), ts))
	}
	got := Aggregate(entities, DefaultAggregateOptions())
	if len(got) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(got))
	}
	if got[0].Confidence > 1 {
		t.Fatalf("confidence %.6f exceeds 1", got[0].Confidence)
	}
	if got[0].Confidence < 0.9 {
		t.Fatalf("repeated mentions lowered confidence: %.6f", got[0].Confidence)
	}
}

func TestAggregateSameItemCountedOnce(t *testing.T) {
	ts := time.Now().UTC()
	entities := []NormalizedEntity{
		mention("matcha", CategoryConcept, 0.5, "I1", ts),
		mention("matcha", CategoryConcept, 0.5, "I1", ts),
		mention("matcha", CategoryConcept, 0.5, "I1", ts),
	}
	got := Aggregate(entities, DefaultAggregateOptions())
	if len(got) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(got))
	}
	if got[0].MentionCount != 1 {
		t.Errorf("over-captioned post dominated: mention count = %d, want 1", got[0].MentionCount)
	}
	if len(got[0].SupportingItems) != 1 {
		t.Errorf("supporting items duplicated: %v", got[0].SupportingItems)
	}
}

func TestAggregateIdempotent(t *testing.T) {
	entities := fixtureEntities()
	first := Aggregate(entities, DefaultAggregateOptions())
	second := Aggregate(entities, DefaultAggregateOptions())
	if !reflect.DeepEqual(stripInternal(first), stripInternal(second)) {
		t.Fatal("aggregating the same sequence twice produced different results")
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	entities := fixtureEntities()
	whole := Aggregate(entities, DefaultAggregateOptions())

	// Any partition into shards, merged in any order, must match the whole.
	partitions := [][][]NormalizedEntity{
		{entities[:1], entities[1:]},
		{entities[:3], entities[3:5], entities[5:]},
		{entities[4:], entities[:4]},
	}
	for i, shards := range partitions {
		partials := make([][]AggregatedEntity, 0, len(shards))
		for _, shard := range shards {
			partials = append(partials, GroupExact(shard))
		}
		merged := MergeAggregates(DefaultAggregateOptions(), partials...)
		if !reflect.DeepEqual(stripInternal(whole), stripInternal(merged)) {
			t.Fatalf("partition %d: sharded merge differs from whole aggregation", i)
		}
	}
}

func TestAggregateShardedMatchesSequential(t *testing.T) {
	entities := fixtureEntities()
	whole := Aggregate(entities, DefaultAggregateOptions())

	opts := DefaultAggregateOptions()
	opts.Shards = 3
	sharded, err := AggregateSharded(context.Background(), entities, opts)
	if err != nil {
		t.Fatalf("AggregateSharded: %v", err)
	}
	if !reflect.DeepEqual(stripInternal(whole), stripInternal(sharded)) {
		t.Fatal("sharded aggregation differs from sequential aggregation")
	}
}

func TestAggregateShardedCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := AggregateSharded(ctx, fixtureEntities(), DefaultAggregateOptions())
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestProvenanceConservation(t *testing.T) {
	ts := time.Now().UTC()
	entities := []NormalizedEntity{
		mention("lisbon", CategoryLocation, 0.4, "A", ts),
		mention("lisbon", CategoryLocation, 0.5, "B", ts),
		mention("lisbon", CategoryLocation, 0.6, "C", ts),
		mention("lisbon", CategoryLocation, 0.6, "B", ts),
		mention("lisbon", CategoryLocation, 0.7, "A", ts),
	}
	got := Aggregate(entities, DefaultAggregateOptions())
	if len(got) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(got))
	}
	if want := []string{"A", "B", "C"}; !reflect.DeepEqual(got[0].SupportingItems, want) {
		t.Fatalf("supporting items = %v, want %v", got[0].SupportingItems, want)
	}
}

func TestFuzzyAliasFolding(t *testing.T) {
	ts := time.Now().UTC()
	entities := []NormalizedEntity{
		mention("Blue Bottle Coffee", CategoryLocation, 0.6, "I1", ts),
		mention("Blue Bottle Cofee", CategoryLocation, 0.5, "I2", ts), // typo
		mention("Blue Bottle Coffee", CategoryLocation, 0.7, "I3", ts),
	}
	got := Aggregate(entities, DefaultAggregateOptions())
	if len(got) != 1 {
		t.Fatalf("expected typo variant to fold into 1 aggregate, got %d", len(got))
	}
	if got[0].CanonicalKey != "blue bottle coffee" {
		t.Errorf("representative key = %q, want the more frequent form", got[0].CanonicalKey)
	}
	if got[0].MentionCount != 3 {
		t.Errorf("mention count = %d, want 3", got[0].MentionCount)
	}
}

func TestFuzzyFoldingRespectsCategory(t *testing.T) {
	ts := time.Now().UTC()
	entities := []NormalizedEntity{
		mention("mercado", CategoryLocation, 0.6, "I1", ts),
		mention("mercado", CategoryConcept, 0.6, "I2", ts),
	}
	got := Aggregate(entities, DefaultAggregateOptions())
	if len(got) != 2 {
		t.Fatalf("expected categories to stay separate, got %d aggregates", len(got))
	}
}

func TestMergeAggregatesDecodedPartials(t *testing.T) {
	ts := time.Now().UTC()
	// stripInternal leaves only exported fields, like an aggregate decoded
	// from a persisted view.
	decoded := stripInternal(Aggregate([]NormalizedEntity{
		mention("Paris Café", CategoryLocation, 0.8, "I1", ts),
	}, DefaultAggregateOptions()))

	remerged := MergeAggregates(DefaultAggregateOptions(), decoded)
	if len(remerged) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(remerged))
	}
	if remerged[0].DisplayName != "Paris Café" {
		t.Errorf("display name lost on decoded merge: %q", remerged[0].DisplayName)
	}
	if remerged[0].MentionCount != 1 {
		t.Errorf("mention count = %d, want 1", remerged[0].MentionCount)
	}

	live := GroupExact([]NormalizedEntity{
		mention("paris cafe", CategoryLocation, 0.6, "I2", ts),
	})
	combined := MergeAggregates(DefaultAggregateOptions(), decoded, live)
	if len(combined) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(combined))
	}
	if want := []string{"I1", "I2"}; !reflect.DeepEqual(combined[0].SupportingItems, want) {
		t.Errorf("supporting items = %v, want %v", combined[0].SupportingItems, want)
	}
}

func TestDisplayNameMostFrequentCasing(t *testing.T) {
	ts := time.Now().UTC()
	entities := []NormalizedEntity{
		mention("paris cafe", CategoryLocation, 0.5, "I1", ts),
		mention("Paris Café", CategoryLocation, 0.5, "I2", ts),
		mention("Paris Café", CategoryLocation, 0.5, "I3", ts),
	}
	got := Aggregate(entities, DefaultAggregateOptions())
	if len(got) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(got))
	}
	if got[0].DisplayName != "Paris Café" {
		t.Errorf("display name = %q, want most frequent original casing", got[0].DisplayName)
	}
}

func TestMeanEngagementPerDistinctItem(t *testing.T) {
	ts := time.Now().UTC()
	n := NewNormalizer(nil)
	raws := []RawEntity{
		{Name: "x", Category: CategoryConcept, Confidence: 0.5, ItemID: "I1", ItemTimestamp: ts, Engagement: Engagement{Likes: 100}},
		{Name: "x", Category: CategoryConcept, Confidence: 0.5, ItemID: "I1", ItemTimestamp: ts, Engagement: Engagement{Likes: 100}},
		{Name: "x", Category: CategoryConcept, Confidence: 0.5, ItemID: "I2", ItemTimestamp: ts, Engagement: Engagement{Likes: 300}},
	}
	normalized, _ := n.NormalizeAll(raws)
	got := Aggregate(normalized, DefaultAggregateOptions())
	if len(got) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(got))
	}
	if mean := got[0].MeanEngagement(); mean != 200 {
		t.Errorf("mean engagement = %.1f, want 200 (per distinct item)", mean)
	}
}

func fixtureEntities() []NormalizedEntity {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	return []NormalizedEntity{
		mention("Paris Café", CategoryLocation, 0.8, "I1", base),
		mention("paris cafe", CategoryLocation, 0.6, "I2", base.Add(24*time.Hour)),
		mention("AeroPress", CategoryProduct, 0.9, "I3", base.Add(48*time.Hour)),
		mention("aeropress", CategoryProduct, 0.4, "I1", base),
		mention("cold brew", CategoryConcept, 0.7, "I2", base.Add(24*time.Hour)),
		mention("Cold Brew", CategoryConcept, 0.5, "I4", base.Add(72*time.Hour)),
		mention("Lisboa", CategoryLocation, 0.65, "I5", base.Add(96*time.Hour)),
	}
}

// stripInternal reduces aggregates to their exported, comparable view.
func stripInternal(aggs []AggregatedEntity) []AggregatedEntity {
	out := make([]AggregatedEntity, len(aggs))
	for i, a := range aggs {
		a.items = nil
		a.nameCounts = nil
		out[i] = a
	}
	return out
}

func itemID(i int) string {
	return "item-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i/26))
}
