package rank

import (
	"testing"
	"time"

	"github.com/stashsift/stashsift/internal/entity"
)

func ranked(key string, cat entity.Category, relevance float64) RankedResult {
	return RankedResult{
		Entity: agg(key, cat, 1, time.Now().UTC(), 0.5, 0),
		Scores: Scores{Relevance: relevance},
	}
}

func catPtr(c entity.Category) *entity.Category { return &c }

func TestResolveExactCountLaw(t *testing.T) {
	candidates := []RankedResult{
		ranked("a", entity.CategoryLocation, 0.9),
		ranked("b", entity.CategoryLocation, 0.7),
		ranked("c", entity.CategoryLocation, 0.8),
		ranked("d", entity.CategoryLocation, 0.6),
		ranked("e", entity.CategoryLocation, 0.5),
	}

	res := Resolve(candidates, Constraints{Category: catPtr(entity.CategoryLocation), RequestedCount: 3}, ResolveConfig{})
	if len(res.Results) != 3 {
		t.Fatalf("expected exactly 3 results, got %d", len(res.Results))
	}
	if res.InsufficientCount {
		t.Fatal("unexpected insufficient_count with 5 qualifying candidates")
	}
	wantOrder := []string{"a", "c", "b"}
	for i, want := range wantOrder {
		if res.Results[i].Entity.CanonicalKey != want {
			t.Errorf("rank %d = %q, want %q", i, res.Results[i].Entity.CanonicalKey, want)
		}
	}
}

func TestResolveInsufficientCountIsReportedNotError(t *testing.T) {
	candidates := []RankedResult{
		ranked("a", entity.CategoryLocation, 0.9),
		ranked("b", entity.CategoryLocation, 0.7),
	}
	res := Resolve(candidates, Constraints{RequestedCount: 5}, ResolveConfig{})
	if !res.InsufficientCount {
		t.Fatal("expected insufficient_count flag")
	}
	if len(res.Results) != 2 {
		t.Fatalf("expected the full shorter list (2), got %d", len(res.Results))
	}
}

func TestResolveTieBreakCanonicalKey(t *testing.T) {
	candidates := []RankedResult{
		ranked("zebra", entity.CategoryConcept, 0.5),
		ranked("apple", entity.CategoryConcept, 0.5),
		ranked("mango", entity.CategoryConcept, 0.5),
	}
	res := Resolve(candidates, Constraints{}, ResolveConfig{})
	want := []string{"apple", "mango", "zebra"}
	for i, w := range want {
		if res.Results[i].Entity.CanonicalKey != w {
			t.Fatalf("tie-break order wrong at %d: got %q want %q", i, res.Results[i].Entity.CanonicalKey, w)
		}
	}
}

func TestResolveDefaultCap(t *testing.T) {
	candidates := make([]RankedResult, 0, 25)
	for i := 0; i < 25; i++ {
		candidates = append(candidates, ranked(itemKey(i), entity.CategoryConcept, float64(i)))
	}
	res := Resolve(candidates, Constraints{}, ResolveConfig{})
	if len(res.Results) != DefaultResultLimit {
		t.Fatalf("expected default cap of %d, got %d", DefaultResultLimit, len(res.Results))
	}
	if res.FilteredTotal != 25 {
		t.Fatalf("filtered total = %d, want 25", res.FilteredTotal)
	}
}

func TestResolveCategoryFilter(t *testing.T) {
	candidates := []RankedResult{
		ranked("place", entity.CategoryLocation, 0.9),
		ranked("thing", entity.CategoryProduct, 0.8),
	}
	res := Resolve(candidates, Constraints{Category: catPtr(entity.CategoryProduct)}, ResolveConfig{})
	if len(res.Results) != 1 || res.Results[0].Entity.CanonicalKey != "thing" {
		t.Fatalf("category filter failed: %+v", res.Results)
	}
}

func TestResolveLocationFilter(t *testing.T) {
	cafe := agg("paris cafe", entity.CategoryLocation, 1, time.Now().UTC(), 0.8, 0)
	bar := agg("tokyo bar", entity.CategoryLocation, 1, time.Now().UTC(), 0.8, 0)
	bar.Sources[0].Snippet = "best natural wine in Lisbon old town"

	candidates := []RankedResult{
		{Entity: cafe, Scores: Scores{Relevance: 0.8}},
		{Entity: bar, Scores: Scores{Relevance: 0.7}},
	}

	res := Resolve(candidates, Constraints{Location: "paris"}, ResolveConfig{})
	if len(res.Results) != 1 || res.Results[0].Entity.CanonicalKey != "paris cafe" {
		t.Fatalf("display-name location match failed: %+v", res.Results)
	}

	// Location evidence found in a supporting snippet also qualifies.
	res = Resolve(candidates, Constraints{Location: "lisbon"}, ResolveConfig{})
	if len(res.Results) != 1 || res.Results[0].Entity.CanonicalKey != "tokyo bar" {
		t.Fatalf("snippet location match failed: %+v", res.Results)
	}
}

func TestResolveTimeWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	recent := agg("recent", entity.CategoryConcept, 1, now.Add(-2*24*time.Hour), 0.8, 0)
	old := agg("old", entity.CategoryConcept, 1, now.Add(-90*24*time.Hour), 0.8, 0)

	candidates := []RankedResult{
		{Entity: recent, Scores: Scores{Relevance: 0.5}},
		{Entity: old, Scores: Scores{Relevance: 0.9}},
	}
	res := Resolve(candidates, Constraints{Since: now.Add(-7 * 24 * time.Hour)}, ResolveConfig{})
	if len(res.Results) != 1 || res.Results[0].Entity.CanonicalKey != "recent" {
		t.Fatalf("time window filter failed: %+v", res.Results)
	}
}

func TestResolveConjunctiveFilters(t *testing.T) {
	now := time.Now().UTC()
	e := agg("paris cafe", entity.CategoryLocation, 1, now, 0.8, 0)
	candidates := []RankedResult{{Entity: e, Scores: Scores{Relevance: 1}}}

	// Matching category but failing location must exclude the candidate.
	res := Resolve(candidates, Constraints{
		Category: catPtr(entity.CategoryLocation),
		Location: "tokyo",
	}, ResolveConfig{})
	if res.FilteredTotal != 0 {
		t.Fatalf("conjunctive filters leaked a candidate: %+v", res.Results)
	}
}

func itemKey(i int) string {
	return "key-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
}
