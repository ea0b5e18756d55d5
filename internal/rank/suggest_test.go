package rank

import (
	"strings"
	"testing"
	"time"

	"github.com/stashsift/stashsift/internal/entity"
)

func TestSuggestDropTimeWindowFirst(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	old := agg("paris cafe", entity.CategoryLocation, 1, now.Add(-90*24*time.Hour), 0.8, 0)
	candidates := []RankedResult{{Entity: old, Scores: Scores{Relevance: 0.8}}}

	c := Constraints{
		Category: catPtr(entity.CategoryLocation),
		Since:    now.Add(-7 * 24 * time.Hour),
	}
	if got := Resolve(candidates, c, ResolveConfig{}); got.FilteredTotal != 0 {
		t.Fatalf("fixture should match nothing, matched %d", got.FilteredTotal)
	}

	suggestions := Suggest(candidates, c, ResolveConfig{})
	if len(suggestions) == 0 {
		t.Fatal("expected at least one suggestion")
	}
	if !strings.Contains(suggestions[0], "time window") {
		t.Fatalf("first suggestion should relax the time window, got %q", suggestions[0])
	}
}

func TestSuggestDropGeoFilter(t *testing.T) {
	now := time.Now().UTC()
	cafe := agg("tokyo bar", entity.CategoryLocation, 1, now, 0.8, 0)
	candidates := []RankedResult{{Entity: cafe, Scores: Scores{Relevance: 0.8}}}

	c := Constraints{Location: "berlin"}
	suggestions := Suggest(candidates, c, ResolveConfig{})
	if len(suggestions) == 0 {
		t.Fatal("expected at least one suggestion")
	}
	if !strings.Contains(suggestions[0], `"berlin"`) {
		t.Fatalf("expected geo relaxation suggestion, got %q", suggestions[0])
	}
}

func TestSuggestBroadenCategory(t *testing.T) {
	now := time.Now().UTC()
	tip := agg("cold brew ratio", entity.CategoryConcept, 1, now, 0.8, 0)
	candidates := []RankedResult{{Entity: tip, Scores: Scores{Relevance: 0.8}}}

	c := Constraints{Category: catPtr(entity.CategoryAdvice)}
	suggestions := Suggest(candidates, c, ResolveConfig{})
	if len(suggestions) == 0 {
		t.Fatal("expected at least one suggestion")
	}
	joined := strings.Join(suggestions, " | ")
	if !strings.Contains(joined, "concept") && !strings.Contains(joined, "category") {
		t.Fatalf("expected a category relaxation, got %q", joined)
	}
}

func TestSuggestOnlyExplanationWhenNothingHelps(t *testing.T) {
	c := Constraints{
		Category: catPtr(entity.CategoryLocation),
		Location: "mars",
	}
	suggestions := Suggest(nil, c, ResolveConfig{})
	if len(suggestions) != 1 || suggestions[0] != NoMatchExplanation {
		t.Fatalf("expected only the explanation, got %v", suggestions)
	}
}

func TestSuggestTotality(t *testing.T) {
	now := time.Now().UTC()
	candidates := []RankedResult{
		{Entity: agg("x", entity.CategoryConcept, 1, now, 0.5, 0), Scores: Scores{Relevance: 0.5}},
	}

	constraintSets := []Constraints{
		{},
		{Category: catPtr(entity.CategoryLocation)},
		{Location: "nowhere"},
		{Since: now.Add(24 * time.Hour)},
		{Category: catPtr(entity.CategoryPerson), Location: "x", Since: now, Until: now},
		{RequestedCount: 100},
	}
	for i, c := range constraintSets {
		suggestions := Suggest(candidates, c, ResolveConfig{})
		if len(suggestions) == 0 {
			t.Fatalf("constraint set %d: suggest returned an empty sequence", i)
		}
		for _, s := range suggestions {
			if strings.TrimSpace(s) == "" {
				t.Fatalf("constraint set %d: empty suggestion string", i)
			}
		}
	}
}

func TestSuggestSkipsRelaxationsThatWouldNotMatch(t *testing.T) {
	now := time.Now().UTC()
	// Candidate fails both the window and the location; only dropping the
	// location helps, so the time-window relaxation must not be offered.
	e := agg("tokyo bar", entity.CategoryLocation, 1, now, 0.8, 0)
	candidates := []RankedResult{{Entity: e, Scores: Scores{Relevance: 0.8}}}

	c := Constraints{
		Location: "berlin",
		Since:    now.Add(-365 * 24 * time.Hour),
	}
	suggestions := Suggest(candidates, c, ResolveConfig{})
	for _, s := range suggestions {
		if strings.Contains(s, "time window") {
			t.Fatalf("offered a time-window relaxation that would not match: %q", s)
		}
	}
}
