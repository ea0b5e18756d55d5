package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stashsift/stashsift/internal/entity"
	"github.com/stashsift/stashsift/internal/store"
)

func captionItem(caption string) *store.Item {
	return &store.Item{
		ID:         "item-1",
		Caption:    caption,
		PostedAt:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Engagement: entity.Engagement{Likes: 42},
	}
}

func TestHeuristicHashtags(t *testing.T) {
	ex := NewHeuristicExtractor()
	got, err := ex.Extract(context.Background(), captionItem("morning brew #CoffeeShop #espresso"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	byName := make(map[string]entity.RawEntity)
	for _, e := range got {
		byName[e.Name] = e
	}
	cs, ok := byName["Coffee Shop"]
	if !ok {
		t.Fatalf("camel-cased hashtag not split: %v", names(got))
	}
	if cs.Category != entity.CategoryConcept || cs.Modality != entity.ModalityHashtag {
		t.Errorf("hashtag entity = %+v", cs)
	}
	if cs.Confidence != hashtagConfidence {
		t.Errorf("confidence = %v, want %v", cs.Confidence, hashtagConfidence)
	}
	if _, ok := byName["espresso"]; !ok {
		t.Errorf("lowercase hashtag missing: %v", names(got))
	}
}

func TestHeuristicMentionsAndVenues(t *testing.T) {
	ex := NewHeuristicExtractor()
	got, err := ex.Extract(context.Background(),
		captionItem("amazing flat white at Blue Bottle Cafe, thanks @latte.art!"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	byName := make(map[string]entity.RawEntity)
	for _, e := range got {
		byName[e.Name] = e
	}
	venue, ok := byName["Blue Bottle Cafe"]
	if !ok {
		t.Fatalf("venue not detected: %v", names(got))
	}
	if venue.Category != entity.CategoryLocation || venue.Confidence != venueConfidence {
		t.Errorf("venue = %+v", venue)
	}
	if venue.Snippet == "" {
		t.Error("venue snippet empty")
	}
	person, ok := byName["latte.art"]
	if !ok {
		t.Fatalf("mention not detected: %v", names(got))
	}
	if person.Category != entity.CategoryPerson {
		t.Errorf("mention category = %s", person.Category)
	}
}

func TestHeuristicEmptyCaption(t *testing.T) {
	ex := NewHeuristicExtractor()
	got, err := ex.Extract(context.Background(), captionItem("   "))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no entities, got %v", names(got))
	}
}

func TestHeuristicSnippetMultibyteCaption(t *testing.T) {
	pad := strings.Repeat("é", 40)
	ex := NewHeuristicExtractor()
	got, err := ex.Extract(context.Background(), captionItem(pad+" Blue Bottle Cafe "+pad))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entity, got %v", names(got))
	}
	snippet := got[0].Snippet
	if !utf8.ValidString(snippet) {
		t.Fatalf("snippet is not valid UTF-8: %q", snippet)
	}
	if !strings.Contains(snippet, "Blue Bottle Cafe") {
		t.Errorf("snippet %q does not contain the entity name", snippet)
	}
}

func TestHeuristicDedupWithinCaption(t *testing.T) {
	ex := NewHeuristicExtractor()
	got, err := ex.Extract(context.Background(), captionItem("#coffee and more #coffee"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 entity, got %v", names(got))
	}
}

type stubExtractor struct {
	name     string
	entities []entity.RawEntity
	err      error
	calls    int
}

func (s *stubExtractor) Name() string { return s.name }
func (s *stubExtractor) Extract(context.Context, *store.Item) ([]entity.RawEntity, error) {
	s.calls++
	return s.entities, s.err
}

func TestChainStampsProvenance(t *testing.T) {
	chain, err := NewChain([]Extractor{
		&stubExtractor{name: "a", entities: []entity.RawEntity{
			{Name: "x", Category: entity.CategoryConcept, Confidence: 0.5, Modality: entity.ModalityCaption},
		}},
	}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	item := captionItem("whatever")
	got, err := chain.Extract(context.Background(), item)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	e := got[0]
	if e.ItemID != item.ID || !e.ItemTimestamp.Equal(item.PostedAt) || e.Engagement != item.Engagement {
		t.Errorf("provenance not stamped: %+v", e)
	}
}

func TestChainSkipsFailingExtractor(t *testing.T) {
	broken := &stubExtractor{name: "broken", err: errors.New("backend down")}
	ok := &stubExtractor{name: "ok", entities: []entity.RawEntity{
		{Name: "x", Category: entity.CategoryConcept, Confidence: 0.5, Modality: entity.ModalityCaption},
	}}
	spare := &stubExtractor{name: "spare", entities: []entity.RawEntity{
		{Name: "y", Category: entity.CategoryConcept, Confidence: 0.5, Modality: entity.ModalityCaption},
	}}
	chain, err := NewChain([]Extractor{broken, ok, spare}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	got, err := chain.Extract(context.Background(), captionItem("whatever"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 1 || got[0].Name != "x" {
		t.Fatalf("expected the first working extractor's entity, got %v", names(got))
	}
	if spare.calls != 0 {
		t.Errorf("chain did not stop after the first success, spare called %d times", spare.calls)
	}
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	first := &stubExtractor{name: "first", entities: []entity.RawEntity{
		{Name: "x", Category: entity.CategoryConcept, Confidence: 0.5, Modality: entity.ModalityCaption},
	}}
	second := &stubExtractor{name: "second", entities: []entity.RawEntity{
		{Name: "y", Category: entity.CategoryConcept, Confidence: 0.5, Modality: entity.ModalityCaption},
	}}
	chain, err := NewChain([]Extractor{first, second}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	got, err := chain.Extract(context.Background(), captionItem("whatever"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 1 || got[0].Name != "x" {
		t.Fatalf("expected only the first extractor's entity, got %v", names(got))
	}
	if second.calls != 0 {
		t.Errorf("second extractor called %d times after a success", second.calls)
	}
}

func TestChainFallsPastEmptyExtractor(t *testing.T) {
	empty := &stubExtractor{name: "empty"}
	ok := &stubExtractor{name: "ok", entities: []entity.RawEntity{
		{Name: "x", Category: entity.CategoryConcept, Confidence: 0.5, Modality: entity.ModalityCaption},
	}}
	chain, err := NewChain([]Extractor{empty, ok}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	got, err := chain.Extract(context.Background(), captionItem("whatever"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 1 || got[0].Name != "x" {
		t.Fatalf("expected fallback past the empty extractor, got %v", names(got))
	}
	if empty.calls != 1 {
		t.Errorf("empty extractor calls = %d, want 1", empty.calls)
	}
}

func TestChainHonorsCancellation(t *testing.T) {
	chain, err := NewChain([]Extractor{
		&stubExtractor{name: "a"},
	}, rate.NewLimiter(rate.Every(time.Hour), 0), zap.NewNop())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := chain.Extract(ctx, captionItem("whatever")); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestChainRequiresExtractors(t *testing.T) {
	if _, err := NewChain(nil, nil, zap.NewNop()); err == nil {
		t.Fatal("expected error for empty chain")
	}
}

func names(es []entity.RawEntity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Name
	}
	return out
}
