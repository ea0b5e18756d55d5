package analysis

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/stashsift/stashsift/internal/entity"
	"github.com/stashsift/stashsift/internal/store"
)

// Confidence levels for the heuristic signals. Captions are self-reported
// text, so nothing from this extractor is treated as high-confidence.
const (
	hashtagConfidence = 0.5
	mentionConfidence = 0.6
	venueConfidence   = 0.7
)

var (
	hashtagRE = regexp.MustCompile(`#([A-Za-z][\w]{1,63})`)
	mentionRE = regexp.MustCompile(`@([A-Za-z0-9][\w.]{1,63})`)

	// Capitalized phrase ending in a venue word, e.g. "Blue Bottle Cafe".
	venueRE = regexp.MustCompile(`\b((?:[A-Z][\w'&-]*\s+){0,3}[A-Z][\w'&-]*\s+(?:Cafe|Café|Coffee|Restaurant|Bar|Bakery|Bistro|Deli|Diner|Eatery|Grill|Kitchen|Pizzeria|Tavern|Hotel|Museum|Gallery|Park|Market))\b`)
)

// HeuristicExtractor finds entity mentions in captions with pattern matching
// only. It needs no network and no model, so it always runs.
type HeuristicExtractor struct{}

// NewHeuristicExtractor returns the caption-based extractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

func (e *HeuristicExtractor) Name() string { return "heuristic" }

// Extract scans the caption for hashtags, account mentions, and venue-like
// capitalized phrases.
func (e *HeuristicExtractor) Extract(_ context.Context, item *store.Item) ([]entity.RawEntity, error) {
	caption := item.Caption
	if strings.TrimSpace(caption) == "" {
		return nil, nil
	}

	var out []entity.RawEntity
	seen := make(map[string]struct{})
	add := func(name string, cat entity.Category, conf float64, mod entity.Modality) {
		key := strings.ToLower(name) + "\x00" + string(cat)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, entity.RawEntity{
			Name:       name,
			Category:   cat,
			Confidence: conf,
			Modality:   mod,
			Snippet:    snippetAround(caption, name),
		})
	}

	for _, m := range hashtagRE.FindAllStringSubmatch(caption, -1) {
		add(splitCamel(m[1]), entity.CategoryConcept, hashtagConfidence, entity.ModalityHashtag)
	}
	for _, m := range mentionRE.FindAllStringSubmatch(caption, -1) {
		add(m[1], entity.CategoryPerson, mentionConfidence, entity.ModalityCaption)
	}
	for _, m := range venueRE.FindAllStringSubmatch(caption, -1) {
		add(strings.TrimSpace(m[1]), entity.CategoryLocation, venueConfidence, entity.ModalityCaption)
	}

	return out, nil
}

// splitCamel breaks camel-cased hashtags into words: "CoffeeShop" becomes
// "Coffee Shop". All-lowercase or all-uppercase tags pass through untouched.
func splitCamel(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := rune(s[i-1])
			if prev >= 'a' && prev <= 'z' {
				b.WriteByte(' ')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// snippetAround returns a short caption window centered on the first
// occurrence of name. The window is measured in runes so multibyte text is
// never cut mid-character.
func snippetAround(caption, name string) string {
	const window = 60
	runes := []rune(caption)
	idx, n := runeIndexFold(runes, []rune(name))
	if idx < 0 {
		idx, n = 0, 0
	}
	start := idx - window/2
	if start < 0 {
		start = 0
	}
	end := idx + n + window/2
	if end > len(runes) {
		end = len(runes)
	}
	return strings.TrimSpace(string(runes[start:end]))
}

// runeIndexFold finds the first case-insensitive occurrence of needle in
// haystack, comparing rune by rune.
func runeIndexFold(haystack, needle []rune) (idx, length int) {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1, 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, r := range needle {
			if unicode.ToLower(haystack[i+j]) != unicode.ToLower(r) {
				match = false
				break
			}
		}
		if match {
			return i, len(needle)
		}
	}
	return -1, 0
}
