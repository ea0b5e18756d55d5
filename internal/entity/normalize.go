package entity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SkippedEntity records a raw entity rejected during normalization.
// Skips are counted and logged, never fatal.
type SkippedEntity struct {
	Entity RawEntity
	Reason string
}

// Normalizer canonicalizes raw entity mentions into merge keys against a
// fixed synonym table version. Normalize is pure: identical input always
// yields an identical key, so results are safe to cache.
type Normalizer struct {
	table *SynonymTable
}

// NewNormalizer returns a Normalizer backed by the given synonym table.
// A nil table falls back to the built-in one.
func NewNormalizer(table *SynonymTable) *Normalizer {
	if table == nil {
		table = DefaultSynonymTable()
	}
	return &Normalizer{table: table}
}

// TableVersion returns the synonym table version the normalizer is pinned to.
func (n *Normalizer) TableVersion() string {
	return n.table.Version()
}

// Normalize canonicalizes a single raw entity. Malformed entities (missing
// name or category) are rejected with a SkippedEntity outcome.
func (n *Normalizer) Normalize(raw RawEntity) (NormalizedEntity, *SkippedEntity) {
	if strings.TrimSpace(raw.Name) == "" {
		return NormalizedEntity{}, &SkippedEntity{Entity: raw, Reason: "missing name"}
	}
	if !raw.Category.Valid() {
		return NormalizedEntity{}, &SkippedEntity{Entity: raw, Reason: "missing or invalid category"}
	}
	key := n.CanonicalKey(raw.Name, raw.Category)
	if key == "" {
		return NormalizedEntity{}, &SkippedEntity{Entity: raw, Reason: "name folds to empty key"}
	}
	return NormalizedEntity{
		RawEntity:    raw,
		CanonicalKey: key,
		TableVersion: n.table.Version(),
	}, nil
}

// NormalizeAll canonicalizes a batch, splitting outputs into normalized
// entities and skipped records.
func (n *Normalizer) NormalizeAll(raws []RawEntity) ([]NormalizedEntity, []SkippedEntity) {
	normalized := make([]NormalizedEntity, 0, len(raws))
	var skipped []SkippedEntity
	for _, raw := range raws {
		ne, skip := n.Normalize(raw)
		if skip != nil {
			skipped = append(skipped, *skip)
			continue
		}
		normalized = append(normalized, ne)
	}
	return normalized, skipped
}

// CanonicalKey computes the merge key for a surface form within a category:
// case-fold, strip diacritics and punctuation, collapse whitespace, then
// apply the synonym table (whole key first, then per token).
func (n *Normalizer) CanonicalKey(name string, category Category) string {
	key := foldKey(name)
	if key == "" {
		return ""
	}
	if canonical, ok := n.table.Lookup(category, key); ok {
		return canonical
	}
	tokens := strings.Fields(key)
	changed := false
	for i, tok := range tokens {
		if canonical, ok := n.table.Lookup(category, tok); ok {
			tokens[i] = canonical
			changed = true
		}
	}
	if changed {
		return strings.Join(tokens, " ")
	}
	return key
}

// stripMarks removes diacritics by NFD-decomposing, dropping combining
// marks, and recomposing.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldKey lower-cases, strips diacritics, maps punctuation to spaces, and
// collapses whitespace.
func foldKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
