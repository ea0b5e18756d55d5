package rank

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/stashsift/stashsift/internal/entity"
)

// Reference is a secondary source pointer inside an evidence block.
type Reference struct {
	ItemID     string          `json:"item_id"`
	Timestamp  time.Time       `json:"timestamp,omitempty"`
	Modality   entity.Modality `json:"modality"`
	Confidence float64         `json:"confidence"`
}

// EvidenceBlock bundles the best quote, source references, and confidence
// for one surfaced result.
type EvidenceBlock struct {
	Quote          string      `json:"quote,omitempty"`
	BestItemID     string      `json:"best_item_id"`
	BestConfidence float64     `json:"best_confidence"`
	BestTimestamp  time.Time   `json:"best_timestamp,omitempty"`
	References     []Reference `json:"references"`
	GeoContext     string      `json:"geo_context,omitempty"`
}

var (
	// streetRE matches street-address strings like "12 Rue Cler" or
	// "221B Baker Street".
	streetRE = regexp.MustCompile(`(?i)\b\d{1,5}[a-z]?\s+(?:[a-z][\w'.-]*\s+){0,3}(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|rue|plaza|square|sq)\b`)
	// venueRE matches pinned venue markers like "📍 Café Lomi, Paris".
	venueRE = regexp.MustCompile(`📍\s*([^\n.;!?]+)`)
)

// AssembleEvidence builds the evidence block for one aggregated entity. The
// primary quote comes from the single best supporting mention: highest
// per-source confidence, ties broken by the most recent timestamp, then by
// item id. For LOCATION entities the supporting snippets are scanned for
// address or venue strings; absence is represented by an empty GeoContext,
// never fabricated.
func AssembleEvidence(e entity.AggregatedEntity) EvidenceBlock {
	block := EvidenceBlock{}
	if len(e.Sources) == 0 {
		return block
	}

	best := e.Sources[0]
	for _, s := range e.Sources[1:] {
		if betterSource(s, best) {
			best = s
		}
	}
	block.Quote = best.Snippet
	block.BestItemID = best.ItemID
	block.BestConfidence = best.Confidence
	block.BestTimestamp = best.Timestamp

	// One reference per distinct item, keeping its strongest mention.
	perItem := make(map[string]entity.SourceRef, len(e.Sources))
	for _, s := range e.Sources {
		cur, ok := perItem[s.ItemID]
		if !ok || betterSource(s, cur) {
			perItem[s.ItemID] = s
		}
	}
	block.References = make([]Reference, 0, len(perItem))
	for _, s := range perItem {
		block.References = append(block.References, Reference{
			ItemID:     s.ItemID,
			Timestamp:  s.Timestamp,
			Modality:   s.Modality,
			Confidence: s.Confidence,
		})
	}
	sort.Slice(block.References, func(i, j int) bool {
		a, b := block.References[i], block.References[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ItemID < b.ItemID
	})

	if e.Category == entity.CategoryLocation {
		block.GeoContext = geoContext(e)
	}
	return block
}

// betterSource orders supporting mentions: higher confidence first, then
// more recent, then lower item id for determinism.
func betterSource(a, b entity.SourceRef) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ItemID < b.ItemID
}

// geoContext surfaces any address or venue string found in the supporting
// snippets, checked in best-source order. Returns "" when nothing is found.
func geoContext(e entity.AggregatedEntity) string {
	ordered := append([]entity.SourceRef(nil), e.Sources...)
	sort.Slice(ordered, func(i, j int) bool { return betterSource(ordered[i], ordered[j]) })
	for _, s := range ordered {
		if m := venueRE.FindStringSubmatch(s.Snippet); m != nil {
			return strings.TrimSpace(m[1])
		}
		if m := streetRE.FindString(s.Snippet); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

