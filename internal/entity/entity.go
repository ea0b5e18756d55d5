// Package entity implements the aggregation core of stashsift.
//
// Raw entity mentions extracted from saved posts (captions, hashtags, vision,
// audio) are canonicalized into merge keys, grouped across content items, and
// merged into aggregated entities with noisy-OR confidence combination. The
// merge is associative and commutative, so partial aggregates built on
// disjoint shards can be combined in any order.
package entity

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies what kind of real-world thing an entity refers to.
type Category string

const (
	CategoryProduct  Category = "product"
	CategoryLocation Category = "location"
	CategoryPerson   Category = "person"
	CategoryConcept  Category = "concept"
	CategoryAdvice   Category = "advice"
)

// Categories lists all valid categories in canonical order.
var Categories = []Category{
	CategoryProduct,
	CategoryLocation,
	CategoryPerson,
	CategoryConcept,
	CategoryAdvice,
}

// ParseCategory parses a category string, case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown entity category %q", s)
	}
	return c, nil
}

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	switch c {
	case CategoryProduct, CategoryLocation, CategoryPerson, CategoryConcept, CategoryAdvice:
		return true
	}
	return false
}

// Modality identifies which extraction channel produced a mention.
type Modality string

const (
	ModalityCaption Modality = "caption"
	ModalityHashtag Modality = "hashtag"
	ModalityVision  Modality = "vision"
	ModalityAudio   Modality = "audio"
)

// ParseModality parses a modality string, case-insensitively.
func ParseModality(s string) (Modality, error) {
	m := Modality(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModalityCaption, ModalityHashtag, ModalityVision, ModalityAudio:
		return m, nil
	}
	return "", fmt.Errorf("unknown entity modality %q", s)
}

// Engagement holds the engagement counters of one content item.
type Engagement struct {
	Likes    int64 `json:"likes" yaml:"likes"`
	Comments int64 `json:"comments" yaml:"comments"`
	Shares   int64 `json:"shares" yaml:"shares"`
	Views    int64 `json:"views,omitempty" yaml:"views,omitempty"`
}

// Total folds all counters into a single engagement count.
func (e Engagement) Total() int64 {
	return e.Likes + e.Comments + e.Shares + e.Views
}

// RawEntity is a single entity mention produced by the upstream analysis
// collaborator. Immutable once created.
type RawEntity struct {
	Name          string
	Category      Category
	Confidence    float64
	Modality      Modality
	Snippet       string
	ItemID        string
	ItemTimestamp time.Time
	Engagement    Engagement
}

// NormalizedEntity is a RawEntity plus its deterministic canonical key.
type NormalizedEntity struct {
	RawEntity
	CanonicalKey string
	TableVersion string
}

// SourceRef records one merged mention with its provenance.
type SourceRef struct {
	ItemID     string
	Modality   Modality
	Confidence float64
	Snippet    string
	Timestamp  time.Time
	Engagement Engagement
}

// AggregatedEntity is the merged representation of one canonical entity
// across all saved content that mentions it. It is a derived, disposable
// view, never a source of truth.
type AggregatedEntity struct {
	CanonicalKey    string
	Category        Category
	DisplayName     string
	SupportingItems []string
	MentionCount    int
	EarliestTS      time.Time
	LatestTS        time.Time
	Confidence      float64
	Sources         []SourceRef

	items      map[string]struct{}
	nameCounts map[string]int
}

// MeanEngagement returns the mean engagement total over supporting items.
// Each distinct item contributes once, regardless of how many mentions it
// produced.
func (a *AggregatedEntity) MeanEngagement() float64 {
	perItem := make(map[string]int64, len(a.Sources))
	for _, s := range a.Sources {
		perItem[s.ItemID] = s.Engagement.Total()
	}
	if len(perItem) == 0 {
		return 0
	}
	var sum int64
	for _, v := range perItem {
		sum += v
	}
	return float64(sum) / float64(len(perItem))
}
