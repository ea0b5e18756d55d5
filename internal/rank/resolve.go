package rank

import (
	"sort"
	"strings"
	"time"

	"github.com/stashsift/stashsift/internal/entity"
)

// DefaultResultLimit caps result sets when the query names no count.
const DefaultResultLimit = 10

// Constraints are the query-side filters, owned by the upstream
// query-processing collaborator and consumed read-only here.
type Constraints struct {
	Category       *entity.Category `json:"category,omitempty"`
	RequestedCount int              `json:"requested_count,omitempty"` // 0 = absent
	Location       string           `json:"location,omitempty"`
	Since          time.Time        `json:"since,omitempty"` // zero = open
	Until          time.Time        `json:"until,omitempty"` // zero = open
}

// HasTimeWindow reports whether either end of the time window is set.
func (c Constraints) HasTimeWindow() bool {
	return !c.Since.IsZero() || !c.Until.IsZero()
}

// ResolveConfig holds resolver configuration.
type ResolveConfig struct {
	DefaultLimit int
}

// Resolution is the resolver outcome. A shortfall against the requested
// count is reported, never an error.
type Resolution struct {
	Results           []RankedResult `json:"results"`
	FilteredTotal     int            `json:"filtered_total"`
	Requested         int            `json:"requested,omitempty"`
	InsufficientCount bool           `json:"insufficient_count,omitempty"`
}

// Resolve applies the conjunctive category, geographic, and time-window
// filters, sorts by relevance descending with canonical-key tie-breaks, and
// truncates to the requested or default count. Given requested_count = N and
// at least N filtered candidates, it returns exactly N results.
func Resolve(candidates []RankedResult, c Constraints, cfg ResolveConfig) Resolution {
	filtered := make([]RankedResult, 0, len(candidates))
	for _, cand := range candidates {
		if !matches(cand.Entity, c) {
			continue
		}
		filtered = append(filtered, cand)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Scores.Relevance != filtered[j].Scores.Relevance {
			return filtered[i].Scores.Relevance > filtered[j].Scores.Relevance
		}
		return filtered[i].Entity.CanonicalKey < filtered[j].Entity.CanonicalKey
	})

	res := Resolution{FilteredTotal: len(filtered), Requested: c.RequestedCount}

	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = DefaultResultLimit
	}
	if c.RequestedCount > 0 {
		limit = c.RequestedCount
		if len(filtered) < c.RequestedCount {
			res.InsufficientCount = true
		}
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	res.Results = filtered
	return res
}

// matches applies all constraint filters conjunctively.
func matches(e entity.AggregatedEntity, c Constraints) bool {
	if c.Category != nil && e.Category != *c.Category {
		return false
	}
	if c.Location != "" && !matchesLocation(e, c.Location) {
		return false
	}
	if c.HasTimeWindow() && !withinWindow(e, c.Since, c.Until) {
		return false
	}
	return true
}

// matchesLocation checks the geographic filter against the display name and
// the supporting context snippets, case-insensitively. No geocoding: this is
// plain substring evidence in the saved content itself.
func matchesLocation(e entity.AggregatedEntity, location string) bool {
	needle := strings.ToLower(strings.TrimSpace(location))
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(e.DisplayName), needle) {
		return true
	}
	if strings.Contains(e.CanonicalKey, needle) {
		return true
	}
	for _, s := range e.Sources {
		if strings.Contains(strings.ToLower(s.Snippet), needle) {
			return true
		}
	}
	return false
}

// withinWindow reports whether any supporting mention falls inside the
// half-open constraint window. Unset bounds are open.
func withinWindow(e entity.AggregatedEntity, since, until time.Time) bool {
	for _, s := range e.Sources {
		if s.Timestamp.IsZero() {
			continue
		}
		if !since.IsZero() && s.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && s.Timestamp.After(until) {
			continue
		}
		return true
	}
	return false
}
