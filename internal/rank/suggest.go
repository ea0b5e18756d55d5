package rank

import (
	"fmt"
	"time"

	"github.com/stashsift/stashsift/internal/entity"
)

var zeroTime time.Time

// NoMatchExplanation is the terminal suggestion when no relaxation helps.
const NoMatchExplanation = "No matching saved content was found for this question."

// categorySiblings maps each category to the neighbors worth trying when the
// category filter itself is what starves the query.
var categorySiblings = map[entity.Category][]entity.Category{
	entity.CategoryProduct: {entity.CategoryConcept},
	entity.CategoryPerson:  {entity.CategoryConcept},
	entity.CategoryAdvice:  {entity.CategoryConcept},
	entity.CategoryConcept: {entity.CategoryAdvice},
}

// Suggest produces alternative suggestions for constraints that matched
// nothing. The relaxation ladder is tried in order: drop the time window,
// drop the geographic filter, broaden the category. Each relaxation is
// offered only if it would actually produce at least one result against the
// given candidate set; when none would, only the generic explanation is
// returned. Always returns at least one string and never fails.
func Suggest(candidates []RankedResult, c Constraints, cfg ResolveConfig) []string {
	var suggestions []string

	if c.HasTimeWindow() {
		relaxed := c
		relaxed.Since = zeroTime
		relaxed.Until = zeroTime
		if n := wouldMatch(candidates, relaxed, cfg); n > 0 {
			suggestions = append(suggestions,
				fmt.Sprintf("Try without the time window — %d saved %s match outside it.", n, plural(n, "post", "posts")))
		}
	}

	if c.Location != "" {
		relaxed := c
		relaxed.Location = ""
		if n := wouldMatch(candidates, relaxed, cfg); n > 0 {
			suggestions = append(suggestions,
				fmt.Sprintf("Try without the %q filter — %d saved %s match elsewhere.", c.Location, n, plural(n, "post", "posts")))
		}
	}

	if c.Category != nil {
		for _, sibling := range categorySiblings[*c.Category] {
			relaxed := c
			s := sibling
			relaxed.Category = &s
			if n := wouldMatch(candidates, relaxed, cfg); n > 0 {
				suggestions = append(suggestions,
					fmt.Sprintf("Try the %s category instead — %d saved %s match there.", sibling, n, plural(n, "post", "posts")))
			}
		}
		relaxed := c
		relaxed.Category = nil
		if n := wouldMatch(candidates, relaxed, cfg); n > 0 {
			suggestions = append(suggestions,
				fmt.Sprintf("Try without a category filter — %d saved %s match overall.", n, plural(n, "post", "posts")))
		}
	}

	if len(suggestions) == 0 {
		return []string{NoMatchExplanation}
	}
	return suggestions
}

func wouldMatch(candidates []RankedResult, c Constraints, cfg ResolveConfig) int {
	return Resolve(candidates, c, cfg).FilteredTotal
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return singular
	}
	return pluralForm
}
