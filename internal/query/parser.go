// Package query turns natural-language questions about saved content into
// structured ranking constraints.
//
// Category detection runs the lowercased question through an Aho-Corasick
// matcher built from per-category cue words and picks the category with the
// most distinct cue hits. Counts, places, and time windows come from small
// regular expressions. Everything the parser cannot place becomes a keyword.
package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"github.com/stashsift/stashsift/internal/entity"
	"github.com/stashsift/stashsift/internal/rank"
)

// Intent is the structured reading of one question.
type Intent struct {
	Raw         string
	Category    *entity.Category
	Keywords    []string
	Constraints rank.Constraints
}

// categoryCues maps each category to the words that vote for it.
var categoryCues = map[entity.Category][]string{
	entity.CategoryProduct: {
		"product", "products", "buy", "bought", "brand", "brands",
		"gear", "gadget", "gadgets", "item", "items", "shop",
	},
	entity.CategoryLocation: {
		"place", "places", "spot", "spots", "restaurant", "restaurants",
		"cafe", "cafes", "bar", "bars", "city", "cities", "visit",
		"travel", "trip", "where", "location", "locations",
	},
	entity.CategoryPerson: {
		"person", "people", "who", "creator", "creators", "account",
		"accounts", "influencer", "influencers", "chef", "chefs",
		"artist", "artists",
	},
	entity.CategoryConcept: {
		"idea", "ideas", "concept", "concepts", "topic", "topics",
		"trend", "trends", "recipe", "recipes", "workout", "workouts",
		"technique", "techniques",
	},
	entity.CategoryAdvice: {
		"advice", "tip", "tips", "recommendation", "recommendations",
		"hack", "hacks", "suggestion", "suggestions", "howto",
	},
}

var (
	countRE  = regexp.MustCompile(`\b(?:top|first|best)\s+(\d{1,3})\b|\b(\d{1,3})\s+(?:best|top|favorite)\b`)
	placeRE  = regexp.MustCompile(`\b(?:in|near|around)\s+((?:[a-zà-ÿ'’-]+ ?){1,3})`)
	windowRE = regexp.MustCompile(`\b(?:last|past|this)\s+(week|month|year)\b|\bpast\s+(\d{1,3})\s+(day|week|month)s?\b`)
)

var wordNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"a couple of": 2, "a few": 3,
}

// stopwords are dropped when collecting residual keywords.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "i": {}, "my": {}, "me": {},
	"what": {}, "which": {}, "show": {}, "find": {}, "give": {}, "list": {},
	"saved": {}, "save": {}, "posts": {}, "post": {}, "about": {}, "from": {},
	"have": {}, "did": {}, "do": {}, "was": {}, "were": {}, "are": {}, "is": {},
	"that": {}, "those": {}, "these": {}, "all": {}, "any": {}, "some": {},
	"and": {}, "or": {}, "to": {}, "for": {}, "with": {}, "on": {}, "at": {},
	"in": {}, "near": {}, "around": {}, "last": {}, "past": {}, "this": {},
	"week": {}, "month": {}, "year": {}, "day": {}, "days": {},
	"top": {}, "first": {}, "best": {}, "favorite": {},
}

// Parser converts questions to intents. Safe for concurrent use once built.
type Parser struct {
	matcher *ahocorasick.Matcher
	cues    []string                   // matcher keyword list, space-padded
	cueCat  map[string]entity.Category // padded cue -> category
	now     func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithNow injects the clock used to resolve relative time windows.
func WithNow(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// NewParser builds a parser with the built-in category cues.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		cueCat: make(map[string]entity.Category),
		now:    time.Now,
	}
	// Space-padded cues so the substring matcher only fires on whole words.
	for _, cat := range entity.Categories {
		for _, cue := range categoryCues[cat] {
			padded := " " + cue + " "
			p.cues = append(p.cues, padded)
			p.cueCat[padded] = cat
		}
	}
	p.matcher = ahocorasick.NewStringMatcher(p.cues)
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse reads one question into an Intent. It never fails; a question the
// parser cannot place simply yields an unconstrained intent.
func (p *Parser) Parse(question string) Intent {
	raw := question
	text := " " + normalize(question) + " "

	intent := Intent{Raw: raw}

	if cat, ok := p.detectCategory(text); ok {
		intent.Category = &cat
		intent.Constraints.Category = &cat
	}
	intent.Constraints.RequestedCount = detectCount(text)
	intent.Constraints.Location = detectPlace(text)
	intent.Constraints.Since, intent.Constraints.Until = detectWindow(text, p.now())
	intent.Keywords = residualKeywords(text)

	return intent
}

func (p *Parser) detectCategory(text string) (entity.Category, bool) {
	hits := p.matcher.Match([]byte(text))
	votes := make(map[entity.Category]int)
	seen := make(map[string]struct{})
	for _, idx := range hits {
		if idx >= len(p.cues) {
			continue
		}
		cue := p.cues[idx]
		if _, dup := seen[cue]; dup {
			continue
		}
		seen[cue] = struct{}{}
		votes[p.cueCat[cue]]++
	}

	var best entity.Category
	bestVotes := 0
	tied := false
	for _, cat := range entity.Categories {
		switch v := votes[cat]; {
		case v > bestVotes:
			best, bestVotes, tied = cat, v, false
		case v == bestVotes && v > 0:
			tied = true
		}
	}
	if bestVotes == 0 || tied {
		return "", false
	}
	return best, true
}

func detectCount(text string) int {
	if m := countRE.FindStringSubmatch(text); m != nil {
		for _, g := range m[1:] {
			if g == "" {
				continue
			}
			if n, err := strconv.Atoi(g); err == nil && n > 0 {
				return n
			}
		}
	}
	for phrase, n := range wordNumbers {
		if strings.Contains(text, " top "+phrase+" ") ||
			strings.Contains(text, " first "+phrase+" ") ||
			strings.Contains(text, " "+phrase+" best ") {
			return n
		}
	}
	return 0
}

func detectPlace(text string) string {
	m := placeRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	place := strings.TrimSpace(m[1])
	// The capture is greedy; drop trailing time words it may have swallowed.
	words := strings.Fields(place)
	for len(words) > 0 {
		last := words[len(words)-1]
		if last == "last" || last == "past" || last == "this" ||
			last == "week" || last == "month" || last == "year" {
			words = words[:len(words)-1]
			continue
		}
		break
	}
	return strings.Join(words, " ")
}

func detectWindow(text string, now time.Time) (since, until time.Time) {
	m := windowRE.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, time.Time{}
	}
	switch m[1] {
	case "week":
		return now.AddDate(0, 0, -7), time.Time{}
	case "month":
		return now.AddDate(0, -1, 0), time.Time{}
	case "year":
		return now.AddDate(-1, 0, 0), time.Time{}
	}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			return time.Time{}, time.Time{}
		}
		switch m[3] {
		case "day":
			return now.AddDate(0, 0, -n), time.Time{}
		case "week":
			return now.AddDate(0, 0, -7*n), time.Time{}
		case "month":
			return now.AddDate(0, -n, 0), time.Time{}
		}
	}
	return time.Time{}, time.Time{}
}

func residualKeywords(text string) []string {
	var out []string
	for _, w := range strings.Fields(text) {
		if len(w) < 2 {
			continue
		}
		if _, skip := stopwords[w]; skip {
			continue
		}
		if _, isNum := wordNumbers[w]; isNum {
			continue
		}
		if _, err := strconv.Atoi(w); err == nil {
			continue
		}
		out = append(out, w)
	}
	return out
}

func normalize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'', r == '-':
			b.WriteRune(r)
		case r > 127:
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
