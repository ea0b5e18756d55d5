package entity

import "strings"

// SurfaceSimilarity scores how likely two canonical keys name the same
// entity, in [0,1]. It takes the better of token-set Jaccard overlap and
// normalized Levenshtein similarity, so both reordered token sets
// ("cafe paris" vs "paris cafe") and small misspellings score high.
func SurfaceSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	j := tokenJaccard(a, b)
	l := normalizedLevenshtein(a, b)
	if j > l {
		return j
	}
	return l
}

// tokenJaccard is |A∩B| / |A∪B| over whitespace-split tokens. Tokens are
// tagged with which side they came from; a token seen on both sides is in
// the intersection, every token counts toward the union.
func tokenJaccard(a, b string) float64 {
	const sideA, sideB = 1, 2
	tokens := make(map[string]uint8)
	for _, t := range strings.Fields(a) {
		tokens[t] |= sideA
	}
	for _, t := range strings.Fields(b) {
		tokens[t] |= sideB
	}
	if len(tokens) == 0 {
		return 1
	}
	inter := 0
	for _, sides := range tokens {
		if sides == sideA|sideB {
			inter++
		}
	}
	return float64(inter) / float64(len(tokens))
}

// normalizedLevenshtein is 1 - dist/maxLen over runes. The DP keeps only the
// previous row; canonical keys are short, so there is no need for the full
// table.
func normalizedLevenshtein(a, b string) float64 {
	ar, br := []rune(a), []rune(b)
	if len(ar) < len(br) {
		ar, br = br, ar
	}
	if len(ar) == 0 {
		return 1
	}
	prev := make([]int, len(br)+1)
	curr := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ar); i++ {
		curr[0] = i
		for j := 1; j <= len(br); j++ {
			best := prev[j] + 1 // deletion
			if ins := curr[j-1] + 1; ins < best {
				best = ins
			}
			sub := prev[j-1]
			if ar[i-1] != br[j-1] {
				sub++
			}
			if sub < best {
				best = sub
			}
			curr[j] = best
		}
		prev, curr = curr, prev
	}
	return 1 - float64(prev[len(br)])/float64(len(ar))
}
