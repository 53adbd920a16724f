package navigation

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/sweetpotato0/ai-concierge/places"
)

// words lowercases s and splits it into letter and digit runs.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalizeTokens returns the words of s sorted and space-joined.
func normalizeTokens(s string) string {
	tokens := words(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// TokenSortRatio scores two strings from 0 to 100 after sorting their words,
// so word order does not matter: "Coffee Blue Bottle" and "blue bottle
// coffee" score 100. The score is the indel similarity 2*LCS/(len(a)+len(b))
// over runes, so a substitution costs two edits.
func TokenSortRatio(a, b string) int {
	ra, rb := []rune(normalizeTokens(a)), []rune(normalizeTokens(b))
	total := len(ra) + len(rb)
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(2*lcs(ra, rb)) / float64(total) * 100))
}

// lcs returns the length of the longest common subsequence of a and b.
func lcs(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// orderDistance is the edit distance between the words of a and b in their
// original order. It separates candidates that tie on TokenSortRatio.
func orderDistance(a, b string) int {
	return levenshtein.ComputeDistance(strings.Join(words(a), " "), strings.Join(words(b), " "))
}

// bestMatch returns the candidate whose name scores highest against name.
// Ties go to the candidate whose word order is closer, then to the earlier one.
func bestMatch(name string, candidates []places.Candidate) (places.Candidate, int, bool) {
	var (
		best     places.Candidate
		score    = -1
		bestDist int
	)
	for _, c := range candidates {
		s := TokenSortRatio(name, c.Name)
		if s < score {
			continue
		}
		d := orderDistance(name, c.Name)
		if s > score || d < bestDist {
			best, score, bestDist = c, s, d
		}
	}
	return best, score, score >= 0
}
