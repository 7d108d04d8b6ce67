package matching

import (
	"strings"
)

// DefaultGroupThreshold is the exclusive similarity bound for grouping.
const DefaultGroupThreshold = 0.7

// Normalize trims and lowercases a name before comparison.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)) over the
// normalized names, or exactly 1.0 when they are equal. The result is in [0, 1]
// and symmetric.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}

	ra, rb := []rune(na), []rune(nb)
	maxLen := max(len(ra), len(rb))
	return 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// LevenshteinDistance counts single-rune insertions, deletions and substitutions.
func LevenshteinDistance(a, b string) int {
	return levenshtein([]rune(a), []rune(b))
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// two rows of the DP table
	row := make([]int, len(b)+1)
	prevRow := make([]int, len(b)+1)

	for j := 0; j <= len(b); j++ {
		prevRow[j] = j
	}

	for i := 1; i <= len(a); i++ {
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			row[j] = min(row[j-1]+1, prevRow[j]+1, prevRow[j-1]+cost)
		}
		row, prevRow = prevRow, row
	}

	return prevRow[len(b)]
}

// BestMatch returns the name in candidates most similar to name, its index and
// score. Ties keep the earliest candidate. An empty list yields index -1.
func BestMatch(name string, candidates []string) (string, int, float64) {
	best, bestIdx, bestScore := "", -1, -1.0
	for i, c := range candidates {
		if strings.TrimSpace(c) == "" {
			continue
		}
		if score := Similarity(name, c); score > bestScore {
			best, bestIdx, bestScore = c, i, score
		}
	}
	if bestIdx < 0 {
		return "", -1, 0
	}
	return best, bestIdx, bestScore
}
