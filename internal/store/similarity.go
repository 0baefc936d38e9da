package store

// SimilarityFunc scores two normalised texts in [0, 1] (1 = identical).
type SimilarityFunc func(a, b string) float64

// levenshtein returns the edit distance between two strings (rune-aware).
// Uses a space-optimized two-row DP implementation.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1]
				continue
			}
			curr[j] = 1 + min(prev[j], prev[j-1], curr[j-1])
		}
		prev, curr = curr, prev
	}

	return prev[lb]
}

// LevenshteinRatio is 1 minus the edit distance over the longer length.
func LevenshteinRatio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

// TrigramSimilarity is the Jaccard index of the rune trigram sets.
func TrigramSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for g := range ta {
		if tb[g] {
			inter++
		}
	}
	return float64(inter) / float64(len(ta)+len(tb)-inter)
}

// SimilarityByName returns the metric for a fuzzy_metric setting,
// defaulting to LevenshteinRatio.
func SimilarityByName(name string) SimilarityFunc {
	if name == "trigram" {
		return TrigramSimilarity
	}
	return LevenshteinRatio
}

func trigrams(s string) map[string]bool {
	r := []rune("  " + s + " ")
	out := make(map[string]bool, len(r))
	for i := 0; i+3 <= len(r); i++ {
		out[string(r[i:i+3])] = true
	}
	return out
}

// lengthBound is the best ratio two texts of these lengths could reach,
// used to skip hopeless candidates before computing edit distances.
func lengthBound(la, lb int) float64 {
	maxL := max(la, lb)
	if maxL == 0 {
		return 1.0
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return 1.0 - float64(diff)/float64(maxL)
}
