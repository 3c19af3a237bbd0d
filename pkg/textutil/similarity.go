package textutil

// LevenshteinDistance calculates the edit distance between two strings.
func LevenshteinDistance(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// Similarity returns a 0..1 score where 1 means identical strings.
// Computed as (longerLen - editDistance) / longerLen.
func Similarity(a, b string) float64 {
	la := len([]rune(a))
	lb := len([]rune(b))

	longer := la
	if lb > la {
		longer = lb
	}
	if longer == 0 {
		return 1.0
	}

	dist := LevenshteinDistance(a, b)
	return float64(longer-dist) / float64(longer)
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
