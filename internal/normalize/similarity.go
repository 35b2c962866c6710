package normalize

// Similarity scores two normalized strings in [0,1] as an even blend of
// whole-string Levenshtein ratio and a token-level best-match score.
// The whole-string component catches small spelling drift, the token
// component catches word reordering and inflected endings.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return 0.5*levenshteinRatio(a, b) + 0.5*tokenMatchScore(a, b)
}

func levenshteinRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	max := len(ra)
	if len(rb) > max {
		max = len(rb)
	}
	if max == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(max)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// tokenMatchScore pairs every token with its closest counterpart in the
// other string, length-weighted, averaged over both directions.
func tokenMatchScore(a, b string) float64 {
	ta, tb := Tokenize(a), Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	return (directionalMatch(ta, tb) + directionalMatch(tb, ta)) / 2
}

func directionalMatch(from, to []string) float64 {
	var weighted, total float64
	for _, tok := range from {
		best := 0.0
		for _, other := range to {
			if r := levenshteinRatio(tok, other); r > best {
				best = r
			}
		}
		w := float64(len([]rune(tok)))
		weighted += best * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}
