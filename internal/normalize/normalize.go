// Package normalize provides deterministic text cleanup, rule-based
// language identification and string similarity for KB lookups. It does
// no I/O so the KB fast path never pays network latency.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Tokens that carry no matching signal: measurement units and common
// bill-of-quantities filler.
var noiseTokens = map[string]bool{
	"m":    true,
	"m2":   true,
	"m3":   true,
	"mm":   true,
	"cm":   true,
	"bm":   true,
	"ks":   true,
	"kg":   true,
	"t":    true,
	"kus":  true,
	"soub": true,
	"kpl":  true,
	"stk":  true,
	"stck": true,
	"pcs":  true,
}

// Normalize produces the comparison key for a raw work-item description:
// lowercased, diacritics-folded, noise tokens stripped, whitespace
// collapsed. The raw text is kept elsewhere for display.
func Normalize(text string) string {
	tokens := Tokenize(Fold(text))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if noiseTokens[tok] {
			continue
		}
		// Leading row identifiers like "001" or "1.2.3" tokenize to
		// bare digit runs; drop them only at the front.
		if len(out) == 0 && isDigits(tok) {
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

// Tokenize splits on anything that is not a letter or digit, lowercasing
// as it goes.
func Tokenize(s string) []string {
	s = strings.ToLower(s)
	var tokens []string
	var cur strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

var foldMap = map[rune]string{
	'á': "a", 'ä': "a", 'č': "c", 'ď': "d", 'é': "e", 'ě': "e",
	'í': "i", 'ľ': "l", 'ĺ': "l", 'ň': "n", 'ó': "o", 'ô': "o",
	'ö': "o", 'ř': "r", 'ŕ': "r", 'š': "s", 'ť': "t", 'ú': "u",
	'ů': "u", 'ü': "u", 'ý': "y", 'ž': "z", 'ß': "ss",
}

// Fold lowercases and strips the diacritics used by the supported
// languages. Unknown runes pass through unchanged.
func Fold(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if rep, ok := foldMap[r]; ok {
			b.WriteString(rep)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ContextHash derives the cache scope key from the query context. Empty
// context yields the empty string so uncontexted queries share one scope.
func ContextHash(projectType, constructionSystem string) string {
	pt := strings.ToLower(strings.TrimSpace(projectType))
	cs := strings.ToLower(strings.TrimSpace(constructionSystem))
	if pt == "" && cs == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(pt + "|" + cs))
	return hex.EncodeToString(sum[:])[:16]
}
