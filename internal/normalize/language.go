package normalize

import (
	"strings"
	"unicode"
)

// Supported language tags. LangUnknown is returned for scripts the
// classifier does not handle; downstream components tolerate it.
const (
	LangCzech   = "cs"
	LangSlovak  = "sk"
	LangGerman  = "de"
	LangEnglish = "en"
	LangUnknown = "unknown"
)

var czechRunes = "ěřůď"
var slovakRunes = "ľĺŕô"
var germanRunes = "ßöüä"

var czechWords = map[string]bool{
	"beton": true, "betonova": true, "betonove": true, "zdivo": true,
	"omitka": true, "deska": true, "stena": true, "steny": true,
	"strop": true, "zaklad": true, "zakladova": true, "vyztuz": true,
	"cihla": true, "podlaha": true, "izolace": true, "bourani": true,
}

// Keyword sets hold diacritics-folded forms; tokens are folded before
// lookup.
var germanWords = map[string]bool{
	"wand": true, "decke": true, "beton": true, "mauerwerk": true,
	"putz": true, "boden": true, "stahl": true, "dammung": true,
	"und": true, "der": true, "aus": true, "mit": true,
}

var englishWords = map[string]bool{
	"wall": true, "concrete": true, "slab": true, "masonry": true,
	"plaster": true, "floor": true, "steel": true, "insulation": true,
	"reinforced": true, "the": true, "of": true, "with": true,
}

// DetectLanguage is a pure rule-based classifier over script and keyword
// signals. It never errors: non-Latin scripts map to LangUnknown and a
// Latin text with no signal defaults to English.
func DetectLanguage(text string) string {
	lower := strings.ToLower(text)

	latin, nonLatin := 0, 0
	for _, r := range lower {
		if !unicode.IsLetter(r) {
			continue
		}
		if unicode.Is(unicode.Latin, r) {
			latin++
		} else {
			nonLatin++
		}
	}
	if latin == 0 || nonLatin > latin {
		return LangUnknown
	}

	scores := map[string]int{}
	for _, r := range lower {
		switch {
		case strings.ContainsRune(czechRunes, r):
			scores[LangCzech] += 2
		case strings.ContainsRune(slovakRunes, r):
			scores[LangSlovak] += 2
		case strings.ContainsRune(germanRunes, r):
			scores[LangGerman] += 2
		case strings.ContainsRune("čšžťňáíéúý", r):
			// Shared by Czech and Slovak; weak Czech prior.
			scores[LangCzech]++
		}
	}
	for _, tok := range Tokenize(Fold(lower)) {
		if czechWords[tok] {
			scores[LangCzech]++
		}
		if germanWords[tok] {
			scores[LangGerman]++
		}
		if englishWords[tok] {
			scores[LangEnglish]++
		}
	}

	best, bestScore := LangEnglish, 0
	// Fixed evaluation order keeps ties deterministic.
	for _, lang := range []string{LangCzech, LangSlovak, LangGerman, LangEnglish} {
		if s := scores[lang]; s > bestScore {
			best, bestScore = lang, s
		}
	}
	return best
}
