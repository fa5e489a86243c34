package extract

import (
	"strings"
)

// Stop-word samples per language. Deliberately small: this is a coarse
// heuristic, not a language identifier.
var stopWords = map[string][]string{
	"en": {"the", "and", "for", "with", "that", "this", "from", "have", "are", "was", "not", "you"},
	"es": {"que", "los", "las", "por", "con", "para", "una", "del", "este", "como", "pero", "más"},
	"fr": {"les", "des", "est", "dans", "pour", "que", "une", "sur", "avec", "pas", "vous", "sont"},
	"de": {"der", "die", "das", "und", "ist", "nicht", "mit", "von", "den", "für", "auf", "ein"},
	"it": {"che", "per", "con", "del", "della", "una", "sono", "non", "più", "questo", "anche", "nel"},
}

// A language must beat the runner-up by this factor to be reported.
const langDominanceRatio = 1.5

// DetectLanguage guesses the text's language from stop-word frequency.
// Returns "unknown" when no language dominates.
func DetectLanguage(text string) string {
	if len(text) < 40 {
		return "unknown"
	}

	words := strings.Fields(strings.ToLower(text))
	if len(words) > 2000 {
		words = words[:2000]
	}

	counts := make(map[string]int, len(stopWords))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		for lang, stops := range stopWords {
			for _, s := range stops {
				if w == s {
					counts[lang]++
					break
				}
			}
		}
	}

	best, second := "", 0
	bestCount := 0
	for lang, c := range counts {
		if c > bestCount {
			second = bestCount
			best, bestCount = lang, c
		} else if c > second {
			second = c
		}
	}

	if bestCount < 3 {
		return "unknown"
	}
	if second > 0 && float64(bestCount) < langDominanceRatio*float64(second) {
		return "unknown"
	}
	return best
}
