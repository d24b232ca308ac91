// Package match normalizes organization names and ranks registry search
// results against an input name.
package match

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// orgSuffixes are tokens that carry no identity for matching purposes.
var orgSuffixes = map[string]bool{
	"limited": true, "ltd": true, "plc": true, "llp": true, "cic": true, "cio": true,
	"charity": true, "charitable": true, "trust": true, "foundation": true,
	"association": true, "society": true, "organisation": true, "organization": true,
	"uk": true, "gb": true, "england": true, "wales": true, "scotland": true,
	"international": true,
}

var (
	separatorRe = regexp.MustCompile(`[-/]+`)
	nonWordRe   = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)
)

// NormalizeName lowercases a name, folds diacritics, strips punctuation,
// drops organizational suffix tokens and a leading "the", and collapses
// whitespace. A name made only of suffix tokens keeps them.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = strings.ToLower(foldDiacritics(name))
	name = strings.ReplaceAll(name, "&", " and ")
	name = separatorRe.ReplaceAllString(name, " ")
	name = nonWordRe.ReplaceAllString(name, "")

	tokens := strings.Fields(name)
	kept := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		if i == 0 && tok == "the" && len(tokens) > 1 {
			continue
		}
		if orgSuffixes[tok] {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		return strings.Join(tokens, " ")
	}
	return strings.Join(kept, " ")
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Similarity scores two names in [0,1] by normalized Levenshtein distance
// over their normalized forms. Empty names score 0.
func Similarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	return levenshtein.Similarity(na, nb, nil)
}
