package charity

import (
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// numberPatterns are tried in order: England & Wales, Scotland, Northern Ireland.
var numberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(\d{6,8})\b`),
	regexp.MustCompile(`(?i)\b(SC\d{5,6})\b`),
	regexp.MustCompile(`(?i)\b(NI\d{5,6})\b`),
}

// NormalizeNumber strips everything but letters and digits and uppercases.
func NormalizeNumber(number string) string {
	return strings.ToUpper(nonAlnum.ReplaceAllString(strings.TrimSpace(number), ""))
}

// ExtractNumber returns the first charity-number-shaped token in text, or "".
func ExtractNumber(text string) string {
	for _, re := range numberPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}
