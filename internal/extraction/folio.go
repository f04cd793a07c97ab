package extraction

import (
	"regexp"
	"strings"
)

var folioPattern = regexp.MustCompile(`(?:\bFOLIO|\bN\s?[º°]|\bNRO\.?|\bNO\.?|\bFOL\.?)[\s:.#]*(\d{3,})\b`)

const folioHeadingWindow = 4

// extractFolio prefers a number printed right after the document heading
// (the SII box) over any other numbered label in the text.
func extractFolio(folded []string) (string, float64) {
	if heading, ok := firstMatch(folded, documentHeading); ok {
		end := minInt(heading.line+folioHeadingWindow+1, len(folded))
		window := strings.Join(folded[heading.line:end], "\n")
		if m := folioPattern.FindStringSubmatch(window); m != nil {
			return m[1], 0.9
		}
	}
	if m := folioPattern.FindStringSubmatch(strings.Join(folded, "\n")); m != nil {
		return m[1], 0.6
	}
	return "", 0
}
