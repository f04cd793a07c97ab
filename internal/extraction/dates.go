package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	numericDatePattern = regexp.MustCompile(`\b(?:(\d{1,2})[-/.](\d{1,2})[-/.](\d{4}|\d{2})|(\d{4})[-/.](\d{1,2})[-/.](\d{1,2}))\b`)
	textDatePattern    = regexp.MustCompile(`\b(\d{1,2})\s*(?:DE\s+)?([A-Z]{3,12})\.?\s*(?:(?:DE|DEL)\s+)?(\d{4}|\d{2})\b`)
	emissionDateLabel  = regexp.MustCompile(`\bFECHA\s*(?:DE\s*)?EMISION\b`)
	anyDateLabel       = regexp.MustCompile(`\bFECHA\b`)
	dueDateLabel       = regexp.MustCompile(`\bVENC`)
)

// monthLexicon maps full and abbreviated Spanish month names to months.
var monthLexicon = map[string]time.Month{
	"ENERO": time.January, "ENE": time.January,
	"FEBRERO": time.February, "FEB": time.February,
	"MARZO": time.March, "MAR": time.March,
	"ABRIL": time.April, "ABR": time.April,
	"MAYO": time.May, "MAY": time.May,
	"JUNIO": time.June, "JUN": time.June,
	"JULIO": time.July, "JUL": time.July,
	"AGOSTO": time.August, "AGO": time.August,
	"SEPTIEMBRE": time.September, "SETIEMBRE": time.September, "SEPT": time.September, "SEP": time.September, "SET": time.September,
	"OCTUBRE": time.October, "OCT": time.October,
	"NOVIEMBRE": time.November, "NOV": time.November,
	"DICIEMBRE": time.December, "DIC": time.December,
}

// lookupMonth resolves a month word, absorbing small recognition errors.
// The fuzzy match must be unique: "MAX" is as close to MAR as to MAY and
// is rejected.
func lookupMonth(word string) (time.Month, bool) {
	word = strings.ToUpper(strings.TrimSuffix(word, "."))
	if m, ok := monthLexicon[word]; ok {
		return m, true
	}
	if len(word) < 3 {
		return 0, false
	}

	maxDist := 1
	if len(word) > 5 {
		maxDist = 2
	}

	best, bestDist, tie := time.Month(0), maxDist+1, false
	for name, month := range monthLexicon {
		d := levenshtein(word, name)
		switch {
		case d < bestDist:
			best, bestDist, tie = month, d, false
		case d == bestDist && month != best:
			tie = true
		}
	}
	if bestDist > maxDist || tie {
		return 0, false
	}
	return best, true
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// expandYear maps two-digit years: below 50 is 20xx, below 100 is 19xx.
func expandYear(y int) int {
	switch {
	case y < 50:
		return 2000 + y
	case y < 100:
		return 1900 + y
	}
	return y
}

func makeDate(y, m, d int) (time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func firstNumericDate(s string) (time.Time, bool) {
	for _, m := range numericDatePattern.FindAllStringSubmatch(s, -1) {
		var (
			t  time.Time
			ok bool
		)
		if m[1] != "" {
			t, ok = makeDate(expandYear(atoi(m[3])), atoi(m[2]), atoi(m[1]))
		} else {
			t, ok = makeDate(atoi(m[4]), atoi(m[5]), atoi(m[6]))
		}
		if ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func firstTextDate(s string) (time.Time, bool) {
	for _, m := range textDatePattern.FindAllStringSubmatch(s, -1) {
		month, ok := lookupMonth(m[2])
		if !ok {
			continue
		}
		if t, ok := makeDate(expandYear(atoi(m[3])), int(month), atoi(m[1])); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// firstDate tries the strict numeric form before the natural-language one.
func firstDate(s string) (time.Time, bool, bool) {
	if t, ok := firstNumericDate(s); ok {
		return t, true, true
	}
	if t, ok := firstTextDate(s); ok {
		return t, false, true
	}
	return time.Time{}, false, false
}

// extractIssueDate looks for the emission date next to its label first,
// then next to any non-due-date FECHA label, then anywhere in the text.
func extractIssueDate(folded []string) (time.Time, float64) {
	anchored := func(label *regexp.Regexp, conf float64) (time.Time, float64, bool) {
		for i, line := range folded {
			for _, loc := range label.FindAllStringIndex(line, -1) {
				window := strings.TrimLeft(line[loc[1]:], " :")
				if strings.HasPrefix(window, "VENC") {
					continue
				}
				if cut := dueDateLabel.FindStringIndex(window); cut != nil {
					window = window[:cut[0]]
				} else if i+1 < len(folded) && !dueDateLabel.MatchString(folded[i+1]) {
					window += "\n" + folded[i+1]
				}
				if t, numeric, ok := firstDate(window); ok {
					if !numeric {
						conf -= 0.1
					}
					return t, conf, true
				}
			}
		}
		return time.Time{}, 0, false
	}

	if t, conf, ok := anchored(emissionDateLabel, 0.95); ok {
		return t, conf
	}
	if t, conf, ok := anchored(anyDateLabel, 0.9); ok {
		return t, conf
	}
	if t, numeric, ok := firstDate(strings.Join(folded, "\n")); ok {
		if numeric {
			return t, 0.7
		}
		return t, 0.6
	}
	return time.Time{}, 0
}
