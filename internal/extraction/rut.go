package extraction

import (
	"regexp"
	"strings"
)

// rutPattern matches "1-2 digits, optional grouping, 3 digits, hyphen, check
// character". The leading group stands in for a lookbehind; the trailing
// boundary is checked by hand in scanRUTs.
var rutPattern = regexp.MustCompile(`(?:^|[^0-9.])(\d{1,2}(?:\.?\d{3}){1,2}) ?- ?([0-9Kk])`)

// RUTCandidate is a checksum-valid taxpayer id found in text.
type RUTCandidate struct {
	Value string // normalized, e.g. 76333222-5
	Line  int
	Col   int
}

// ComputeDV returns the modulo-11 check character for a RUT body.
// Weights 2..7 are applied cyclically from the rightmost digit.
func ComputeDV(body string) (byte, bool) {
	if body == "" {
		return 0, false
	}
	sum, weight := 0, 2
	for i := len(body) - 1; i >= 0; i-- {
		c := body[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		sum += int(c-'0') * weight
		weight++
		if weight > 7 {
			weight = 2
		}
	}
	switch r := 11 - sum%11; r {
	case 11:
		return '0', true
	case 10:
		return 'K', true
	default:
		return byte('0' + r), true
	}
}

// ValidRUT reports whether dv is the check character of body.
func ValidRUT(body string, dv byte) bool {
	want, ok := ComputeDV(body)
	if !ok {
		return false
	}
	if dv == 'k' {
		dv = 'K'
	}
	return dv == want
}

// NormalizeRUT strips grouping dots and spaces, upper-cases the check
// character and drops leading zeros from the body. It returns false when s
// is not RUT-shaped or fails the checksum. Normalizing a normalized RUT is a
// no-op.
func NormalizeRUT(s string) (string, bool) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '-':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if len(clean) < 2 {
		return "", false
	}

	body := strings.TrimLeft(clean[:len(clean)-1], "0")
	dv := strings.ToUpper(clean[len(clean)-1:])[0]
	if body == "" || len(body) > 9 {
		return "", false
	}
	if !ValidRUT(body, dv) {
		return "", false
	}
	return body + "-" + string(dv), true
}

// FindRUTs returns every checksum-valid RUT in text in reading order.
// Tokens that fail the checksum are dropped.
func FindRUTs(text string) []RUTCandidate {
	valid, _ := scanRUTs(strings.Split(text, "\n"))
	return valid
}

// scanRUTs also reports how many RUT-shaped tokens were seen so callers can
// tell "no id at all" from "only invalid ids".
func scanRUTs(lines []string) ([]RUTCandidate, int) {
	var found []RUTCandidate
	shaped := 0
	for i, line := range lines {
		for _, m := range rutPattern.FindAllStringSubmatchIndex(line, -1) {
			end := m[5]
			if end < len(line) && isAlnumByte(line[end]) {
				continue
			}
			shaped++
			rut, ok := NormalizeRUT(line[m[2]:m[3]] + "-" + line[m[4]:m[5]])
			if !ok {
				continue
			}
			found = append(found, RUTCandidate{Value: rut, Line: i, Col: m[2]})
		}
	}
	return found, shaped
}

// hasRUTShape reports whether s contains a RUT-shaped token, valid or not.
func hasRUTShape(s string) bool {
	for _, m := range rutPattern.FindAllStringSubmatchIndex(s, -1) {
		end := m[5]
		if end >= len(s) || !isAlnumByte(s[end]) {
			return true
		}
	}
	return false
}

func isAlnumByte(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
