package extraction

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	counterpartyMarker = regexp.MustCompile(`\bSENOR(?:ES)?\b|\bSR(?:ES|A)?\.|\bCLIENTE\b|\bRECEPTOR\b`)
	documentHeading    = regexp.MustCompile(`\b(?:FACTURA|BOLETA|NOTA)\b`)
	legalNameLabel     = regexp.MustCompile(`\b(?:RAZON SOCIAL|EMISOR|PROVEEDOR|VENDEDOR)\b`)
	labelLikeLine      = regexp.MustCompile(`\b(?:FACTURA|BOLETA|NOTA|RUT|FOLIO|SII|ELECTRONICA|FECHA|GIRO|DIRECCION|FONO|TELEFONO|TOTAL|NETO|IVA)\b|R\.U\.T|S\.I\.I`)
	legalSuffix        = regexp.MustCompile(`\b(?:SPA|LTDA|LIMITADA|EIRL|E\.I\.R\.L|S\.A)(?:\.|\b)`)
	rutLabelPattern    = regexp.MustCompile(`(?i)\bR\.?\s?U\.?\s?T\.?(?:\s*N[°º])?\s*:?`)
	nameNoisePattern   = regexp.MustCompile(`[\*#|_]+`)
	prettySuffixes     = regexp.MustCompile(`(?i)\b(?:spa|ltda|eirl|e\.i\.r\.l\.?|s\.a\.?)(?:\s|$)`)
)

const (
	nameBackwardWindow = 3
	headerRegionLines  = 15
)

type identity struct {
	issuer          string
	issuerConf      float64
	counterparty    string
	name            string
	nameConf        float64
	shapedButNoneOK bool
}

type textPos struct{ line, col int }

func (p textPos) before(o textPos) bool {
	return p.line < o.line || (p.line == o.line && p.col < o.col)
}

func firstMatch(folded []string, re *regexp.Regexp) (textPos, bool) {
	for i, line := range folded {
		if loc := re.FindStringIndex(line); loc != nil {
			return textPos{i, loc[0]}, true
		}
	}
	return textPos{}, false
}

// extractIdentity selects the issuer and counterparty RUTs and derives the
// issuer display name. lines and folded must be index-aligned.
func extractIdentity(lines, folded []string) identity {
	var id identity

	candidates, shaped := scanRUTs(folded)
	if len(candidates) == 0 {
		id.shapedButNoneOK = shaped > 0
		id.name, id.nameConf = extractIssuerName(lines, folded, -1)
		return id
	}

	marker, hasMarker := firstMatch(folded, counterpartyMarker)
	heading, hasHeading := firstMatch(folded, documentHeading)

	issuer, conf := selectIssuer(candidates, marker, hasMarker, heading, hasHeading)
	id.issuer = issuer.Value
	id.issuerConf = conf

	if hasMarker {
		for _, c := range candidates {
			if c.Value != issuer.Value && !(textPos{c.Line, c.Col}).before(marker) {
				id.counterparty = c.Value
				break
			}
		}
	}

	id.name, id.nameConf = extractIssuerName(lines, folded, issuer.Line)
	return id
}

// selectIssuer prefers ids above the counterparty block, then ids above the
// document heading, then the topmost one.
func selectIssuer(candidates []RUTCandidate, marker textPos, hasMarker bool, heading textPos, hasHeading bool) (RUTCandidate, float64) {
	pool := candidates
	narrowed := false

	if hasMarker {
		var above []RUTCandidate
		for _, c := range pool {
			if (textPos{c.Line, c.Col}).before(marker) {
				above = append(above, c)
			}
		}
		if len(above) > 0 {
			narrowed = narrowed || len(above) < len(pool)
			pool = above
		}
	}

	if hasHeading {
		var above []RUTCandidate
		for _, c := range pool {
			if c.Line <= heading.line {
				above = append(above, c)
			}
		}
		if len(above) > 0 {
			narrowed = narrowed || len(above) < len(pool)
			pool = above
		}
	}

	distinct := map[string]bool{}
	for _, c := range candidates {
		distinct[c.Value] = true
	}

	// candidates are already in reading order
	switch {
	case len(distinct) == 1:
		return pool[0], 0.95
	case narrowed:
		return pool[0], 0.85
	default:
		return pool[0], 0.7
	}
}

// extractIssuerName tries, in order: an explicit legal-name label, the lines
// just above the issuer RUT, and a company-looking line in the header.
// rutLine is -1 when no issuer RUT was found.
func extractIssuerName(lines, folded []string, rutLine int) (string, float64) {
	limit := len(lines)
	if marker, ok := firstMatch(folded, counterpartyMarker); ok && marker.line > 0 {
		limit = marker.line
	}

	for i := 0; i < limit; i++ {
		loc := legalNameLabel.FindStringIndex(folded[i])
		if loc == nil {
			continue
		}
		after := afterLabel(lines[i], folded[i], loc[1])
		if strings.TrimSpace(after) == "" {
			after = nextNonEmpty(lines, i+1, limit)
		}
		if name := cleanName(after); acceptableName(name) {
			return prettyName(name), 0.9
		}
	}

	if rutLine >= 0 && rutLine < len(lines) {
		if m := rutPattern.FindStringSubmatchIndex(lines[rutLine]); m != nil {
			prefix := rutLabelPattern.ReplaceAllString(lines[rutLine][:m[2]], " ")
			if name := cleanName(prefix); acceptableName(name) && !labelLikeLine.MatchString(fold(name)) && !counterpartyMarker.MatchString(fold(name)) {
				return prettyName(name), 0.75
			}
		}
		var window []int
		for i := rutLine - 1; i >= 0 && i >= rutLine-nameBackwardWindow; i-- {
			if labelLikeLine.MatchString(folded[i]) || counterpartyMarker.MatchString(folded[i]) {
				continue
			}
			window = append(window, i)
		}
		for _, i := range window {
			if name := cleanName(lines[i]); legalSuffix.MatchString(folded[i]) && acceptableName(name) {
				return prettyName(name), 0.8
			}
		}
		// address lines carry street numbers
		for _, i := range window {
			if name := cleanName(lines[i]); acceptableName(name) && !strings.ContainsAny(name, "0123456789") {
				return prettyName(name), 0.7
			}
		}
	}

	header := minInt(headerRegionLines, limit)
	var suffixOnly string
	for i := 0; i < header; i++ {
		if !legalSuffix.MatchString(folded[i]) || labelLikeLine.MatchString(folded[i]) {
			continue
		}
		name := cleanName(lines[i])
		if !acceptableName(name) {
			continue
		}
		if isUpper(name) {
			return prettyName(name), 0.5
		}
		if suffixOnly == "" {
			suffixOnly = name
		}
	}
	if suffixOnly != "" {
		return prettyName(suffixOnly), 0.4
	}
	return "", 0
}

// afterLabel returns the text following a label, skipping the separator.
// Folding only touches letters, so a byte offset in the folded line maps to
// the original line whenever both have the same length; otherwise the
// original line is split at its first colon.
func afterLabel(line, folded string, end int) string {
	if len(line) == len(folded) {
		return strings.TrimLeft(line[end:], " :.-")
	}
	if i := strings.Index(line, ":"); i >= 0 {
		return line[i+1:]
	}
	return ""
}

func nextNonEmpty(lines []string, from, limit int) string {
	for i := from; i < limit && i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

func cleanName(s string) string {
	s = rutPattern.ReplaceAllString(s, " ")
	s = rutLabelPattern.ReplaceAllString(s, " ")
	s = nameNoisePattern.ReplaceAllString(s, " ")
	s = multiSpacePattern.ReplaceAllString(s, " ")
	return strings.Trim(s, " -:|.,;")
}

func acceptableName(s string) bool {
	letters, total := 0, 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 3 && letters*2 >= total
}

func isUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

// prettyName title-cases all-caps names and keeps legal suffixes upper-case.
// Mixed-case names are returned as written.
func prettyName(s string) string {
	if !isUpper(s) {
		return s
	}
	titled := cases.Title(language.Spanish).String(strings.ToLower(s))
	return prettySuffixes.ReplaceAllStringFunc(titled, strings.ToUpper)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
