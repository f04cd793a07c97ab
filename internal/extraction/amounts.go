package extraction

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// Alternatives are tried left to right at each position, so NO AFECTO
	// wins over AFECTO and SUBTOTAL is consumed before TOTAL can match.
	amountLabelPattern = regexp.MustCompile(
		`\b(NO AFECTO|MONTO EXENTO|EXENTO)\b` +
			`|\b(MONTO NETO|NETO|AFECTO|SUB ?-?TOTAL)\b` +
			`|\b(IVA\b|I\.V\.A\.?)` +
			`|\b(MONTO TOTAL|TOTAL A PAGAR|TOTAL PAGO|TOTAL)\b`)

	// "IVA INCLUIDO" qualifies a total; it is not a tax label.
	ivaIncludedPattern = regexp.MustCompile(`\b(?:IVA|I\.V\.A\.?)\s*INCL(?:UIDO|\.)?`)

	// A minus counts only when it touches the $ or the digits; "NETO - 100" is
	// a separator.
	moneyPattern   = regexp.MustCompile(`(-?\$\s?-?|-?)(\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?|\d+(?:,\d{1,2})?)`)
	ivaRatePattern = regexp.MustCompile(`\b(?:IVA|I\.V\.A\.?)[^0-9%\n]{0,20}?(\d{1,2}(?:[.,]\d+)?)\s*%|(\d{1,2}(?:[.,]\d+)?)\s*%\s*(?:DE\s+)?(?:IVA|I\.V\.A)`)
)

const amountLookahead = 3

// RawAmounts holds the four amounts as found in the text, before
// reconciliation. A zero-value field means "not found".
type RawAmounts struct {
	Net    decimal.NullDecimal
	Exempt decimal.NullDecimal
	Tax    decimal.NullDecimal
	Total  decimal.NullDecimal

	// TotalFallback is set when no labeled total existed and the largest
	// currency value in the document was used instead.
	TotalFallback bool
}

// Found counts the amounts that were located in the text.
func (a RawAmounts) Found() int {
	n := 0
	for _, v := range []decimal.NullDecimal{a.Net, a.Exempt, a.Tax, a.Total} {
		if v.Valid {
			n++
		}
	}
	return n
}

type moneyToken struct {
	value decimal.Decimal
	// currency is set when the token carries a $ sign, thousands grouping or
	// a decimal part; bare integers are weaker evidence.
	currency bool
	digits   int
}

// moneyTokens returns the currency-shaped values in s. Dates and
// percentages are skipped, as are bare integers shorter than three digits.
func moneyTokens(s string) []moneyToken {
	s = numericDatePattern.ReplaceAllStringFunc(s, func(m string) string {
		return strings.Repeat(" ", len(m))
	})

	var out []moneyToken
	for _, m := range moneyPattern.FindAllStringSubmatchIndex(s, -1) {
		start, end := m[0], m[1]
		for start < end && s[start] == ' ' {
			start++
		}
		if start > 0 && isAlnumByte(s[start-1]) {
			continue
		}
		if followedByPercent(s, end) {
			continue
		}

		prefix := s[m[2]:m[3]]
		raw := s[m[4]:m[5]]
		hasSign := strings.Contains(prefix, "-")
		hasDollar := strings.Contains(prefix, "$")
		grouped := strings.Contains(raw, ".")
		hasDecimals := strings.Contains(raw, ",")

		digits := 0
		for i := 0; i < len(raw); i++ {
			if raw[i] >= '0' && raw[i] <= '9' {
				digits++
			}
		}
		currency := hasDollar || grouped || hasDecimals
		if !currency && digits < 3 {
			continue
		}

		v, err := parseMoney(raw)
		if err != nil {
			continue
		}
		if hasSign {
			v = v.Neg()
		}
		out = append(out, moneyToken{value: v, currency: currency, digits: digits})
	}
	return out
}

func followedByPercent(s string, end int) bool {
	for i := end; i < len(s); i++ {
		switch s[i] {
		case ' ':
			continue
		case '%':
			return true
		}
		return false
	}
	return false
}

// parseMoney reads a localized amount: "." groups thousands, "," separates
// decimals.
func parseMoney(raw string) (decimal.Decimal, error) {
	clean := strings.ReplaceAll(raw, ".", "")
	clean = strings.Replace(clean, ",", ".", 1)
	return decimal.NewFromString(clean)
}

// ParseAmount parses a single localized amount such as "$1.234.567" or
// "-19.000,50".
func ParseAmount(s string) (decimal.Decimal, bool) {
	toks := moneyTokens(strings.TrimSpace(s))
	if len(toks) != 1 {
		return decimal.Zero, false
	}
	return toks[0].value, true
}

func roleOfLabel(m []int) Role {
	switch {
	case m[2] >= 0:
		return RoleExempt
	case m[4] >= 0:
		return RoleNet
	case m[6] >= 0:
		return RoleTax
	default:
		return RoleTotal
	}
}

// findAmountLabels returns the label matches of line, ignoring "IVA
// INCLUIDO" qualifiers.
func findAmountLabels(line string) [][]int {
	masked := ivaIncludedPattern.ReplaceAllStringFunc(line, func(m string) string {
		return strings.Repeat(" ", len(m))
	})
	return amountLabelPattern.FindAllStringSubmatchIndex(masked, -1)
}

// extractAmounts reads the text segment after each amount label. When the
// label is the last one on its line and nothing follows it, the window
// extends over the next lines until another label, a RUT line skipped, or
// the first line without values once something was collected. A RUT token
// only voids the segment it sits in.
func extractAmounts(folded []string) RawAmounts {
	candidates := map[Role][]decimal.Decimal{}

	for i, line := range folded {
		labels := findAmountLabels(line)
		for k, m := range labels {
			role := roleOfLabel(m)

			segEnd := len(line)
			if k+1 < len(labels) {
				segEnd = labels[k+1][0]
			}
			segment := line[m[1]:segEnd]

			var found []decimal.Decimal
			if !hasRUTShape(segment) {
				for _, t := range moneyTokens(segment) {
					found = append(found, t.value)
				}
			}

			if len(found) == 0 && k == len(labels)-1 {
				found = lookahead(folded, i)
			}
			if len(found) == 0 {
				continue
			}

			if role == RoleTotal {
				candidates[role] = append(candidates[role], found[len(found)-1])
			} else {
				candidates[role] = append(candidates[role], found...)
			}
		}
	}

	var out RawAmounts
	out.Net = largestAbs(candidates[RoleNet])
	out.Exempt = largestAbs(candidates[RoleExempt])
	out.Tax = largestAbs(candidates[RoleTax])
	// last labeled total wins
	if totals := candidates[RoleTotal]; len(totals) > 0 {
		out.Total = decimal.NullDecimal{Decimal: totals[len(totals)-1], Valid: true}
	}

	if !out.Total.Valid {
		if v := largestCurrencyValue(folded); v.Valid {
			out.Total = v
			out.TotalFallback = true
		}
	}
	return out
}

func lookahead(folded []string, from int) []decimal.Decimal {
	var found []decimal.Decimal
	for j := from + 1; j < len(folded) && j <= from+amountLookahead; j++ {
		next := folded[j]
		if len(findAmountLabels(next)) > 0 {
			break
		}
		if hasRUTShape(next) {
			continue
		}
		toks := moneyTokens(next)
		if len(toks) == 0 {
			if len(found) > 0 {
				break
			}
			continue
		}
		for _, t := range toks {
			found = append(found, t.value)
		}
	}
	return found
}

func largestAbs(values []decimal.Decimal) decimal.NullDecimal {
	var best decimal.NullDecimal
	for _, v := range values {
		if !best.Valid || v.Abs().GreaterThan(best.Decimal.Abs()) {
			best = decimal.NullDecimal{Decimal: v, Valid: true}
		}
	}
	return best
}

// largestCurrencyValue scans the whole document for the biggest value that
// looks like money, ignoring RUT lines and bare integers.
func largestCurrencyValue(folded []string) decimal.NullDecimal {
	var values []decimal.Decimal
	for _, line := range folded {
		if hasRUTShape(line) || folioPattern.MatchString(line) {
			continue
		}
		for _, t := range moneyTokens(line) {
			if t.currency {
				values = append(values, t.value)
			}
		}
	}
	return largestAbs(values)
}

// detectIVARate reads a percentage printed next to the tax label, falling
// back to def when none is stated or the value is out of range.
func detectIVARate(folded string, def int) int {
	m := ivaRatePattern.FindStringSubmatch(folded)
	if m == nil {
		return def
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	v, err := decimal.NewFromString(strings.Replace(raw, ",", ".", 1))
	if err != nil || !v.IsPositive() || v.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return def
	}
	return int(v.Round(0).IntPart())
}
