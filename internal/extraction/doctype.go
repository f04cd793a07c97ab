package extraction

import (
	"regexp"
	"strings"
)

type documentTypeRule struct {
	tag      DocumentType
	phrases  []string
	patterns []*regexp.Regexp
}

// documentTypeRules is checked in order; within a rule the most specific
// phrase comes first. Credit notes precede invoices because a credit note
// usually references the invoice it reverses.
var documentTypeRules = compileDocumentTypeRules([]documentTypeRule{
	{tag: NotaCredito, phrases: []string{
		"NOTA DE CREDITO ELECTRONICA",
		"NOTA DE CREDITO",
		"NOTA CREDITO",
	}},
	{tag: FacturaExenta, phrases: []string{
		"FACTURA NO AFECTA O EXENTA ELECTRONICA",
		"FACTURA NO AFECTA O EXENTA",
		"FACTURA ELECTRONICA EXENTA",
		"FACTURA EXENTA ELECTRONICA",
		"FACTURA EXENTA",
		"FACTURA NO AFECTA",
	}},
	{tag: FacturaAfecta, phrases: []string{
		"FACTURA ELECTRONICA",
		"FACTURA AFECTA",
		"FACTURA",
	}},
	{tag: BoletaExenta, phrases: []string{
		"BOLETA NO AFECTA O EXENTA ELECTRONICA",
		"BOLETA NO AFECTA O EXENTA",
		"BOLETA ELECTRONICA EXENTA",
		"BOLETA EXENTA ELECTRONICA",
		"BOLETA EXENTA",
		"BOLETA NO AFECTA",
	}},
	{tag: BoletaAfecta, phrases: []string{
		"BOLETA ELECTRONICA",
		"BOLETA AFECTA",
		"BOLETA",
	}},
})

func compileDocumentTypeRules(rules []documentTypeRule) []documentTypeRule {
	for i := range rules {
		for _, phrase := range rules[i].phrases {
			words := strings.Fields(phrase)
			for j, w := range words {
				words[j] = regexp.QuoteMeta(w)
			}
			expr := `\b` + strings.Join(words, `\s+`) + `\b`
			rules[i].patterns = append(rules[i].patterns, regexp.MustCompile(expr))
		}
	}
	return rules
}

// ClassifyDocument returns the document type for text. Matching is
// case-insensitive and accent-insensitive; no match yields Desconocido.
func ClassifyDocument(text string) DocumentType {
	return classifyFolded(fold(text))
}

func classifyFolded(folded string) DocumentType {
	if strings.TrimSpace(folded) == "" {
		return Desconocido
	}
	for _, rule := range documentTypeRules {
		for _, p := range rule.patterns {
			if p.MatchString(folded) {
				return rule.tag
			}
		}
	}
	return Desconocido
}

// InferFromAmounts upgrades an unclassified document using the amounts
// that were found on it: a stated IVA implies an afecta invoice, an exempt
// amount alone implies an exenta invoice. Known types are returned as is.
func InferFromAmounts(tag DocumentType, amounts RawAmounts) DocumentType {
	if tag != Desconocido {
		return tag
	}
	if amounts.Tax.Valid && amounts.Tax.Decimal.IsPositive() {
		return FacturaAfecta
	}
	if amounts.Exempt.Valid && amounts.Exempt.Decimal.IsPositive() {
		return FacturaExenta
	}
	return Desconocido
}
