package extraction

import "strings"

// DocumentType is the fiscal document class assigned by the classifier.
type DocumentType string

const (
	FacturaAfecta DocumentType = "factura_afecta"
	FacturaExenta DocumentType = "factura_exenta"
	BoletaAfecta  DocumentType = "boleta_afecta"
	BoletaExenta  DocumentType = "boleta_exenta"
	NotaCredito   DocumentType = "nota_credito"
	Desconocido   DocumentType = "desconocido"
)

// Valid reports whether t is one of the known document types.
func (t DocumentType) Valid() bool {
	switch t {
	case FacturaAfecta, FacturaExenta, BoletaAfecta, BoletaExenta, NotaCredito, Desconocido:
		return true
	}
	return false
}

// Source tags where the text handed to the engine came from.
type Source string

const (
	SourceNativeText  Source = "native-text"
	SourceRecognition Source = "rasterized-recognition"
	SourceMarkup      Source = "structured-markup"
)

// ParseSource maps a provenance name to a Source. Legacy names used by
// older document records (pdf_text, pdf_ocr, image_ocr, xml) are accepted.
func ParseSource(s string) (Source, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "native-text", "native", "pdf_text", "text":
		return SourceNativeText, true
	case "rasterized-recognition", "ocr", "pdf_ocr", "image_ocr":
		return SourceRecognition, true
	case "structured-markup", "markup", "xml":
		return SourceMarkup, true
	}
	return "", false
}

// Role is the semantic role of a monetary amount.
type Role int

const (
	RoleNet Role = iota
	RoleExempt
	RoleTax
	RoleTotal
)

func (r Role) String() string {
	switch r {
	case RoleNet:
		return "monto_neto"
	case RoleExempt:
		return "monto_exento"
	case RoleTax:
		return "iva"
	case RoleTotal:
		return "total"
	}
	return "unknown"
}
