package services

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/facturaIA/dte-extraction-service/internal/extraction"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field    string `json:"field"`
	Code     string `json:"code"`
	Expected int64  `json:"expected,omitempty"`
	Actual   int64  `json:"actual,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ValidationWarning represents a non-critical issue
type ValidationWarning struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ComputedValues holds calculated/expected values
type ComputedValues struct {
	IVAEsperado   int64 `json:"iva_esperado"`
	TotalEsperado int64 `json:"total_esperado"`
}

// ValidationResult is the response from validation
type ValidationResult struct {
	Valid       bool                `json:"valid"`
	NeedsReview bool                `json:"needs_review"`
	Errors      []ValidationError   `json:"errors"`
	Warnings    []ValidationWarning `json:"warnings"`
	Computed    ComputedValues      `json:"computed"`
}

// HasError reports whether code was raised as an error.
func (r *ValidationResult) HasError(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// HasWarning reports whether code was raised as a warning.
func (r *ValidationResult) HasWarning(code string) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// firstDTEYear is when the SII started accepting electronic documents.
const firstDTEYear = 2003

// lowConfidence is the score below which a result is sent to review.
const lowConfidence = 0.5

// TaxValidator validates Chilean DTE amounts and identifiers
type TaxValidator struct {
	rate      int
	tolerance int64
	now       func() time.Time
}

// NewTaxValidator creates a validator for the given default IVA rate and
// absolute tolerance in pesos. Zero values use the extraction defaults.
func NewTaxValidator(rate int, tolerance int64) *TaxValidator {
	if rate <= 0 || rate >= 100 {
		rate = extraction.DefaultIVARate
	}
	if tolerance <= 0 {
		tolerance = extraction.DefaultTolerance
	}
	return &TaxValidator{rate: rate, tolerance: tolerance, now: time.Now}
}

// Validate performs all cross-validations on an extraction result
func (v *TaxValidator) Validate(res extraction.Result) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationWarning{},
	}

	rate := res.IVATasa
	if rate <= 0 || rate >= 100 {
		rate = v.rate
	}

	// 1. IVA vs neto
	v.validateIVA(res, rate, result)

	// 2. Total vs components
	v.validateTotal(res, result)

	// 3. Document type coherence
	v.validateDocumentType(res, result)

	// 4. RUTs
	v.validateRUT(res, result)

	// 5. Folio and date
	v.validateFolio(res, result)
	v.validateDate(res, result)

	if res.Confianza < lowConfidence {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "confianza",
			Code:    "low_confidence",
			Message: fmt.Sprintf("Confianza de extracción baja (%.2f)", res.Confianza),
		})
	}

	result.Valid = len(result.Errors) == 0
	result.NeedsReview = len(result.Warnings) > 0 || !result.Valid
	return result
}

// validateIVA checks IVA matches rate% of the net amount
func (v *TaxValidator) validateIVA(res extraction.Result, rate int, result *ValidationResult) {
	if res.MontoNeto == nil || *res.MontoNeto == 0 {
		return
	}
	expected := ivaFor(*res.MontoNeto, rate)
	result.Computed.IVAEsperado = expected

	if res.IVA == nil {
		return
	}
	if abs(*res.IVA-expected) > v.tolerance {
		result.Errors = append(result.Errors, ValidationError{
			Field:    "iva",
			Code:     "iva_mismatch",
			Expected: expected,
			Actual:   *res.IVA,
			Message:  fmt.Sprintf("IVA no coincide con %d%% del monto neto", rate),
		})
	}
}

// validateTotal checks total matches neto + exento + IVA
func (v *TaxValidator) validateTotal(res extraction.Result, result *ValidationResult) {
	if res.MontoNeto == nil && res.MontoExento == nil && res.IVA == nil {
		if res.Total == nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "total",
				Code:    "no_amounts",
				Message: "No se encontró ningún monto",
			})
		}
		return
	}

	expected := value(res.MontoNeto) + value(res.MontoExento) + value(res.IVA)
	result.Computed.TotalEsperado = expected
	if res.Total == nil {
		return
	}
	if abs(*res.Total-expected) > v.tolerance {
		result.Errors = append(result.Errors, ValidationError{
			Field:    "total",
			Code:     "total_mismatch",
			Expected: expected,
			Actual:   *res.Total,
			Message:  "Total no coincide con neto + exento + IVA",
		})
	}
	if res.MontoExento != nil && abs(*res.MontoExento) > abs(*res.Total) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "monto_exento",
			Code:    "exento_exceeds_total",
			Message: "Monto exento excede el total",
		})
	}
}

// validateDocumentType checks amounts agree with the document class
func (v *TaxValidator) validateDocumentType(res extraction.Result, result *ValidationResult) {
	amounts := []*int64{res.MontoNeto, res.MontoExento, res.IVA, res.Total}

	switch res.TipoDocumento {
	case extraction.NotaCredito:
		for _, a := range amounts {
			if a != nil && *a > 0 {
				result.Errors = append(result.Errors, ValidationError{
					Field:   "total",
					Code:    "credit_note_sign",
					Message: "Los montos de una nota de crédito deben ser negativos",
				})
				return
			}
		}
		return
	case extraction.FacturaExenta, extraction.BoletaExenta:
		if res.IVA != nil && *res.IVA != 0 {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "iva",
				Code:    "iva_on_exempt",
				Message: "Documento exento con IVA distinto de cero",
			})
		}
	case extraction.Desconocido:
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "tipo_documento",
			Code:    "unknown_document_type",
			Message: "Tipo de documento no reconocido",
		})
	}

	for _, a := range amounts {
		if a != nil && *a < 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "total",
				Code:    "negative_amount",
				Message: "Montos negativos solo se permiten en notas de crédito",
			})
			return
		}
	}
}

// validateRUT checks the issuer id checksum and that both parties differ
func (v *TaxValidator) validateRUT(res extraction.Result, result *ValidationResult) {
	if res.RUTProveedor == "" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "rut_proveedor",
			Code:    "rut_missing",
			Message: "RUT del emisor no encontrado",
		})
		return
	}
	issuer, ok := extraction.NormalizeRUT(res.RUTProveedor)
	if !ok {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "rut_proveedor",
			Code:    "rut_invalid",
			Message: "RUT del emisor con dígito verificador inválido: " + res.RUTProveedor,
		})
		return
	}
	if receiver, ok := extraction.NormalizeRUT(res.RUTReceptor); ok && receiver == issuer {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "rut_receptor",
			Code:    "rut_same_party",
			Message: "Emisor y receptor tienen el mismo RUT",
		})
	}
}

func (v *TaxValidator) validateFolio(res extraction.Result, result *ValidationResult) {
	if res.Folio == "" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "folio",
			Code:    "folio_missing",
			Message: "Folio no encontrado",
		})
	}
}

// validateDate flags missing, future-dated and pre-DTE issue dates
func (v *TaxValidator) validateDate(res extraction.Result, result *ValidationResult) {
	issued, ok := res.IssueDate()
	if !ok {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "fecha_emision",
			Code:    "date_missing",
			Message: "Fecha de emisión no encontrada",
		})
		return
	}
	now := v.now()
	if issued.After(now.AddDate(0, 0, 1)) {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "fecha_emision",
			Code:    "future_date",
			Message: "Fecha de emisión posterior a hoy",
		})
	}
	if issued.Year() < firstDTEYear {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "fecha_emision",
			Code:    "date_before_dte",
			Message: "Fecha de emisión anterior a la factura electrónica",
		})
	}
}

// ivaFor rounds net × rate / 100 half away from zero, keeping the sign of net.
func ivaFor(net int64, rate int) int64 {
	return decimal.NewFromInt(net).
		Mul(decimal.NewFromInt(int64(rate))).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

func value(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
