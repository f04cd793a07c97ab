package extraction

import "time"

// Issue codes. None of them is fatal; they explain empty or low-confidence
// fields to the caller.
const (
	IssueEmptyText          = "acquisition_empty"
	IssueUnclassified       = "classification_ambiguous"
	IssueTypeInferred       = "type_inferred"
	IssueIdentityNotFound   = "identity_not_found"
	IssueIdentityInvalid    = "identity_invalid"
	IssueFolioNotFound      = "folio_not_found"
	IssueDateNotFound       = "date_not_found"
	IssueTotalFallback      = "total_fallback"
	IssueAmountInconsistent = "amount_inconsistent"
)

// Issue describes a non-fatal extraction problem.
type Issue struct {
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// FieldConfidence holds a 0..1 score per extracted field.
type FieldConfidence struct {
	RUTProveedor    float64 `json:"rut_proveedor"`
	ProveedorNombre float64 `json:"proveedor_nombre"`
	Folio           float64 `json:"folio"`
	FechaEmision    float64 `json:"fecha_emision"`
	TipoDocumento   float64 `json:"tipo_documento"`
	Montos          float64 `json:"montos"`
}

// Result is the outcome of one extraction. It is built once and handed to
// the caller by value.
type Result struct {
	RawText         string          `json:"raw_text"`
	RUTProveedor    string          `json:"rut_proveedor"`
	RUTReceptor     string          `json:"rut_receptor,omitempty"`
	ProveedorNombre string          `json:"proveedor_nombre"`
	Folio           string          `json:"folio"`
	FechaEmision    string          `json:"fecha_emision"`
	TipoDocumento   DocumentType    `json:"tipo_documento"`
	IVATasa         int             `json:"iva_tasa"`
	MontoNeto       *int64          `json:"monto_neto"`
	MontoExento     *int64          `json:"monto_exento"`
	IVA             *int64          `json:"iva"`
	Total           *int64          `json:"total"`
	FuenteTexto     Source          `json:"fuente_texto"`
	Confianza       float64         `json:"confianza"`
	ConfianzaCampos FieldConfidence `json:"confianza_campos"`
	Issues          []Issue         `json:"issues,omitempty"`
}

// IssueDate parses FechaEmision.
func (r Result) IssueDate() (time.Time, bool) {
	if r.FechaEmision == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", r.FechaEmision)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// HasIssue reports whether code was raised.
func (r Result) HasIssue(code string) bool {
	for _, i := range r.Issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

// calculateConfidence scores the result: critical fields weigh 0.15,
// supporting fields 0.05, and two consistency bonuses 0.10 each.
func calculateConfidence(r Result, rec Reconciled, raw RawAmounts) float64 {
	var score float64

	if r.RUTProveedor != "" {
		score += 0.15
	}
	if r.Folio != "" {
		score += 0.15
	}
	if r.Total != nil {
		score += 0.15
	}
	if r.TipoDocumento != Desconocido {
		score += 0.15
	}

	if r.FechaEmision != "" {
		score += 0.05
	}
	if r.ProveedorNombre != "" {
		score += 0.05
	}
	if r.MontoNeto != nil {
		score += 0.05
	}
	if r.IVA != nil {
		score += 0.05
	}

	if r.Total != nil && !rec.Inconsistent && raw.Found() >= 2 {
		score += 0.10
	}
	if raw.Total.Valid && !raw.TotalFallback {
		score += 0.10
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}
