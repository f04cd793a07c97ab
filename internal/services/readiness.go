package services

import "github.com/facturaIA/dte-extraction-service/internal/extraction"

// Readiness tells whether a result carries every field needed to declare the
// document to the SII.
type Readiness struct {
	ReadyForSII   bool     `json:"ready_for_sii"`
	MissingFields []string `json:"missing_fields"`
}

// requiredFieldCount is the number of fields MissingRequiredFields checks.
const requiredFieldCount = 5

// MissingRequiredFields lists the required fields res lacks, in a fixed order.
func MissingRequiredFields(res extraction.Result) []string {
	missing := []string{}
	if res.RUTProveedor == "" {
		missing = append(missing, "rut_proveedor")
	}
	if res.Folio == "" {
		missing = append(missing, "folio")
	}
	if res.Total == nil {
		missing = append(missing, "total")
	}
	if res.FechaEmision == "" {
		missing = append(missing, "fecha_emision")
	}
	if res.TipoDocumento == "" || res.TipoDocumento == extraction.Desconocido {
		missing = append(missing, "tipo_documento")
	}
	return missing
}

// CheckReadiness wraps MissingRequiredFields.
func CheckReadiness(res extraction.Result) Readiness {
	missing := MissingRequiredFields(res)
	return Readiness{ReadyForSII: len(missing) == 0, MissingFields: missing}
}

// ReadyForSII reports whether no required field is missing.
func ReadyForSII(res extraction.Result) bool {
	return len(MissingRequiredFields(res)) == 0
}

// allRequiredMissing is the processor's failure condition.
func allRequiredMissing(res extraction.Result) bool {
	return len(MissingRequiredFields(res)) == requiredFieldCount
}
