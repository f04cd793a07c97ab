// Package extraction turns the text of a Chilean tax document into a
// structured, confidence-annotated result: document type, issuer RUT and
// name, folio, issue date and the reconciled net/exempt/IVA/total amounts.
//
// The package is pure. Pattern tables are compiled once at init and never
// modified, so an Engine may be shared by any number of goroutines.
package extraction

import (
	"strings"
)

// Options tunes the engine. Zero values select the defaults.
type Options struct {
	DefaultIVARate int
	Tolerance      int64
}

// Engine runs the extraction pipeline.
type Engine struct {
	opts Options
}

// New creates an engine with opts.
func New(opts Options) *Engine {
	if opts.DefaultIVARate <= 0 || opts.DefaultIVARate >= 100 {
		opts.DefaultIVARate = DefaultIVARate
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	return &Engine{opts: opts}
}

var defaultEngine = New(Options{})

// Extract runs the default engine.
func Extract(text string, source Source) Result {
	return defaultEngine.Extract(text, source)
}

// Extract never fails: missing or unreadable fields come back empty with
// lowered confidence and an Issue explaining why.
func (e *Engine) Extract(text string, source Source) Result {
	res := Result{
		RawText:       text,
		TipoDocumento: Desconocido,
		IVATasa:       e.opts.DefaultIVARate,
		FuenteTexto:   source,
	}

	normalized := Normalize(text)
	if strings.TrimSpace(normalized) == "" {
		res.Issues = []Issue{{Code: IssueEmptyText}}
		return res
	}

	lines := strings.Split(normalized, "\n")
	folded := foldLines(lines)
	joined := strings.Join(folded, "\n")

	var issues []Issue

	// the four extractors only read the normalized text
	docType := classifyFolded(joined)
	id := extractIdentity(lines, folded)
	folio, folioConf := extractFolio(folded)
	issued, dateConf := extractIssueDate(folded)
	raw := extractAmounts(folded)
	rate := detectIVARate(joined, e.opts.DefaultIVARate)

	typeConf := 0.9
	if docType == Desconocido {
		if inferred := InferFromAmounts(docType, raw); inferred != Desconocido {
			docType = inferred
			typeConf = 0.4
			issues = append(issues, Issue{Code: IssueTypeInferred, Field: "tipo_documento"})
		} else {
			typeConf = 0
			issues = append(issues, Issue{Code: IssueUnclassified, Field: "tipo_documento"})
		}
	}

	rec := Reconcile(ReconcileInput{
		Amounts:   raw,
		DocType:   docType,
		Rate:      rate,
		Tolerance: e.opts.Tolerance,
	})

	res.TipoDocumento = docType
	res.RUTProveedor = id.issuer
	res.RUTReceptor = id.counterparty
	res.ProveedorNombre = id.name
	res.Folio = folio
	if !issued.IsZero() {
		res.FechaEmision = issued.Format("2006-01-02")
	}
	res.IVATasa = rate
	res.MontoNeto = int64Ptr(rec.Net)
	res.MontoExento = int64Ptr(rec.Exempt)
	res.IVA = int64Ptr(rec.Tax)
	res.Total = int64Ptr(rec.Total)

	switch {
	case id.issuer == "" && id.shapedButNoneOK:
		issues = append(issues, Issue{Code: IssueIdentityInvalid, Field: "rut_proveedor"})
	case id.issuer == "":
		issues = append(issues, Issue{Code: IssueIdentityNotFound, Field: "rut_proveedor"})
	}
	if folio == "" {
		issues = append(issues, Issue{Code: IssueFolioNotFound, Field: "folio"})
	}
	if res.FechaEmision == "" {
		issues = append(issues, Issue{Code: IssueDateNotFound, Field: "fecha_emision"})
	}
	if raw.TotalFallback {
		issues = append(issues, Issue{Code: IssueTotalFallback, Field: "total"})
	}
	if rec.Inconsistent {
		issues = append(issues, Issue{Code: IssueAmountInconsistent, Field: "total"})
	}

	res.ConfianzaCampos = FieldConfidence{
		RUTProveedor:    id.issuerConf,
		ProveedorNombre: id.nameConf,
		Folio:           folioConf,
		FechaEmision:    dateConf,
		TipoDocumento:   typeConf,
		Montos:          amountConfidence(raw, rec),
	}
	res.Confianza = calculateConfidence(res, rec, raw)
	res.Issues = issues
	return res
}

func amountConfidence(raw RawAmounts, rec Reconciled) float64 {
	switch {
	case !rec.Total.Valid:
		return 0
	case rec.Inconsistent:
		return 0.3
	case raw.TotalFallback:
		return 0.5
	case len(rec.Derived) > 0:
		return 0.7
	default:
		return 0.9
	}
}
