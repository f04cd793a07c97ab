package acquisition

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// dteHeader mirrors the <Encabezado> block of an SII DTE. Tags carry no
// namespace so documents with or without xmlns="http://www.sii.cl/SiiDte"
// decode the same way.
type dteHeader struct {
	IDDoc struct {
		TipoDTE int    `xml:"TipoDTE"`
		Folio   string `xml:"Folio"`
		FchEmis string `xml:"FchEmis"`
	} `xml:"IdDoc"`
	Emisor struct {
		RUTEmisor    string `xml:"RUTEmisor"`
		RznSoc       string `xml:"RznSoc"`
		RznSocEmisor string `xml:"RznSocEmisor"`
		GiroEmis     string `xml:"GiroEmis"`
		GiroEmisor   string `xml:"GiroEmisor"`
	} `xml:"Emisor"`
	Receptor struct {
		RUTRecep    string `xml:"RUTRecep"`
		RznSocRecep string `xml:"RznSocRecep"`
	} `xml:"Receptor"`
	Totales struct {
		MntNeto  string `xml:"MntNeto"`
		MntExe   string `xml:"MntExe"`
		TasaIVA  string `xml:"TasaIVA"`
		IVA      string `xml:"IVA"`
		MntTotal string `xml:"MntTotal"`
	} `xml:"Totales"`
}

// dteHeadings maps TipoDTE codes to the heading printed on the paper form.
var dteHeadings = map[int]string{
	33: "FACTURA ELECTRONICA",
	34: "FACTURA NO AFECTA O EXENTA ELECTRONICA",
	39: "BOLETA ELECTRONICA",
	41: "BOLETA NO AFECTA O EXENTA ELECTRONICA",
	61: "NOTA DE CREDITO ELECTRONICA",
}

var errNoDTEHeader = errors.New("no DTE header found")

// parseDTE decodes the first document header found in data. Envelopes
// (EnvioDTE, EnvioBOLETA) holding several documents yield the first one.
func parseDTE(data []byte) (*dteHeader, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, errNoDTEHeader
		}
		if err != nil {
			return nil, fmt.Errorf("parse dte: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Encabezado" {
			continue
		}
		var h dteHeader
		if err := dec.DecodeElement(&h, &start); err != nil {
			return nil, fmt.Errorf("parse dte header: %w", err)
		}
		return &h, nil
	}
}

// SII files are usually declared ISO-8859-1.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "latin1", "iso8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	case "utf-8", "utf8", "":
		return input, nil
	}
	return nil, fmt.Errorf("unsupported charset %q", label)
}

// renderDTE prints the header as the labeled lines of a printed document,
// so the extraction engine reads markup and paper the same way.
func renderDTE(h *dteHeader) string {
	var lines []string
	add := func(format string, args ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	if name := firstNonEmpty(h.Emisor.RznSoc, h.Emisor.RznSocEmisor); name != "" {
		add("RAZON SOCIAL: %s", name)
	}
	if giro := firstNonEmpty(h.Emisor.GiroEmis, h.Emisor.GiroEmisor); giro != "" {
		add("GIRO: %s", giro)
	}
	if rut := strings.TrimSpace(h.Emisor.RUTEmisor); rut != "" {
		add("R.U.T.: %s", rut)
	}
	if heading, ok := dteHeadings[h.IDDoc.TipoDTE]; ok {
		add("%s", heading)
	} else if h.IDDoc.TipoDTE != 0 {
		add("DOCUMENTO TIPO %d", h.IDDoc.TipoDTE)
	}
	if folio := strings.TrimSpace(h.IDDoc.Folio); folio != "" {
		add("FOLIO N° %s", folio)
	}
	if d := strings.TrimSpace(h.IDDoc.FchEmis); d != "" {
		if t, err := time.Parse("2006-01-02", d); err == nil {
			d = t.Format("02/01/2006")
		}
		add("FECHA EMISION: %s", d)
	}
	if name := strings.TrimSpace(h.Receptor.RznSocRecep); name != "" {
		add("SEÑOR(ES): %s", name)
	}
	if rut := strings.TrimSpace(h.Receptor.RUTRecep); rut != "" {
		add("R.U.T.: %s", rut)
	}

	if v, ok := dteAmount(h.Totales.MntNeto); ok {
		add("MONTO NETO $ %s", v)
	}
	if v, ok := dteAmount(h.Totales.MntExe); ok {
		add("MONTO EXENTO $ %s", v)
	}
	if v, ok := dteAmount(h.Totales.IVA); ok {
		rate := strings.TrimSpace(h.Totales.TasaIVA)
		if rate == "" {
			rate = "19"
		}
		if r, err := decimal.NewFromString(rate); err == nil {
			rate = r.Round(0).String()
		}
		add("IVA %s%% $ %s", rate, v)
	}
	if v, ok := dteAmount(h.Totales.MntTotal); ok {
		add("TOTAL $ %s", v)
	}
	return strings.Join(lines, "\n")
}

// dteAmount formats an amount with Chilean thousands separators. Zero
// amounts are left out of the rendering.
func dteAmount(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return "", false
	}
	n := d.Round(0).IntPart()
	if n == 0 {
		return "", false
	}
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, c := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	return sign + b.String(), true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
