package extraction

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func foldedLines(text string) []string {
	return foldLines(strings.Split(Normalize(text), "\n"))
}

func assertAmount(t *testing.T, want int64, got decimal.NullDecimal, role string) {
	t.Helper()
	if assert.True(t, got.Valid, "%s not found", role) {
		assert.True(t, decimal.NewFromInt(want).Equal(got.Decimal), "%s: want %d, got %s", role, want, got.Decimal)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"$1.234.567", "1234567", true},
		{"$ 119.000", "119000", true},
		{"-19.000,50", "-19000.5", true},
		{"$-5.000", "-5000", true},
		{"-$ 5.000", "-5000", true},
		{"- 5.000", "5000", true},
		{"2380", "2380", true},
		{"12", "", false},
		{"19%", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseAmount(tt.in)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestExtractAmountsSameLine(t *testing.T) {
	got := extractAmounts(foldedLines("MONTO NETO $ 100.000\nIVA 19% $ 19.000\nTOTAL $ 119.000"))

	assertAmount(t, 100000, got.Net, "net")
	assertAmount(t, 19000, got.Tax, "tax")
	assertAmount(t, 119000, got.Total, "total")
	assert.False(t, got.Exempt.Valid)
	assert.False(t, got.TotalFallback)
	assert.Equal(t, 3, got.Found())
}

func TestExtractAmountsSingleLine(t *testing.T) {
	got := extractAmounts(foldedLines("FACTURA ... NETO $100.000 IVA $19.000 TOTAL $119.000"))

	assertAmount(t, 100000, got.Net, "net")
	assertAmount(t, 19000, got.Tax, "tax")
	assertAmount(t, 119000, got.Total, "total")
}

func TestExtractAmountsValueOnFollowingLines(t *testing.T) {
	text := "Neto\n1.000.000\nI.V.A. 19%\n190.000\nTotal\n1.190.002"
	got := extractAmounts(foldedLines(text))

	assertAmount(t, 1000000, got.Net, "net")
	assertAmount(t, 190000, got.Tax, "tax")
	assertAmount(t, 1190002, got.Total, "total")
}

func TestExtractAmountsExempt(t *testing.T) {
	got := extractAmounts(foldedLines("MONTO EXENTO $ 450.000\nTOTAL $ 450.000"))

	assertAmount(t, 450000, got.Exempt, "exempt")
	assertAmount(t, 450000, got.Total, "total")
	assert.False(t, got.Net.Valid)
}

func TestExtractAmountsSkipsRUTLines(t *testing.T) {
	text := "TOTAL\nRUT 76.333.222-5\n$ 2.380"
	got := extractAmounts(foldedLines(text))

	assertAmount(t, 2380, got.Total, "total")
}

func TestExtractAmountsRUTOnlyVoidsItsSegment(t *testing.T) {
	got := extractAmounts(foldedLines("RUT 76.333.222-5 NETO $100.000 TOTAL $119.000"))
	assertAmount(t, 100000, got.Net, "net")
	assertAmount(t, 119000, got.Total, "total")

	got = extractAmounts(foldedLines("TOTAL RUT 76.333.222-5\n$ 2.380"))
	assertAmount(t, 2380, got.Total, "total")
}

func TestExtractAmountsTotalSelection(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int64
	}{
		{"last labeled line wins", "NETO $100.000\nTOTAL $150.000\nDESCUENTO $31.000\nTOTAL A PAGAR $119.000", 119000},
		{"smaller later total", "TOTAL $ 200.000\nTOTAL PAGO $ 50.000", 50000},
		{"last value in window", "TOTAL $ 100.000 $ 119.000", 119000},
		{"last value on following lines", "TOTAL\n$ 100.000\n$ 119.000", 119000},
		{"subtotal is net", "SUBTOTAL $ 100.000\nTOTAL $ 119.000", 119000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractAmounts(foldedLines(tt.text))
			assertAmount(t, tt.want, got.Total, "total")
			assert.False(t, got.TotalFallback)
		})
	}
}

func TestExtractAmountsIVAIncludedIsNotTax(t *testing.T) {
	tests := []struct {
		text string
		want int64
	}{
		{"TOTAL (IVA INCLUIDO) $11.900", 11900},
		{"MONTO TOTAL IVA INCLUIDO $ 2.380", 2380},
		{"Total (I.V.A. incl.) $ 5.950", 5950},
		{"TOTAL IVA INCLUIDO\n$ 2.380", 2380},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := extractAmounts(foldedLines(tt.text))
			assertAmount(t, tt.want, got.Total, "total")
			assert.False(t, got.Tax.Valid)
			assert.False(t, got.TotalFallback)
		})
	}
}

func TestExtractAmountsDashSeparators(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"em dash", "NETO — 100.000\nIVA — 19.000\nTOTAL — 119.000"},
		{"en dash", "NETO – 100.000\nIVA – 19.000\nTOTAL – 119.000"},
		{"hyphen before dollar", "NETO - $ 100.000\nIVA - $ 19.000\nTOTAL - $ 119.000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractAmounts(foldedLines(tt.text))
			assertAmount(t, 100000, got.Net, "net")
			assertAmount(t, 19000, got.Tax, "tax")
			assertAmount(t, 119000, got.Total, "total")
		})
	}
}

func TestExtractAmountsTotalFallback(t *testing.T) {
	text := "FACTURA\nRUT 76.333.222-5\nCancelado $ 11.900\nCuotas 3"
	got := extractAmounts(foldedLines(text))

	assertAmount(t, 11900, got.Total, "total")
	assert.True(t, got.TotalFallback)
}

func TestExtractAmountsNothing(t *testing.T) {
	got := extractAmounts(foldedLines("documento sin montos"))
	assert.Equal(t, 0, got.Found())
	assert.False(t, got.TotalFallback)
}

func TestDetectIVARate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"IVA 19% $ 19.000", 19},
		{"10% IVA", 10},
		{"I.V.A. (19,0 %)", 19},
		{"IVA 0%", 19},
		{"TOTAL $ 1.000", 19},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, detectIVARate(tt.text, DefaultIVARate))
		})
	}
}
