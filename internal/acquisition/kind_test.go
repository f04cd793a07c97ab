package acquisition

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(40, 20, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(40, 20, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		filename string
		want     Kind
	}{
		{"pdf", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n"), "scan.bin", KindPDF},
		{"png", pngBytes(t), "", KindImage},
		{"jpeg with wrong extension", jpegBytes(t), "factura.pdf", KindImage},
		{"xml with prolog", []byte(facturaDTE), "", KindXML},
		{"latin-1 envelope", []byte(notaCreditoEnvio), "", KindXML},
		{"dte without prolog", []byte(exentaDTE), "", KindXML},
		{"plain text", []byte("FACTURA ELECTRONICA\nTOTAL $ 1.000"), "", KindText},
		{"zip", []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00"), "docs.zip", KindUnknown},
		{"empty falls back to extension", nil, "boleta.PDF", KindPDF},
		{"binary falls back to extension", []byte{0x00, 0x01, 0x02, 0x03}, "dte.xml", KindXML},
		{"binary without extension", []byte{0x00, 0x01, 0x02, 0x03}, "", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.data, tt.filename))
		})
	}
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "image/png", DetectMIME(pngBytes(t)))
	assert.Equal(t, "text/xml", DetectMIME([]byte(facturaDTE)))
	assert.Equal(t, "text/plain", DetectMIME([]byte("hola")))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "pdf", KindPDF.String())
	assert.Equal(t, "image", KindImage.String())
	assert.Equal(t, "xml", KindXML.String())
	assert.Equal(t, "text", KindText.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
