package acquisition

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is the file family an input was resolved to. It is decided once,
// from content first and the file name second.
type Kind int

const (
	KindUnknown Kind = iota
	KindPDF
	KindImage
	KindXML
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindImage:
		return "image"
	case KindXML:
		return "xml"
	case KindText:
		return "text"
	}
	return "unknown"
}

var extensionKinds = map[string]Kind{
	".pdf":  KindPDF,
	".xml":  KindXML,
	".txt":  KindText,
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".tif":  KindImage,
	".tiff": KindImage,
	".gif":  KindImage,
	".bmp":  KindImage,
	".webp": KindImage,
}

// Detect resolves the kind of data. Content sniffing wins; the extension of
// filename is only consulted when the content is not recognized.
func Detect(data []byte, filename string) Kind {
	if len(data) > 0 {
		if k := kindOf(mimetype.Detect(data), data); k != KindUnknown {
			return k
		}
	}
	return extensionKinds[strings.ToLower(filepath.Ext(filename))]
}

// DetectMIME returns the sniffed MIME type of data, without parameters.
func DetectMIME(data []byte) string {
	m := mimetype.Detect(data).String()
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return m
}

func kindOf(m *mimetype.MIME, data []byte) Kind {
	if m.Is("application/pdf") {
		return KindPDF
	}
	for p := m; p != nil; p = p.Parent() {
		if p.Is("text/xml") {
			return KindXML
		}
	}
	if strings.HasPrefix(m.String(), "image/") && !m.Is("image/svg+xml") {
		return KindImage
	}
	if m.Is("text/plain") {
		// DTE files are often saved without the <?xml prolog
		if looksLikeDTE(data) {
			return KindXML
		}
		return KindText
	}
	return KindUnknown
}

func looksLikeDTE(data []byte) bool {
	head := bytes.TrimSpace(data)
	if len(head) > 512 {
		head = head[:512]
	}
	if !bytes.HasPrefix(head, []byte("<")) {
		return false
	}
	for _, tag := range []string{"<DTE", "<EnvioDTE", "<EnvioBOLETA", "<Documento", "<SetDTE"} {
		if bytes.Contains(head, []byte(tag)) {
			return true
		}
	}
	return false
}
