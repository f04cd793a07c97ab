// Package acquisition turns uploaded document bytes into text for the
// extraction engine: native PDF text layers, OCR of images and scanned
// pages, SII DTE XML, and plain text.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"

	"github.com/facturaIA/dte-extraction-service/internal/ai"
	"github.com/facturaIA/dte-extraction-service/internal/extraction"
	"github.com/facturaIA/dte-extraction-service/internal/logger"
	"github.com/facturaIA/dte-extraction-service/internal/ocr"
)

var (
	// ErrUnsupportedKind is returned for inputs that are not PDF, image,
	// XML or text.
	ErrUnsupportedKind = errors.New("unsupported document kind")
	// ErrNoText is returned when every available method produced too little
	// text. The partial text, if any, is still returned.
	ErrNoText = errors.New("no usable text in document")
)

// DefaultMinNativeChars is the amount of text below which a PDF text layer
// is treated as absent.
const DefaultMinNativeChars = 40

// Acquisition methods recorded on Text.
const (
	MethodPlainText = "text"
	MethodMarkup    = "xml"
	MethodPDFText   = "pdf-text"
	MethodPDFOCR    = "pdf-ocr"
	MethodImageOCR  = "image-ocr"
	MethodVision    = "vision"
)

// Text is the acquired content of one document.
type Text struct {
	Content  string
	Source   extraction.Source
	Kind     Kind
	Method   string
	Pages    int
	Duration time.Duration
}

// PageRasterizer renders PDF pages to images.
type PageRasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([][]byte, error)
}

// Config wires the optional stages of the adapter. Nil stages are skipped.
// Leave Rasterizer unset rather than assigning a nil *ocr.Rasterizer.
type Config struct {
	Preprocessor   *ocr.Preprocessor
	Recognizer     ocr.Recognizer
	Rasterizer     PageRasterizer
	Vision         ai.Transcriber
	MinNativeChars int
	Timeout        time.Duration
}

// Adapter acquires text from document bytes.
type Adapter struct {
	cfg Config
	log zerolog.Logger
}

// New creates an adapter.
func New(cfg Config) *Adapter {
	if cfg.Preprocessor == nil {
		cfg.Preprocessor = ocr.NewPreprocessor(0, 0)
	}
	if cfg.MinNativeChars <= 0 {
		cfg.MinNativeChars = DefaultMinNativeChars
	}
	return &Adapter{cfg: cfg, log: logger.WithComponent("acquisition")}
}

// HasRecognizer reports whether OCR is available.
func (a *Adapter) HasRecognizer() bool { return a.cfg.Recognizer != nil }

// Vision returns the configured vision transcriber, or nil.
func (a *Adapter) Vision() ai.Transcriber { return a.cfg.Vision }

// Acquire detects the kind of data and extracts its text. filename is only
// used when the content itself is not recognized.
func (a *Adapter) Acquire(ctx context.Context, data []byte, filename string) (Text, error) {
	start := time.Now()
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	kind := Detect(data, filename)

	var (
		txt Text
		err error
	)
	switch kind {
	case KindText:
		txt = Text{Content: decodeText(data), Source: extraction.SourceNativeText, Method: MethodPlainText, Pages: 1}
	case KindXML:
		txt, err = a.acquireXML(data)
	case KindPDF:
		txt, err = a.acquirePDF(ctx, data)
	case KindImage:
		txt, err = a.acquireImage(ctx, data)
	default:
		return Text{Kind: kind, Duration: time.Since(start)}, fmt.Errorf("%w: %s", ErrUnsupportedKind, DetectMIME(data))
	}

	txt.Kind = kind
	txt.Duration = time.Since(start)

	a.log.Debug().
		Str("filename", filename).
		Str("kind", kind.String()).
		Str("method", txt.Method).
		Int("chars", len(txt.Content)).
		Dur("duration", txt.Duration).
		Err(err).
		Msg("text acquired")
	return txt, err
}

func (a *Adapter) acquireXML(data []byte) (Text, error) {
	header, err := parseDTE(data)
	if errors.Is(err, errNoDTEHeader) {
		// some other XML; let the engine scan it as text
		return Text{Content: decodeText(data), Source: extraction.SourceNativeText, Method: MethodPlainText, Pages: 1}, nil
	}
	if err != nil {
		return Text{}, err
	}
	return Text{Content: renderDTE(header), Source: extraction.SourceMarkup, Method: MethodMarkup, Pages: 1}, nil
}

func (a *Adapter) acquirePDF(ctx context.Context, data []byte) (Text, error) {
	native, pages, err := nativePDFText(data)
	if err != nil {
		a.log.Warn().Err(err).Msg("pdf text layer unreadable")
	}
	if a.enough(native) {
		return Text{Content: native, Source: extraction.SourceNativeText, Method: MethodPDFText, Pages: pages}, nil
	}

	best := Text{Content: native, Source: extraction.SourceNativeText, Method: MethodPDFText, Pages: pages}

	var images [][]byte
	if a.cfg.Rasterizer != nil {
		images, err = a.cfg.Rasterizer.Rasterize(ctx, data)
		if err != nil {
			a.log.Warn().Err(err).Msg("pdf rasterization failed")
		}
		if pages == 0 {
			pages = len(images)
		}
	}

	if len(images) > 0 && a.cfg.Recognizer != nil {
		parts := make([]string, 0, len(images))
		for i, img := range images {
			text, err := a.recognize(ctx, img)
			if err != nil {
				return best, fmt.Errorf("recognize page %d: %w", i+1, err)
			}
			parts = append(parts, text)
		}
		recognized := strings.Join(parts, "\n")
		if a.enough(recognized) {
			return Text{Content: recognized, Source: extraction.SourceRecognition, Method: MethodPDFOCR, Pages: pages}, nil
		}
		if runeLen(recognized) > runeLen(best.Content) {
			best = Text{Content: recognized, Source: extraction.SourceRecognition, Method: MethodPDFOCR, Pages: pages}
		}
	}

	if v := a.cfg.Vision; v != nil {
		var text string
		switch {
		case v.SupportsPDF():
			text, err = v.Transcribe(ctx, data, "application/pdf")
		case len(images) > 0:
			text, err = a.transcribePages(ctx, images)
		default:
			err = errors.New("provider needs rendered pages")
		}
		if err == nil && strings.TrimSpace(text) != "" {
			return Text{Content: text, Source: extraction.SourceRecognition, Method: MethodVision, Pages: pages}, nil
		}
		a.log.Warn().Err(err).Str("provider", v.Name()).Msg("vision transcription failed")
	}

	return best, fmt.Errorf("pdf: %w", ErrNoText)
}

func (a *Adapter) transcribePages(ctx context.Context, images [][]byte) (string, error) {
	parts := make([]string, 0, len(images))
	for _, img := range images {
		text, err := a.cfg.Vision.Transcribe(ctx, img, "image/png")
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n"), nil
}

func (a *Adapter) acquireImage(ctx context.Context, data []byte) (Text, error) {
	var recognized string
	if a.cfg.Recognizer != nil {
		text, err := a.recognize(ctx, data)
		if err != nil {
			a.log.Warn().Err(err).Msg("image recognition failed")
		}
		recognized = text
		if a.enough(recognized) {
			return Text{Content: recognized, Source: extraction.SourceRecognition, Method: MethodImageOCR, Pages: 1}, nil
		}
	}

	if v := a.cfg.Vision; v != nil {
		text, err := v.Transcribe(ctx, data, DetectMIME(data))
		if err == nil && strings.TrimSpace(text) != "" {
			return Text{Content: text, Source: extraction.SourceRecognition, Method: MethodVision, Pages: 1}, nil
		}
		a.log.Warn().Err(err).Str("provider", v.Name()).Msg("vision transcription failed")
	}

	txt := Text{Content: recognized, Source: extraction.SourceRecognition, Method: MethodImageOCR, Pages: 1}
	if strings.TrimSpace(recognized) == "" {
		return txt, fmt.Errorf("image: %w", ErrNoText)
	}
	return txt, nil
}

func (a *Adapter) recognize(ctx context.Context, image []byte) (string, error) {
	if a.cfg.Recognizer == nil {
		return "", nil
	}
	processed, err := a.cfg.Preprocessor.Process(image)
	if err != nil {
		return "", err
	}
	return a.cfg.Recognizer.Recognize(ctx, processed)
}

func (a *Adapter) enough(s string) bool {
	return runeLen(strings.TrimSpace(s)) >= a.cfg.MinNativeChars
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// decodeText returns data as UTF-8, reading it as Windows-1252 when it is
// not valid UTF-8.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "")
	}
	return string(out)
}
