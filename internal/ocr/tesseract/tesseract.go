// Package tesseract implements ocr.Recognizer on top of the tesseract
// C library through gosseract. It needs cgo and the tesseract/leptonica
// shared libraries at build time.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// DefaultLanguage is the traineddata used for Chilean documents.
const DefaultLanguage = "spa"

// Recognizer runs tesseract over preprocessed images. gosseract clients
// are not safe for concurrent use, so each call creates its own.
type Recognizer struct {
	languages []string
}

// New creates a recognizer for the given "+"-separated language list
// (e.g. "spa" or "spa+eng").
func New(language string) *Recognizer {
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}
	return &Recognizer{languages: strings.Split(language, "+")}
}

// Name identifies the engine in logs and health output.
func (r *Recognizer) Name() string { return "tesseract" }

// Recognize extracts the text of an image. Tesseract itself cannot be
// interrupted, so ctx is only checked before starting.
func (r *Recognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(r.languages...); err != nil {
		return "", fmt.Errorf("tesseract language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return "", fmt.Errorf("tesseract page segmentation: %w", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("tesseract image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return text, nil
}

// Version reports the linked tesseract version.
func (r *Recognizer) Version() string {
	return gosseract.Version()
}

// Available reports whether every configured language has traineddata
// installed.
func (r *Recognizer) Available() error {
	langs, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return fmt.Errorf("list tesseract languages: %w", err)
	}
	installed := make(map[string]bool, len(langs))
	for _, l := range langs {
		installed[l] = true
	}
	for _, l := range r.languages {
		if !installed[l] {
			return fmt.Errorf("tesseract language %q not installed", l)
		}
	}
	return nil
}
