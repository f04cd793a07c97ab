// Package ocr prepares document images for text recognition.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/facturaIA/dte-extraction-service/internal/logger"
)

const (
	// DefaultMaxSide caps the longest edge handed to the recognizer.
	DefaultMaxSide = 2000
	// DefaultMinWidth is the width small photos are upscaled to.
	DefaultMinWidth = 1200
)

// Preprocessor handles image preprocessing for optimal OCR results
type Preprocessor struct {
	maxSide  int
	minWidth int
	log      zerolog.Logger
}

// NewPreprocessor creates a new image preprocessor. Non-positive sizes
// select the defaults.
func NewPreprocessor(maxSide, minWidth int) *Preprocessor {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	if minWidth <= 0 {
		minWidth = DefaultMinWidth
	}
	if minWidth > maxSide {
		minWidth = maxSide
	}
	return &Preprocessor{
		maxSide:  maxSide,
		minWidth: minWidth,
		log:      logger.WithComponent("preprocessor"),
	}
}

// Process decodes imageData, enhances it and returns it encoded as PNG.
// Pipeline: orient -> resize -> grayscale -> contrast -> sharpen.
func (p *Preprocessor) Process(imageData []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(imageData), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	out := p.Enhance(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	p.log.Debug().
		Int("in_width", img.Bounds().Dx()).
		Int("in_height", img.Bounds().Dy()).
		Int("out_width", out.Bounds().Dx()).
		Int("out_height", out.Bounds().Dy()).
		Int("bytes", buf.Len()).
		Msg("image preprocessed")
	return buf.Bytes(), nil
}

// Enhance applies the filter chain to an already decoded image.
func (p *Preprocessor) Enhance(img image.Image) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch {
	case w > p.maxSide || h > p.maxSide:
		img = imaging.Fit(img, p.maxSide, p.maxSide, imaging.Lanczos)
	case w < p.minWidth && w > 0:
		// receipts photographed from far away come in small
		img = imaging.Resize(img, p.minWidth, 0, imaging.Lanczos)
	}

	gray := imaging.Grayscale(img)
	gray = imaging.AdjustContrast(gray, 25)
	return imaging.Sharpen(gray, 0.8)
}

// Recognizer turns a preprocessed image into text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
	Name() string
}
