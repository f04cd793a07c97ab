// Package ai wraps vision-capable LLM providers used as a last-resort text
// transcriber when OCR cannot read a document. Providers return plain text
// only; field extraction always happens in the extraction engine.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/facturaIA/dte-extraction-service/internal/models"
)

// ErrNoProvider is returned when no vision provider is configured.
var ErrNoProvider = errors.New("no vision provider configured")

// Transcriber reads all visible text of a document image.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, mimeType string) (string, error)
	// SupportsPDF reports whether whole PDF files can be sent as is.
	SupportsPDF() bool
	Name() string
}

const transcribePrompt = `Eres un sistema de OCR para documentos tributarios chilenos (facturas, boletas, notas de credito).
Transcribe TODO el texto visible del documento, linea por linea, en el mismo orden en que aparece.
- Conserva numeros, puntos, guiones y el digito verificador del RUT exactamente como se ven.
- Conserva los montos con su formato original (ej: $ 1.190.000).
- No resumas, no traduzcas, no agregues comentarios ni formato markdown.
- Si una parte es ilegible, omitela.`

// NewTranscriber builds the provider named by cfg.DefaultProvider.
func NewTranscriber(ctx context.Context, cfg models.AIConfig) (Transcriber, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DefaultProvider)) {
	case "":
		return nil, ErrNoProvider
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai: %w: missing api key", ErrNoProvider)
		}
		return NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model), nil
	case "ollama":
		return NewOllamaProvider(cfg.Ollama.BaseURL, cfg.Ollama.Model), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("gemini: %w: missing api key", ErrNoProvider)
		}
		p, err := NewGeminiProvider(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider %q: %w", cfg.DefaultProvider, ErrNoProvider)
	}
}

// cleanTranscript drops markdown fences some models wrap their answer in.
func cleanTranscript(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
