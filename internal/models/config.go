package models

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the service configuration
type Config struct {
	// Server config
	Port      int    `yaml:"port"`
	Host      string `yaml:"host"`
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	// Text acquisition
	OCR OCRConfig `yaml:"ocr"`

	// Vision providers used when recognition yields too little text
	AI AIConfig `yaml:"ai"`

	Extraction ExtractionConfig `yaml:"extraction"`
	Batch      BatchConfig      `yaml:"batch"`
}

// OCRConfig represents OCR-specific configuration
type OCRConfig struct {
	Engine         string `yaml:"engine"`           // "tesseract" or "none"
	Language       string `yaml:"language"`         // tesseract language (default: "spa")
	MinNativeChars int    `yaml:"min_native_chars"` // below this a PDF text layer is considered empty
	MaxImageSide   int    `yaml:"max_image_side"`   // larger images are scaled down before OCR
	TimeoutSeconds int    `yaml:"timeout_seconds"`  // per-document acquisition budget
}

// AIConfig represents AI provider configuration
type AIConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	Gemini GeminiConfig `yaml:"gemini"`
	Ollama OllamaConfig `yaml:"ollama"`

	// Default provider: "openai", "gemini", "ollama" or empty for none
	DefaultProvider string `yaml:"default_provider"`
}

// OpenAIConfig for OpenAI/Azure OpenAI
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"` // For custom endpoints
	Model   string `yaml:"model"`              // Default: "gpt-4o-mini"
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"` // Default: "gemini-1.5-flash"
}

// OllamaConfig for local Ollama (OpenAI-compatible endpoint)
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"` // Default: "http://localhost:11434/v1"
	Model   string `yaml:"model"`    // e.g. "llava"
}

// ExtractionConfig tunes the field extraction engine.
type ExtractionConfig struct {
	IVARate   int   `yaml:"iva_rate"`
	Tolerance int64 `yaml:"tolerance"`
}

// BatchConfig controls bulk reprocessing.
type BatchConfig struct {
	Workers int `yaml:"workers"`
	Limit   int `yaml:"limit"`
}

// LoadConfig reads path, applies environment overrides and fills defaults.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.ApplyEnv(os.Getenv)
	config.ApplyDefaults()
	return &config, nil
}

// ApplyEnv overrides fields with environment variables when present.
func (c *Config) ApplyEnv(getenv func(string) string) {
	setInt := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("PORT", &c.Port)
	setString("HOST", &c.Host)
	setString("LOG_LEVEL", &c.LogLevel)
	if v := getenv("LOG_PRETTY"); v != "" {
		c.LogPretty = v == "true" || v == "1"
	}

	setString("OCR_ENGINE", &c.OCR.Engine)
	setString("OCR_LANGUAGE", &c.OCR.Language)
	setInt("OCR_MIN_NATIVE_CHARS", &c.OCR.MinNativeChars)
	setInt("OCR_TIMEOUT_SECONDS", &c.OCR.TimeoutSeconds)

	setString("OPENAI_API_KEY", &c.AI.OpenAI.APIKey)
	setString("OPENAI_BASE_URL", &c.AI.OpenAI.BaseURL)
	setString("OPENAI_MODEL", &c.AI.OpenAI.Model)
	setString("GEMINI_API_KEY", &c.AI.Gemini.APIKey)
	setString("GEMINI_MODEL", &c.AI.Gemini.Model)
	setString("OLLAMA_BASE_URL", &c.AI.Ollama.BaseURL)
	setString("OLLAMA_MODEL", &c.AI.Ollama.Model)
	setString("VISION_PROVIDER", &c.AI.DefaultProvider)

	setInt("IVA_RATE", &c.Extraction.IVARate)
	setInt("BATCH_WORKERS", &c.Batch.Workers)
}

// ApplyDefaults fills every zero value with its default.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8081
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.OCR.Engine == "" {
		c.OCR.Engine = "tesseract"
	}
	if c.OCR.Language == "" {
		c.OCR.Language = "spa"
	}
	if c.OCR.MinNativeChars <= 0 {
		c.OCR.MinNativeChars = 40
	}
	if c.OCR.MaxImageSide <= 0 {
		c.OCR.MaxImageSide = 2000
	}
	if c.OCR.TimeoutSeconds <= 0 {
		c.OCR.TimeoutSeconds = 60
	}
	if c.AI.OpenAI.Model == "" {
		c.AI.OpenAI.Model = "gpt-4o-mini"
	}
	if c.AI.Gemini.Model == "" {
		c.AI.Gemini.Model = "gemini-1.5-flash"
	}
	if c.AI.Ollama.BaseURL == "" {
		c.AI.Ollama.BaseURL = "http://localhost:11434/v1"
	}
	if c.AI.Ollama.Model == "" {
		c.AI.Ollama.Model = "llava"
	}
	if c.Extraction.IVARate <= 0 || c.Extraction.IVARate >= 100 {
		c.Extraction.IVARate = 19
	}
	if c.Extraction.Tolerance <= 0 {
		c.Extraction.Tolerance = 2
	}
	if c.Batch.Workers <= 0 {
		c.Batch.Workers = 4
	}
	if c.Batch.Limit <= 0 {
		c.Batch.Limit = 100
	}
}
