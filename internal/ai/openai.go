package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider transcribes images with a chat-completions vision model.
// Any OpenAI-compatible endpoint (Azure, Ollama) works through baseURL.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	name   string
}

// NewOpenAIProvider creates a provider for the OpenAI API or a compatible
// endpoint when baseURL is set.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		model:  model,
		name:   "openai",
	}
}

// NewOllamaProvider talks to a local Ollama server through its
// OpenAI-compatible /v1 endpoint.
func NewOllamaProvider(baseURL, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	if model == "" {
		model = "llava"
	}
	p := NewOpenAIProvider("ollama", baseURL, model)
	p.name = "ollama"
	return p
}

func (p *OpenAIProvider) Name() string { return p.name }

// SupportsPDF is false: chat completions only accept images.
func (p *OpenAIProvider) SupportsPDF() bool { return false }

// Transcribe sends the image as a base64 data URI.
func (p *OpenAIProvider) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	if mimeType == "application/pdf" {
		return "", fmt.Errorf("%s: pdf input not supported", p.name)
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0,
		MaxTokens:   4096,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: transcribePrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURI,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(p.name + ": empty response")
	}
	return cleanTranscript(resp.Choices[0].Message.Content), nil
}
