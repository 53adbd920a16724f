// Package gemini adapts Google's Gemini API to llm.Client.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
)

// Config holds Gemini provider configuration
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
	// System becomes the model's system instruction.
	System string
	// Endpoint overrides the API endpoint.
	Endpoint string
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "gemini-1.5-flash",
		MaxTokens:   2048,
		Temperature: 0.2,
	}
}

// Provider implements llm.Client for Google Gemini.
type Provider struct {
	config *Config
	client *genai.Client
	model  *genai.GenerativeModel
}

// New creates a Gemini provider. The client holds a connection; call Close
// when done.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini api key: %w", errorspkg.ErrInvalidInput)
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}

	opts := []option.ClientOption{option.WithAPIKey(config.APIKey)}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	model := client.GenerativeModel(config.Model)
	if config.Temperature > 0 {
		model.SetTemperature(config.Temperature)
	}
	if config.MaxTokens > 0 {
		model.SetMaxOutputTokens(config.MaxTokens)
	}
	if config.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(config.System)}}
	}

	return &Provider{config: config, client: client, model: model}, nil
}

// Invoke sends the prompt and joins the text parts of the first candidate.
func (p *Provider) Invoke(ctx context.Context, prompt string) (string, error) {
	resp, err := p.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini model %s: %w", p.config.Model, errorspkg.ErrEmptyCompletion)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("gemini model %s: %w", p.config.Model, errorspkg.ErrEmptyCompletion)
	}
	return sb.String(), nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}
