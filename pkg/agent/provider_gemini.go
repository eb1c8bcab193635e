package agent

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/harun/phonepilot/pkg/session"
)

// GeminiProvider implements LLMProvider for Google Gemini
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(apiKey, baseURL string) (*GeminiProvider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return "gemini"
}

func geminiContents(msgs []session.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		role := genai.Role(genai.RoleUser)
		if msg.Role == session.RoleAssistant {
			role = genai.RoleModel
		}

		parts := []*genai.Part{}
		for _, ref := range msg.Images {
			img, ok := parseDataURL(ref)
			if !ok {
				continue
			}
			data, err := img.Bytes()
			if err != nil {
				return nil, fmt.Errorf("decode image: %w", err)
			}
			parts = append(parts, genai.NewPartFromBytes(data, img.MediaType))
		}
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, nil
}

// Stream makes a streaming call to Google Gemini
func (p *GeminiProvider) Stream(ctx context.Context, request LLMRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		system, msgs := splitSystem(request)
		contents, err := geminiContents(msgs)
		if err != nil {
			yield("", err)
			return
		}

		config := &genai.GenerateContentConfig{}
		if system != "" {
			config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if request.Temperature > 0 {
			config.Temperature = genai.Ptr(float32(request.Temperature))
		}
		if request.MaxTokens > 0 {
			config.MaxOutputTokens = int32(request.MaxTokens)
		}

		for resp, err := range p.client.Models.GenerateContentStream(ctx, request.Model, contents, config) {
			if err != nil {
				yield("", err)
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}
