package agent

import (
	"context"
	"iter"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/harun/phonepilot/pkg/session"
)

// AnthropicProvider implements LLMProvider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
	}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

func anthropicMessages(msgs []session.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		blocks := []anthropic.ContentBlockParamUnion{}
		for _, ref := range msg.Images {
			if img, ok := parseDataURL(ref); ok {
				blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, img.Base64))
			}
		}
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		if len(blocks) == 0 {
			continue
		}

		switch msg.Role {
		case session.RoleUser:
			out = append(out, anthropic.NewUserMessage(blocks...))
		case session.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return out
}

// Stream makes a streaming call to Anthropic Claude
func (p *AnthropicProvider) Stream(ctx context.Context, request LLMRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		system, msgs := splitSystem(request)

		reqParams := anthropic.MessageNewParams{
			Model:     anthropic.Model(request.Model),
			Messages:  anthropicMessages(msgs),
			MaxTokens: int64(request.MaxTokens),
		}
		if system != "" {
			reqParams.System = []anthropic.TextBlockParam{
				{Text: system},
			}
		}
		if request.Temperature > 0 {
			reqParams.Temperature = anthropic.Float(request.Temperature)
		}

		stream := p.client.Messages.NewStreaming(ctx, reqParams)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			if !yield(text.Text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", err)
		}
	}
}
