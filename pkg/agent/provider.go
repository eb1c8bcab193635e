package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"strings"

	"github.com/harun/phonepilot/pkg/session"
)

// LLMProvider streams model answers.
type LLMProvider interface {
	// Stream returns the answer as a lazy, finite sequence of text chunks.
	// The sequence yields at most one error, after which it stops. It is
	// not restartable.
	Stream(ctx context.Context, request LLMRequest) iter.Seq2[string, error]

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for one model call.
type LLMRequest struct {
	Model        string
	Messages     []session.Message
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// ProviderCreator creates LLM providers from auth profiles.
type ProviderCreator interface {
	NewProvider(profile AuthProfile) (LLMProvider, error)
}

// ProviderFactory creates LLM providers
type ProviderFactory struct{}

// NewProvider creates a new LLM provider based on auth profile
func (f *ProviderFactory) NewProvider(profile AuthProfile) (LLMProvider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey, profile.BaseURL), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey, profile.BaseURL), nil
	case "gemini":
		return NewGeminiProvider(profile.APIKey, profile.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// splitSystem separates the system turn from the conversation. An explicit
// system prompt wins over one found in history.
func splitSystem(req LLMRequest) (string, []session.Message) {
	system := req.SystemPrompt
	msgs := make([]session.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == session.RoleSystem {
			if system == "" {
				system = m.Content
			}
			continue
		}
		msgs = append(msgs, m)
	}
	return system, msgs
}

// imageRef is a decoded data URL.
type imageRef struct {
	MediaType string
	Base64    string
}

func (r imageRef) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.Base64)
}

// parseDataURL splits "data:<type>;base64,<payload>".
func parseDataURL(ref string) (imageRef, bool) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return imageRef{}, false
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return imageRef{}, false
	}
	mediaType, ok := strings.CutSuffix(meta, ";base64")
	if !ok || mediaType == "" {
		return imageRef{}, false
	}
	return imageRef{MediaType: mediaType, Base64: payload}, true
}

// collect drains a stream into one string. It returns the text received so
// far together with the first error.
func collect(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for chunk, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}
