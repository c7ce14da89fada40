package llmclient

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropicProvider constructs a provider bound to apiKey, capping
// every completion at maxTokens.
func NewAnthropicProvider(apiKey string, maxTokens int64) *AnthropicProvider {
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		maxTokens: maxTokens,
	}
}

func (p *AnthropicProvider) Chat(ctx context.Context, model string, messages []Message, temperature float64) (Response, error) {
	var system string
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   p.maxTokens,
		Messages:    turns,
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, err
	}

	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return Response{Content: out}, nil
}
