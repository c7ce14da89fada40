package llmclient

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider calls the OpenAI Chat Completions API.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider constructs a provider bound to apiKey.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

func (p *OpenAIProvider) Chat(ctx context.Context, model string, messages []Message, temperature float64) (Response, error) {
	var turns []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case "system":
			turns = append(turns, openai.SystemMessage(m.Content))
		case "assistant":
			turns = append(turns, openai.AssistantMessage(m.Content))
		default:
			turns = append(turns, openai.UserMessage(m.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    turns,
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, nil
	}
	return Response{Content: resp.Choices[0].Message.Content}, nil
}
