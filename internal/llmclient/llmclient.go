// Package llmclient provides a small provider-agnostic interface over
// chat-style LLM calls, implemented against the Anthropic and OpenAI
// SDKs directly. It replaces a callback into an unavailable in-house
// client package with a real, importable one.
package llmclient

import "context"

// Message is one turn in a chat-style conversation.
type Message struct {
	Role    string
	Content string
}

// Response is a single completion from a provider.
type Response struct {
	Content string
}

// Provider is implemented by each concrete backend (Anthropic, OpenAI).
// Temperature is exposed explicitly because the mediation layer's
// LLM-backed backend must run with temperature > 0 while still
// producing a normalized, validated structure.
type Provider interface {
	Chat(ctx context.Context, model string, messages []Message, temperature float64) (Response, error)
}
