package repositories

import (
	"context"
	"iter"
)

// CompletionStreamer abstracts any streaming chat/LLM provider
type CompletionStreamer interface {
	// StreamCompletion issues one request and yields text fragments in
	// arrival order. The sequence ends after the first error.
	StreamCompletion(ctx context.Context, req CompletionRequest) iter.Seq2[string, error]
}

// CompletionRequest is the provider-neutral shape of one model call
type CompletionRequest struct {
	// Preamble is sent before the history on every call
	Preamble []ChatMessage
	// History holds prior turns in chronological order
	History []ChatMessage
	// Prompt is the new user text
	Prompt string
	Params GenerationParams
}

// Messages returns preamble, history and prompt as one ordered list
func (r CompletionRequest) Messages() []ChatMessage {
	messages := make([]ChatMessage, 0, len(r.Preamble)+len(r.History)+1)
	messages = append(messages, r.Preamble...)
	messages = append(messages, r.History...)
	messages = append(messages, ChatMessage{Role: UserRole, Content: r.Prompt})
	return messages
}

// GenerationParams holds sampling parameters for a model call
type GenerationParams struct {
	Temperature     float32 `json:"temperature"`
	TopK            float32 `json:"topK"`
	TopP            float32 `json:"topP"`
	MaxOutputTokens int32   `json:"maxOutputTokens"`
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role defines the type of message sender
type Role string

const (
	UserRole  Role = "user"
	ModelRole Role = "model"
)
