// Package llm turns clause text into a ParsedResult through a chat-completion
// model, recovering what it can from imperfect model output.
package llm

import (
	"context"
	"fmt"

	"github.com/insurelab/coverage-parser/internal/domain"
)

// Role is a chat message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Usage is token accounting for one call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is a provider-neutral completion.
// Reasoning holds the model's scratch-pad text when the provider returns one.
type Response struct {
	Content   string
	Reasoning string
	Usage     Usage
}

// Completer sends one completion request. Implementations return
// *domain.StatusError for non-success HTTP statuses.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// NewCompleter builds the completer named by cfg.Provider.
func NewCompleter(cfg domain.ModelConfig) (Completer, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAICompleter(cfg.BaseURL, cfg.APIKey, cfg.Model, nil), nil
	case "anthropic":
		return NewAnthropicCompleter(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown model provider: %s", cfg.Provider)
	}
}
