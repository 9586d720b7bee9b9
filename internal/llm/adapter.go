// Package llm bridges the chat relay to an OpenAI-compatible completion
// endpoint, streaming or not.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the outbound prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DeltaHandler receives streaming text fragments in arrival order.
type DeltaHandler func(delta string) error

// Adapter is the completion gateway contract. StreamCompletion returns the
// full assembled text once the fragment sequence is exhausted; Complete is
// the non-streaming path used for title generation and fact extraction.
type Adapter interface {
	StreamCompletion(ctx context.Context, messages []Message, onDelta DeltaHandler) (string, error)
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Config controls adapter construction.
type Config struct {
	Mode       string
	APIURL     string
	APIKey     string
	ChatModel  string
	TitleModel string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewOpenAIAdapter(cfg), nil
		}
		return NewMockAdapter(), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for openai mode")
		}
		return NewOpenAIAdapter(cfg), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported llm adapter mode %q", cfg.Mode)
	}
}

// StatusError reports a non-success upstream HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion endpoint status %d: %s", e.StatusCode, e.Body)
}

// Retryable classifies whether an upstream failure is worth a manual resend
// soon, surfaced to clients on error events. Transient statuses only; the
// relay itself never retries.
func Retryable(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		// Network-level failures are treated as transient.
		return true
	}
	switch se.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
