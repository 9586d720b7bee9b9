package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no completion
// endpoint is configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamCompletion(ctx context.Context, messages []Message, onDelta DeltaHandler) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	text := buildMockReply(messages)
	if onDelta != nil && text != "" {
		// Stream word by word so the typing path gets exercised locally.
		words := strings.SplitAfter(text, " ")
		for _, w := range words {
			if err := onDelta(w); err != nil {
				return "", err
			}
		}
	}
	return text, nil
}

func (a *MockAdapter) Complete(ctx context.Context, messages []Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	// One-shot calls (titles, extraction passes) get a bare reply with no
	// trailing block.
	return "Mock Conversation", nil
}

func buildMockReply(messages []Message) string {
	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			last = strings.TrimSpace(messages[i].Content)
			break
		}
	}
	if last == "" {
		return "I am listening."
	}
	return fmt.Sprintf("I heard you: %s\n{}", last)
}
