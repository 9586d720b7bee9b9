// Package store is the persistence gateway: a document-style record store
// keyed by (userID, conversationID) for conversations and by userID for the
// per-user global memory. Writes are merge-writes — unspecified fields are
// preserved — and concurrent writers resolve last-write-wins at the store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/vetai-labs/vetai/internal/facts"
)

var ErrNotFound = errors.New("record not found")

// DefaultTitle is the sentinel title of a freshly created conversation;
// the session controller replaces it after the first exchange.
const DefaultTitle = "New Conversation"

// Role values for persisted messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one persisted conversation turn. Immutable once appended;
// corrections become new messages.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is the per-conversation document.
type Conversation struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Messages    []Message     `json:"messages"`
	Memory      facts.FactSet `json:"memory"`
	LastMessage string        `json:"last_message"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ConversationPatch is a merge-write: nil fields leave the stored value
// untouched, Memory is shallow-merged into the stored memory, and a patch
// against a missing document creates it.
type ConversationPatch struct {
	Title       *string
	Messages    []Message
	Memory      facts.FactSet
	LastMessage *string
	UpdatedAt   time.Time
}

// Store persists conversations and global memory.
type Store interface {
	CreateConversation(ctx context.Context, userID string, conv Conversation) error
	Conversation(ctx context.Context, userID, convID string) (Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	PatchConversation(ctx context.Context, userID, convID string, patch ConversationPatch) error

	GlobalMemory(ctx context.Context, userID string) (facts.FactSet, error)
	MergeGlobalMemory(ctx context.Context, userID string, incoming facts.FactSet) error

	// WatchConversation and WatchGlobalMemory push a fresh snapshot after
	// each remote mutation until ctx is done. Deliveries may coalesce; the
	// latest snapshot always arrives.
	WatchConversation(ctx context.Context, userID, convID string) (<-chan Conversation, error)
	WatchGlobalMemory(ctx context.Context, userID string) (<-chan facts.FactSet, error)

	Close() error
}
