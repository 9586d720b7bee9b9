// Package protocol defines the websocket payloads exchanged with the chat UI.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vetai-labs/vetai/internal/facts"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserMessage           MessageType = "user_message"
	TypeSetActiveConversation MessageType = "set_active_conversation"
	TypeAssistantTextDelta    MessageType = "assistant_text_delta"
	TypeAssistantTurnEnd      MessageType = "assistant_turn_end"
	TypeMemoryUpdated         MessageType = "memory_updated"
	TypeConversationUpdated   MessageType = "conversation_updated"
	TypeSystemEvent           MessageType = "system_event"
	TypeErrorEvent            MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// UserMessage asks for one send cycle on a conversation.
type UserMessage struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Text           string      `json:"text"`
}

// SetActiveConversation tells the server which conversation the client is
// viewing, so a stale stream can be discarded instead of misfiled.
type SetActiveConversation struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
}

type AssistantTextDelta struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	TurnID         string      `json:"turn_id"`
	TextDelta      string      `json:"text_delta"`
}

type AssistantTurnEnd struct {
	Type           MessageType  `json:"type"`
	ConversationID string       `json:"conversation_id"`
	TurnID         string       `json:"turn_id"`
	Text           string       `json:"text"`
	Chart          *facts.Chart `json:"chart,omitempty"`
	Reason         string       `json:"reason"`
}

// MemoryUpdated announces a merged fact set for one scope
// ("conversation" or "global").
type MemoryUpdated struct {
	Type           MessageType   `json:"type"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Scope          string        `json:"scope"`
	Facts          facts.FactSet `json:"facts"`
}

type ConversationUpdated struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Title          string      `json:"title"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Code           string      `json:"code"`
	Retryable      bool        `json:"retryable"`
	Detail         string      `json:"detail"`
}

// ParseClientMessage decodes and validates an inbound client frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ConversationID == "" || msg.Text == "" {
			return nil, errors.New("invalid user_message")
		}
		return msg, nil
	case TypeSetActiveConversation:
		var msg SetActiveConversation
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ConversationID == "" {
			return nil, errors.New("invalid set_active_conversation")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
