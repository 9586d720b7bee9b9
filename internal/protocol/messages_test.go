package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageUserMessage(t *testing.T) {
	raw := []byte(`{"type":"user_message","conversation_id":"c1","text":"hello"}`)
	got, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg, ok := got.(UserMessage)
	if !ok {
		t.Fatalf("type = %T, want UserMessage", got)
	}
	if msg.ConversationID != "c1" || msg.Text != "hello" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestParseClientMessageSetActive(t *testing.T) {
	raw := []byte(`{"type":"set_active_conversation","conversation_id":"c2"}`)
	got, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if msg := got.(SetActiveConversation); msg.ConversationID != "c2" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestParseClientMessageRejectsInvalid(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"user_message","conversation_id":"","text":"x"}`,
		`{"type":"user_message","conversation_id":"c1","text":""}`,
		`{"type":"set_active_conversation"}`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) accepted invalid input", raw)
		}
	}
}

func TestParseClientMessageUnsupportedType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"assistant_text_delta"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}
