package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vetai-labs/vetai/internal/chat"
	"github.com/vetai-labs/vetai/internal/llm"
	"github.com/vetai-labs/vetai/internal/protocol"
)

const outboundQueueSize = 64

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctrl := chat.NewController(userID, s.store, s.brain, s.metrics)
	sess := s.sessions.Create(userID, ctrl)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	defer func() {
		if _, err := s.sessions.End(sess.ID); err == nil {
			s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		}
		// Best-effort flush of anything a half-finished cycle left behind.
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ctrl.Flush(flushCtx); err != nil {
			log.Printf("httpapi: session flush: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, outboundQueueSize)
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, open := <-outbound:
				if !open {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("httpapi: websocket write: %v", err)
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("httpapi: websocket read: %v", err)
			}
			cancel()
			<-writeDone
			return
		}
		_ = s.sessions.Touch(sess.ID)

		msg, err := protocol.ParseClientMessage(raw)
		if err != nil {
			s.send(ctx, outbound, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_message",
				Detail: err.Error(),
			})
			continue
		}

		switch m := msg.(type) {
		case protocol.SetActiveConversation:
			ctrl.SetActiveConversation(m.ConversationID)
			s.send(ctx, outbound, protocol.SystemEvent{
				Type: protocol.TypeSystemEvent,
				Code: "active_conversation_set",
			})
		case protocol.UserMessage:
			// Run the cycle off the read loop so a second user_message
			// arriving mid-stream hits the controller's re-entrancy
			// guard instead of queueing behind the read.
			go s.runSendCycle(ctx, ctrl, m, outbound)
		}
	}
}

func (s *Server) runSendCycle(ctx context.Context, ctrl *chat.Controller, msg protocol.UserMessage, outbound chan<- any) {
	result, err := ctrl.Send(ctx, msg.ConversationID, msg.Text, func(delta, _ string) {
		s.send(ctx, outbound, protocol.AssistantTextDelta{
			Type:           protocol.TypeAssistantTextDelta,
			ConversationID: msg.ConversationID,
			TextDelta:      delta,
		})
	})

	switch {
	case errors.Is(err, chat.ErrSendInFlight):
		s.send(ctx, outbound, protocol.ErrorEvent{
			Type:           protocol.TypeErrorEvent,
			ConversationID: msg.ConversationID,
			Code:           "send_in_flight",
			Detail:         "a previous message is still being answered",
		})
		return
	case errors.Is(err, chat.ErrEmptyMessage):
		return
	case err != nil:
		s.send(ctx, outbound, protocol.ErrorEvent{
			Type:           protocol.TypeErrorEvent,
			ConversationID: msg.ConversationID,
			Code:           "completion_failed",
			Retryable:      llm.Retryable(err),
			Detail:         "the assistant could not answer",
		})
		s.send(ctx, outbound, protocol.AssistantTurnEnd{
			Type:           protocol.TypeAssistantTurnEnd,
			ConversationID: msg.ConversationID,
			TurnID:         result.TurnID,
			Text:           chat.FallbackAssistantMessage,
			Reason:         "error",
		})
		return
	}

	if result.Discarded {
		s.send(ctx, outbound, protocol.SystemEvent{
			Type:   protocol.TypeSystemEvent,
			Code:   "stale_stream_discarded",
			Detail: msg.ConversationID,
		})
		return
	}

	s.send(ctx, outbound, protocol.AssistantTurnEnd{
		Type:           protocol.TypeAssistantTurnEnd,
		ConversationID: msg.ConversationID,
		TurnID:         result.TurnID,
		Text:           result.AssistantText,
		Chart:          result.Chart,
		Reason:         "completed",
	})
	s.send(ctx, outbound, protocol.MemoryUpdated{
		Type:           protocol.TypeMemoryUpdated,
		ConversationID: msg.ConversationID,
		Scope:          "conversation",
		Facts:          result.LocalMemory,
	})
	s.send(ctx, outbound, protocol.MemoryUpdated{
		Type:  protocol.TypeMemoryUpdated,
		Scope: "global",
		Facts: result.GlobalMemory,
	})
	if result.TitleChanged {
		s.send(ctx, outbound, protocol.ConversationUpdated{
			Type:           protocol.TypeConversationUpdated,
			ConversationID: msg.ConversationID,
			Title:          result.Title,
		})
	}
}

func (s *Server) send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	case <-ctx.Done():
	}
}
