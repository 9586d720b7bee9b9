// Package chat drives one user's send cycles: prompt assembly, streaming,
// memory reconciliation, and persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vetai-labs/vetai/internal/facts"
	"github.com/vetai-labs/vetai/internal/llm"
	"github.com/vetai-labs/vetai/internal/observability"
	"github.com/vetai-labs/vetai/internal/store"
)

// State is the controller's position in the send cycle.
type State string

const (
	StateIdle        State = "idle"
	StateSending     State = "sending"
	StateStreaming   State = "streaming"
	StateReconciling State = "reconciling"
	StatePersisting  State = "persisting"
	StateError       State = "error"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrSendInFlight = errors.New("a send cycle is already in flight")
)

// FallbackAssistantMessage is the only user-visible failure text. It is
// appended to the returned history on a gateway failure but never persisted.
const FallbackAssistantMessage = "I encountered an error while answering. Please try again."

// DeltaFunc publishes one streamed fragment together with the accumulated
// typing buffer so the transport can render live output either way.
type DeltaFunc func(delta, buffer string)

// Controller orchestrates send cycles for a single user session. The store
// and completion adapter are injected; the controller owns no globals and its
// lifetime is tied to the session that created it.
type Controller struct {
	userID  string
	store   store.Store
	brain   llm.Adapter
	metrics *observability.Metrics

	mu           sync.Mutex
	state        State
	activeConvID string
	typing       string
	pending      *pendingWrite
}

// pendingWrite is the snapshot Flush persists if the process stops before
// the cycle's final write lands.
type pendingWrite struct {
	convID   string
	messages []store.Message
	memory   facts.FactSet
}

// SendResult is the outcome of one completed (or failed) send cycle.
type SendResult struct {
	ConversationID string
	TurnID         string
	Messages       []store.Message
	AssistantText  string
	Chart          *facts.Chart
	LocalMemory    facts.FactSet
	GlobalMemory   facts.FactSet
	Title          string
	TitleChanged   bool
	Discarded      bool
}

func NewController(userID string, st store.Store, brain llm.Adapter, metrics *observability.Metrics) *Controller {
	return &Controller{
		userID:  userID,
		store:   st,
		brain:   brain,
		metrics: metrics,
		state:   StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetActiveConversation records which conversation the user is looking at.
// A stream whose conversation no longer matches at persistence time is
// discarded instead of being written to the wrong conversation.
func (c *Controller) SetActiveConversation(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeConvID = convID
}

func (c *Controller) ActiveConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeConvID
}

// TypingBuffer returns the live accumulating assistant text, empty outside
// the Streaming state.
func (c *Controller) TypingBuffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// NewConversation creates an empty conversation document and makes it active.
func (c *Controller) NewConversation(ctx context.Context) (store.Conversation, error) {
	conv := store.Conversation{
		ID:     uuid.NewString(),
		Title:  store.DefaultTitle,
		Memory: facts.FactSet{},
	}
	if err := c.store.CreateConversation(ctx, c.userID, conv); err != nil {
		return store.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	c.SetActiveConversation(conv.ID)
	return conv, nil
}

// Send runs one complete send cycle. A second call while one is in flight
// returns ErrSendInFlight immediately; nothing is queued.
func (c *Controller) Send(ctx context.Context, convID, text string, onDelta DeltaFunc) (SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SendResult{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		c.metrics.SendCycles.WithLabelValues("rejected").Inc()
		return SendResult{}, ErrSendInFlight
	}
	c.state = StateSending
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state = StateIdle
		c.typing = ""
		c.mu.Unlock()
	}()

	result := SendResult{
		ConversationID: convID,
		TurnID:         uuid.NewString(),
	}
	start := time.Now()

	conv, err := c.loadConversation(ctx, convID)
	if err != nil {
		return c.fail(result, nil, fmt.Errorf("load conversation: %w", err))
	}
	global, err := c.store.GlobalMemory(ctx, c.userID)
	if err != nil {
		return c.fail(result, nil, fmt.Errorf("load global memory: %w", err))
	}

	history := append(append([]store.Message(nil), conv.Messages...), store.Message{
		Role:    store.RoleUser,
		Content: text,
	})
	c.setPending(convID, history, conv.Memory)

	// Durability before waiting on the model: the user message is written
	// as soon as it is appended.
	if err := c.store.PatchConversation(ctx, c.userID, convID, store.ConversationPatch{
		Messages:    history,
		LastMessage: &text,
	}); err != nil {
		return c.fail(result, history, fmt.Errorf("persist user message: %w", err))
	}

	// Independent extraction pass over the user's own words; feeds the
	// global scope only. Failures degrade silently to "no update".
	global = c.extractUserFacts(ctx, text, global)

	c.setState(StateStreaming)
	prompt := make([]llm.Message, 0, len(history)+1)
	prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: buildSystemPrompt(global, conv.Memory)})
	for _, m := range history {
		prompt = append(prompt, llm.Message{Role: m.Role, Content: m.Content})
	}

	firstFragment := true
	streamed, err := c.brain.StreamCompletion(ctx, prompt, func(delta string) error {
		c.mu.Lock()
		c.typing += delta
		buffer := c.typing
		c.mu.Unlock()
		if firstFragment {
			firstFragment = false
			c.metrics.ObserveFirstTokenLatency(time.Since(start))
		}
		c.metrics.StreamFragments.Inc()
		if onDelta != nil {
			onDelta(delta, buffer)
		}
		return nil
	})
	if err != nil {
		return c.fail(result, history, fmt.Errorf("stream completion: %w", err))
	}

	c.setState(StateReconciling)
	human, extracted := facts.SplitTrailing(streamed)
	if extracted == nil {
		extracted = facts.FactSet{}
	}
	localMemory := facts.Merge(conv.Memory, extracted)
	global = facts.Merge(global, extracted)
	if len(extracted) > 0 {
		if err := c.store.MergeGlobalMemory(ctx, c.userID, extracted); err != nil {
			return c.fail(result, history, fmt.Errorf("merge global memory: %w", err))
		}
		c.metrics.MemoryWrites.WithLabelValues("global").Inc()
	}

	finalHistory := append(history, store.Message{Role: store.RoleAssistant, Content: human})
	c.setPending(convID, finalHistory, localMemory)

	// A conversation switch mid-stream orphans this cycle: discard rather
	// than write the result under a conversation the user left.
	if active := c.ActiveConversation(); active != "" && active != convID {
		c.clearPending()
		c.metrics.StaleStreamsDiscarded.Inc()
		c.metrics.SendCycles.WithLabelValues("discarded").Inc()
		log.Printf("chat: discarding completed stream for conversation %s (active is %s)", convID, active)
		result.Discarded = true
		return result, nil
	}

	c.setState(StatePersisting)
	if err := c.store.PatchConversation(ctx, c.userID, convID, store.ConversationPatch{
		Messages:    finalHistory,
		Memory:      extracted,
		LastMessage: &human,
	}); err != nil {
		return c.fail(result, finalHistory, fmt.Errorf("persist conversation: %w", err))
	}
	if len(extracted) > 0 {
		c.metrics.MemoryWrites.WithLabelValues("conversation").Inc()
	}
	c.clearPending()

	result.Messages = finalHistory
	result.AssistantText = human
	result.LocalMemory = localMemory
	result.GlobalMemory = global
	result.Title = conv.Title
	if chart, ok := facts.DecodeChart(streamed); ok {
		result.Chart = &chart
	}

	if needsTitle(conv.Title) && len(finalHistory) >= 2 {
		if title := c.generateTitle(ctx, convID, finalHistory); title != "" {
			result.Title = title
			result.TitleChanged = true
		}
	}

	c.metrics.SendCycles.WithLabelValues("completed").Inc()
	return result, nil
}

// Flush synchronously persists the in-flight history and memory snapshot.
// Called on session expiry and shutdown; a cycle that completed normally has
// nothing left to write.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()
	if p == nil {
		return nil
	}
	err := c.store.PatchConversation(ctx, c.userID, p.convID, store.ConversationPatch{
		Messages: p.messages,
		Memory:   p.memory,
	})
	if err != nil {
		return fmt.Errorf("flush conversation %s: %w", p.convID, err)
	}
	c.clearPending()
	return nil
}

func (c *Controller) loadConversation(ctx context.Context, convID string) (store.Conversation, error) {
	conv, err := c.store.Conversation(ctx, c.userID, convID)
	if errors.Is(err, store.ErrNotFound) {
		// Sending into an unknown id behaves like a fresh conversation;
		// the merge-write below creates the document.
		return store.Conversation{ID: convID, Title: store.DefaultTitle, Memory: facts.FactSet{}}, nil
	}
	return conv, err
}

func (c *Controller) extractUserFacts(ctx context.Context, text string, global facts.FactSet) facts.FactSet {
	reply, err := c.brain.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: buildFactExtractionPrompt(text)},
	})
	if err != nil {
		log.Printf("chat: user fact extraction failed: %v", err)
		c.metrics.DecodeErrors.WithLabelValues("extraction").Inc()
		return global
	}
	extracted, ok := facts.ParseFactSet(reply)
	if !ok || len(extracted) == 0 {
		return global
	}
	if err := c.store.MergeGlobalMemory(ctx, c.userID, extracted); err != nil {
		log.Printf("chat: persist extracted user facts: %v", err)
		return global
	}
	c.metrics.MemoryWrites.WithLabelValues("global").Inc()
	return facts.Merge(global, extracted)
}

func (c *Controller) generateTitle(ctx context.Context, convID string, history []store.Message) string {
	raw, err := c.brain.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: titleSystemPrompt},
		{Role: llm.RoleUser, Content: buildTitlePrompt(history)},
	})
	if err != nil {
		log.Printf("chat: title generation failed: %v", err)
		return ""
	}
	title := cleanTitle(raw)
	if title == "" {
		return ""
	}
	if err := c.store.PatchConversation(ctx, c.userID, convID, store.ConversationPatch{Title: &title}); err != nil {
		log.Printf("chat: persist title: %v", err)
		return ""
	}
	c.metrics.TitleGenerations.Inc()
	return title
}

// fail moves through the Error state, surfaces the fixed fallback assistant
// message on the returned history, and hands the guard back. The fallback is
// never persisted and the failed exchange skips the fact pipeline.
func (c *Controller) fail(result SendResult, history []store.Message, err error) (SendResult, error) {
	c.setState(StateError)
	log.Printf("chat: send cycle failed: %v", err)
	c.metrics.SendCycles.WithLabelValues("error").Inc()
	if history != nil {
		result.Messages = append(history, store.Message{
			Role:    store.RoleAssistant,
			Content: FallbackAssistantMessage,
		})
	}
	return result, err
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) setPending(convID string, messages []store.Message, memory facts.FactSet) {
	c.mu.Lock()
	c.pending = &pendingWrite{convID: convID, messages: messages, memory: memory}
	c.mu.Unlock()
}

func (c *Controller) clearPending() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}
