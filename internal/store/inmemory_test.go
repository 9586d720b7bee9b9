package store

import (
	"context"
	"testing"
	"time"

	"github.com/vetai-labs/vetai/internal/facts"
)

func TestPatchConversationMergeWriteSemantics(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	err := s.CreateConversation(ctx, "u1", Conversation{
		ID:     "c1",
		Title:  "Budget Talk",
		Memory: facts.FactSet{"name": "Alex"},
	})
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	// A patch that only touches memory must preserve title and messages.
	err = s.PatchConversation(ctx, "u1", "c1", ConversationPatch{
		Memory: facts.FactSet{"savingsGoal": 300},
	})
	if err != nil {
		t.Fatalf("PatchConversation() error = %v", err)
	}

	conv, err := s.Conversation(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("Conversation() error = %v", err)
	}
	if conv.Title != "Budget Talk" {
		t.Fatalf("Title = %q, want preserved", conv.Title)
	}
	if conv.Memory["name"] != "Alex" || conv.Memory["savingsGoal"] != 300 {
		t.Fatalf("Memory = %v, want shallow merge", conv.Memory)
	}
}

func TestPatchConversationCreatesMissingDocument(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	title := "recovered"
	err := s.PatchConversation(ctx, "u1", "ghost", ConversationPatch{Title: &title})
	if err != nil {
		t.Fatalf("PatchConversation() error = %v", err)
	}
	conv, err := s.Conversation(ctx, "u1", "ghost")
	if err != nil {
		t.Fatalf("Conversation() error = %v", err)
	}
	if conv.Title != "recovered" {
		t.Fatalf("Title = %q", conv.Title)
	}
}

func TestConversationNotFound(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Conversation(context.Background(), "u1", "nope"); err != ErrNotFound {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	base := time.Now().UTC()
	for i, id := range []string{"old", "new"} {
		err := s.CreateConversation(ctx, "u1", Conversation{
			ID:        id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("CreateConversation(%s) error = %v", id, err)
		}
	}

	convs, err := s.ListConversations(ctx, "u1")
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(convs) != 2 || convs[0].ID != "new" {
		t.Fatalf("order = %v, want newest first", convs)
	}
}

func TestGlobalMemoryMergeAndIdempotence(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	if err := s.MergeGlobalMemory(ctx, "u1", facts.FactSet{"name": "Alex"}); err != nil {
		t.Fatalf("MergeGlobalMemory() error = %v", err)
	}
	// Empty merge is a no-op and must not create or touch anything.
	if err := s.MergeGlobalMemory(ctx, "u2", facts.FactSet{}); err != nil {
		t.Fatalf("MergeGlobalMemory(empty) error = %v", err)
	}
	if err := s.MergeGlobalMemory(ctx, "u1", facts.FactSet{"rank": "E-5"}); err != nil {
		t.Fatalf("MergeGlobalMemory() error = %v", err)
	}

	m, err := s.GlobalMemory(ctx, "u1")
	if err != nil {
		t.Fatalf("GlobalMemory() error = %v", err)
	}
	if m["name"] != "Alex" || m["rank"] != "E-5" {
		t.Fatalf("global memory = %v", m)
	}

	empty, err := s.GlobalMemory(ctx, "u2")
	if err != nil {
		t.Fatalf("GlobalMemory(u2) error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("GlobalMemory(u2) = %v, want empty", empty)
	}
}

func TestWatchConversationDeliversSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewInMemoryStore()

	ch, err := s.WatchConversation(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("WatchConversation() error = %v", err)
	}

	if err := s.CreateConversation(ctx, "u1", Conversation{ID: "c1"}); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	select {
	case conv := <-ch:
		if conv.ID != "c1" {
			t.Fatalf("snapshot ID = %q", conv.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for conversation snapshot")
	}

	cancel()
	select {
	case _, open := <-ch:
		if open {
			// Drain a buffered snapshot; channel must close soon after.
			select {
			case _, open = <-ch:
				if open {
					t.Fatalf("watch channel still open after cancel")
				}
			case <-time.After(time.Second):
				t.Fatalf("watch channel not closed after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("watch channel not closed after cancel")
	}
}

func TestWatchGlobalMemoryDeliversSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewInMemoryStore()

	ch, err := s.WatchGlobalMemory(ctx, "u1")
	if err != nil {
		t.Fatalf("WatchGlobalMemory() error = %v", err)
	}

	if err := s.MergeGlobalMemory(ctx, "u1", facts.FactSet{"name": "Alex"}); err != nil {
		t.Fatalf("MergeGlobalMemory() error = %v", err)
	}

	select {
	case m := <-ch:
		if m["name"] != "Alex" {
			t.Fatalf("snapshot = %v", m)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for global memory snapshot")
	}
}
