package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetai-labs/vetai/internal/facts"
)

const watchPollInterval = 2 * time.Second

// PostgresStore persists conversation and profile-memory documents in
// PostgreSQL. Document fields live in JSONB columns; memory merges use the
// JSONB || operator, which is exactly the shallow last-write-wins semantics
// the reconciler expects.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			user_id TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT 'New Conversation',
			messages JSONB NOT NULL DEFAULT '[]'::jsonb,
			memory JSONB NOT NULL DEFAULT '{}'::jsonb,
			last_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations (user_id, updated_at DESC);`,
		`CREATE TABLE IF NOT EXISTS profile_memory (
			user_id TEXT PRIMARY KEY,
			facts JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, userID string, conv Conversation) error {
	if conv.Title == "" {
		conv.Title = DefaultTitle
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}

	messages, memory, err := marshalDocFields(conv.Messages, conv.Memory)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (user_id, id, title, messages, memory, last_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, id) DO NOTHING`,
		userID, conv.ID, conv.Title, messages, memory, conv.LastMessage, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Conversation(ctx context.Context, userID, convID string) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, title, messages, memory, last_message, created_at, updated_at
		 FROM conversations WHERE user_id=$1 AND id=$2`,
		userID, convID,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("read conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, messages, memory, last_message, created_at, updated_at
		 FROM conversations WHERE user_id=$1 ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) PatchConversation(ctx context.Context, userID, convID string, patch ConversationPatch) error {
	var messages []byte
	if patch.Messages != nil {
		raw, err := json.Marshal(patch.Messages)
		if err != nil {
			return fmt.Errorf("marshal messages: %w", err)
		}
		messages = raw
	}
	var memory []byte
	if len(patch.Memory) > 0 {
		raw, err := json.Marshal(patch.Memory)
		if err != nil {
			return fmt.Errorf("marshal memory: %w", err)
		}
		memory = raw
	}
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (user_id, id, title, messages, memory, last_message, created_at, updated_at)
		 VALUES ($1, $2,
			COALESCE($3, 'New Conversation'),
			COALESCE($4::jsonb, '[]'::jsonb),
			COALESCE($5::jsonb, '{}'::jsonb),
			COALESCE($6, ''),
			$7, $7)
		 ON CONFLICT (user_id, id) DO UPDATE SET
			title = COALESCE($3, conversations.title),
			messages = COALESCE($4::jsonb, conversations.messages),
			memory = conversations.memory || COALESCE($5::jsonb, '{}'::jsonb),
			last_message = COALESCE($6, conversations.last_message),
			updated_at = $7`,
		userID, convID, patch.Title, messages, memory, patch.LastMessage, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("patch conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GlobalMemory(ctx context.Context, userID string) (facts.FactSet, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT facts FROM profile_memory WHERE user_id=$1`, userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return facts.FactSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read global memory: %w", err)
	}

	var out facts.FactSet
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode global memory: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MergeGlobalMemory(ctx context.Context, userID string, incoming facts.FactSet) error {
	if len(incoming) == 0 {
		return nil
	}
	raw, err := json.Marshal(incoming)
	if err != nil {
		return fmt.Errorf("marshal global memory: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO profile_memory (user_id, facts, updated_at)
		 VALUES ($1, $2::jsonb, $3)
		 ON CONFLICT (user_id) DO UPDATE SET
			facts = profile_memory.facts || EXCLUDED.facts,
			updated_at = $3`,
		userID, raw, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("merge global memory: %w", err)
	}
	return nil
}

// WatchConversation polls for updated_at changes. Remote writers land through
// the same table, so a poll loop is enough to mirror the original client's
// realtime subscription without a trigger setup.
func (s *PostgresStore) WatchConversation(ctx context.Context, userID, convID string) (<-chan Conversation, error) {
	ch := make(chan Conversation, 8)
	go func() {
		defer close(ch)
		var lastSeen time.Time
		ticker := time.NewTicker(watchPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			conv, err := s.Conversation(ctx, userID, convID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("store: conversation watch poll: %v", err)
				}
				continue
			}
			if !conv.UpdatedAt.After(lastSeen) {
				continue
			}
			lastSeen = conv.UpdatedAt
			select {
			case ch <- conv:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *PostgresStore) WatchGlobalMemory(ctx context.Context, userID string) (<-chan facts.FactSet, error) {
	ch := make(chan facts.FactSet, 8)
	go func() {
		defer close(ch)
		var lastSeen time.Time
		ticker := time.NewTicker(watchPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			var (
				raw       []byte
				updatedAt time.Time
			)
			err := s.pool.QueryRow(ctx,
				`SELECT facts, updated_at FROM profile_memory WHERE user_id=$1`, userID,
			).Scan(&raw, &updatedAt)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("store: global memory watch poll: %v", err)
				}
				continue
			}
			if !updatedAt.After(lastSeen) {
				continue
			}
			var snapshot facts.FactSet
			if err := json.Unmarshal(raw, &snapshot); err != nil {
				log.Printf("store: decode global memory snapshot: %v", err)
				continue
			}
			lastSeen = updatedAt
			select {
			case ch <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		conv     Conversation
		messages []byte
		memory   []byte
	)
	if err := row.Scan(&conv.ID, &conv.Title, &messages, &memory, &conv.LastMessage, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return Conversation{}, err
	}
	if err := json.Unmarshal(messages, &conv.Messages); err != nil {
		return Conversation{}, fmt.Errorf("decode messages: %w", err)
	}
	if err := json.Unmarshal(memory, &conv.Memory); err != nil {
		return Conversation{}, fmt.Errorf("decode memory: %w", err)
	}
	return conv, nil
}

func marshalDocFields(messages []Message, memory facts.FactSet) ([]byte, []byte, error) {
	if messages == nil {
		messages = []Message{}
	}
	if memory == nil {
		memory = facts.FactSet{}
	}
	rawMessages, err := json.Marshal(messages)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal messages: %w", err)
	}
	rawMemory, err := json.Marshal(memory)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal memory: %w", err)
	}
	return rawMessages, rawMemory, nil
}
