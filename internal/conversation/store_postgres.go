package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversations and messages in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_owner_updated ON conversations (owner_id, updated_at DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			invocations JSONB NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("init conversation schema failed on %q: %w", stmt, err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, conv Conversation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, owner_id, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		conv.ID, conv.OwnerID, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, ownerID, conversationID string) (Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, created_at, updated_at FROM conversations WHERE id=$1 AND owner_id=$2`,
		conversationID, ownerID,
	).Scan(&conv.ID, &conv.OwnerID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Conversation{}, ErrStoreNotFound
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) TouchConversation(ctx context.Context, ownerID, conversationID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET updated_at=$3 WHERE id=$1 AND owner_id=$2`,
		conversationID, ownerID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStoreNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) error {
	var invocations any
	if len(msg.Invocations) > 0 {
		b, err := json.Marshal(msg.Invocations)
		if err != nil {
			return fmt.Errorf("encode invocations: %w", err)
		}
		invocations = b
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, owner_id, conversation_id, role, content, invocations, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.OwnerID, msg.ConversationID, string(msg.Role), msg.Content, invocations, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *PostgresStore) Messages(ctx context.Context, ownerID, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, conversation_id, role, content, invocations, created_at
		   FROM messages WHERE conversation_id=$1 AND owner_id=$2
		  ORDER BY created_at DESC LIMIT $3`,
		conversationID, ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var (
			msg         Message
			role        string
			invocations []byte
		)
		if err := rows.Scan(&msg.ID, &msg.OwnerID, &msg.ConversationID, &role, &msg.Content, &invocations, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = Role(role)
		if len(invocations) > 0 {
			if err := json.Unmarshal(invocations, &msg.Invocations); err != nil {
				return nil, fmt.Errorf("decode invocations: %w", err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	// The pool is shared with the other stores and closed by the caller.
	return nil
}
