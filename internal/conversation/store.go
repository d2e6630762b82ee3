package conversation

import (
	"context"
	"errors"
)

// ErrStoreNotFound is returned for a missing conversation or one owned
// by a different user.
var ErrStoreNotFound = errors.New("conversation not found")

// Store persists conversations and their messages. Messages are
// append-only; conversations are never deleted in normal operation.
type Store interface {
	CreateConversation(ctx context.Context, conv Conversation) error
	GetConversation(ctx context.Context, ownerID, conversationID string) (Conversation, error)
	TouchConversation(ctx context.Context, ownerID, conversationID string) error
	AppendMessage(ctx context.Context, msg Message) error
	// Messages returns the newest messages in chronological order.
	Messages(ctx context.Context, ownerID, conversationID string, limit int) ([]Message, error)
	Close() error
}
