package conversation

import (
	"context"
	"time"

	"github.com/gmarchetti/donna/internal/tasks"
)

type Role string

const (
	RoleRequester Role = "requester"
	RoleExecutor  Role = "executor"
)

type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Invocation records one executor operation run on behalf of a message.
type Invocation struct {
	Op     string `json:"op"`
	TaskID string `json:"task_id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Message is one turn in a conversation. Messages are append-only;
// ordering by created_at within a conversation is the only sequencing
// guarantee.
type Message struct {
	ID             string       `json:"id"`
	OwnerID        string       `json:"owner_id"`
	ConversationID string       `json:"conversation_id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	Invocations    []Invocation `json:"invocations,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Command is one executor operation selected by the planner.
type Command struct {
	Op     string // add, list, complete, delete or update
	TaskID string
	Add    tasks.AddRequest
	Update tasks.UpdateRequest
	Filter tasks.Filter
}

// Plan is the planner's decision for one instruction: zero or more
// commands plus the conversational reply to build on.
type Plan struct {
	Commands []Command
	Reply    string
}

// Planner is the external intent-detection collaborator. It selects
// which executor operations an instruction maps to; how it does that is
// outside this package's concern.
type Planner interface {
	Plan(ctx context.Context, ownerID, instruction string, history []Message) (Plan, error)
}
