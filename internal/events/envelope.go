package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event topics. One authorized producer exists per topic: the command
// executor emits the task.* lifecycle topics, the reminder scheduler
// emits task.reminder_triggered.
const (
	TopicTaskCreated       = "task.created"
	TopicTaskUpdated       = "task.updated"
	TopicTaskCompleted     = "task.completed"
	TopicTaskDeleted       = "task.deleted"
	TopicReminderTriggered = "task.reminder_triggered"
)

// AllTopics lists every topic in the system, for catch-all consumers.
func AllTopics() []string {
	return []string{
		TopicTaskCreated,
		TopicTaskUpdated,
		TopicTaskCompleted,
		TopicTaskDeleted,
		TopicReminderTriggered,
	}
}

// Envelope is the wire form of a domain event. ID doubles as the
// idempotency key for at-least-once consumers.
type Envelope struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	OwnerID   string          `json:"owner_id"`
	TaskID    string          `json:"task_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// NewEnvelope builds an envelope with a fresh event id. The payload is
// marshalled immediately; a payload that cannot marshal is a programming
// error and yields an empty payload.
func NewEnvelope(topic, ownerID, taskID string, payload any) Envelope {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	return Envelope{
		ID:        uuid.NewString(),
		Topic:     topic,
		OwnerID:   ownerID,
		TaskID:    taskID,
		Payload:   raw,
		EmittedAt: time.Now().UTC(),
	}
}
