package reminder

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusFired     Status = "fired"
	StatusCancelled Status = "cancelled"
)

// Schedule is one pending reminder, keyed by task id. Schedules are
// built from observed events only, never from client input, and are
// persisted so a process restart cannot drop a pending reminder.
type Schedule struct {
	TaskID    string    `json:"task_id"`
	OwnerID   string    `json:"owner_id"`
	FireAt    time.Time `json:"fire_at"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Triggered is the payload of a task.reminder_triggered event.
type Triggered struct {
	TaskID  string    `json:"task_id"`
	OwnerID string    `json:"owner_id"`
	FireAt  time.Time `json:"fire_at"`
}
