package tasks

import "time"

type Filter string

const (
	FilterAll       Filter = "all"
	FilterPending   Filter = "pending"
	FilterCompleted Filter = "completed"
)

type RecurrencePattern string

const (
	RecurrenceDaily   RecurrencePattern = "daily"
	RecurrenceWeekly  RecurrencePattern = "weekly"
	RecurrenceMonthly RecurrencePattern = "monthly"
	// RecurrenceCron marks a rule whose Expr field carries a 5-field cron
	// expression instead of one of the fixed patterns.
	RecurrenceCron RecurrencePattern = "cron"
)

// Recurrence describes how a completed task spawns its next instance.
type Recurrence struct {
	Pattern RecurrencePattern `json:"pattern"`
	Expr    string            `json:"expr,omitempty"`
	EndDate *time.Time        `json:"end_date,omitempty"`
}

type Task struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Completed      bool           `json:"completed"`
	Recurrence     *Recurrence    `json:"recurrence,omitempty"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	ReminderOffset *time.Duration `json:"reminder_offset,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (t Task) Clone() Task {
	out := t
	if t.Recurrence != nil {
		r := *t.Recurrence
		out.Recurrence = &r
	}
	if t.DueDate != nil {
		d := *t.DueDate
		out.DueDate = &d
	}
	if t.ReminderOffset != nil {
		o := *t.ReminderOffset
		out.ReminderOffset = &o
	}
	return out
}

// AddRequest carries the fields accepted by Executor.Add.
type AddRequest struct {
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Recurrence     *Recurrence    `json:"recurrence,omitempty"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	ReminderOffset *time.Duration `json:"reminder_offset,omitempty"`
}

// UpdateRequest carries the optional fields accepted by Executor.Update.
// At least one field must be set.
type UpdateRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}
