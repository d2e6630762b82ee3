package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gmarchetti/donna/internal/events"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := initTaskSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			recurrence JSONB NULL,
			due_date TIMESTAMPTZ NULL,
			reminder_offset_seconds BIGINT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner_created ON tasks (owner_id, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, task Task, env events.Envelope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO tasks (id, owner_id, title, description, completed, recurrence, due_date, reminder_offset_seconds, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID,
		task.OwnerID,
		task.Title,
		task.Description,
		task.Completed,
		recurrenceJSON(task.Recurrence),
		task.DueDate,
		offsetSeconds(task.ReminderOffset),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if err := events.AppendTx(ctx, tx, env); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, ownerID, taskID string) (Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, title, description, completed, recurrence, due_date, reminder_offset_seconds, created_at, updated_at
		   FROM tasks WHERE id=$1 AND owner_id=$2`,
		taskID, ownerID,
	)
	task, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) List(ctx context.Context, ownerID string, filter Filter) ([]Task, error) {
	q := `SELECT id, owner_id, title, description, completed, recurrence, due_date, reminder_offset_seconds, created_at, updated_at
	        FROM tasks WHERE owner_id=$1`
	switch filter {
	case FilterPending:
		q += ` AND NOT completed`
	case FilterCompleted:
		q += ` AND completed`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, 16)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, task Task, env events.Envelope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET title=$3, description=$4, recurrence=$5, due_date=$6, reminder_offset_seconds=$7, updated_at=$8
		  WHERE id=$1 AND owner_id=$2`,
		task.ID,
		task.OwnerID,
		task.Title,
		task.Description,
		recurrenceJSON(task.Recurrence),
		task.DueDate,
		offsetSeconds(task.ReminderOffset),
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStoreNotFound
	}
	if err := events.AppendTx(ctx, tx, env); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, ownerID, taskID string, env events.Envelope) (Task, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Task{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The completed=FALSE guard makes repeat completion a no-op at the
	// row level, so a concurrent double-complete emits one event.
	now := time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET completed=TRUE, updated_at=$3 WHERE id=$1 AND owner_id=$2 AND NOT completed`,
		taskID, ownerID, now,
	)
	if err != nil {
		return Task{}, false, fmt.Errorf("complete task: %w", err)
	}
	changed := tag.RowsAffected() == 1
	if changed {
		if err := events.AppendTx(ctx, tx, env); err != nil {
			return Task{}, false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Task{}, false, fmt.Errorf("commit tx: %w", err)
	}

	task, err := s.Get(ctx, ownerID, taskID)
	if err != nil {
		return Task{}, false, err
	}
	return task, changed, nil
}

func (s *PostgresStore) Delete(ctx context.Context, ownerID, taskID string, env events.Envelope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id=$1 AND owner_id=$2`, taskID, ownerID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStoreNotFound
	}
	if err := events.AppendTx(ctx, tx, env); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	// The pool is shared with the other stores and closed by the caller.
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		task          Task
		recurrenceRaw []byte
		dueNullable   *time.Time
		offsetSecs    *int64
	)
	if err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Title,
		&task.Description,
		&task.Completed,
		&recurrenceRaw,
		&dueNullable,
		&offsetSecs,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	if len(recurrenceRaw) > 0 {
		var r Recurrence
		if err := json.Unmarshal(recurrenceRaw, &r); err != nil {
			return Task{}, fmt.Errorf("decode recurrence: %w", err)
		}
		task.Recurrence = &r
	}
	task.DueDate = dueNullable
	if offsetSecs != nil {
		d := time.Duration(*offsetSecs) * time.Second
		task.ReminderOffset = &d
	}
	return task, nil
}

func recurrenceJSON(r *Recurrence) any {
	if r == nil {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return b
}

func offsetSeconds(d *time.Duration) any {
	if d == nil {
		return nil
	}
	return int64(d.Seconds())
}
