package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gmarchetti/donna/internal/events"
)

// PostgresStore persists reminder schedules in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reminder_schedules (
			task_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			fire_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			claimed_until TIMESTAMPTZ NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reminder_schedules_due ON reminder_schedules (fire_at) WHERE status = 'pending';`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("init reminder schema failed on %q: %w", stmt, err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, sched Schedule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reminder_schedules (task_id, owner_id, fire_at, status, claimed_until, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NULL, $5, $6)
		 ON CONFLICT (task_id) DO UPDATE SET
			owner_id=EXCLUDED.owner_id,
			fire_at=EXCLUDED.fire_at,
			status=EXCLUDED.status,
			claimed_until=NULL,
			updated_at=EXCLUDED.updated_at`,
		sched.TaskID, sched.OwnerID, sched.FireAt, string(StatusPending), sched.CreatedAt, sched.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

func (s *PostgresStore) Cancel(ctx context.Context, ownerID, taskID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE reminder_schedules SET status=$3, updated_at=$4
		  WHERE task_id=$1 AND owner_id=$2 AND status=$5`,
		taskID, ownerID, string(StatusCancelled), time.Now().UTC(), string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("cancel schedule: %w", err)
	}
	return nil
}

func (s *PostgresStore) DueAndClaim(ctx context.Context, now time.Time, ttl time.Duration, limit int) ([]Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE reminder_schedules SET claimed_until=$1
		  WHERE task_id IN (
			SELECT task_id FROM reminder_schedules
			 WHERE status=$2 AND fire_at <= $3
			   AND (claimed_until IS NULL OR claimed_until <= $3)
			 ORDER BY fire_at ASC
			 LIMIT $4
			 FOR UPDATE SKIP LOCKED
		  )
		  RETURNING task_id, owner_id, fire_at, status, created_at, updated_at`,
		now.Add(ttl), string(StatusPending), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due schedules: %w", err)
	}
	defer rows.Close()

	out := make([]Schedule, 0, limit)
	for rows.Next() {
		var (
			sched  Schedule
			status string
		)
		if err := rows.Scan(&sched.TaskID, &sched.OwnerID, &sched.FireAt, &status, &sched.CreatedAt, &sched.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule row: %w", err)
		}
		sched.Status = Status(status)
		out = append(out, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkFired(ctx context.Context, taskID string, env events.Envelope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE reminder_schedules SET status=$2, claimed_until=NULL, updated_at=$3
		  WHERE task_id=$1 AND status=$4`,
		taskID, string(StatusFired), time.Now().UTC(), string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("mark fired: %w", err)
	}
	if tag.RowsAffected() == 1 {
		if err := events.AppendTx(ctx, tx, env); err != nil {
			return err
		}
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
