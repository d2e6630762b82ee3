package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gmarchetti/donna/internal/events"
)

// PostgresStore appends audit entries to monthly tables
// (audit_log_YYYYMM), created on demand. The primary key on event_id
// plus ON CONFLICT DO NOTHING gives write-time dedup under at-least-once
// redelivery.
type PostgresStore struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	tables map[string]bool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		tables: make(map[string]bool),
	}
}

func (s *PostgresStore) Append(ctx context.Context, env events.Envelope) error {
	table, err := s.ensureTable(ctx, env.EmittedAt)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (event_id, topic, owner_id, task_id, payload, emitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (event_id) DO NOTHING`, table),
		env.ID, env.Topic, env.OwnerID, env.TaskID, payloadOrNil(env), env.EmittedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit row: %w", err)
	}
	return nil
}

// ensureTable creates the month's table if it does not exist yet. The
// name is built from the timestamp only, never from caller input.
func (s *PostgresStore) ensureTable(ctx context.Context, at time.Time) (string, error) {
	table := fmt.Sprintf("audit_log_%s", at.UTC().Format("200601"))

	s.mu.Lock()
	known := s.tables[table]
	s.mu.Unlock()
	if known {
		return table, nil
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		event_id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		payload JSONB NULL,
		emitted_at TIMESTAMPTZ NOT NULL
	);`, table)
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return "", fmt.Errorf("create audit table %s: %w", table, err)
	}

	s.mu.Lock()
	s.tables[table] = true
	s.mu.Unlock()
	return table, nil
}

func (s *PostgresStore) Close() error {
	// The pool is shared with the other stores and closed by the caller.
	return nil
}

func payloadOrNil(env events.Envelope) any {
	if len(env.Payload) == 0 {
		return nil
	}
	return []byte(env.Payload)
}
