package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGOutbox persists the event outbox in PostgreSQL. Producers insert
// rows with AppendTx inside the transaction that commits the state
// change; the relay polls Pending and flips published.
type PGOutbox struct {
	pool *pgxpool.Pool
}

func NewPGOutbox(ctx context.Context, pool *pgxpool.Pool) (*PGOutbox, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS event_outbox (
			seq BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			payload JSONB NULL,
			emitted_at TIMESTAMPTZ NOT NULL,
			published BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_event_outbox_unpublished ON event_outbox (seq) WHERE NOT published;`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("init outbox schema failed on %q: %w", stmt, err)
		}
	}
	return &PGOutbox{pool: pool}, nil
}

// AppendTx inserts the envelope inside the caller's transaction. This is
// the outbox pattern's whole point: the task row and its event commit or
// roll back together.
func AppendTx(ctx context.Context, tx pgx.Tx, env Envelope) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO event_outbox (event_id, topic, owner_id, task_id, payload, emitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		env.ID, env.Topic, env.OwnerID, env.TaskID, nullableJSON(env.Payload), env.EmittedAt,
	)
	if err != nil {
		return fmt.Errorf("append outbox row: %w", err)
	}
	return nil
}

func (o *PGOutbox) Append(ctx context.Context, env Envelope) error {
	_, err := o.pool.Exec(ctx,
		`INSERT INTO event_outbox (event_id, topic, owner_id, task_id, payload, emitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		env.ID, env.Topic, env.OwnerID, env.TaskID, nullableJSON(env.Payload), env.EmittedAt,
	)
	if err != nil {
		return fmt.Errorf("append outbox row: %w", err)
	}
	return nil
}

func (o *PGOutbox) Pending(ctx context.Context, limit int) ([]Envelope, error) {
	if limit <= 0 {
		limit = defaultRelayBatch
	}
	rows, err := o.pool.Query(ctx,
		`SELECT event_id, topic, owner_id, task_id, payload, emitted_at
		   FROM event_outbox WHERE NOT published ORDER BY seq ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox rows: %w", err)
	}
	defer rows.Close()

	out := make([]Envelope, 0, limit)
	for rows.Next() {
		var (
			env     Envelope
			payload []byte
		)
		if err := rows.Scan(&env.ID, &env.Topic, &env.OwnerID, &env.TaskID, &payload, &env.EmittedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		env.Payload = payload
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return out, nil
}

func (o *PGOutbox) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := o.pool.Exec(ctx,
		`UPDATE event_outbox SET published = TRUE WHERE event_id = ANY($1)`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// PGDeadLetters persists dead-lettered envelopes in PostgreSQL.
type PGDeadLetters struct {
	pool *pgxpool.Pool
}

func NewPGDeadLetters(ctx context.Context, pool *pgxpool.Pool) (*PGDeadLetters, error) {
	stmt := `CREATE TABLE IF NOT EXISTS event_dead_letters (
		seq BIGSERIAL PRIMARY KEY,
		consumer TEXT NOT NULL,
		event_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		payload JSONB NULL,
		emitted_at TIMESTAMPTZ NOT NULL,
		reason TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		failed_at TIMESTAMPTZ NOT NULL
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return nil, fmt.Errorf("init dead letter schema: %w", err)
	}
	return &PGDeadLetters{pool: pool}, nil
}

func (s *PGDeadLetters) Append(ctx context.Context, dl DeadLetter) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO event_dead_letters (consumer, event_id, topic, owner_id, task_id, payload, emitted_at, reason, attempts, failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		dl.Consumer,
		dl.Envelope.ID,
		dl.Envelope.Topic,
		dl.Envelope.OwnerID,
		dl.Envelope.TaskID,
		nullableJSON(dl.Envelope.Payload),
		dl.Envelope.EmittedAt,
		dl.Reason,
		dl.Attempts,
		dl.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("append dead letter: %w", err)
	}
	return nil
}

func (s *PGDeadLetters) List(ctx context.Context, consumer string, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT consumer, event_id, topic, owner_id, task_id, payload, emitted_at, reason, attempts, failed_at
		   FROM event_dead_letters
		  WHERE ($1 = '' OR consumer = $1)
		  ORDER BY seq ASC LIMIT $2`,
		consumer, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	out := make([]DeadLetter, 0, limit)
	for rows.Next() {
		var (
			dl      DeadLetter
			payload []byte
		)
		if err := rows.Scan(
			&dl.Consumer,
			&dl.Envelope.ID,
			&dl.Envelope.Topic,
			&dl.Envelope.OwnerID,
			&dl.Envelope.TaskID,
			&payload,
			&dl.Envelope.EmittedAt,
			&dl.Reason,
			&dl.Attempts,
			&dl.FailedAt,
		); err != nil {
			return nil, fmt.Errorf("scan dead letter row: %w", err)
		}
		dl.Envelope.Payload = payload
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letter rows: %w", err)
	}
	return out, nil
}

// PGProcessed persists per-consumer idempotency records in PostgreSQL.
type PGProcessed struct {
	pool *pgxpool.Pool
}

func NewPGProcessed(ctx context.Context, pool *pgxpool.Pool) (*PGProcessed, error) {
	stmt := `CREATE TABLE IF NOT EXISTS processed_events (
		consumer TEXT NOT NULL,
		event_id TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (consumer, event_id)
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return nil, fmt.Errorf("init processed events schema: %w", err)
	}
	return &PGProcessed{pool: pool}, nil
}

func (s *PGProcessed) Seen(ctx context.Context, consumer, eventID string) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE consumer=$1 AND event_id=$2)`,
		consumer, eventID,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	return seen, nil
}

func (s *PGProcessed) MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO processed_events (consumer, event_id) VALUES ($1, $2)
		 ON CONFLICT (consumer, event_id) DO NOTHING`,
		consumer, eventID,
	)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
