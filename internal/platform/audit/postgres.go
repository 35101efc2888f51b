package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresStore keeps one hash chain per partition day in the audit_events table.
// Before/after states are stored as json, not jsonb, so the hashed bytes survive
// a round trip.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func normalizeJSON(raw []byte) string {
	if len(raw) == 0 {
		return `{}`
	}
	var tmp any
	if err := json.Unmarshal(raw, &tmp); err != nil {
		return `{}`
	}
	return string(raw)
}

func authContextJSON(v string) string {
	if v == "" {
		return `{}`
	}
	b, err := json.Marshal(map[string]string{"context": v})
	if err != nil {
		return `{}`
	}
	return string(b)
}

func (s *PostgresStore) Append(ctx context.Context, ev Event) (Event, error) {
	fillDefaults(&ev)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, err
	}
	defer func() { _ = tx.Rollback() }()

	const lockQ = `
SELECT hash_curr
FROM audit_events
WHERE partition_day = $1::date
ORDER BY recorded_at DESC, audit_id DESC
LIMIT 1
FOR UPDATE
`
	prev := genesis
	if err := tx.QueryRowContext(ctx, lockQ, ev.PartitionDay).Scan(&prev); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return Event{}, err
		}
	}
	ev.HashPrev = prev
	ev.HashCurr = ComputeHash(prev, ev)

	const insQ = `
INSERT INTO audit_events (
  audit_id, occurred_at, recorded_at,
  actor_id, actor_type, auth_context,
  object_type, object_id, action,
  before_state, after_state,
  result, reason,
  partition_day,
  hash_prev, hash_curr
)
VALUES (
  $1, $2, $3,
  $4, $5, $6::jsonb,
  $7, $8, $9,
  $10::json, $11::json,
  $12, $13,
  $14::date,
  $15, $16
)
ON CONFLICT (audit_id) DO NOTHING
`
	_, err = tx.ExecContext(ctx, insQ,
		ev.AuditID,
		ev.OccurredAt.UTC(),
		ev.RecordedAt.UTC(),
		ev.ActorID,
		ev.ActorType,
		authContextJSON(ev.AuthContext),
		ev.ObjectType,
		ev.ObjectID,
		ev.Action,
		normalizeJSON(ev.Before),
		normalizeJSON(ev.After),
		string(ev.Result),
		ev.Reason,
		ev.PartitionDay,
		ev.HashPrev,
		ev.HashCurr,
	)
	if err != nil {
		return Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// ListDay returns one day's chain in append order, ready for VerifyChain.
func (s *PostgresStore) ListDay(ctx context.Context, day time.Time) ([]Event, error) {
	const q = `
SELECT audit_id, occurred_at, recorded_at, actor_id, actor_type, object_type, object_id, action,
       before_state, after_state, result, reason, hash_prev, hash_curr
FROM audit_events
WHERE partition_day = $1::date
ORDER BY recorded_at ASC, audit_id ASC
`
	partition := day.UTC().Format("2006-01-02")
	rows, err := s.db.QueryContext(ctx, q, partition)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			ev     Event
			result string
		)
		if err := rows.Scan(&ev.AuditID, &ev.OccurredAt, &ev.RecordedAt, &ev.ActorID, &ev.ActorType, &ev.ObjectType, &ev.ObjectID,
			&ev.Action, &ev.Before, &ev.After, &result, &ev.Reason, &ev.HashPrev, &ev.HashCurr); err != nil {
			return nil, err
		}
		ev.Result = Result(result)
		ev.PartitionDay = partition
		out = append(out, ev)
	}
	return out, rows.Err()
}
