package store

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"
)

const outboxColumns = `event_id, event_type, routing_key, payload, created_at, published_at, attempts, last_error, next_attempt_at`

func scanOutbox(sc interface{ Scan(...any) error }) (OutboxEvent, error) {
	var (
		e         OutboxEvent
		payload   []byte
		published sql.NullTime
	)
	if err := sc.Scan(&e.ID, &e.EventType, &e.RoutingKey, &payload, &e.CreatedAt, &published, &e.Attempts, &e.LastError, &e.NextAttemptAt); err != nil {
		return OutboxEvent{}, err
	}
	e.Payload = payload
	if published.Valid {
		at := published.Time
		e.PublishedAt = &at
	}
	return e, nil
}

// ClaimOutbox runs as a single autocommit statement. SKIP LOCKED keeps
// concurrent publishers off each other's rows while the lease is written.
func (p *Postgres) ClaimOutbox(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]OutboxEvent, error) {
	q := `
WITH due AS (
  SELECT event_id
  FROM wallet_outbox
  WHERE published_at IS NULL AND next_attempt_at <= $1
  ORDER BY created_at, event_id
  LIMIT $2
  FOR UPDATE SKIP LOCKED
)
UPDATE wallet_outbox o
SET next_attempt_at = $3
FROM due
WHERE o.event_id = due.event_id
RETURNING ` + prefixed("o.", outboxColumns)

	rows, err := p.db.QueryContext(ctx, q, now, limit, now.Add(lease))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]OutboxEvent, 0, limit)
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (p *Postgres) MarkOutboxPublished(ctx context.Context, id string, at time.Time) error {
	const q = `
UPDATE wallet_outbox
SET published_at = COALESCE(published_at, $2), last_error = ''
WHERE event_id = $1
`
	return execOne(ctx, p.db, q, id, at)
}

func (p *Postgres) MarkOutboxFailed(ctx context.Context, id string, lastErr string, nextAttemptAt time.Time) (int, error) {
	const q = `
UPDATE wallet_outbox
SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3
WHERE event_id = $1
RETURNING attempts
`
	var attempts int
	if err := p.db.QueryRowContext(ctx, q, id, lastErr, nextAttemptAt).Scan(&attempts); err != nil {
		return 0, mapError(err)
	}
	return attempts, nil
}

func (p *Postgres) OutboxStats(ctx context.Context) (OutboxStats, error) {
	const q = `
SELECT
  COUNT(*) FILTER (WHERE published_at IS NULL),
  COUNT(*) FILTER (WHERE published_at IS NOT NULL),
  MIN(created_at) FILTER (WHERE published_at IS NULL),
  COALESCE(MAX(attempts) FILTER (WHERE published_at IS NULL), 0)
FROM wallet_outbox
`
	var (
		st     OutboxStats
		oldest sql.NullTime
	)
	if err := p.db.QueryRowContext(ctx, q).Scan(&st.Pending, &st.Published, &oldest, &st.MaxAttempts); err != nil {
		return OutboxStats{}, mapError(err)
	}
	if oldest.Valid {
		at := oldest.Time
		st.OldestPending = &at
	}
	return st, nil
}

func (p *Postgres) DeletePublishedOutbox(ctx context.Context, before time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	const q = `
WITH doomed AS (
  SELECT event_id
  FROM wallet_outbox
  WHERE published_at IS NOT NULL AND published_at < $1
  ORDER BY published_at ASC
  LIMIT $2
)
DELETE FROM wallet_outbox
WHERE event_id IN (SELECT event_id FROM doomed)
`
	res, err := p.db.ExecContext(ctx, q, before, batchSize)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

const inboxColumns = `id, source, message_id, event_type, payload, received_at, processed_at, error_message, attempts`

func scanInbox(sc interface{ Scan(...any) error }) (InboxEvent, error) {
	var (
		e         InboxEvent
		payload   []byte
		processed sql.NullTime
	)
	if err := sc.Scan(&e.ID, &e.Source, &e.MessageID, &e.EventType, &payload, &e.ReceivedAt, &processed, &e.ErrorMessage, &e.Attempts); err != nil {
		return InboxEvent{}, err
	}
	e.Payload = payload
	if processed.Valid {
		at := processed.Time
		e.ProcessedAt = &at
	}
	return e, nil
}

func (p *Postgres) GetInbox(ctx context.Context, source, messageID string) (InboxEvent, error) {
	q := `SELECT ` + inboxColumns + ` FROM wallet_inbox WHERE source = $1 AND message_id = $2`
	e, err := scanInbox(p.db.QueryRowContext(ctx, q, source, messageID))
	if err != nil {
		return InboxEvent{}, mapError(err)
	}
	return e, nil
}

func (p *Postgres) InsertInbox(ctx context.Context, e InboxEvent) (bool, error) {
	const q = `
INSERT INTO wallet_inbox (source, message_id, event_type, payload, received_at)
VALUES ($1, $2, $3, $4::jsonb, $5)
ON CONFLICT (source, message_id) DO NOTHING
`
	res, err := p.db.ExecContext(ctx, q, e.Source, e.MessageID, e.EventType, jsonArg(e.Payload), e.ReceivedAt)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Postgres) MarkInboxProcessed(ctx context.Context, source, messageID string, at time.Time, note string) error {
	const q = `
UPDATE wallet_inbox
SET processed_at = $3, error_message = $4
WHERE source = $1 AND message_id = $2
`
	return execOne(ctx, p.db, q, source, messageID, at, note)
}

func (p *Postgres) MarkInboxFailed(ctx context.Context, source, messageID, errMsg string) (int, error) {
	const q = `
UPDATE wallet_inbox
SET attempts = attempts + 1, error_message = $3
WHERE source = $1 AND message_id = $2
RETURNING attempts
`
	var attempts int
	if err := p.db.QueryRowContext(ctx, q, source, messageID, errMsg).Scan(&attempts); err != nil {
		return 0, mapError(err)
	}
	return attempts, nil
}

func (p *Postgres) ListRetryableInbox(ctx context.Context, maxAttempts, limit int) ([]InboxEvent, error) {
	q := `
SELECT ` + inboxColumns + `
FROM wallet_inbox
WHERE processed_at IS NULL AND attempts < $1
ORDER BY id
LIMIT $2
`
	rows, err := p.db.QueryContext(ctx, q, maxAttempts, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	out := make([]InboxEvent, 0)
	for rows.Next() {
		e, err := scanInbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, mapError(rows.Err())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execOne runs an update that must touch exactly one row.
func execOne(ctx context.Context, db execer, q string, args ...any) error {
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func prefixed(prefix, columns string) string {
	cols := strings.Split(columns, ", ")
	for i := range cols {
		cols[i] = prefix + cols[i]
	}
	return strings.Join(cols, ", ")
}
