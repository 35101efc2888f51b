package store

import (
	"context"
	"sort"
	"strings"
	"time"
)

const withdrawalColumns = `request_id, player_id, currency, network, amount_minor, fee_minor, target, status, provider_ref, failure_reason, correlation_id, created_at, updated_at, next_check_at`

func scanWithdrawal(sc interface{ Scan(...any) error }) (WithdrawalRequest, error) {
	var (
		w      WithdrawalRequest
		status string
	)
	err := sc.Scan(&w.RequestID, &w.PlayerID, &w.Asset.Currency, &w.Asset.Network, &w.AmountMinor, &w.FeeMinor,
		&w.Target, &status, &w.ProviderRef, &w.FailureReason, &w.CorrelationID, &w.CreatedAt, &w.UpdatedAt, &w.NextCheckAt)
	w.Status = WithdrawalStatus(status)
	return w, err
}

func (p *Postgres) InsertWithdrawal(ctx context.Context, w WithdrawalRequest) (bool, error) {
	const q = `
INSERT INTO withdrawal_requests (` + withdrawalColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (request_id) DO NOTHING
`
	res, err := p.db.ExecContext(ctx, q, w.RequestID, w.PlayerID, w.Asset.Currency, w.Asset.Network, int64(w.AmountMinor), int64(w.FeeMinor),
		w.Target, string(w.Status), w.ProviderRef, w.FailureReason, w.CorrelationID, w.CreatedAt, w.UpdatedAt, w.NextCheckAt)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *Postgres) GetWithdrawal(ctx context.Context, requestID string) (WithdrawalRequest, error) {
	const q = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE request_id = $1`
	w, err := scanWithdrawal(p.db.QueryRowContext(ctx, q, requestID))
	if err != nil {
		return WithdrawalRequest{}, mapError(err)
	}
	return w, nil
}

func (p *Postgres) ClaimWithdrawals(ctx context.Context, statuses []WithdrawalStatus, now time.Time, lease time.Duration, limit int) ([]WithdrawalRequest, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	q := `
WITH due AS (
  SELECT request_id
  FROM withdrawal_requests
  WHERE status = ANY(string_to_array($1, ',')) AND next_check_at <= $2
  ORDER BY created_at, request_id
  LIMIT $3
  FOR UPDATE SKIP LOCKED
)
UPDATE withdrawal_requests w
SET next_check_at = $4
FROM due
WHERE w.request_id = due.request_id
RETURNING ` + prefixed("w.", withdrawalColumns)

	rows, err := p.db.QueryContext(ctx, q, strings.Join(names, ","), now, limit, now.Add(lease))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	out := make([]WithdrawalRequest, 0, limit)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RequestID < out[j].RequestID
	})
	return out, nil
}

func (p *Postgres) UpdateWithdrawal(ctx context.Context, requestID string, from WithdrawalStatus, u WithdrawalUpdate, at time.Time) error {
	const q = `
UPDATE withdrawal_requests
SET status = $3,
    provider_ref = CASE WHEN $4 = '' THEN provider_ref ELSE $4 END,
    failure_reason = CASE WHEN $5 = '' THEN failure_reason ELSE $5 END,
    next_check_at = $6,
    updated_at = $7
WHERE request_id = $1 AND status = $2
`
	err := execOne(ctx, p.db, q, requestID, string(from), string(u.Status), u.ProviderRef, u.FailureReason, u.NextCheckAt, at)
	if err == ErrNotFound {
		return p.staleOrMissing(ctx, `SELECT 1 FROM withdrawal_requests WHERE request_id = $1`, requestID)
	}
	return err
}

// staleOrMissing explains why a conditional update touched no row.
func (p *Postgres) staleOrMissing(ctx context.Context, existsQ string, id string) error {
	var one int
	if err := p.db.QueryRowContext(ctx, existsQ, id).Scan(&one); err != nil {
		return mapError(err)
	}
	return ErrStaleState
}

func (p *Postgres) InsertDepositSession(ctx context.Context, s DepositSession) error {
	const q = `
INSERT INTO deposit_sessions (session_id, player_id, currency, network, address, status, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err := p.db.ExecContext(ctx, q, s.SessionID, s.PlayerID, s.Asset.Currency, s.Asset.Network, s.Address, string(s.Status), s.ExpiresAt, s.CreatedAt, s.UpdatedAt)
	return mapError(err)
}

func (p *Postgres) GetDepositSession(ctx context.Context, sessionID string) (DepositSession, error) {
	const q = `
SELECT session_id, player_id, currency, network, address, status, expires_at, created_at, updated_at
FROM deposit_sessions
WHERE session_id = $1
`
	var (
		s      DepositSession
		status string
	)
	err := p.db.QueryRowContext(ctx, q, sessionID).Scan(&s.SessionID, &s.PlayerID, &s.Asset.Currency, &s.Asset.Network, &s.Address, &status, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return DepositSession{}, mapError(err)
	}
	s.Status = SessionStatus(status)
	return s, nil
}

func (p *Postgres) UpdateDepositSession(ctx context.Context, sessionID string, from, to SessionStatus, at time.Time) error {
	const q = `UPDATE deposit_sessions SET status = $3, updated_at = $4 WHERE session_id = $1 AND status = $2`
	err := execOne(ctx, p.db, q, sessionID, string(from), string(to), at)
	if err == ErrNotFound {
		return p.staleOrMissing(ctx, `SELECT 1 FROM deposit_sessions WHERE session_id = $1`, sessionID)
	}
	return err
}

func (p *Postgres) ExpireDepositSessions(ctx context.Context, now time.Time) (int64, error) {
	const q = `
UPDATE deposit_sessions
SET status = 'EXPIRED', updated_at = $1
WHERE status = 'OPEN' AND expires_at <= $1
`
	res, err := p.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

const depositColumns = `deposit_id, session_id, player_id, currency, network, tx_hash, amount_minor, confirmations, confirmations_required, status, failure_reason, created_at, updated_at, next_check_at`

func scanDeposit(sc interface{ Scan(...any) error }) (DepositRequest, error) {
	var (
		d      DepositRequest
		status string
	)
	err := sc.Scan(&d.DepositID, &d.SessionID, &d.PlayerID, &d.Asset.Currency, &d.Asset.Network, &d.TxHash, &d.AmountMinor,
		&d.Confirmations, &d.ConfirmationsRequired, &status, &d.FailureReason, &d.CreatedAt, &d.UpdatedAt, &d.NextCheckAt)
	d.Status = DepositStatus(status)
	return d, err
}

// InsertDeposit returns false when the deposit id or chain tx hash is already known.
func (p *Postgres) InsertDeposit(ctx context.Context, d DepositRequest) (bool, error) {
	const q = `
INSERT INTO deposit_requests (` + depositColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT DO NOTHING
`
	res, err := p.db.ExecContext(ctx, q, d.DepositID, d.SessionID, d.PlayerID, d.Asset.Currency, d.Asset.Network, d.TxHash, int64(d.AmountMinor),
		d.Confirmations, d.ConfirmationsRequired, string(d.Status), d.FailureReason, d.CreatedAt, d.UpdatedAt, d.NextCheckAt)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *Postgres) GetDepositByTxHash(ctx context.Context, txHash string) (DepositRequest, error) {
	const q = `SELECT ` + depositColumns + ` FROM deposit_requests WHERE tx_hash = $1`
	d, err := scanDeposit(p.db.QueryRowContext(ctx, q, txHash))
	if err != nil {
		return DepositRequest{}, mapError(err)
	}
	return d, nil
}

func (p *Postgres) ClaimDeposits(ctx context.Context, statuses []DepositStatus, now time.Time, lease time.Duration, limit int) ([]DepositRequest, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	q := `
WITH due AS (
  SELECT deposit_id
  FROM deposit_requests
  WHERE status = ANY(string_to_array($1, ',')) AND next_check_at <= $2
  ORDER BY created_at, deposit_id
  LIMIT $3
  FOR UPDATE SKIP LOCKED
)
UPDATE deposit_requests d
SET next_check_at = $4
FROM due
WHERE d.deposit_id = due.deposit_id
RETURNING ` + prefixed("d.", depositColumns)

	rows, err := p.db.QueryContext(ctx, q, strings.Join(names, ","), now, limit, now.Add(lease))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	out := make([]DepositRequest, 0, limit)
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].DepositID < out[j].DepositID
	})
	return out, nil
}

func (p *Postgres) UpdateDeposit(ctx context.Context, depositID string, from DepositStatus, u DepositUpdate, at time.Time) error {
	const q = `
UPDATE deposit_requests
SET status = $3,
    amount_minor = CASE WHEN $4 = 0 THEN amount_minor ELSE $4 END,
    confirmations = GREATEST(confirmations, $5),
    failure_reason = CASE WHEN $6 = '' THEN failure_reason ELSE $6 END,
    next_check_at = $7,
    updated_at = $8
WHERE deposit_id = $1 AND status = $2
`
	err := execOne(ctx, p.db, q, depositID, string(from), string(u.Status), int64(u.AmountMinor), u.Confirmations, u.FailureReason, u.NextCheckAt, at)
	if err == ErrNotFound {
		return p.staleOrMissing(ctx, `SELECT 1 FROM deposit_requests WHERE deposit_id = $1`, depositID)
	}
	return err
}
