package store

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
)

func (t *pgTx) EnsureAccount(ctx context.Context, key AccountKey) (Account, error) {
	const ins = `
INSERT INTO wallet_accounts (player_id, currency, network, account_type, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (player_id, currency, network, account_type) DO NOTHING
`
	now := t.clk.Now()
	if _, err := t.tx.ExecContext(ctx, ins, key.PlayerID, key.Asset.Currency, key.Asset.Network, string(key.Type), now); err != nil {
		return Account{}, mapError(err)
	}
	const sel = `
SELECT account_id, created_at
FROM wallet_accounts
WHERE player_id = $1 AND currency = $2 AND network = $3 AND account_type = $4
`
	a := Account{Key: key}
	if err := t.tx.QueryRowContext(ctx, sel, key.PlayerID, key.Asset.Currency, key.Asset.Network, string(key.Type)).Scan(&a.ID, &a.CreatedAt); err != nil {
		return Account{}, mapError(err)
	}
	const bal = `
INSERT INTO wallet_balances (account_id, updated_at)
VALUES ($1, $2)
ON CONFLICT (account_id) DO NOTHING
`
	if _, err := t.tx.ExecContext(ctx, bal, a.ID, now); err != nil {
		return Account{}, mapError(err)
	}
	return a, nil
}

// LockBalances takes row locks one account at a time in ascending id order so
// that concurrent commands touching overlapping accounts cannot deadlock.
func (t *pgTx) LockBalances(ctx context.Context, accountIDs []int64) (map[int64]Balance, error) {
	ids := slices.Clone(accountIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	const q = `
SELECT b.account_id, a.player_id, a.currency, a.network, a.account_type,
       b.balance_minor, b.reserved_minor, b.cashable_minor, b.updated_at
FROM wallet_balances b
JOIN wallet_accounts a ON a.account_id = b.account_id
WHERE b.account_id = $1
FOR UPDATE OF b
`
	out := make(map[int64]Balance, len(ids))
	for _, id := range ids {
		var (
			b   Balance
			typ string
		)
		err := t.tx.QueryRowContext(ctx, q, id).Scan(
			&b.AccountID, &b.Key.PlayerID, &b.Key.Asset.Currency, &b.Key.Asset.Network, &typ,
			&b.BalanceMinor, &b.ReservedMinor, &b.CashableMinor, &b.UpdatedAt,
		)
		if err != nil {
			return nil, mapError(err)
		}
		b.Key.Type = AccountType(typ)
		out[id] = b
	}
	return out, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr Transaction) error {
	const q = `
INSERT INTO wallet_transactions (tx_id, tx_type, external_ref, metadata, created_at)
VALUES ($1, $2, $3, $4::jsonb, $5)
`
	_, err := t.tx.ExecContext(ctx, q, tr.TxID, string(tr.TxType), tr.ExternalRef, jsonArg(tr.Metadata), tr.CreatedAt)
	return mapError(err)
}

func (t *pgTx) InsertPostings(ctx context.Context, postings []Posting) error {
	const q = `
INSERT INTO wallet_postings (tx_id, account_id, direction, amount_minor, created_at)
VALUES ($1, $2, $3, $4, $5)
`
	for _, p := range postings {
		if _, err := t.tx.ExecContext(ctx, q, p.TxID, p.AccountID, string(p.Direction), int64(p.Amount), p.CreatedAt); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (t *pgTx) ApplyBalanceDelta(ctx context.Context, accountID int64, d BalanceDelta, at time.Time) error {
	const q = `
UPDATE wallet_balances
SET balance_minor = balance_minor + $2,
    reserved_minor = reserved_minor + $3,
    cashable_minor = cashable_minor + $4,
    updated_at = $5
WHERE account_id = $1
`
	res, err := t.tx.ExecContext(ctx, q, accountID, int64(d.Balance), int64(d.Reserved), int64(d.Cashable), at)
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

func (t *pgTx) GetTransaction(ctx context.Context, txID string) (Transaction, []Posting, error) {
	const q = `
SELECT tx_id, tx_type, external_ref, metadata, created_at
FROM wallet_transactions
WHERE tx_id = $1
`
	var (
		tr   Transaction
		typ  string
		meta []byte
	)
	if err := t.tx.QueryRowContext(ctx, q, txID).Scan(&tr.TxID, &typ, &tr.ExternalRef, &meta, &tr.CreatedAt); err != nil {
		return Transaction{}, nil, mapError(err)
	}
	tr.TxType = TxType(typ)
	tr.Metadata = meta

	const pq = `
SELECT tx_id, account_id, direction, amount_minor, created_at
FROM wallet_postings
WHERE tx_id = $1
ORDER BY posting_id
`
	rows, err := t.tx.QueryContext(ctx, pq, txID)
	if err != nil {
		return Transaction{}, nil, mapError(err)
	}
	defer rows.Close()

	postings := make([]Posting, 0, 4)
	for rows.Next() {
		var (
			p   Posting
			dir string
		)
		if err := rows.Scan(&p.TxID, &p.AccountID, &dir, &p.Amount, &p.CreatedAt); err != nil {
			return Transaction{}, nil, err
		}
		p.Direction = Direction(dir)
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		return Transaction{}, nil, mapError(err)
	}
	return tr, postings, nil
}

const signedAmount = `COALESCE(SUM(CASE WHEN p.direction = 'CREDIT' THEN p.amount_minor ELSE -p.amount_minor END), 0)`

func (t *pgTx) SumPostingsByRef(ctx context.Context, accountID int64, externalRef string) (money.Amount, error) {
	q := `
SELECT ` + signedAmount + `
FROM wallet_postings p
JOIN wallet_transactions t ON t.tx_id = p.tx_id
WHERE p.account_id = $1 AND t.external_ref = $2
`
	var sum int64
	if err := t.tx.QueryRowContext(ctx, q, accountID, externalRef).Scan(&sum); err != nil {
		return 0, mapError(err)
	}
	return money.Amount(sum), nil
}

func (t *pgTx) SumPostings(ctx context.Context, accountID int64) (money.Amount, error) {
	q := `
SELECT ` + signedAmount + `
FROM wallet_postings p
WHERE p.account_id = $1
`
	var sum int64
	if err := t.tx.QueryRowContext(ctx, q, accountID).Scan(&sum); err != nil {
		return 0, mapError(err)
	}
	return money.Amount(sum), nil
}

func (t *pgTx) GetIdempotency(ctx context.Context, source, key string) (IdempotencyRecord, error) {
	const q = `
SELECT source, idempotency_key, tx_id, request_hash, response, created_at
FROM wallet_idempotency_keys
WHERE source = $1 AND idempotency_key = $2
`
	var (
		rec  IdempotencyRecord
		resp []byte
	)
	err := t.tx.QueryRowContext(ctx, q, source, key).Scan(&rec.Source, &rec.Key, &rec.TxID, &rec.RequestHash, &resp, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return IdempotencyRecord{}, ErrNotFound
	}
	if err != nil {
		return IdempotencyRecord{}, mapError(err)
	}
	rec.Response = resp
	return rec, nil
}

// InsertIdempotency deliberately has no ON CONFLICT clause: a concurrent
// duplicate must surface as ErrDuplicate so the command is rerun.
func (t *pgTx) InsertIdempotency(ctx context.Context, rec IdempotencyRecord) error {
	const q = `
INSERT INTO wallet_idempotency_keys (source, idempotency_key, tx_id, request_hash, response, created_at)
VALUES ($1, $2, $3, $4, $5::jsonb, $6)
`
	_, err := t.tx.ExecContext(ctx, q, rec.Source, rec.Key, rec.TxID, rec.RequestHash, jsonArg(rec.Response), rec.CreatedAt)
	return mapError(err)
}

func (t *pgTx) InsertOutbox(ctx context.Context, e OutboxEvent) error {
	if e.NextAttemptAt.IsZero() {
		e.NextAttemptAt = e.CreatedAt
	}
	const q = `
INSERT INTO wallet_outbox (event_id, event_type, routing_key, payload, created_at, next_attempt_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $6)
`
	_, err := t.tx.ExecContext(ctx, q, e.ID, e.EventType, e.RoutingKey, jsonArg(e.Payload), e.CreatedAt, e.NextAttemptAt)
	return mapError(err)
}

func (p *Postgres) Balances(ctx context.Context, playerID string) ([]Balance, error) {
	const q = `
SELECT b.account_id, a.player_id, a.currency, a.network, a.account_type,
       b.balance_minor, b.reserved_minor, b.cashable_minor, b.updated_at
FROM wallet_balances b
JOIN wallet_accounts a ON a.account_id = b.account_id
WHERE a.player_id = $1
ORDER BY b.account_id
`
	rows, err := p.db.QueryContext(ctx, q, playerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]Balance, 0)
	for rows.Next() {
		var (
			b   Balance
			typ string
		)
		if err := rows.Scan(
			&b.AccountID, &b.Key.PlayerID, &b.Key.Asset.Currency, &b.Key.Asset.Network, &typ,
			&b.BalanceMinor, &b.ReservedMinor, &b.CashableMinor, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		b.Key.Type = AccountType(typ)
		out = append(out, b)
	}
	return out, mapError(rows.Err())
}

func (p *Postgres) FindAccount(ctx context.Context, key AccountKey) (Account, error) {
	const q = `
SELECT account_id, created_at
FROM wallet_accounts
WHERE player_id = $1 AND currency = $2 AND network = $3 AND account_type = $4
`
	a := Account{Key: key}
	err := p.db.QueryRowContext(ctx, q, key.PlayerID, key.Asset.Currency, key.Asset.Network, string(key.Type)).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return Account{}, mapError(err)
	}
	return a, nil
}
