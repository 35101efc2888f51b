// Package ledger posts balanced double-entry transactions and keeps the
// per-account balance projection in step with them.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

var ErrUnbalancedPosting = errors.New("unbalanced posting")

type Entry struct {
	Account   store.AccountKey
	Direction store.Direction
	Amount    money.Amount
}

func DebitOf(key store.AccountKey, amount money.Amount) Entry {
	return Entry{Account: key, Direction: store.Debit, Amount: amount}
}

func CreditOf(key store.AccountKey, amount money.Amount) Entry {
	return Entry{Account: key, Direction: store.Credit, Amount: amount}
}

type PostRequest struct {
	TxType      store.TxType
	ExternalRef string
	Metadata    json.RawMessage
	Entries     []Entry
}

type Posted struct {
	Transaction store.Transaction
	Postings    []store.Posting
	// Balances holds the projection of every touched account after the post.
	Balances map[int64]store.Balance
	Accounts map[store.AccountKey]int64
}

// Engine never checks funds; handlers lock with Lock and check funds before posting.
type Engine struct {
	clk clock.Clock
}

func NewEngine(clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{clk: clk}
}

func (e *Engine) Now() time.Time { return e.clk.Now() }

func validate(req PostRequest) error {
	if len(req.Entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrUnbalancedPosting)
	}
	sums := map[store.CurrencyNetwork]money.Amount{}
	for i, en := range req.Entries {
		if !en.Amount.IsPositive() {
			return fmt.Errorf("%w: entry %d amount %s must be positive", ErrUnbalancedPosting, i, en.Amount)
		}
		if !en.Account.Type.Valid() || en.Account.PlayerID == "" {
			return fmt.Errorf("%w: entry %d has invalid account %+v", ErrUnbalancedPosting, i, en.Account)
		}
		switch en.Direction {
		case store.Debit:
			sums[en.Account.Asset] -= en.Amount
		case store.Credit:
			sums[en.Account.Asset] += en.Amount
		default:
			return fmt.Errorf("%w: entry %d direction %q", ErrUnbalancedPosting, i, en.Direction)
		}
	}
	for asset, s := range sums {
		if s != 0 {
			return fmt.Errorf("%w: %s off by %s", ErrUnbalancedPosting, asset, s)
		}
	}
	return nil
}

func holdSibling(key store.AccountKey) store.AccountKey {
	return store.PlayerAccount(key.PlayerID, key.Asset, store.AccountMain)
}

// Post records one transaction inside the caller's store transaction.
func (e *Engine) Post(ctx context.Context, tx store.LedgerTx, req PostRequest) (Posted, error) {
	if err := validate(req); err != nil {
		return Posted{}, err
	}
	now := e.clk.Now()

	// A hold movement also moves the reserved mirror on the player's MAIN account.
	keys := make([]store.AccountKey, 0, len(req.Entries)+1)
	for _, en := range req.Entries {
		keys = append(keys, en.Account)
		if en.Account.Type == store.AccountWithdrawHold {
			keys = append(keys, holdSibling(en.Account))
		}
	}
	ids, balances, lockIDs, err := e.resolve(ctx, tx, keys)
	if err != nil {
		return Posted{}, err
	}

	txID := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	record := store.Transaction{
		TxID:        txID,
		TxType:      req.TxType,
		ExternalRef: req.ExternalRef,
		Metadata:    req.Metadata,
		CreatedAt:   now,
	}
	if err := tx.InsertTransaction(ctx, record); err != nil {
		return Posted{}, fmt.Errorf("insert transaction: %w", err)
	}
	postings := make([]store.Posting, 0, len(req.Entries))
	signed := make(map[store.AccountKey]money.Amount, len(ids))
	for _, en := range req.Entries {
		p := store.Posting{TxID: txID, AccountID: ids[en.Account], Direction: en.Direction, Amount: en.Amount, CreatedAt: now}
		postings = append(postings, p)
		signed[en.Account] += p.Signed()
	}
	if err := tx.InsertPostings(ctx, postings); err != nil {
		return Posted{}, fmt.Errorf("insert postings: %w", err)
	}

	deltas := projectDeltas(signed)
	for _, id := range lockIDs {
		key := balances[id].Key
		d, ok := deltas[key]
		if !ok || d.IsZero() {
			continue
		}
		if err := tx.ApplyBalanceDelta(ctx, id, d, now); err != nil {
			return Posted{}, fmt.Errorf("apply balance %d: %w", id, err)
		}
		b := balances[id]
		b.BalanceMinor += d.Balance
		b.ReservedMinor += d.Reserved
		b.CashableMinor += d.Cashable
		b.UpdatedAt = now
		balances[id] = b
	}
	return Posted{Transaction: record, Postings: postings, Balances: balances, Accounts: ids}, nil
}

// projectDeltas applies the account-type rules to the signed posting sums.
func projectDeltas(signed map[store.AccountKey]money.Amount) map[store.AccountKey]store.BalanceDelta {
	out := make(map[store.AccountKey]store.BalanceDelta, len(signed))
	add := func(k store.AccountKey, d store.BalanceDelta) {
		cur := out[k]
		cur.Balance += d.Balance
		cur.Reserved += d.Reserved
		cur.Cashable += d.Cashable
		out[k] = cur
	}
	for k, d := range signed {
		switch k.Type {
		case store.AccountWithdrawHold:
			add(k, store.BalanceDelta{Balance: d, Reserved: d})
			add(holdSibling(k), store.BalanceDelta{Reserved: d})
		case store.AccountBonus:
			add(k, store.BalanceDelta{Balance: d})
		default:
			add(k, store.BalanceDelta{Balance: d, Cashable: d})
		}
	}
	return out
}

func (e *Engine) resolve(ctx context.Context, tx store.LedgerTx, keys []store.AccountKey) (map[store.AccountKey]int64, map[int64]store.Balance, []int64, error) {
	ids := make(map[store.AccountKey]int64, len(keys))
	for _, k := range keys {
		if _, ok := ids[k]; ok {
			continue
		}
		a, err := tx.EnsureAccount(ctx, k)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("ensure account %s/%s/%s: %w", k.PlayerID, k.Asset, k.Type, err)
		}
		ids[k] = a.ID
	}
	lockIDs := make([]int64, 0, len(ids))
	for _, id := range ids {
		lockIDs = append(lockIDs, id)
	}
	slices.Sort(lockIDs)
	balances, err := tx.LockBalances(ctx, lockIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("lock balances: %w", err)
	}
	return ids, balances, lockIDs, nil
}

// Lock resolves the accounts and locks their balance rows in ascending id
// order for the rest of the transaction. Handlers lock everything a command
// will post to before checking preconditions.
func (e *Engine) Lock(ctx context.Context, tx store.LedgerTx, keys ...store.AccountKey) (map[store.AccountKey]store.Balance, error) {
	ids, balances, _, err := e.resolve(ctx, tx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[store.AccountKey]store.Balance, len(ids))
	for k, id := range ids {
		out[k] = balances[id]
	}
	return out, nil
}

type Verification struct {
	AccountID  int64            `json:"accountId"`
	Key        store.AccountKey `json:"-"`
	Projected  money.Amount     `json:"projectedMinor"`
	Recomputed money.Amount     `json:"recomputedMinor"`
	OK         bool             `json:"ok"`
}

// Verify recomputes an account's balance from its postings and compares it to
// the stored projection.
func (e *Engine) Verify(ctx context.Context, tx store.LedgerTx, accountID int64) (Verification, error) {
	got, err := tx.LockBalances(ctx, []int64{accountID})
	if err != nil {
		return Verification{}, err
	}
	sum, err := tx.SumPostings(ctx, accountID)
	if err != nil {
		return Verification{}, err
	}
	b := got[accountID]
	return Verification{
		AccountID:  accountID,
		Key:        b.Key,
		Projected:  b.BalanceMinor,
		Recomputed: sum,
		OK:         sum == b.BalanceMinor,
	}, nil
}
