package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
)

type idemKey struct{ source, key string }

type inboxKey struct{ source, messageID string }

type memState struct {
	nextAccountID int64
	nextInboxID   int64

	accounts     map[AccountKey]Account
	accountsByID map[int64]Account
	balances     map[int64]Balance
	txs          map[string]Transaction
	postings     map[string][]Posting
	txsByRef     map[string][]string
	idempotency  map[idemKey]IdempotencyRecord
	outbox       map[string]OutboxEvent
	inbox        map[inboxKey]InboxEvent
	withdrawals  map[string]WithdrawalRequest
	sessions     map[string]DepositSession
	deposits     map[string]DepositRequest
	depositsHash map[string]string
}

func newMemState() *memState {
	return &memState{
		accounts:     map[AccountKey]Account{},
		accountsByID: map[int64]Account{},
		balances:     map[int64]Balance{},
		txs:          map[string]Transaction{},
		postings:     map[string][]Posting{},
		txsByRef:     map[string][]string{},
		idempotency:  map[idemKey]IdempotencyRecord{},
		outbox:       map[string]OutboxEvent{},
		inbox:        map[inboxKey]InboxEvent{},
		withdrawals:  map[string]WithdrawalRequest{},
		sessions:     map[string]DepositSession{},
		deposits:     map[string]DepositRequest{},
		depositsHash: map[string]string{},
	}
}

// clone copies the maps but shares their slices; writers append through
// slices.Clip so a shared backing array is never written in place.
func (s *memState) clone() *memState {
	c := &memState{
		nextAccountID: s.nextAccountID,
		nextInboxID:   s.nextInboxID,
		accounts:      maps.Clone(s.accounts),
		accountsByID:  maps.Clone(s.accountsByID),
		balances:      maps.Clone(s.balances),
		txs:           maps.Clone(s.txs),
		postings:      maps.Clone(s.postings),
		txsByRef:      maps.Clone(s.txsByRef),
		idempotency:   maps.Clone(s.idempotency),
		outbox:        maps.Clone(s.outbox),
		inbox:         maps.Clone(s.inbox),
		withdrawals:   maps.Clone(s.withdrawals),
		sessions:      maps.Clone(s.sessions),
		deposits:      maps.Clone(s.deposits),
		depositsHash:  maps.Clone(s.depositsHash),
	}
	return c
}

// Memory is an in-process Store. Transactions are fully serialized: each one
// works on a private copy of the state that replaces the shared state only on
// commit, so a failed or cancelled transaction leaves no trace.
//
// The copy is shallow but still walks every map, so each transaction costs
// time proportional to the number of accounts, transactions and outbox rows
// held. It suits tests and short local runs; walletd logs a warning when it
// starts without WALLET_DATABASE_URL.
type Memory struct {
	mu    sync.Mutex
	clk   clock.Clock
	state *memState
}

func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Memory{clk: clk, state: newMemState()}
}

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(ctx, &memTx{st: work, clk: m.clk}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *Memory) Balances(_ context.Context, playerID string) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Balance, 0)
	for id, b := range m.state.balances {
		if m.state.accountsByID[id].Key.PlayerID == playerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (m *Memory) FindAccount(_ context.Context, key AccountKey) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.accounts[key]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

type memTx struct {
	st  *memState
	clk clock.Clock
}

func (t *memTx) EnsureAccount(_ context.Context, key AccountKey) (Account, error) {
	if a, ok := t.st.accounts[key]; ok {
		return a, nil
	}
	t.st.nextAccountID++
	now := t.clk.Now()
	a := Account{ID: t.st.nextAccountID, Key: key, CreatedAt: now}
	t.st.accounts[key] = a
	t.st.accountsByID[a.ID] = a
	t.st.balances[a.ID] = Balance{AccountID: a.ID, Key: key, UpdatedAt: now}
	return a, nil
}

func (t *memTx) LockBalances(_ context.Context, accountIDs []int64) (map[int64]Balance, error) {
	out := make(map[int64]Balance, len(accountIDs))
	for _, id := range accountIDs {
		b, ok := t.st.balances[id]
		if !ok {
			return nil, ErrNotFound
		}
		out[id] = b
	}
	return out, nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr Transaction) error {
	if _, ok := t.st.txs[tr.TxID]; ok {
		return ErrDuplicate
	}
	t.st.txs[tr.TxID] = tr
	if tr.ExternalRef != "" {
		t.st.txsByRef[tr.ExternalRef] = append(slices.Clip(t.st.txsByRef[tr.ExternalRef]), tr.TxID)
	}
	return nil
}

func (t *memTx) InsertPostings(_ context.Context, postings []Posting) error {
	for _, p := range postings {
		if _, ok := t.st.txs[p.TxID]; !ok {
			return ErrNotFound
		}
		if _, ok := t.st.accountsByID[p.AccountID]; !ok {
			return ErrNotFound
		}
		t.st.postings[p.TxID] = append(slices.Clip(t.st.postings[p.TxID]), p)
	}
	return nil
}

func (t *memTx) ApplyBalanceDelta(_ context.Context, accountID int64, d BalanceDelta, at time.Time) error {
	b, ok := t.st.balances[accountID]
	if !ok {
		return ErrNotFound
	}
	b.BalanceMinor += d.Balance
	b.ReservedMinor += d.Reserved
	b.CashableMinor += d.Cashable
	b.UpdatedAt = at
	t.st.balances[accountID] = b
	return nil
}

func (t *memTx) GetTransaction(_ context.Context, txID string) (Transaction, []Posting, error) {
	tr, ok := t.st.txs[txID]
	if !ok {
		return Transaction{}, nil, ErrNotFound
	}
	return tr, slices.Clone(t.st.postings[txID]), nil
}

func (t *memTx) SumPostingsByRef(_ context.Context, accountID int64, externalRef string) (money.Amount, error) {
	var sum money.Amount
	for _, txID := range t.st.txsByRef[externalRef] {
		for _, p := range t.st.postings[txID] {
			if p.AccountID == accountID {
				sum += p.Signed()
			}
		}
	}
	return sum, nil
}

func (t *memTx) SumPostings(_ context.Context, accountID int64) (money.Amount, error) {
	var sum money.Amount
	for _, ps := range t.st.postings {
		for _, p := range ps {
			if p.AccountID == accountID {
				sum += p.Signed()
			}
		}
	}
	return sum, nil
}

func (t *memTx) GetIdempotency(_ context.Context, source, key string) (IdempotencyRecord, error) {
	rec, ok := t.st.idempotency[idemKey{source, key}]
	if !ok {
		return IdempotencyRecord{}, ErrNotFound
	}
	return rec, nil
}

func (t *memTx) InsertIdempotency(_ context.Context, rec IdempotencyRecord) error {
	k := idemKey{rec.Source, rec.Key}
	if _, ok := t.st.idempotency[k]; ok {
		return ErrDuplicate
	}
	t.st.idempotency[k] = rec
	return nil
}

func (t *memTx) InsertOutbox(_ context.Context, e OutboxEvent) error {
	if _, ok := t.st.outbox[e.ID]; ok {
		return ErrDuplicate
	}
	if e.NextAttemptAt.IsZero() {
		e.NextAttemptAt = e.CreatedAt
	}
	t.st.outbox[e.ID] = e
	return nil
}

func (m *Memory) ClaimOutbox(_ context.Context, now time.Time, lease time.Duration, limit int) ([]OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := make([]OutboxEvent, 0)
	for _, e := range m.state.outbox {
		if e.PublishedAt == nil && !e.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].NextAttemptAt = now.Add(lease)
		m.state.outbox[due[i].ID] = due[i]
	}
	return due, nil
}

func (m *Memory) MarkOutboxPublished(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.state.outbox[id]
	if !ok {
		return ErrNotFound
	}
	if e.PublishedAt == nil {
		e.PublishedAt = &at
		e.LastError = ""
		m.state.outbox[id] = e
	}
	return nil
}

func (m *Memory) MarkOutboxFailed(_ context.Context, id string, lastErr string, nextAttemptAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.state.outbox[id]
	if !ok {
		return 0, ErrNotFound
	}
	e.Attempts++
	e.LastError = lastErr
	e.NextAttemptAt = nextAttemptAt
	m.state.outbox[id] = e
	return e.Attempts, nil
}

func (m *Memory) OutboxStats(_ context.Context) (OutboxStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st OutboxStats
	for _, e := range m.state.outbox {
		if e.PublishedAt != nil {
			st.Published++
			continue
		}
		st.Pending++
		if st.OldestPending == nil || e.CreatedAt.Before(*st.OldestPending) {
			created := e.CreatedAt
			st.OldestPending = &created
		}
		if e.Attempts > st.MaxAttempts {
			st.MaxAttempts = e.Attempts
		}
	}
	return st, nil
}

func (m *Memory) DeletePublishedOutbox(_ context.Context, before time.Time, batchSize int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.state.outbox {
		if batchSize > 0 && n >= int64(batchSize) {
			break
		}
		if e.PublishedAt != nil && e.PublishedAt.Before(before) {
			delete(m.state.outbox, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetInbox(_ context.Context, source, messageID string) (InboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.state.inbox[inboxKey{source, messageID}]
	if !ok {
		return InboxEvent{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) InsertInbox(_ context.Context, e InboxEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := inboxKey{e.Source, e.MessageID}
	if _, ok := m.state.inbox[k]; ok {
		return false, nil
	}
	m.state.nextInboxID++
	e.ID = m.state.nextInboxID
	m.state.inbox[k] = e
	return true, nil
}

func (m *Memory) MarkInboxProcessed(_ context.Context, source, messageID string, at time.Time, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := inboxKey{source, messageID}
	e, ok := m.state.inbox[k]
	if !ok {
		return ErrNotFound
	}
	e.ProcessedAt = &at
	e.ErrorMessage = note
	m.state.inbox[k] = e
	return nil
}

func (m *Memory) MarkInboxFailed(_ context.Context, source, messageID, errMsg string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := inboxKey{source, messageID}
	e, ok := m.state.inbox[k]
	if !ok {
		return 0, ErrNotFound
	}
	e.Attempts++
	e.ErrorMessage = errMsg
	m.state.inbox[k] = e
	return e.Attempts, nil
}

func (m *Memory) ListRetryableInbox(_ context.Context, maxAttempts, limit int) ([]InboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InboxEvent, 0)
	for _, e := range m.state.inbox {
		if e.ProcessedAt == nil && e.Attempts < maxAttempts {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) InsertWithdrawal(_ context.Context, w WithdrawalRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.withdrawals[w.RequestID]; ok {
		return false, nil
	}
	m.state.withdrawals[w.RequestID] = w
	return true, nil
}

func (m *Memory) GetWithdrawal(_ context.Context, requestID string) (WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.state.withdrawals[requestID]
	if !ok {
		return WithdrawalRequest{}, ErrNotFound
	}
	return w, nil
}

func (m *Memory) ClaimWithdrawals(_ context.Context, statuses []WithdrawalStatus, now time.Time, lease time.Duration, limit int) ([]WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WithdrawalRequest, 0)
	for _, w := range m.state.withdrawals {
		if slices.Contains(statuses, w.Status) && !w.NextCheckAt.After(now) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RequestID < out[j].RequestID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].NextCheckAt = now.Add(lease)
		m.state.withdrawals[out[i].RequestID] = out[i]
	}
	return out, nil
}

func (m *Memory) UpdateWithdrawal(_ context.Context, requestID string, from WithdrawalStatus, u WithdrawalUpdate, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.state.withdrawals[requestID]
	if !ok {
		return ErrNotFound
	}
	if w.Status != from {
		return ErrStaleState
	}
	w.Status = u.Status
	if u.ProviderRef != "" {
		w.ProviderRef = u.ProviderRef
	}
	if u.FailureReason != "" {
		w.FailureReason = u.FailureReason
	}
	w.NextCheckAt = u.NextCheckAt
	w.UpdatedAt = at
	m.state.withdrawals[requestID] = w
	return nil
}

func (m *Memory) InsertDepositSession(_ context.Context, s DepositSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.sessions[s.SessionID]; ok {
		return ErrDuplicate
	}
	m.state.sessions[s.SessionID] = s
	return nil
}

func (m *Memory) GetDepositSession(_ context.Context, sessionID string) (DepositSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.sessions[sessionID]
	if !ok {
		return DepositSession{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) UpdateDepositSession(_ context.Context, sessionID string, from, to SessionStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != from {
		return ErrStaleState
	}
	s.Status = to
	s.UpdatedAt = at
	m.state.sessions[sessionID] = s
	return nil
}

func (m *Memory) ExpireDepositSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.state.sessions {
		if s.Status == SessionOpen && !s.ExpiresAt.After(now) {
			s.Status = SessionExpired
			s.UpdatedAt = now
			m.state.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *Memory) InsertDeposit(_ context.Context, d DepositRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.depositsHash[d.TxHash]; ok {
		return false, nil
	}
	if _, ok := m.state.deposits[d.DepositID]; ok {
		return false, nil
	}
	m.state.deposits[d.DepositID] = d
	m.state.depositsHash[d.TxHash] = d.DepositID
	return true, nil
}

func (m *Memory) GetDepositByTxHash(_ context.Context, txHash string) (DepositRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.state.depositsHash[txHash]
	if !ok {
		return DepositRequest{}, ErrNotFound
	}
	return m.state.deposits[id], nil
}

func (m *Memory) ClaimDeposits(_ context.Context, statuses []DepositStatus, now time.Time, lease time.Duration, limit int) ([]DepositRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DepositRequest, 0)
	for _, d := range m.state.deposits {
		if slices.Contains(statuses, d.Status) && !d.NextCheckAt.After(now) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].DepositID < out[j].DepositID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].NextCheckAt = now.Add(lease)
		m.state.deposits[out[i].DepositID] = out[i]
	}
	return out, nil
}

func (m *Memory) UpdateDeposit(_ context.Context, depositID string, from DepositStatus, u DepositUpdate, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.state.deposits[depositID]
	if !ok {
		return ErrNotFound
	}
	if d.Status != from {
		return ErrStaleState
	}
	d.Status = u.Status
	if u.AmountMinor != 0 {
		d.AmountMinor = u.AmountMinor
	}
	if u.Confirmations > d.Confirmations {
		d.Confirmations = u.Confirmations
	}
	if u.FailureReason != "" {
		d.FailureReason = u.FailureReason
	}
	d.NextCheckAt = u.NextCheckAt
	d.UpdatedAt = at
	m.state.deposits[depositID] = d
	return nil
}
