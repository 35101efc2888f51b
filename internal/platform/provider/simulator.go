package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

// Simulator is a deterministic Adapter. Tests script chain state with
// SetDeposit, SetTransfer and FailNext; walletd uses it when no real provider
// is configured, in which case every withdrawal confirms on first check.
type Simulator struct {
	mu         sync.Mutex
	clk        clock.Clock
	sessionTTL time.Duration
	decimals   int32

	deposits  map[string]DepositStatus
	transfers map[string]TransactionStatus
	sent      map[string]string
	sends     int
	failNext  map[string]int
	reject    map[string]string
	AutoFinal bool
}

func NewSimulator(clk clock.Clock, decimals int32) *Simulator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Simulator{
		clk:        clk,
		sessionTTL: time.Hour,
		decimals:   decimals,
		deposits:   map[string]DepositStatus{},
		transfers:  map[string]TransactionStatus{},
		sent:       map[string]string{},
		failNext:   map[string]int{},
		reject:     map[string]string{},
	}
}

func (s *Simulator) Name() string { return "simulator" }

// FailNext makes the next n calls of op ("verify", "send", "status",
// "session") fail with ErrUnavailable.
func (s *Simulator) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = n
}

// RejectTarget makes withdrawals to target fail permanently.
func (s *Simulator) RejectTarget(target, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject[target] = reason
}

func (s *Simulator) SetDeposit(txHash string, confirmations int, amountMinor money.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deposits[txHash] = DepositStatus{Found: true, Confirmations: confirmations, Amount: amountMinor.Decimal(s.decimals), Decimals: s.decimals}
}

func (s *Simulator) SetTransfer(reference string, st TransactionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[reference] = st
}

// Sends counts distinct withdrawals broadcast.
func (s *Simulator) Sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

func (s *Simulator) failing(op string) bool {
	if s.failNext[op] > 0 {
		s.failNext[op]--
		return true
	}
	return false
}

func (s *Simulator) CreateDepositSession(ctx context.Context, playerID string, asset store.CurrencyNetwork) (DepositSession, error) {
	if err := ctx.Err(); err != nil {
		return DepositSession{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing("session") {
		return DepositSession{}, unavailable("create deposit session")
	}
	now := s.clk.Now()
	return DepositSession{
		Address:   "sim-" + shortHash(playerID, asset.String(), now.Format(time.RFC3339Nano)),
		ExpiresAt: now.Add(s.sessionTTL),
	}, nil
}

func (s *Simulator) VerifyDeposit(ctx context.Context, _ store.CurrencyNetwork, txHash string) (DepositStatus, error) {
	if err := ctx.Err(); err != nil {
		return DepositStatus{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing("verify") {
		return DepositStatus{}, unavailable("verify deposit")
	}
	return s.deposits[txHash], nil
}

func (s *Simulator) SendWithdrawal(ctx context.Context, w Withdrawal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing("send") {
		return "", unavailable("send withdrawal")
	}
	if reason, ok := s.reject[w.Target]; ok {
		return "", &PermanentError{Reason: reason}
	}
	if ref, ok := s.sent[w.RequestID]; ok {
		return ref, nil
	}
	ref := "simtx-" + shortHash(w.RequestID, w.Target, w.AmountMinor.String())
	s.sent[w.RequestID] = ref
	s.sends++
	if _, ok := s.transfers[ref]; !ok {
		st := TransactionStatus{Status: TxPending}
		if s.AutoFinal {
			st = TransactionStatus{Status: TxConfirmed, Confirmations: 1, IsFinal: true}
		}
		s.transfers[ref] = st
	}
	return ref, nil
}

func (s *Simulator) GetTransactionStatus(ctx context.Context, _ store.CurrencyNetwork, reference string) (TransactionStatus, error) {
	if err := ctx.Err(); err != nil {
		return TransactionStatus{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing("status") {
		return TransactionStatus{}, unavailable("transaction status")
	}
	st, ok := s.transfers[reference]
	if !ok {
		return TransactionStatus{}, &PermanentError{Reason: "unknown reference " + reference}
	}
	return st, nil
}

func shortHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
