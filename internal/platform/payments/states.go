package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

var ErrIllegalTransition = errors.New("illegal status transition")

var withdrawalEdges = map[store.WithdrawalStatus][]store.WithdrawalStatus{
	store.WithdrawalRequested:   {store.WithdrawalProcessing, store.WithdrawalFailed},
	store.WithdrawalProcessing:  {store.WithdrawalBroadcasted, store.WithdrawalFailed},
	store.WithdrawalBroadcasted: {store.WithdrawalSettled, store.WithdrawalFailed},
}

var depositEdges = map[store.DepositStatus][]store.DepositStatus{
	store.DepositPending:   {store.DepositPending, store.DepositConfirmed, store.DepositFailed},
	store.DepositConfirmed: {store.DepositSettled, store.DepositFailed},
}

var sessionEdges = map[store.SessionStatus][]store.SessionStatus{
	store.SessionOpen: {store.SessionCompleted, store.SessionExpired},
}

func allowed[S comparable](edges map[S][]S, from, to S) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionWithdrawal reports whether a withdrawal request may move from
// one status to another. SETTLED and FAILED are terminal.
func CanTransitionWithdrawal(from, to store.WithdrawalStatus) bool {
	return allowed(withdrawalEdges, from, to)
}

// CanTransitionDeposit allows PENDING to PENDING so confirmation counts can
// be refreshed in place.
func CanTransitionDeposit(from, to store.DepositStatus) bool {
	return allowed(depositEdges, from, to)
}

func CanTransitionSession(from, to store.SessionStatus) bool {
	return allowed(sessionEdges, from, to)
}

// UpdateWithdrawal checks the edge and applies it conditionally on the row
// still being in from.
func UpdateWithdrawal(ctx context.Context, s store.RequestStore, requestID string, from store.WithdrawalStatus, u store.WithdrawalUpdate, at time.Time) error {
	if !CanTransitionWithdrawal(from, u.Status) {
		return illegal("withdrawal", from, u.Status)
	}
	return s.UpdateWithdrawal(ctx, requestID, from, u, at)
}

func UpdateDeposit(ctx context.Context, s store.RequestStore, depositID string, from store.DepositStatus, u store.DepositUpdate, at time.Time) error {
	if !CanTransitionDeposit(from, u.Status) {
		return illegal("deposit", from, u.Status)
	}
	return s.UpdateDeposit(ctx, depositID, from, u, at)
}

func UpdateSession(ctx context.Context, s store.RequestStore, sessionID string, from, to store.SessionStatus, at time.Time) error {
	if !CanTransitionSession(from, to) {
		return illegal("session", from, to)
	}
	return s.UpdateDepositSession(ctx, sessionID, from, to, at)
}

func illegal(kind string, from, to any) error {
	return fmt.Errorf("%w: %s %v -> %v", ErrIllegalTransition, kind, from, to)
}
