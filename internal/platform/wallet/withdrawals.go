package wallet

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/idempotency"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/ledger"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/outbox"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

func withdrawalRef(requestID string) string { return "withdrawal:" + requestID }

// ReserveWithdrawal moves amount from MAIN into WITHDRAW_HOLD.
func (s *Service) ReserveWithdrawal(ctx context.Context, cmd ReserveWithdrawal) (Result, error) {
	if err := s.check(cmd); err != nil {
		return Result{}, err
	}
	a := asset(cmd.Currency, cmd.Network)
	main := store.PlayerAccount(cmd.PlayerID, a, store.AccountMain)
	hold := store.PlayerAccount(cmd.PlayerID, a, store.AccountWithdrawHold)
	scope := idempotency.Scope{
		Source:      SourceWithdrawReserve,
		Key:         cmd.RequestID,
		RequestHash: idempotency.HashRequest(cmd.PlayerID, cmd.Currency, cmd.Network, cmd.AmountMinor.String()),
	}
	return s.runCommand(ctx, "ReserveWithdrawal", func(ctx context.Context, tx store.Tx) (Result, idempotency.Outcome, error) {
		return idempotency.Execute(ctx, s.guard, tx, scope, func(ctx context.Context) (string, Result, error) {
			locked, err := s.engine.Lock(ctx, tx, main, hold)
			if err != nil {
				return "", Result{}, err
			}
			if cash := locked[main].CashableMinor; cash < cmd.AmountMinor {
				return "", Result{}, fmt.Errorf("%w: cashable %s < %s", ErrInsufficientFunds, cash, cmd.AmountMinor)
			}
			res, err := s.post(ctx, tx, ledger.PostRequest{
				TxType:      store.TxWithdrawReserve,
				ExternalRef: withdrawalRef(cmd.RequestID),
				Metadata:    cmd.Metadata,
				Entries:     []ledger.Entry{ledger.DebitOf(main, cmd.AmountMinor), ledger.CreditOf(hold, cmd.AmountMinor)},
			}, main, EventPayload{
				PlayerID:      cmd.PlayerID,
				Currency:      cmd.Currency,
				Network:       cmd.Network,
				AmountMinor:   cmd.AmountMinor,
				Reference:     cmd.RequestID,
				CorrelationID: cmd.CorrelationID,
			}, outbox.WithdrawalReserved)
			return res.TransactionID, res, err
		})
	})
}

// openReservation returns what is still held for requestID. A fully drawn
// reservation is ErrReservationClosed, a never-made one ErrNoSuchReservation.
func (s *Service) openReservation(ctx context.Context, tx store.Tx, hold store.Balance, requestID string) (money.Amount, error) {
	held, err := tx.SumPostingsByRef(ctx, hold.AccountID, withdrawalRef(requestID))
	if err != nil {
		return 0, err
	}
	if held > 0 {
		return held, nil
	}
	rec, found, err := s.guard.Lookup(ctx, tx, SourceWithdrawReserve, requestID)
	if err != nil {
		return 0, err
	}
	if found {
		var reserved Result
		if err := json.Unmarshal(rec.Response, &reserved); err == nil && reserved.PlayerID == hold.Key.PlayerID &&
			reserved.Currency == hold.Key.Asset.Currency && reserved.Network == hold.Key.Asset.Network {
			return 0, fmt.Errorf("%w: %s", ErrReservationClosed, requestID)
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNoSuchReservation, requestID)
}

// FinalizeWithdrawal pays out a reservation. The fee is carved out of the
// reserved gross amount and credited to HOUSE_FEES; the rest leaves through
// EXTERNAL.
func (s *Service) FinalizeWithdrawal(ctx context.Context, cmd FinalizeWithdrawal) (Result, error) {
	if err := s.check(cmd); err != nil {
		return Result{}, err
	}
	a := asset(cmd.Currency, cmd.Network)
	main := store.PlayerAccount(cmd.PlayerID, a, store.AccountMain)
	hold := store.PlayerAccount(cmd.PlayerID, a, store.AccountWithdrawHold)
	fees := store.SystemAccount(a, store.AccountHouseFees)
	ext := store.SystemAccount(a, store.AccountExternal)
	scope := idempotency.Scope{
		Source:      SourceWithdrawFinalize,
		Key:         cmd.RequestID,
		RequestHash: idempotency.HashRequest(cmd.PlayerID, cmd.Currency, cmd.Network, cmd.FeeMinor.String()),
	}
	return s.runCommand(ctx, "FinalizeWithdrawal", func(ctx context.Context, tx store.Tx) (Result, idempotency.Outcome, error) {
		return idempotency.Execute(ctx, s.guard, tx, scope, func(ctx context.Context) (string, Result, error) {
			locked, err := s.engine.Lock(ctx, tx, main, hold, fees, ext)
			if err != nil {
				return "", Result{}, err
			}
			gross, err := s.openReservation(ctx, tx, locked[hold], cmd.RequestID)
			if err != nil {
				return "", Result{}, err
			}
			if cmd.FeeMinor > gross {
				return "", Result{}, invalid("fee %s exceeds reserved %s", cmd.FeeMinor, gross)
			}
			payout := gross - cmd.FeeMinor
			entries := []ledger.Entry{ledger.DebitOf(hold, gross)}
			if cmd.FeeMinor > 0 {
				entries = append(entries, ledger.CreditOf(fees, cmd.FeeMinor))
			}
			if payout > 0 {
				entries = append(entries, ledger.CreditOf(ext, payout))
			}
			var meta json.RawMessage
			if cmd.ProviderRef != "" {
				meta, _ = json.Marshal(map[string]string{"providerRef": cmd.ProviderRef})
			}
			res, err := s.post(ctx, tx, ledger.PostRequest{
				TxType:      store.TxWithdrawFinalize,
				ExternalRef: withdrawalRef(cmd.RequestID),
				Metadata:    meta,
				Entries:     entries,
			}, main, EventPayload{
				PlayerID:      cmd.PlayerID,
				Currency:      cmd.Currency,
				Network:       cmd.Network,
				AmountMinor:   payout,
				FeeMinor:      cmd.FeeMinor,
				Reference:     cmd.RequestID,
				CorrelationID: cmd.CorrelationID,
			}, outbox.WithdrawalFinalized)
			return res.TransactionID, res, err
		})
	})
}

// ReleaseWithdrawal returns an open reservation to MAIN.
func (s *Service) ReleaseWithdrawal(ctx context.Context, cmd ReleaseWithdrawal) (Result, error) {
	if err := s.check(cmd); err != nil {
		return Result{}, err
	}
	a := asset(cmd.Currency, cmd.Network)
	main := store.PlayerAccount(cmd.PlayerID, a, store.AccountMain)
	hold := store.PlayerAccount(cmd.PlayerID, a, store.AccountWithdrawHold)
	scope := idempotency.Scope{
		Source:      SourceWithdrawRelease,
		Key:         cmd.RequestID,
		RequestHash: idempotency.HashRequest(cmd.PlayerID, cmd.Currency, cmd.Network),
	}
	return s.runCommand(ctx, "ReleaseWithdrawal", func(ctx context.Context, tx store.Tx) (Result, idempotency.Outcome, error) {
		return idempotency.Execute(ctx, s.guard, tx, scope, func(ctx context.Context) (string, Result, error) {
			locked, err := s.engine.Lock(ctx, tx, main, hold)
			if err != nil {
				return "", Result{}, err
			}
			held, err := s.openReservation(ctx, tx, locked[hold], cmd.RequestID)
			if err != nil {
				return "", Result{}, err
			}
			var meta json.RawMessage
			if cmd.Reason != "" {
				meta, _ = json.Marshal(map[string]string{"reason": cmd.Reason})
			}
			res, err := s.post(ctx, tx, ledger.PostRequest{
				TxType:      store.TxWithdrawRelease,
				ExternalRef: withdrawalRef(cmd.RequestID),
				Metadata:    meta,
				Entries:     []ledger.Entry{ledger.DebitOf(hold, held), ledger.CreditOf(main, held)},
			}, main, EventPayload{
				PlayerID:      cmd.PlayerID,
				Currency:      cmd.Currency,
				Network:       cmd.Network,
				AmountMinor:   held,
				Reference:     cmd.RequestID,
				CorrelationID: cmd.CorrelationID,
			}, outbox.WithdrawalReleased)
			return res.TransactionID, res, err
		})
	})
}
