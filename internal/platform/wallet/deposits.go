package wallet

import (
	"context"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/idempotency"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/ledger"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/outbox"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
)

// ApplyDepositSettlement credits a confirmed deposit to MAIN against the
// EXTERNAL clearing account. The chain tx hash is the idempotency key; the
// caller's key is used only when no hash is known.
func (s *Service) ApplyDepositSettlement(ctx context.Context, cmd ApplyDepositSettlement) (Result, error) {
	if err := s.check(cmd); err != nil {
		return Result{}, err
	}
	key := cmd.TxHash
	if key == "" {
		key = cmd.IdempotencyKey
	}
	a := asset(cmd.Currency, cmd.Network)
	main := store.PlayerAccount(cmd.PlayerID, a, store.AccountMain)
	ext := store.SystemAccount(a, store.AccountExternal)
	scope := idempotency.Scope{
		Source:      SourceDeposit,
		Key:         key,
		RequestHash: idempotency.HashRequest(cmd.PlayerID, cmd.Currency, cmd.Network, cmd.AmountMinor.String()),
	}
	return s.runCommand(ctx, "ApplyDepositSettlement", func(ctx context.Context, tx store.Tx) (Result, idempotency.Outcome, error) {
		return idempotency.Execute(ctx, s.guard, tx, scope, func(ctx context.Context) (string, Result, error) {
			res, err := s.post(ctx, tx, ledger.PostRequest{
				TxType:      store.TxDeposit,
				ExternalRef: "deposit:" + key,
				Metadata:    cmd.Metadata,
				Entries:     []ledger.Entry{ledger.DebitOf(ext, cmd.AmountMinor), ledger.CreditOf(main, cmd.AmountMinor)},
			}, main, EventPayload{
				PlayerID:      cmd.PlayerID,
				Currency:      cmd.Currency,
				Network:       cmd.Network,
				AmountMinor:   cmd.AmountMinor,
				Reference:     key,
				CorrelationID: cmd.CorrelationID,
			}, outbox.DepositSettled)
			return res.TransactionID, res, err
		})
	})
}
