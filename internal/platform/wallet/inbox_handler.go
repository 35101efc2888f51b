package wallet

import (
	"context"
	"fmt"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/inbox"
)

// InboxHandler applies provider notifications through the wallet commands.
// Redelivered notifications replay through the command idempotency keys.
type InboxHandler struct {
	svc *Service
}

func NewInboxHandler(svc *Service) *InboxHandler { return &InboxHandler{svc: svc} }

func (h *InboxHandler) HandleEvent(ctx context.Context, ev inbox.Event) error {
	var err error
	switch e := ev.(type) {
	case inbox.DepositConfirmed:
		_, err = h.svc.ApplyDepositSettlement(ctx, ApplyDepositSettlement{
			PlayerID:      e.PlayerID,
			Currency:      e.Currency,
			Network:       e.Network,
			AmountMinor:   e.AmountMinor,
			TxHash:        e.TxHash,
			CorrelationID: e.CorrelationID,
		})
	case inbox.WithdrawalCompleted:
		_, err = h.svc.FinalizeWithdrawal(ctx, FinalizeWithdrawal{
			PlayerID:      e.PlayerID,
			Currency:      e.Currency,
			Network:       e.Network,
			RequestID:     e.RequestID,
			FeeMinor:      e.FeeMinor,
			ProviderRef:   e.ProviderRef,
			CorrelationID: e.CorrelationID,
		})
	case inbox.WithdrawalFailed:
		_, err = h.svc.ReleaseWithdrawal(ctx, ReleaseWithdrawal{
			PlayerID:      e.PlayerID,
			Currency:      e.Currency,
			Network:       e.Network,
			RequestID:     e.RequestID,
			Reason:        e.Reason,
			CorrelationID: e.CorrelationID,
		})
	default:
		return fmt.Errorf("no wallet command for %s", inbox.TypeOf(ev))
	}
	return err
}
