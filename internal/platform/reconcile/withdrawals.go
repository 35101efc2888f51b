package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/metrics"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/payments"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/provider"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/wallet"
)

const withdrawalWorker = "withdrawal"

type WithdrawalWorker struct {
	store    store.RequestStore
	wallet   *wallet.Service
	provider provider.Adapter
	cfg      Config
	clk      clock.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewWithdrawalWorker(s store.RequestStore, w *wallet.Service, p provider.Adapter, cfg Config, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *WithdrawalWorker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WithdrawalWorker{store: s, wallet: w, provider: p, cfg: cfg.withDefaults(), clk: clk, log: log.With(zap.String("worker", withdrawalWorker)), metrics: m}
}

// RunOnce claims due PROCESSING and BROADCASTED requests and advances each one
// step. A failing row is logged and left for a later cycle.
func (w *WithdrawalWorker) RunOnce(ctx context.Context) (int, error) {
	rows, err := w.store.ClaimWithdrawals(ctx, []store.WithdrawalStatus{store.WithdrawalProcessing, store.WithdrawalBroadcasted}, w.clk.Now(), w.cfg.Lease, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim withdrawals: %w", err)
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		result, err := w.step(ctx, row)
		if err != nil {
			result = "error"
			lvl := w.log.Warn
			if !errors.Is(err, provider.ErrUnavailable) {
				lvl = w.log.Error
			}
			lvl("withdrawal reconcile failed", zap.String("request_id", row.RequestID), zap.String("status", string(row.Status)), zap.Error(err))
		}
		w.metrics.ObserveReconcile(withdrawalWorker, result)
	}
	return len(rows), nil
}

func (w *WithdrawalWorker) step(ctx context.Context, row store.WithdrawalRequest) (string, error) {
	switch {
	case row.Status == store.WithdrawalProcessing:
		return w.send(ctx, row)
	case row.ProviderRef == "":
		return w.fail(ctx, row, "broadcast without provider reference")
	default:
		return w.poll(ctx, row)
	}
}

func (w *WithdrawalWorker) send(ctx context.Context, row store.WithdrawalRequest) (string, error) {
	ref, err := w.provider.SendWithdrawal(ctx, provider.Withdrawal{
		RequestID:   row.RequestID,
		Asset:       row.Asset,
		Target:      row.Target,
		AmountMinor: row.AmountMinor - row.FeeMinor,
	})
	if provider.IsPermanent(err) {
		return w.fail(ctx, row, err.Error())
	}
	if err != nil {
		return "", err
	}
	err = payments.UpdateWithdrawal(ctx, w.store, row.RequestID, row.Status, store.WithdrawalUpdate{
		Status:      store.WithdrawalBroadcasted,
		ProviderRef: ref,
		NextCheckAt: w.clk.Now().Add(w.cfg.PollDelay),
	}, w.clk.Now())
	if err != nil {
		return w.stale(row, err)
	}
	w.log.Info("withdrawal broadcast", zap.String("request_id", row.RequestID), zap.String("provider_ref", ref))
	return "broadcast", nil
}

func (w *WithdrawalWorker) poll(ctx context.Context, row store.WithdrawalRequest) (string, error) {
	st, err := w.provider.GetTransactionStatus(ctx, row.Asset, row.ProviderRef)
	if provider.IsPermanent(err) {
		return w.fail(ctx, row, err.Error())
	}
	if err != nil {
		return "", err
	}
	if !st.IsFinal {
		return "pending", nil
	}
	if st.Status != provider.TxConfirmed {
		reason := st.Reason
		if reason == "" {
			reason = "provider reported " + string(st.Status)
		}
		return w.fail(ctx, row, reason)
	}

	_, err = w.wallet.FinalizeWithdrawal(ctx, wallet.FinalizeWithdrawal{
		PlayerID:      row.PlayerID,
		Currency:      row.Asset.Currency,
		Network:       row.Asset.Network,
		RequestID:     row.RequestID,
		FeeMinor:      row.FeeMinor,
		ProviderRef:   row.ProviderRef,
		CorrelationID: row.CorrelationID,
	})
	if errors.Is(err, wallet.ErrReservationClosed) {
		// Released elsewhere (a provider failure notification); the ledger wins.
		return w.mark(row, store.WithdrawalUpdate{Status: store.WithdrawalFailed, FailureReason: "reservation released before settlement"}, "failed")
	}
	if err != nil {
		return "", fmt.Errorf("finalize: %w", err)
	}
	return w.mark(row, store.WithdrawalUpdate{Status: store.WithdrawalSettled}, "settled")
}

// fail releases the reservation back to the player and marks the row FAILED.
func (w *WithdrawalWorker) fail(ctx context.Context, row store.WithdrawalRequest, reason string) (string, error) {
	_, err := w.wallet.ReleaseWithdrawal(ctx, wallet.ReleaseWithdrawal{
		PlayerID:      row.PlayerID,
		Currency:      row.Asset.Currency,
		Network:       row.Asset.Network,
		RequestID:     row.RequestID,
		Reason:        reason,
		CorrelationID: row.CorrelationID,
	})
	if errors.Is(err, wallet.ErrReservationClosed) {
		return w.mark(row, store.WithdrawalUpdate{Status: store.WithdrawalSettled}, "settled")
	}
	if err != nil {
		return "", fmt.Errorf("release: %w", err)
	}
	w.log.Info("withdrawal failed, reservation released", zap.String("request_id", row.RequestID), zap.String("reason", reason))
	return w.mark(row, store.WithdrawalUpdate{Status: store.WithdrawalFailed, FailureReason: reason}, "failed")
}

func (w *WithdrawalWorker) mark(row store.WithdrawalRequest, u store.WithdrawalUpdate, result string) (string, error) {
	from := row.Status
	if from == store.WithdrawalProcessing && u.Status == store.WithdrawalSettled {
		// PROCESSING cannot settle directly; the ledger already did.
		if err := w.update(row.RequestID, from, store.WithdrawalUpdate{Status: store.WithdrawalBroadcasted, ProviderRef: row.ProviderRef}); err != nil {
			return w.stale(row, err)
		}
		from = store.WithdrawalBroadcasted
	}
	if err := w.update(row.RequestID, from, u); err != nil {
		return w.stale(row, err)
	}
	return result, nil
}

func (w *WithdrawalWorker) update(requestID string, from store.WithdrawalStatus, u store.WithdrawalUpdate) error {
	// Detached from the cycle context: the ledger side is already committed.
	return payments.UpdateWithdrawal(context.Background(), w.store, requestID, from, u, w.clk.Now())
}

func (w *WithdrawalWorker) stale(row store.WithdrawalRequest, err error) (string, error) {
	if errors.Is(err, store.ErrStaleState) {
		w.log.Debug("withdrawal moved by another worker", zap.String("request_id", row.RequestID))
		return "skipped", nil
	}
	return "", err
}

func (w *WithdrawalWorker) Run(ctx context.Context) error {
	return loop(ctx, withdrawalWorker, w.cfg.Interval, w.log, w.RunOnce)
}
