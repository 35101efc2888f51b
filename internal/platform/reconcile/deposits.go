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

const depositWorker = "deposit"

type DepositWorker struct {
	store    store.RequestStore
	wallet   *wallet.Service
	provider provider.Adapter
	cfg      Config
	clk      clock.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewDepositWorker(s store.RequestStore, w *wallet.Service, p provider.Adapter, cfg Config, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *DepositWorker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DepositWorker{store: s, wallet: w, provider: p, cfg: cfg.withDefaults(), clk: clk, log: log.With(zap.String("worker", depositWorker)), metrics: m}
}

// RunOnce expires stale deposit sessions, then checks every due PENDING or
// CONFIRMED deposit against the provider.
func (d *DepositWorker) RunOnce(ctx context.Context) (int, error) {
	now := d.clk.Now()
	expired, err := d.store.ExpireDepositSessions(ctx, now)
	if err != nil {
		d.log.Error("expire deposit sessions failed", zap.Error(err))
	} else if expired > 0 {
		d.log.Info("deposit sessions expired", zap.Int64("count", expired))
	}

	rows, err := d.store.ClaimDeposits(ctx, []store.DepositStatus{store.DepositPending, store.DepositConfirmed}, now, d.cfg.Lease, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim deposits: %w", err)
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		result, err := d.step(ctx, row)
		if err != nil {
			result = "error"
			d.log.Warn("deposit reconcile failed", zap.String("deposit_id", row.DepositID), zap.String("tx_hash", row.TxHash), zap.Error(err))
		}
		d.metrics.ObserveReconcile(depositWorker, result)
	}
	return len(rows), nil
}

func (d *DepositWorker) step(ctx context.Context, row store.DepositRequest) (string, error) {
	if row.Status == store.DepositConfirmed {
		return d.settle(ctx, row)
	}
	st, err := d.provider.VerifyDeposit(ctx, row.Asset, row.TxHash)
	if provider.IsPermanent(err) {
		return d.update(row, store.DepositUpdate{Status: store.DepositFailed, FailureReason: err.Error()}, "failed")
	}
	if err != nil {
		return "", err
	}
	if !st.Found {
		return "pending", nil
	}
	amount, err := st.AmountMinor()
	if err != nil || !amount.IsPositive() {
		reason := "non-positive amount " + st.Amount
		if err != nil {
			reason = err.Error()
		}
		return d.update(row, store.DepositUpdate{Status: store.DepositFailed, FailureReason: reason}, "failed")
	}
	if st.Confirmations < row.ConfirmationsRequired {
		return d.update(row, store.DepositUpdate{
			Status:        store.DepositPending,
			AmountMinor:   amount,
			Confirmations: st.Confirmations,
			NextCheckAt:   d.clk.Now().Add(d.cfg.PollDelay),
		}, "pending")
	}
	result, err := d.update(row, store.DepositUpdate{Status: store.DepositConfirmed, AmountMinor: amount, Confirmations: st.Confirmations}, "confirmed")
	if err != nil || result != "confirmed" {
		return result, err
	}
	row.Status = store.DepositConfirmed
	row.AmountMinor = amount
	row.Confirmations = st.Confirmations
	return d.settle(ctx, row)
}

func (d *DepositWorker) settle(ctx context.Context, row store.DepositRequest) (string, error) {
	_, err := d.wallet.ApplyDepositSettlement(ctx, wallet.ApplyDepositSettlement{
		PlayerID:    row.PlayerID,
		Currency:    row.Asset.Currency,
		Network:     row.Asset.Network,
		AmountMinor: row.AmountMinor,
		TxHash:      row.TxHash,
	})
	if err != nil {
		return "", fmt.Errorf("apply deposit: %w", err)
	}
	result, err := d.update(row, store.DepositUpdate{Status: store.DepositSettled, Confirmations: row.Confirmations}, "settled")
	if err != nil || result != "settled" {
		return result, err
	}
	if row.SessionID != "" {
		err := payments.UpdateSession(context.Background(), d.store, row.SessionID, store.SessionOpen, store.SessionCompleted, d.clk.Now())
		if err != nil && !errors.Is(err, store.ErrStaleState) {
			d.log.Warn("complete deposit session failed", zap.String("session_id", row.SessionID), zap.Error(err))
		}
	}
	d.log.Info("deposit settled", zap.String("deposit_id", row.DepositID), zap.String("player_id", row.PlayerID), zap.Stringer("amount_minor", row.AmountMinor))
	return result, nil
}

func (d *DepositWorker) update(row store.DepositRequest, u store.DepositUpdate, result string) (string, error) {
	err := payments.UpdateDeposit(context.Background(), d.store, row.DepositID, row.Status, u, d.clk.Now())
	if errors.Is(err, store.ErrStaleState) {
		d.log.Debug("deposit moved by another worker", zap.String("deposit_id", row.DepositID))
		return "skipped", nil
	}
	if err != nil {
		return "", err
	}
	return result, nil
}

func (d *DepositWorker) Run(ctx context.Context) error {
	return loop(ctx, depositWorker, d.cfg.Interval, d.log, d.RunOnce)
}
