// Package payments owns the request-facing half of the deposit and withdrawal
// flows: request rows, deposit sessions and their state machines. Money only
// moves through the wallet commands; the reconcile workers drive the rest.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/provider"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/wallet"
)

var (
	ErrSessionClosed = errors.New("deposit session is not open")
	ErrNotOwner      = errors.New("request belongs to another player")
)

type Config struct {
	// DefaultConfirmations applies to networks missing from Confirmations.
	DefaultConfirmations int
	Confirmations        map[string]int
}

func (c Config) required(network string) int {
	if n, ok := c.Confirmations[strings.ToUpper(network)]; ok && n > 0 {
		return n
	}
	if c.DefaultConfirmations > 0 {
		return c.DefaultConfirmations
	}
	return 1
}

type RequestWithdrawal struct {
	RequestID     string       `json:"requestId" validate:"required,max=128"`
	PlayerID      string       `json:"playerId" validate:"required,max=128"`
	Currency      string       `json:"currency" validate:"required,max=16"`
	Network       string       `json:"network" validate:"required,max=32"`
	AmountMinor   money.Amount `json:"amountMinor" validate:"gt=0"`
	FeeMinor      money.Amount `json:"feeMinor" validate:"gte=0,ltefield=AmountMinor"`
	Target        string       `json:"target" validate:"required,max=256"`
	CorrelationID string       `json:"correlationId" validate:"max=128"`
}

type RegisterDeposit struct {
	SessionID string `json:"sessionId" validate:"omitempty,uuid"`
	PlayerID  string `json:"playerId" validate:"required,max=128"`
	Currency  string `json:"currency" validate:"required_without=SessionID,max=16"`
	Network   string `json:"network" validate:"required_without=SessionID,max=32"`
	TxHash    string `json:"txHash" validate:"required,max=256"`
}

type Service struct {
	store    store.RequestStore
	wallet   *wallet.Service
	provider provider.Adapter
	clk      clock.Clock
	log      *zap.Logger
	cfg      Config
	validate *validator.Validate
}

func New(s store.RequestStore, w *wallet.Service, p provider.Adapter, cfg Config, clk clock.Clock, log *zap.Logger) *Service {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:    s,
		wallet:   w,
		provider: p,
		clk:      clk,
		log:      log,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Service) check(cmd any) error {
	if err := s.validate.Struct(cmd); err != nil {
		return &wallet.ValidationError{Err: err}
	}
	return nil
}

// RequestWithdrawal records the request and reserves its gross amount. A
// repeated call with the same requestId returns the stored row, resuming the
// reservation when a previous call stopped at REQUESTED.
func (s *Service) RequestWithdrawal(ctx context.Context, cmd RequestWithdrawal) (store.WithdrawalRequest, error) {
	if err := s.check(cmd); err != nil {
		return store.WithdrawalRequest{}, err
	}
	now := s.clk.Now()
	row := store.WithdrawalRequest{
		RequestID:     cmd.RequestID,
		PlayerID:      cmd.PlayerID,
		Asset:         store.CurrencyNetwork{Currency: cmd.Currency, Network: cmd.Network},
		AmountMinor:   cmd.AmountMinor,
		FeeMinor:      cmd.FeeMinor,
		Target:        cmd.Target,
		Status:        store.WithdrawalRequested,
		CorrelationID: cmd.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
		NextCheckAt:   now,
	}
	inserted, err := s.store.InsertWithdrawal(ctx, row)
	if err != nil {
		return store.WithdrawalRequest{}, fmt.Errorf("insert withdrawal request: %w", err)
	}
	if !inserted {
		existing, err := s.store.GetWithdrawal(ctx, cmd.RequestID)
		if err != nil {
			return store.WithdrawalRequest{}, err
		}
		if existing.PlayerID != row.PlayerID || existing.Asset != row.Asset || existing.AmountMinor != row.AmountMinor || existing.Target != row.Target {
			return store.WithdrawalRequest{}, &wallet.ValidationError{Err: fmt.Errorf("requestId %s reused with different parameters", cmd.RequestID)}
		}
		if existing.Status != store.WithdrawalRequested {
			return existing, nil
		}
		row = existing
	}

	log := s.log.With(zap.String("request_id", row.RequestID), zap.String("player_id", row.PlayerID))
	_, err = s.wallet.ReserveWithdrawal(ctx, wallet.ReserveWithdrawal{
		PlayerID:      row.PlayerID,
		Currency:      row.Asset.Currency,
		Network:       row.Asset.Network,
		AmountMinor:   row.AmountMinor,
		RequestID:     row.RequestID,
		CorrelationID: row.CorrelationID,
	})
	switch {
	case wallet.IsDenial(err):
		if uerr := s.move(ctx, &row, store.WithdrawalUpdate{Status: store.WithdrawalFailed, FailureReason: err.Error()}); uerr != nil {
			return store.WithdrawalRequest{}, uerr
		}
		log.Info("withdrawal request rejected", zap.Error(err))
		return row, err
	case err != nil:
		// Left REQUESTED; the caller retries with the same requestId.
		return row, err
	}
	if err := s.move(ctx, &row, store.WithdrawalUpdate{Status: store.WithdrawalProcessing, NextCheckAt: s.clk.Now()}); err != nil {
		return store.WithdrawalRequest{}, err
	}
	log.Info("withdrawal request reserved", zap.Stringer("amount_minor", row.AmountMinor))
	return row, nil
}

// move applies u from row's current status and refreshes row. A concurrent
// caller that already moved the row is not an error.
func (s *Service) move(ctx context.Context, row *store.WithdrawalRequest, u store.WithdrawalUpdate) error {
	err := UpdateWithdrawal(ctx, s.store, row.RequestID, row.Status, u, s.clk.Now())
	if err != nil && !errors.Is(err, store.ErrStaleState) {
		return fmt.Errorf("update withdrawal %s: %w", row.RequestID, err)
	}
	fresh, err := s.store.GetWithdrawal(ctx, row.RequestID)
	if err != nil {
		return err
	}
	*row = fresh
	return nil
}

func (s *Service) GetWithdrawal(ctx context.Context, requestID string) (store.WithdrawalRequest, error) {
	return s.store.GetWithdrawal(ctx, requestID)
}

// OpenDepositSession asks the provider for a deposit address.
func (s *Service) OpenDepositSession(ctx context.Context, playerID string, asset store.CurrencyNetwork) (store.DepositSession, error) {
	if playerID == "" || asset.Currency == "" || asset.Network == "" {
		return store.DepositSession{}, &wallet.ValidationError{Err: errors.New("playerId, currency and network are required")}
	}
	ps, err := s.provider.CreateDepositSession(ctx, playerID, asset)
	if err != nil {
		return store.DepositSession{}, fmt.Errorf("create deposit session: %w", err)
	}
	now := s.clk.Now()
	sess := store.DepositSession{
		SessionID: uuid.NewString(),
		PlayerID:  playerID,
		Asset:     asset,
		Address:   ps.Address,
		Status:    store.SessionOpen,
		ExpiresAt: ps.ExpiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertDepositSession(ctx, sess); err != nil {
		return store.DepositSession{}, fmt.Errorf("insert deposit session: %w", err)
	}
	s.log.Info("deposit session opened", zap.String("session_id", sess.SessionID), zap.String("player_id", playerID), zap.String("asset", asset.String()))
	return sess, nil
}

// RegisterDeposit records an observed on-chain transfer for confirmation
// tracking. It is idempotent on the transaction hash.
func (s *Service) RegisterDeposit(ctx context.Context, cmd RegisterDeposit) (store.DepositRequest, error) {
	if err := s.check(cmd); err != nil {
		return store.DepositRequest{}, err
	}
	asset := store.CurrencyNetwork{Currency: cmd.Currency, Network: cmd.Network}
	if cmd.SessionID != "" {
		sess, err := s.store.GetDepositSession(ctx, cmd.SessionID)
		if err != nil {
			return store.DepositRequest{}, fmt.Errorf("deposit session %s: %w", cmd.SessionID, err)
		}
		if sess.PlayerID != cmd.PlayerID {
			return store.DepositRequest{}, ErrNotOwner
		}
		if sess.Status != store.SessionOpen || !sess.ExpiresAt.After(s.clk.Now()) {
			return store.DepositRequest{}, ErrSessionClosed
		}
		asset = sess.Asset
	}
	now := s.clk.Now()
	d := store.DepositRequest{
		DepositID:             uuid.NewString(),
		SessionID:             cmd.SessionID,
		PlayerID:              cmd.PlayerID,
		Asset:                 asset,
		TxHash:                cmd.TxHash,
		ConfirmationsRequired: s.cfg.required(asset.Network),
		Status:                store.DepositPending,
		CreatedAt:             now,
		UpdatedAt:             now,
		NextCheckAt:           now,
	}
	inserted, err := s.store.InsertDeposit(ctx, d)
	if err != nil {
		return store.DepositRequest{}, fmt.Errorf("insert deposit: %w", err)
	}
	if inserted {
		s.log.Info("deposit registered", zap.String("deposit_id", d.DepositID), zap.String("tx_hash", d.TxHash), zap.String("player_id", d.PlayerID))
		return d, nil
	}
	existing, err := s.store.GetDepositByTxHash(ctx, cmd.TxHash)
	if err != nil {
		return store.DepositRequest{}, err
	}
	if existing.PlayerID != cmd.PlayerID {
		return store.DepositRequest{}, ErrNotOwner
	}
	return existing, nil
}
