package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/auth"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/money"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/payments"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/wallet"
	"github.com/wizardbeardstudio/open-wallet-go/pkg/walletv1"
)

// WalletService exposes the wallet commands and the payment request flows
// over wallet.v1. Business outcomes travel in the response meta; only
// infrastructure failures become gRPC errors.
type WalletService struct {
	walletv1.UnimplementedWalletServiceServer

	Wallet    *wallet.Service
	Payments  *payments.Service
	Policy    auth.Policy
	Clock     clock.Clock
	Log       *zap.Logger
	StartedAt time.Time
	Version   string
}

func (s *WalletService) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s *WalletService) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *WalletService) command(ctx context.Context, method string, authErr error, run func() (wallet.Result, error)) (*walletv1.CommandResponse, error) {
	if authErr != nil {
		s.logger().Warn("wallet call denied", zap.String("method", method), zap.String("actor", actorLabel(ctx)), zap.Error(authErr))
		return &walletv1.CommandResponse{Meta: responseMeta(s.now(), authErr)}, nil
	}
	res, err := run()
	if terr := transportError(err); terr != nil {
		return nil, terr
	}
	out := &walletv1.CommandResponse{Meta: responseMeta(s.now(), err)}
	if err != nil {
		return out, nil
	}
	out.TransactionId = res.TransactionID
	out.TxType = string(res.TxType)
	out.AmountMinor = res.AmountMinor.Int64()
	out.FeeMinor = res.FeeMinor.Int64()
	out.Reference = res.Reference
	out.Replayed = res.Replayed
	b := balanceOf(res.Main)
	out.Balance = &b
	return out, nil
}

func balanceOf(v wallet.BalanceView) walletv1.Balance {
	return walletv1.Balance{
		Currency:      v.Currency,
		Network:       v.Network,
		BalanceMinor:  v.BalanceMinor.Int64(),
		ReservedMinor: v.ReservedMinor.Int64(),
		CashableMinor: v.CashableMinor.Int64(),
	}
}

func (s *WalletService) ReserveWithdrawal(ctx context.Context, req *walletv1.ReserveWithdrawalRequest) (*walletv1.CommandResponse, error) {
	return s.command(ctx, "ReserveWithdrawal", s.Policy.CanMutate(ctx), func() (wallet.Result, error) {
		return s.Wallet.ReserveWithdrawal(ctx, wallet.ReserveWithdrawal{
			PlayerID:      req.PlayerId,
			Currency:      req.Currency,
			Network:       req.Network,
			AmountMinor:   money.Amount(req.AmountMinor),
			RequestID:     req.RequestId,
			CorrelationID: req.CorrelationId,
			Metadata:      req.Metadata,
		})
	})
}

func (s *WalletService) FinalizeWithdrawal(ctx context.Context, req *walletv1.FinalizeWithdrawalRequest) (*walletv1.CommandResponse, error) {
	return s.command(ctx, "FinalizeWithdrawal", s.Policy.CanMutate(ctx), func() (wallet.Result, error) {
		return s.Wallet.FinalizeWithdrawal(ctx, wallet.FinalizeWithdrawal{
			PlayerID:      req.PlayerId,
			Currency:      req.Currency,
			Network:       req.Network,
			RequestID:     req.RequestId,
			FeeMinor:      money.Amount(req.FeeMinor),
			ProviderRef:   req.ProviderRef,
			CorrelationID: req.CorrelationId,
		})
	})
}

func (s *WalletService) ReleaseWithdrawal(ctx context.Context, req *walletv1.ReleaseWithdrawalRequest) (*walletv1.CommandResponse, error) {
	return s.command(ctx, "ReleaseWithdrawal", s.Policy.CanMutate(ctx), func() (wallet.Result, error) {
		return s.Wallet.ReleaseWithdrawal(ctx, wallet.ReleaseWithdrawal{
			PlayerID:      req.PlayerId,
			Currency:      req.Currency,
			Network:       req.Network,
			RequestID:     req.RequestId,
			Reason:        req.Reason,
			CorrelationID: req.CorrelationId,
		})
	})
}

func (s *WalletService) ApplyDepositSettlement(ctx context.Context, req *walletv1.ApplyDepositSettlementRequest) (*walletv1.CommandResponse, error) {
	return s.command(ctx, "ApplyDepositSettlement", s.Policy.CanMutate(ctx), func() (wallet.Result, error) {
		return s.Wallet.ApplyDepositSettlement(ctx, wallet.ApplyDepositSettlement{
			PlayerID:       req.PlayerId,
			Currency:       req.Currency,
			Network:        req.Network,
			AmountMinor:    money.Amount(req.AmountMinor),
			TxHash:         req.TxHash,
			IdempotencyKey: req.IdempotencyKey,
			CorrelationID:  req.CorrelationId,
			Metadata:       req.Metadata,
		})
	})
}

func (s *WalletService) PlaceBet(ctx context.Context, req *walletv1.PlaceBetRequest) (*walletv1.CommandResponse, error) {
	return s.command(ctx, "PlaceBet", s.Policy.CanMutate(ctx), func() (wallet.Result, error) {
		return s.Wallet.PlaceBet(ctx, wallet.PlaceBet{
			PlayerID:    req.PlayerId,
			Currency:    req.Currency,
			Network:     req.Network,
			BetID:       req.BetId,
			StakeMinor:  money.Amount(req.StakeMinor),
			GameRef:     req.GameRef,
			Metadata:    req.Metadata,
			Correlation: req.CorrelationId,
		})
	})
}

func (s *WalletService) SettleWin(ctx context.Context, req *walletv1.SettleWinRequest) (*walletv1.CommandResponse, error) {
	return s.command(ctx, "SettleWin", s.Policy.CanMutate(ctx), func() (wallet.Result, error) {
		return s.Wallet.SettleWin(ctx, wallet.SettleWin{
			PlayerID:    req.PlayerId,
			Currency:    req.Currency,
			Network:     req.Network,
			WinID:       req.WinId,
			BetID:       req.BetId,
			AmountMinor: money.Amount(req.AmountMinor),
			Metadata:    req.Metadata,
			Correlation: req.CorrelationId,
		})
	})
}

func (s *WalletService) Rollback(ctx context.Context, req *walletv1.RollbackRequest) (*walletv1.CommandResponse, error) {
	return s.command(ctx, "Rollback", s.Policy.CanMutate(ctx), func() (wallet.Result, error) {
		return s.Wallet.Rollback(ctx, wallet.Rollback{
			RollbackID:    req.RollbackId,
			TransactionID: req.TransactionId,
			BetID:         req.BetId,
			WinID:         req.WinId,
			Reason:        req.Reason,
			Correlation:   req.CorrelationId,
		})
	})
}

func (s *WalletService) GetBalance(ctx context.Context, req *walletv1.GetBalanceRequest) (*walletv1.GetBalanceResponse, error) {
	err := s.Policy.CanActForPlayer(ctx, req.PlayerId)
	var views []wallet.BalanceView
	if err == nil {
		views, err = s.Wallet.GetBalance(ctx, req.PlayerId)
	}
	if terr := transportError(err); terr != nil {
		return nil, terr
	}
	out := &walletv1.GetBalanceResponse{Meta: responseMeta(s.now(), err), Balances: make([]walletv1.Balance, 0, len(views))}
	for _, v := range views {
		out.Balances = append(out.Balances, balanceOf(v))
	}
	return out, nil
}

func withdrawalOf(w store.WithdrawalRequest) *walletv1.Withdrawal {
	return &walletv1.Withdrawal{
		RequestId:     w.RequestID,
		PlayerId:      w.PlayerID,
		Currency:      w.Asset.Currency,
		Network:       w.Asset.Network,
		AmountMinor:   w.AmountMinor.Int64(),
		FeeMinor:      w.FeeMinor.Int64(),
		Target:        w.Target,
		Status:        string(w.Status),
		ProviderRef:   w.ProviderRef,
		FailureReason: w.FailureReason,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

func (s *WalletService) RequestWithdrawal(ctx context.Context, req *walletv1.RequestWithdrawalRequest) (*walletv1.WithdrawalResponse, error) {
	err := s.Policy.CanActForPlayer(ctx, req.PlayerId)
	var row store.WithdrawalRequest
	if err == nil {
		row, err = s.Payments.RequestWithdrawal(ctx, payments.RequestWithdrawal{
			RequestID:     req.RequestId,
			PlayerID:      req.PlayerId,
			Currency:      req.Currency,
			Network:       req.Network,
			AmountMinor:   money.Amount(req.AmountMinor),
			FeeMinor:      money.Amount(req.FeeMinor),
			Target:        req.Target,
			CorrelationID: req.CorrelationId,
		})
	}
	if terr := transportError(err); terr != nil {
		return nil, terr
	}
	out := &walletv1.WithdrawalResponse{Meta: responseMeta(s.now(), err)}
	if row.RequestID != "" {
		out.Withdrawal = withdrawalOf(row)
	}
	return out, nil
}

func (s *WalletService) GetWithdrawal(ctx context.Context, req *walletv1.GetWithdrawalRequest) (*walletv1.WithdrawalResponse, error) {
	row, err := s.Payments.GetWithdrawal(ctx, req.RequestId)
	if err == nil {
		err = s.Policy.CanActForPlayer(ctx, row.PlayerID)
	}
	if terr := transportError(err); terr != nil {
		return nil, terr
	}
	out := &walletv1.WithdrawalResponse{Meta: responseMeta(s.now(), err)}
	if err == nil {
		out.Withdrawal = withdrawalOf(row)
	}
	return out, nil
}

func (s *WalletService) OpenDepositSession(ctx context.Context, req *walletv1.OpenDepositSessionRequest) (*walletv1.DepositSessionResponse, error) {
	err := s.Policy.CanActForPlayer(ctx, req.PlayerId)
	var sess store.DepositSession
	if err == nil {
		sess, err = s.Payments.OpenDepositSession(ctx, req.PlayerId, store.CurrencyNetwork{Currency: req.Currency, Network: req.Network})
	}
	if terr := transportError(err); terr != nil {
		return nil, terr
	}
	out := &walletv1.DepositSessionResponse{Meta: responseMeta(s.now(), err)}
	if err == nil {
		out.Session = &walletv1.DepositSession{
			SessionId: sess.SessionID,
			PlayerId:  sess.PlayerID,
			Currency:  sess.Asset.Currency,
			Network:   sess.Asset.Network,
			Address:   sess.Address,
			Status:    string(sess.Status),
			ExpiresAt: sess.ExpiresAt,
		}
	}
	return out, nil
}

func (s *WalletService) RegisterDeposit(ctx context.Context, req *walletv1.RegisterDepositRequest) (*walletv1.DepositResponse, error) {
	err := s.Policy.CanActForPlayer(ctx, req.PlayerId)
	var d store.DepositRequest
	if err == nil {
		d, err = s.Payments.RegisterDeposit(ctx, payments.RegisterDeposit{
			SessionID: req.SessionId,
			PlayerID:  req.PlayerId,
			Currency:  req.Currency,
			Network:   req.Network,
			TxHash:    req.TxHash,
		})
	}
	if terr := transportError(err); terr != nil {
		return nil, terr
	}
	out := &walletv1.DepositResponse{Meta: responseMeta(s.now(), err)}
	if err == nil {
		out.Deposit = &walletv1.Deposit{
			DepositId:             d.DepositID,
			SessionId:             d.SessionID,
			PlayerId:              d.PlayerID,
			Currency:              d.Asset.Currency,
			Network:               d.Asset.Network,
			TxHash:                d.TxHash,
			AmountMinor:           d.AmountMinor.Int64(),
			Confirmations:         d.Confirmations,
			ConfirmationsRequired: d.ConfirmationsRequired,
			Status:                string(d.Status),
		}
	}
	return out, nil
}

func (s *WalletService) GetSystemStatus(_ context.Context, _ *walletv1.GetSystemStatusRequest) (*walletv1.GetSystemStatusResponse, error) {
	now := s.now()
	return &walletv1.GetSystemStatusResponse{
		Meta:        responseMeta(now, nil),
		ServiceName: "open-wallet-go",
		Version:     s.Version,
		Uptime:      now.Sub(s.StartedAt).String(),
	}, nil
}
