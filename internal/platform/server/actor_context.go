package server

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/auth"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/payments"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/provider"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/wallet"
	"github.com/wizardbeardstudio/open-wallet-go/pkg/walletv1"
)

// resultCode folds command errors into the response meta codes. Auth and
// request-state rejections are denials like any business rule.
func resultCode(err error) string {
	switch {
	case err == nil:
		return walletv1.ResultOK
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrForbidden),
		errors.Is(err, payments.ErrSessionClosed), errors.Is(err, payments.ErrNotOwner),
		errors.Is(err, payments.ErrIllegalTransition), errors.Is(err, store.ErrNotFound):
		return walletv1.ResultDenied
	}
	return wallet.Code(err)
}

// transportError is non-nil for failures the caller should retry as a call,
// not read as an outcome.
func transportError(err error) error {
	if err == nil || resultCode(err) != walletv1.ResultError {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, provider.ErrUnavailable), store.IsRetryable(err):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

func responseMeta(now time.Time, err error) walletv1.ResponseMeta {
	m := walletv1.ResponseMeta{
		Ok:         err == nil,
		ResultCode: resultCode(err),
		ServerTime: now.UTC().Format(time.RFC3339Nano),
	}
	if err != nil {
		m.Message = err.Error()
	}
	return m
}

// actorLabel names the caller for logs; unauthenticated calls only happen
// with auth disabled.
func actorLabel(ctx context.Context) string {
	if a, ok := auth.ActorFromContext(ctx); ok {
		return a.Type + ":" + a.ID
	}
	return "anonymous"
}
