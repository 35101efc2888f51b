package server

import (
	"context"
	"crypto/tls"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthv1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/auth"
	"github.com/wizardbeardstudio/open-wallet-go/pkg/walletv1"
)

type GRPCOptions struct {
	TLS *tls.Config
	// Verifier nil leaves the API unauthenticated.
	Verifier *auth.JWTVerifier
	Log      *zap.Logger
}

// publicMethod lists the calls load balancers and dashboards make without a
// token.
func publicMethod(fullMethod string) bool {
	switch fullMethod {
	case healthv1.Health_Check_FullMethodName, walletv1.WalletService_GetSystemStatus_FullMethodName:
		return true
	}
	return false
}

// NewGRPCServer registers the wallet service and the standard health service.
// Health checks and GetSystemStatus skip authentication.
func NewGRPCServer(opts GRPCOptions, svc walletv1.WalletServiceServer) (*grpc.Server, *health.Server) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	interceptors := []grpc.UnaryServerInterceptor{unaryLogging(log)}
	if opts.Verifier != nil {
		interceptors = append(interceptors, auth.UnaryAuthInterceptor(opts.Verifier, publicMethod))
	}
	serverOpts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(interceptors...)}
	if opts.TLS != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(opts.TLS)))
	}

	srv := grpc.NewServer(serverOpts...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthv1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(walletv1.ServiceName, healthv1.HealthCheckResponse_SERVING)
	healthv1.RegisterHealthServer(srv, hs)
	walletv1.RegisterWalletServiceServer(srv, svc)
	return srv, hs
}

func unaryLogging(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			log.Warn("grpc call failed", append(fields, zap.Error(err))...)
			return resp, err
		}
		log.Debug("grpc call", fields...)
		return resp, nil
	}
}
