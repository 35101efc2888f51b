package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/auth"
	"github.com/wizardbeardstudio/open-wallet-go/pkg/walletv1"
)

type HTTPDeps struct {
	Wallet walletv1.WalletServiceServer
	Admin  AdminHandler
	System SystemHandler
	Guard  *RemoteAccessGuard
	// Verifier nil leaves the API unauthenticated.
	Verifier *auth.JWTVerifier
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

// NewHTTPHandler builds the HTTP surface: probes and metrics in the clear,
// the wallet gateway and admin routes behind the bearer token, and the
// remote access guard in front of everything.
func NewHTTPHandler(ctx context.Context, d HTTPDeps) (http.Handler, error) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	gw := runtime.NewServeMux()
	if err := walletv1.RegisterWalletServiceHandlerServer(ctx, gw, d.Wallet); err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	d.System.Register(r)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Group(func(api chi.Router) {
		if d.Verifier != nil {
			api.Use(func(next http.Handler) http.Handler { return auth.HTTPJWTMiddleware(d.Verifier, next) })
		}
		d.Admin.Register(api)
		api.Handle("/v1/*", gw)
	})

	if d.Guard == nil {
		return r, nil
	}
	return d.Guard.Wrap(r), nil
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}
