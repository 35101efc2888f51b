package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/auth"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/bus"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/cache"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/config"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/inbox"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/metrics"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/outbox"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/payments"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/provider"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/reconcile"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/server"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/store"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/wallet"
)

const devJWTSecret = "dev-insecure-change-me"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("walletd stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

func validateProductionRuntime(cfg config.Config) error {
	if !cfg.StrictProduction {
		return nil
	}
	var errs []error
	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("WALLET_DATABASE_URL is required"))
	}
	if !cfg.TLSEnabled {
		errs = append(errs, errors.New("WALLET_TLS_ENABLED must be true"))
	}
	if !cfg.AuthEnabled() {
		errs = append(errs, errors.New("jwt key material is required"))
	} else if cfg.JWTKeys == "" && cfg.JWTKeysetFile == "" && cfg.JWTSecret == devJWTSecret {
		errs = append(errs, errors.New("WALLET_JWT_SECRET must not be the development default"))
	}
	if cfg.Bus == "memory" {
		errs = append(errs, errors.New("WALLET_BUS must name a durable broker"))
	}
	return errors.Join(errs...)
}

func jwtVerifier(cfg config.Config) (*auth.JWTVerifier, error) {
	if !cfg.AuthEnabled() {
		return nil, nil
	}
	var (
		ks  auth.HMACKeyset
		err error
	)
	if cfg.JWTKeysetFile != "" {
		ks, err = auth.LoadHMACKeysetFile(cfg.JWTKeysetFile)
	} else {
		ks, err = auth.ParseHMACKeyset(cfg.JWTSecret, cfg.JWTKeys, cfg.JWTActiveKID)
	}
	if err != nil {
		return nil, err
	}
	return auth.NewJWTVerifierWithKeyset(ks), nil
}

func openStore(ctx context.Context, cfg config.Config, clk clock.Clock, log *zap.Logger) (store.Store, audit.Recorder, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("no database configured, using the in-memory store; state is lost on exit and commands slow down as the ledger grows")
		return store.NewMemory(clk), audit.NewInMemoryStore(), func() {}, nil
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLife)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}
	pg := store.NewPostgres(db, clk)
	if cfg.DBApplySchema {
		if err := pg.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	var rec audit.Recorder = audit.NewInMemoryStore()
	if cfg.AuditToDatabase {
		rec = audit.NewPostgresStore(db)
	}
	return pg, rec, func() { _ = db.Close() }, nil
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if err := validateProductionRuntime(cfg); err != nil {
		return fmt.Errorf("production runtime: %w", err)
	}
	startedAt := time.Now().UTC()
	clk := clock.RealClock{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, rec, closeStore, err := openStore(ctx, cfg, clk, log)
	if err != nil {
		return err
	}
	defer closeStore()
	checks := map[string]server.ReadinessCheck{}
	if pg, ok := st.(*store.Postgres); ok {
		checks["database"] = pg.DB().PingContext
	}

	opts := wallet.Options{
		Clock:       clk,
		Logger:      log.Named("wallet"),
		Metrics:     m,
		Audit:       rec,
		MaxAttempts: cfg.CommandMaxAttempts,
		RetryDelay:  cfg.CommandRetryDelay,
	}
	var publishers bus.Fanout
	var closers []func() error
	if cfg.RedisAddr != "" {
		rdb := cache.NewRedisClient(cache.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		closers = append(closers, rdb.Close)
		balances := cache.NewBalances(rdb, cfg.CachePrefix, cfg.CacheTTL)
		opts.Cache = balances
		checks["redis"] = balances.Ping
		if cfg.Bus == "redis" || cfg.Bus == "kafka" {
			publishers = append(publishers, bus.NewRedisPublisher(rdb, cfg.RedisChannel))
		}
	}
	walletSvc := wallet.New(st, opts)

	sim := provider.NewSimulator(clk, cfg.ProviderDecimals)
	sim.AutoFinal = true
	var adapter provider.Adapter = sim
	paymentsSvc := payments.New(st, walletSvc, adapter, payments.Config{
		DefaultConfirmations: cfg.DefaultConfirmations,
		Confirmations:        cfg.Confirmations,
	}, clk, log.Named("payments"))

	consumer := inbox.NewConsumer(st, wallet.NewInboxHandler(walletSvc), inbox.Config{
		MaxAttempts:   cfg.InboxMaxAttempts,
		SweepInterval: cfg.InboxSweepInterval,
	}, clk, log.Named("inbox"), m, rec)

	var subscriber *bus.KafkaSubscriber
	switch cfg.Bus {
	case "kafka":
		kp := bus.NewKafkaPublisher(bus.KafkaConfig{Brokers: cfg.KafkaBrokers, TopicPrefix: cfg.KafkaTopicPrefix, Logger: log.Named("kafka")})
		closers = append(closers, kp.Close)
		publishers = append(bus.Fanout{kp}, publishers...)
		if len(cfg.InboxTopics) > 0 {
			subscriber = bus.NewKafkaSubscriber(bus.KafkaSubscriberConfig{
				Brokers: cfg.KafkaBrokers,
				GroupID: cfg.KafkaGroupID,
				Topics:  cfg.InboxTopics,
				Logger:  log.Named("kafka"),
			})
			closers = append(closers, subscriber.Close)
		}
	case "memory":
		mem := bus.NewMemory()
		closers = append(closers, mem.Close)
		publishers = append(publishers, mem)
	}
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn("close failed", zap.Error(err))
			}
		}
	}()

	publisher := outbox.NewPublisher(st, publishers, outbox.Config{
		BatchSize:  cfg.OutboxBatchSize,
		Interval:   cfg.OutboxInterval,
		Lease:      cfg.OutboxLease,
		AlertAfter: cfg.OutboxAlertAfter,
	}, clk, log.Named("outbox"), m, rec)
	retention := outbox.NewRetention(st, cfg.OutboxRetention, cfg.OutboxCleanupInterval, cfg.OutboxBatchSize, clk, log.Named("outbox_retention"), m)
	rcfg := reconcile.Config{
		BatchSize: cfg.ReconcileBatchSize,
		Interval:  cfg.ReconcileInterval,
		Lease:     cfg.ReconcileLease,
		PollDelay: cfg.ReconcilePollDelay,
	}
	withdrawals := reconcile.NewWithdrawalWorker(st, walletSvc, adapter, rcfg, clk, log.Named("reconcile"), m)
	deposits := reconcile.NewDepositWorker(st, walletSvc, adapter, rcfg, clk, log.Named("reconcile"), m)

	verifier, err := jwtVerifier(cfg)
	if err != nil {
		return fmt.Errorf("configure jwt: %w", err)
	}
	if verifier == nil {
		log.Warn("no jwt key material configured, the API is unauthenticated")
	}
	policy := auth.Policy{Enabled: verifier != nil}
	tlsCfg, err := server.BuildTLSConfig(server.TLSConfig{
		Enabled:           cfg.TLSEnabled,
		CertFile:          cfg.TLSCertFile,
		KeyFile:           cfg.TLSKeyFile,
		ClientCAFile:      cfg.TLSClientCAFile,
		RequireClientCert: cfg.TLSRequireClientCert,
	})
	if err != nil {
		return fmt.Errorf("configure tls: %w", err)
	}

	walletAPI := &server.WalletService{
		Wallet:    walletSvc,
		Payments:  paymentsSvc,
		Policy:    policy,
		Clock:     clk,
		Log:       log.Named("api"),
		StartedAt: startedAt,
		Version:   cfg.Version,
	}
	grpcServer, health := server.NewGRPCServer(server.GRPCOptions{TLS: tlsCfg, Verifier: verifier, Log: log.Named("grpc")}, walletAPI)
	guard, err := server.NewRemoteAccessGuard(clk, rec, log.Named("remote_access"), cfg.TrustedCIDRs)
	if err != nil {
		return fmt.Errorf("configure remote access guard: %w", err)
	}
	admin := server.AdminHandler{Ledger: walletSvc, Outbox: st, Guard: guard, Policy: policy, Log: log.Named("admin")}
	if cfg.EnableAdminPublishHook {
		admin.Publisher = publisher
	}
	handler, err := server.NewHTTPHandler(ctx, server.HTTPDeps{
		Wallet:   walletAPI,
		Admin:    admin,
		System:   server.SystemHandler{Checks: checks, Timeout: cfg.ReadinessCheckTimeout},
		Guard:    guard,
		Verifier: verifier,
		Gatherer: reg,
		Log:      log.Named("http"),
	})
	if err != nil {
		return fmt.Errorf("register gateway handlers: %w", err)
	}
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: handler, TLSConfig: tlsCfg, ReadHeaderTimeout: 10 * time.Second}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return publisher.Run(gctx) })
	g.Go(func() error { return retention.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return withdrawals.Run(gctx) })
	g.Go(func() error { return deposits.Run(gctx) })
	if subscriber != nil {
		g.Go(func() error { return subscriber.Run(gctx, consumer.BusHandler()) })
	}
	g.Go(func() error {
		log.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(grpcListener)
	})
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("tls", tlsCfg != nil))
		var err error
		if tlsCfg != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("walletd stopped", zap.Duration("uptime", time.Since(startedAt)))
	return err
}
