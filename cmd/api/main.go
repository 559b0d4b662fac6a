package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"govdesk.org/internal/config"
	"govdesk.org/internal/httpapi"
	"govdesk.org/internal/identity"
	"govdesk.org/internal/obs"
	"govdesk.org/internal/store/pg"
	"govdesk.org/internal/stream"
)

var version = "0.3.0"

func main() {
	configPath := flag.String("config", os.Getenv("GOVDESK_CONFIG"), "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := obs.NewLogger(cfg.Env, os.Getenv("GOVDESK_LOG_LEVEL"))
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	obs.Init()

	if cfg.Database.DSN == "" {
		logger.Fatal("missing database DSN (GOVDESK_PG_DSN)")
	}
	store, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	tokens, err := identity.NewTokenIssuer(identity.TokenConfig{
		SecretKey:       []byte(cfg.JWT.Secret),
		Issuer:          cfg.JWT.Issuer,
		Audience:        cfg.JWT.Audience,
		AccessTokenTTL:  cfg.AccessTokenTTL(),
		RefreshTokenTTL: cfg.RefreshTokenTTL(),
	})
	if err != nil {
		logger.Fatal("init token issuer", zap.Error(err))
	}

	events := stream.New()
	engine, err := identity.NewEngine(store, tokens,
		identity.WithLockoutPolicy(cfg.Lockout.MaxFailedAttempts, cfg.LockoutDuration()),
		identity.WithLogger(logger),
		identity.WithEventSink(func(rec identity.AuditRecord) {
			events.Publish(stream.Event{
				Type:      rec.Action,
				UserID:    rec.UserID,
				IPAddress: rec.IPAddress,
				Success:   rec.IsSuccess,
				Detail:    rec.Detail,
				Timestamp: rec.Timestamp,
			})
		}),
	)
	if err != nil {
		logger.Fatal("init engine", zap.Error(err))
	}
	accounts, err := identity.NewAccounts(store, identity.WithAccountsLogger(logger))
	if err != nil {
		logger.Fatal("init accounts", zap.Error(err))
	}

	api := httpapi.New(engine, accounts, logger,
		httpapi.ReadyProbe{DB: store.DB()},
		httpapi.WithVersion(version),
		httpapi.WithRateLimit(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond),
		httpapi.WithEventStream(events),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// No WriteTimeout: /v1/events/auth holds long-lived SSE connections.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("starting govdesk-identity", zap.String("version", version), zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	logger.Info("stopped")
}
