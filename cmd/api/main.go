package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	api "docparse-tracker/internal/api"
	"docparse-tracker/internal/audit"
	"docparse-tracker/internal/config"
	"docparse-tracker/internal/docparse"
	"docparse-tracker/internal/ledger"
	"docparse-tracker/internal/logging"
	"docparse-tracker/internal/objectstore"
	"docparse-tracker/internal/orchestrator"
	"docparse-tracker/internal/ratelimit"
	"docparse-tracker/internal/signature"
	"docparse-tracker/internal/sweeper"
	"docparse-tracker/internal/telemetry"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.Env)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	creds, err := cfg.Credentials()
	if err != nil {
		log.Fatal().Err(err).Msg("load credentials")
	}
	registry := signature.NewRegistry(creds...)

	store, err := newStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init object store")
	}

	trail, closeTrail := newTrail(ctx, cfg, log)
	defer closeTrail()

	orch := orchestrator.New(orchestrator.Deps{
		Ledger:      ledger.New(),
		Credentials: registry,
		Store:       store,
		Transport:   docparse.New(cfg.DocParseBaseURL, &http.Client{Timeout: cfg.ParseTimeout + cfg.StatusTimeout}),
		Trail:       trail,
		Logger:      log,
	}, orchestrator.OptionsFromConfig(cfg))
	poller := orchestrator.NewPoller(orch)

	var limiter api.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		limiter = ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
		log.Info().Str("addr", cfg.RedisAddr).Msg("rate limiting enabled")
	}

	sw := sweeper.New(sweeper.OptionsFromConfig(cfg), orch.Ledger(), orch, poller, log)
	go func() {
		if err := sw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("sweeper stopped")
		}
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", telemetry.Handler())
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics listener")
			}
		}()
	}

	server := api.New(cfg, orch, poller, registry, limiter, log)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("port", cfg.HTTPPort).Str("callback", cfg.CallbackURL()).Str("env", cfg.Env).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	log.Info().Msg("api stopped")
}

func newStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (objectstore.Store, error) {
	if cfg.S3Bucket == "" {
		log.Warn().Str("dir", cfg.LocalStorageDir).Msg("S3_BUCKET not set, storing documents on local disk")
		return objectstore.NewLocal(cfg.LocalStorageDir), nil
	}
	return objectstore.NewS3(ctx, cfg)
}

func newTrail(ctx context.Context, cfg config.Config, log zerolog.Logger) (audit.Trail, func()) {
	if cfg.AuditPostgresDSN == "" {
		return audit.NewMemory(0), func() {}
	}
	pg, err := audit.NewPostgres(ctx, cfg.AuditPostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect audit postgres")
	}
	if err := pg.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("audit migrations")
	}
	return pg, pg.Close
}
