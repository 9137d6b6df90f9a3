package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gitea.jw6.us/james/reservo/internal/booking"
	"gitea.jw6.us/james/reservo/internal/calendar"
	"gitea.jw6.us/james/reservo/internal/config"
	"gitea.jw6.us/james/reservo/internal/crypto"
	httpserver "gitea.jw6.us/james/reservo/internal/http"
	"gitea.jw6.us/james/reservo/internal/lock"
	"gitea.jw6.us/james/reservo/internal/logging"
	"gitea.jw6.us/james/reservo/internal/oauth"
	"gitea.jw6.us/james/reservo/internal/store"
)

func main() {
	if err := run(); err != nil {
		zap.L().Error("server exited", zap.Error(err))
		_ = zap.L().Sync()
		os.Exit(1)
	}
}

func run() (err error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger, _ := zap.NewProduction()
		zap.ReplaceGlobals(logger)
		return err
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting reservo", zap.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool, logger); err != nil {
		return err
	}

	vault, err := crypto.NewVault(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	var locker lock.Locker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { err = multierr.Append(err, rdb.Close()) }()
		if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
			logger.Warn("redis unreachable, refresh locking will fall back per request", zap.Error(pingErr))
		}
		locker = lock.NewRedisLocker(rdb, "")
		logger.Info("using redis refresh lock", zap.String("addr", cfg.Redis.Addr))
	} else {
		locker = lock.NewMemoryLocker()
		logger.Info("using in-process refresh lock")
	}

	stor := store.New(pool)

	oauthCfg := oauth.NewConfig(ctx, oauth.Settings{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
		IssuerURL:    cfg.Google.IssuerURL,
	}, logger)

	tokens := oauth.NewManager(stor.Credentials, vault, oauth.ConfigRefresher{Config: oauthCfg},
		oauth.WithLocker(locker),
		oauth.WithLogger(logger.Named("oauth")),
	)

	checker := booking.NewChecker(stor.Reservations, tokens, calendar.NewGoogle(cfg.Google.CalendarID), cfg.RemoteTimeout, logger.Named("conflict"))
	reservations := booking.NewService(stor.Reservations, checker, logger.Named("booking"))

	handler := httpserver.NewRouter(cfg, httpserver.Dependencies{
		Store:        stor,
		Reservations: reservations,
		Credentials:  tokens,
		OAuth:        oauthCfg,
		Logger:       logger.Named("http"),
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
