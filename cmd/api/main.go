package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bidflow/auth"
	"bidflow/bid"
	"bidflow/config"
	"bidflow/contractor"
	"bidflow/db"
	"bidflow/deposit"
	"bidflow/message"
	"bidflow/outbox"
	"bidflow/payment"
	"bidflow/project"
	"bidflow/ratelimit"
	"bidflow/timeline"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bidflow",
		Short:         "Bid lifecycle and deposit settlement API",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the outbox relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg.LogLevel))
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(_ *cobra.Command, _ []string) error {
				cfg, err := config.NewConfig()
				if err != nil {
					return err
				}
				return db.MigrateUp(cfg.DatabaseURL)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			RunE: func(_ *cobra.Command, _ []string) error {
				cfg, err := config.NewConfig()
				if err != nil {
					return err
				}
				return db.MigrateDown(cfg.DatabaseURL)
			},
		},
	)
	return cmd
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.AutoMigrate {
		if err := db.MigrateUp(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.MaxConns,
		MaxConnIdleTime: cfg.MaxConnIdle,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	timelineStore := timeline.NewStore(pool)
	outboxWriter := outbox.NewWriter()

	projectRepo := project.NewRepository(pool)
	bidRepo := bid.NewRepository(pool)

	var bridge payment.Bridge
	var sandbox *payment.Sandbox
	switch cfg.Mode {
	case config.PaymentsModeStripe:
		bridge = payment.NewStripe(cfg.StripeSecretKey)
	default:
		sandbox = payment.NewSandbox()
		bridge = sandbox
		logger.Warn("payments running against the in-memory sandbox")
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemory()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, falling back to in-process rate limiting", "addr", cfg.RedisAddr, "err", err)
		} else {
			limiter = ratelimit.NewRedis(rdb, "bidflow:rl")
		}
	}

	server := &Server{
		authService:       auth.NewService(auth.NewRepository(pool), cfg.JWTSecret),
		contractorService: contractor.NewService(contractor.NewRepository(pool)),
		projectService:    project.NewService(pool, projectRepo, timelineStore),
		bidService:        bid.NewService(pool, bidRepo, projectRepo, timelineStore, outboxWriter),
		depositService:    deposit.NewService(pool, deposit.NewRepository(pool), bidRepo, projectRepo, bridge, timelineStore, outboxWriter),
		messageService:    message.NewService(message.NewRepository(pool)),
		timeline:          timelineStore,
		webhooks:          payment.NewWebhookVerifier(cfg.StripeWebhookSecret),
		limiter:           limiter,
		sandbox:           sandbox,
		logger:            logger,
		requestTimeout:    cfg.RequestTimeout,
	}

	httpServer := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	relay := outbox.NewRelay(pool, outbox.LogPublisher{Logger: logger}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.ServerAddress, "payments", cfg.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
