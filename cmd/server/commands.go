package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aegisshield/compliance-tracker/internal/config"
	"github.com/aegisshield/compliance-tracker/internal/database"
	"github.com/aegisshield/compliance-tracker/internal/handlers"
	"github.com/aegisshield/compliance-tracker/internal/middleware"
	"github.com/aegisshield/compliance-tracker/internal/models"
)

func loadConfig(path string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers, the sweep scheduler and the status consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	logger.Info("Starting compliance tracker",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("notification_sink", cfg.Notifications.Sink),
		zap.Bool("kafka", cfg.Kafka.Enabled),
		zap.Bool("redis", cfg.Redis.Enabled))

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	router := handlers.NewRouter(a.handler, a.auth, a.metrics, a.registry, cfg.IsProduction(), logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	a.notifier.Start(gctx)
	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	if cfg.Sweep.Enabled {
		a.scheduler.Start()
	}

	if a.consumer != nil {
		g.Go(func() error { return a.consumer.Run(gctx) })
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return a.grpc.ListenAndServe(cfg.Server.GRPCPort) })

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		a.grpc.Shutdown(shutdownCtx)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down HTTP server gracefully", zap.Error(err))
		}
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			logger.Error("Failed to stop scheduler", zap.Error(err))
		}
		a.notifier.Stop()
		return nil
	})

	err = g.Wait()
	logger.Info("Shutdown complete")
	return err
}

func newSweepCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one evaluation sweep and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			a.notifier.Start(ctx)
			report, err := a.tracker.Sweep(ctx)
			a.notifier.Stop()
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func newMigrateCommand(configPath *string) *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations, or roll back with --down",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := database.Connect(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if down > 0 {
				if err := database.Rollback(db.DB, down); err != nil {
					return err
				}
				logger.Info("Migrations rolled back", zap.Int("steps", down))
				return nil
			}
			if err := database.Migrate(db.DB); err != nil {
				return err
			}
			logger.Info("Migrations applied")
			return nil
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "number of migrations to roll back")
	return cmd
}

func newTokenCommand(configPath *string) *cobra.Command {
	var (
		id   string
		name string
		role string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token signed with the configured secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Security.JWTSecret == "" {
				return errors.New("security.jwt_secret is not set")
			}
			r := models.Role(role)
			switch r {
			case models.RoleAdmin, models.RoleUser, models.RoleAutomated:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			token, err := middleware.NewAuthenticator(cfg.Security, logger).
				IssueToken(models.Actor{ID: id, Name: name, Role: r})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "subject", "", "actor id")
	cmd.Flags().StringVar(&name, "name", "", "actor display name")
	cmd.Flags().StringVar(&role, "role", string(models.RoleUser), "admin, user or automated")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
