package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dearq/internal/api"
	"dearq/internal/config"
	"dearq/internal/db"
	"dearq/internal/middleware"
	"dearq/internal/services"
)

const shutdownTimeout = 15 * time.Second

var configPath string

func main() {
	// Missing .env is fine; env vars may come from anywhere.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "dearq",
		Short: "Daily question service: one question a day, answers revealed together",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "dearq.yaml", "config file path")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if os.Getenv("DEARQ_DEBUG") != "" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

func openStore(cfg config.Config) (*db.Store, func(), error) {
	sqldb, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(sqldb, nil); err != nil {
		sqldb.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	store, err := db.New(sqldb)
	if err != nil {
		sqldb.Close()
		return nil, nil, err
	}
	return store, func() { _ = sqldb.Close() }, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			clock := services.NewDayClock(cfg.Day.UTCOffsetHours, cfg.Day.CutoffHour)
			questions := services.NewQuestionService(store, logger)
			participants := services.NewParticipantService(store, logger)
			assignments := services.NewAssignmentService(store, questions, clock, logger)
			gate := services.NewGateService(store, clock, services.NewLogNotifier(logger), logger)
			share := services.NewShareService(store, logger,
				time.Duration(cfg.Share.InviteTTLHours)*time.Hour,
				time.Duration(cfg.Share.AnswerTTLHours)*time.Hour)
			admin := services.NewAdminService(store, clock, cfg.AdminPasscodeHash)
			auth := middleware.NewAuth(cfg.JWTSecret)

			handler := api.NewHandler(participants, assignments, gate, share, admin, auth, logger)
			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server listening", zap.String("addr", cfg.Addr))
				errCh <- srv.ListenAndServe()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case sig := <-stop:
				logger.Info("shutting down", zap.String("signal", sig.String()))
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					return fmt.Errorf("shutdown: %w", err)
				}
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			sqldb, err := db.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer sqldb.Close()
			var fsys fs.FS
			if dir != "" {
				fsys = os.DirFS(dir)
			}
			return db.RunMigrations(sqldb, fsys)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (defaults to embedded)")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the default question set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			questions := services.NewQuestionService(store, logger)
			created, err := store.InsertQuestions(cmd.Context(), questions.DefaultQuestions())
			if err != nil {
				return err
			}
			logger.Info("seeded questions", zap.Int("created", created))
			return nil
		},
	}
}
