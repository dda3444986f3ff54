package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/waymark-app/waymark/internal/api"
	"github.com/waymark-app/waymark/internal/config"
	"github.com/waymark-app/waymark/internal/credential"
	"github.com/waymark-app/waymark/internal/ledger"
	"github.com/waymark-app/waymark/internal/session"
)

var (
	port   int
	envDir string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Waymark backend server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		level := slog.LevelInfo
		if cfg.Debug {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		store, closeStore, err := buildStore(cfg)
		if err != nil {
			return fmt.Errorf("opening session storage: %w", err)
		}
		defer closeStore()

		attempts := ledger.New(cfg.MaxFailedAttempts, cfg.LockoutWindow, logger)
		verifier, err := credential.New(cfg.PasswordVerifier, cfg.HashCost)
		if err != nil {
			return err
		}

		a := api.New(cfg, store, attempts, verifier,
			api.WithLogger(logger),
			api.WithEnvDir(envDir))

		r := chi.NewRouter()
		r.Use(chimw.Logger)
		r.Mount("/", a.Router())

		sweeper := session.NewSweeper(cfg.SweepInterval, logger, store, attempts)
		sweeper.Start()
		defer sweeper.Stop()

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("server started",
			"port", port,
			"session_backend", cfg.SessionBackend,
			"debug", cfg.Debug)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// buildStore opens the configured session backend. The returned close
// function is a no-op for backends without resources to release.
func buildStore(cfg *config.Config) (session.Store, func(), error) {
	switch cfg.SessionBackend {
	case "memory":
		return session.NewMemoryStore(cfg.SessionIdleTimeout, cfg.RememberLifetime), func() {}, nil
	case "bolt":
		if err := os.MkdirAll(cfg.SessionDir, 0o700); err != nil {
			return nil, nil, err
		}
		store, err := session.NewBoltStore(filepath.Join(cfg.SessionDir, "sessions.db"),
			cfg.SigningKey, cfg.SessionIdleTimeout, cfg.RememberLifetime, cfg.StorageTimeout)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		if err := os.MkdirAll(cfg.SessionDir, 0o700); err != nil {
			return nil, nil, err
		}
		store, err := session.NewFileStore(cfg.SessionDir,
			cfg.SigningKey, cfg.SessionIdleTimeout, cfg.RememberLifetime, cfg.StorageTimeout)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVar(&envDir, "env-dir", ".", "Directory holding the .env.local credential file")
}
