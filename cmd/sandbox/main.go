package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/clicker-client/internal/config"
	"github.com/DoyleJ11/clicker-client/internal/logging"
	"github.com/DoyleJ11/clicker-client/internal/sandbox/httpapi"
	"github.com/DoyleJ11/clicker-client/internal/sandbox/hub"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	var addr string

	cmd := &cobra.Command{
		Use:          "sandbox",
		Short:        "In-memory clicker game server for local development",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			cfg, err := config.LoadSandbox()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			logCfg, err := config.LoadLog()
			if err != nil {
				return err
			}
			log, err := logging.New(logCfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides SANDBOX_ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg config.SandboxConfig, log *zap.Logger) error {
	h := hub.NewHub(ctx, hub.Options{
		TokenTTL:             cfg.TokenTTL,
		RefreshGrace:         cfg.RefreshGrace,
		BcryptCost:           cfg.BcryptCost,
		TickInterval:         cfg.TickInterval,
		LeaderboardInterval:  cfg.TickInterval,
		ExclusiveConnections: cfg.ExclusiveConnections,
		Logger:               log,
	})
	defer h.Close()

	// Build the router *with* the hub injected
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(h, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// close live sockets with 1001 before draining
	h.Close()
	return srv.Shutdown(shutdownCtx)
}
