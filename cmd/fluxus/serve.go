package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxus-dev/fluxus/internal/agent"
	"github.com/fluxus-dev/fluxus/internal/llm"
	"github.com/fluxus-dev/fluxus/internal/server"
	"github.com/fluxus-dev/fluxus/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger := newLogger(cfg)

		registry, eng, client, closeFn, err := buildStack(cfg, logger)
		if err != nil {
			return err
		}
		defer closeFn()

		deps := server.Deps{
			Engine:     eng,
			Registry:   registry,
			Bus:        session.NewBus(cfg.Backlog, session.DefaultGrace),
			Logger:     logger,
			RunTimeout: time.Duration(cfg.RunTimeoutSeconds) * time.Second,
		}
		if client != nil {
			deps.Translator = llm.NewTranslator(client, registry)
			deps.Explainer = llm.NewExplainer(client)
			deps.Agent = agent.New(eng, llm.NewChatPlanner(client, registry), agent.WithLogger(logger))
		}

		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           server.New(deps).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		logger.Info("listening", "addr", cfg.ListenAddr, "llm", client != nil)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}
