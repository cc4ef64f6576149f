package main

import (
	"database/sql"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/fluxus-dev/fluxus/internal/engine"
	"github.com/fluxus-dev/fluxus/internal/llm"
	"github.com/fluxus-dev/fluxus/internal/logging"
	"github.com/fluxus-dev/fluxus/internal/nodes"
	"github.com/fluxus-dev/fluxus/pkg/catalog"
)

var rootCmd = &cobra.Command{
	Use:   "fluxus",
	Short: "DAG workflow runtime",
	Long:  "fluxus validates, schedules and streams dependency-ordered workflows.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, nodesCmd, graphCmd, secretsCmd)
}

func execute() error {
	return rootCmd.Execute()
}

func newLogger(cfg Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// buildStack assembles the registry and engine from config. The returned
// close function releases the database handle when one was opened.
func buildStack(cfg Config, logger *slog.Logger) (*catalog.Registry, *engine.Engine, llm.Client, func(), error) {
	var client llm.Client
	if cfg.OpenAIAPIKey != "" {
		c, err := llm.NewOpenAIClient(llm.Config{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, nil, nil, nil, err
		}
		client = c
	}

	closeFn := func() {}
	var db *sql.DB
	if cfg.DBPath != "" {
		if err := os.MkdirAll(fluxusDir(), 0o755); err == nil {
			if d, err := sql.Open("libsql", "file:"+cfg.DBPath); err == nil {
				db = d
				closeFn = func() { _ = d.Close() }
			} else {
				logger.Warn("database unavailable; db_execute disabled", "error", err)
			}
		}
	}

	registry, err := nodes.BuiltinRegistry(nodes.Deps{LLM: client, DB: db})
	if err != nil {
		closeFn()
		return nil, nil, nil, nil, err
	}

	eng, err := engine.New(registry, engine.WithLogger(logger))
	if err != nil {
		closeFn()
		return nil, nil, nil, nil, err
	}

	return registry, eng, client, closeFn, nil
}
