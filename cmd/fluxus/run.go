package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxus-dev/fluxus/internal/engine"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

var runQuiet bool

var runCmd = &cobra.Command{
	Use:   "run <workflow.json>",
	Short: "Execute a workflow file and stream events to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger := newLogger(cfg)

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		wf, err := schema.ParseWorkflow(raw)
		if err != nil {
			return err
		}

		_, eng, _, closeFn, err := buildStack(cfg, logger)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if cfg.RunTimeoutSeconds > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.RunTimeoutSeconds)*time.Second)
			defer cancel()
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		emitter := engine.EmitterFunc(func(kind string, payload any) {
			if runQuiet && kind != schema.EventNodeResult {
				return
			}
			_ = enc.Encode(map[string]any{"event": kind, "data": payload})
		})

		summary, outputs, err := eng.Execute(ctx, wf, engine.RunOptions{Emitter: emitter})
		if err != nil {
			return err
		}

		_ = enc.Encode(map[string]any{"event": schema.EventComplete, "data": summary})
		if !runQuiet {
			_ = enc.Encode(map[string]any{"outputs": outputs})
		}
		if !summary.Success() {
			return fmt.Errorf("%d of %d nodes did not complete", summary.Total-summary.Completed, summary.Total)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "only print node results")
}
