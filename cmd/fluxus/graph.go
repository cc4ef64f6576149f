package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxus-dev/fluxus/internal/diagram"
	"github.com/fluxus-dev/fluxus/internal/nodes"
	"github.com/fluxus-dev/fluxus/internal/validation"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

var graphFormat string

var graphCmd = &cobra.Command{
	Use:   "graph <workflow.json>",
	Short: "Render a workflow's dependency graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		wf, err := schema.ParseWorkflow(raw)
		if err != nil {
			return err
		}

		registry, err := nodes.BuiltinRegistry(nodes.Deps{})
		if err != nil {
			return err
		}
		v, err := validation.New(registry)
		if err != nil {
			return err
		}
		norm, err := v.Validate(wf, validation.Options{})
		if err != nil {
			return err
		}

		title := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		g := diagram.Build(norm, title, nil)

		switch graphFormat {
		case "mermaid":
			fmt.Fprint(cmd.OutOrStdout(), diagram.RenderMermaid(g))
		case "ascii":
			fmt.Fprint(cmd.OutOrStdout(), diagram.RenderASCII(g))
		default:
			return fmt.Errorf("unknown format %q (mermaid, ascii)", graphFormat)
		}
		return nil
	},
}

func init() {
	graphCmd.Flags().StringVarP(&graphFormat, "format", "f", "mermaid", "output format: mermaid or ascii")
}
