package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fluxus-dev/fluxus/internal/nodes"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the builtin node catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		// No deps: llm/db-backed kinds still list, they just cannot run.
		registry, err := nodes.BuiltinRegistry(nodes.Deps{})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tPARAMS\tRETRIABLE\tDESCRIPTION")
		for _, spec := range registry.List() {
			params := make([]string, 0, len(spec.Params))
			for name, p := range spec.Params {
				if p.Required {
					name += "*"
				}
				params = append(params, name)
			}
			sort.Strings(params)
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\n",
				spec.Type, strings.Join(params, ","), spec.Retriable, spec.Description)
		}
		return w.Flush()
	},
}
