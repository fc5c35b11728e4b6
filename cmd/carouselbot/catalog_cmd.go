package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
)

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the event catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tGROUP\tTERMINAL\tDESCRIPTION")
			for _, spec := range event.Specs() {
				terminal := ""
				if spec.Terminal {
					terminal = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", spec.Type, spec.Group, terminal, spec.Description)
			}
			return w.Flush()
		},
	}
}
