package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the built-in capture presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := loadPresets()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tFIELDS\tDESCRIPTION")
			for _, p := range registry.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, strings.Join(p.Fields(), ","), p.Description)
			}
			return w.Flush()
		},
	}
}
