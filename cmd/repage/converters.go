package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"repage/internal/converters"
)

var convertersCmd = &cobra.Command{
	Use:   "converters",
	Short: "List the available extraction strategies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tAPI KEY\tDESCRIPTION")
		for _, c := range converters.Catalog {
			key := "-"
			if c.RequiresKey {
				key = "required"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Name, key, c.Description)
		}
		return tw.Flush()
	},
}
