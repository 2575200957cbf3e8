package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var nodesCmd = &cobra.Command{
	Use:     "nodes [name]",
	Short:   "List node types in the catalog, or show one",
	GroupID: "catalog",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		if len(args) == 1 {
			tpl, err := flowClient.GetTemplate(ctx, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if jsonOutput {
				printJSON(tpl)
			} else {
				printTemplate(tpl)
			}
			return nil
		}

		refresh, _ := cmd.Flags().GetBool("refresh")
		tpls, err := flowClient.ListTemplates(ctx, refresh)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(tpls)
		} else {
			printTemplateList(tpls)
		}
		return nil
	},
}

func init() {
	nodesCmd.Flags().Bool("refresh", false, "refetch templates from the catalog source first")
}
