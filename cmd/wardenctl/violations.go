package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/gowarden/pkg/client"
)

func violationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "violations",
		Short: "List and prune violation records",
	}
	cmd.AddCommand(violationsListCmd(), violationsClearCmd())
	return cmd
}

func violationsListCmd() *cobra.Command {
	var lo client.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List violations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			violations, total, err := c.ListViolations(context.Background(), lo)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), ViolationList{Violations: violations, Total: total}, opts.output)
		},
	}
	addListFlags(cmd, &lo, "all or an exact violation type, e.g. speed_hack")
	return cmd
}

func violationsClearCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete violations older than a number of days",
		Long: `Delete every violation whose latest occurrence is older than --older-than
days. The server removes all of them or none.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			removed, err := c.ClearViolations(context.Background(), days)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), ClearResult{Removed: removed}, opts.output)
		},
	}
	cmd.Flags().IntVar(&days, "older-than", 30, "Age in days")
	return cmd
}
