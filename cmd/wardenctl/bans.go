package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/gowarden/pkg/client"
	"github.com/NicolasHaas/gowarden/pkg/model"
)

func bansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bans",
		Short: "List, issue, revoke and check bans",
	}
	cmd.AddCommand(bansListCmd(), bansAddCmd(), bansRevokeCmd(), bansCheckCmd())
	return cmd
}

func bansListCmd() *cobra.Command {
	var lo client.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bans",
		Long: `List bans, newest last.

Examples:
  # Active bans only
  wardenctl bans list --filter active

  # Search reason, identifiers and admin
  wardenctl bans list --search aimbot -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			bans, total, err := c.ListBans(context.Background(), lo)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), BanList{Bans: bans, Total: total}, opts.output)
		},
	}
	addListFlags(cmd, &lo, "all, active, expired, auto or manual")
	return cmd
}

func bansAddCmd() *cobra.Command {
	var (
		identity model.Identity
		reason   string
		duration string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Issue a manual ban",
		Long: `Issue a manual ban against one or more identifiers.

--duration takes hours or "permanent".

Examples:
  wardenctl bans add --license license:abc --reason "aimbot" --duration permanent
  wardenctl bans add --steam steam:110000 --reason "griefing" --duration 72`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hours, err := parseDurationHours(duration)
			if err != nil {
				return err
			}
			if identity.Normalize().IsZero() {
				return fmt.Errorf("one of --license, --steam or --discord is required")
			}
			c, err := getClient()
			if err != nil {
				return err
			}
			ban, err := c.CreateBan(context.Background(), identity, reason, hours)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), ban, opts.output)
		},
	}
	addIdentityFlags(cmd, &identity)
	cmd.Flags().StringVar(&reason, "reason", "", "Ban reason (required)")
	cmd.Flags().StringVar(&duration, "duration", "permanent", `Ban length in hours, or "permanent"`)
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func bansRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid ban id %q", args[0])
			}
			c, err := getClient()
			if err != nil {
				return err
			}
			ban, err := c.RevokeBan(context.Background(), id)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), ban, opts.output)
		},
	}
}

func bansCheckCmd() *cobra.Command {
	var identity model.Identity
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Show the bans currently enforced against an identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if identity.Normalize().IsZero() {
				return fmt.Errorf("one of --license, --steam or --discord is required")
			}
			c, err := getClient()
			if err != nil {
				return err
			}
			res, err := c.CheckBan(context.Background(), identity)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), res, opts.output)
		},
	}
	addIdentityFlags(cmd, &identity)
	return cmd
}

func addIdentityFlags(cmd *cobra.Command, id *model.Identity) {
	cmd.Flags().StringVar(&id.License, "license", "", "License identifier")
	cmd.Flags().StringVar(&id.Steam, "steam", "", "Steam identifier")
	cmd.Flags().StringVar(&id.Discord, "discord", "", "Discord identifier")
}

func addListFlags(cmd *cobra.Command, lo *client.ListOptions, filterHelp string) {
	cmd.Flags().IntVar(&lo.Offset, "offset", 0, "Skip this many records")
	cmd.Flags().IntVar(&lo.Limit, "limit", 0, "Maximum records to return (server default when 0)")
	cmd.Flags().StringVar(&lo.Filter, "filter", "", "Filter: "+filterHelp)
	cmd.Flags().StringVar(&lo.Search, "search", "", "Case-insensitive substring search")
}

// parseDurationHours accepts a non-negative hour count or "permanent".
func parseDurationHours(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "permanent" || s == "perm" {
		return model.PermanentHours, nil
	}
	hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("invalid duration %q: want hours or \"permanent\"", s)
	}
	return hours, nil
}
