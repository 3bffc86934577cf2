package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			stats, err := c.Statistics(context.Background())
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), stats, opts.output)
		},
	}
}

func playersCmd() *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "players",
		Short: "List connected players",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			players, err := c.ListPlayers(context.Background(), search)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), PlayerList{Players: players, Total: len(players)}, opts.output)
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "Case-insensitive substring search")
	return cmd
}

func activityCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent activity, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			events, err := c.Activity(context.Background(), limit)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), ActivityList{Activity: events}, opts.output)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events")
	return cmd
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the moderation policy",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := getClient()
			if err != nil {
				return err
			}
			s, err := c.Settings(context.Background())
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), s, opts.output)
		},
	})

	var file string
	set := &cobra.Command{
		Use:   "set [key=value...]",
		Short: "Change settings",
		Long: `Change one or more settings. Keys not given keep their current value.

Examples:
  wardenctl settings set max_violations=5 ban_duration=72
  wardenctl settings set speed_check_enabled=false
  wardenctl settings set -f policy.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := settingsPatch(file, args)
			if err != nil {
				return err
			}
			c, err := getClient()
			if err != nil {
				return err
			}
			s, err := c.UpdateSettings(context.Background(), patch)
			if err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), s, opts.output)
		},
	}
	set.Flags().StringVarP(&file, "file", "f", "", "YAML file with settings keys")
	cmd.AddCommand(set)
	return cmd
}

// settingsPatch merges the keys from file (if any) with key=value args.
// Values are read as booleans or integers.
func settingsPatch(file string, args []string) (map[string]any, error) {
	patch := map[string]any{}
	if file != "" {
		data, err := os.ReadFile(file) //nolint:gosec // operator-provided path
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &patch); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
	}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid setting %q: want key=value", arg)
		}
		raw = strings.TrimSpace(raw)
		if b, err := strconv.ParseBool(raw); err == nil {
			patch[key] = b
		} else if n, err := strconv.Atoi(raw); err == nil {
			patch[key] = n
		} else {
			return nil, fmt.Errorf("invalid value for %s: %q is neither a boolean nor an integer", key, raw)
		}
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("nothing to set: give key=value arguments or --file")
	}
	return patch, nil
}
