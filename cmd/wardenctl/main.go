// wardenctl is a CLI for the GoWarden ban and violation registry.
//
// Usage:
//
//	wardenctl profile add prod --server https://warden:8080 --token <token>
//	wardenctl stats
//	wardenctl bans list --filter active
//	wardenctl bans add --license license:abc --reason "aimbot" --duration permanent
//	wardenctl violations clear --older-than 30
//	wardenctl settings set max_violations=5 auto_ban_enabled=false
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/gowarden/pkg/client"
	"github.com/NicolasHaas/gowarden/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	output      string
	server      string
	token       string
	profile     string
	profilePath string
	timeout     time.Duration
}

var opts globalOptions

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts = globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "wardenctl",
		Short: "Manage bans and violations on a GoWarden server",
		Long: `wardenctl talks to the GoWarden HTTP API.

The server and token come from --server/--token, the WARDEN_SERVER and
WARDEN_TOKEN environment variables, or the current profile, in that order.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.output, "output", "o", "table", "Output format: table, json, yaml")
	pf.StringVar(&opts.server, "server", "", "Server URL, e.g. http://localhost:8080")
	pf.StringVar(&opts.token, "token", "", "API bearer token")
	pf.StringVar(&opts.profile, "profile", "", "Profile name (default: current profile)")
	pf.StringVar(&opts.profilePath, "profiles-file", client.DefaultProfilePath(), "Profiles file")
	pf.DurationVar(&opts.timeout, "timeout", 20*time.Second, "Request timeout")

	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(bansCmd())
	rootCmd.AddCommand(violationsCmd())
	rootCmd.AddCommand(playersCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// getClientFunc builds the API client. Tests replace it.
var getClientFunc = defaultGetClient

func getClient() (*client.Client, error) {
	return getClientFunc()
}

func defaultGetClient() (*client.Client, error) {
	server, token := opts.server, opts.token
	if server == "" {
		server = os.Getenv("WARDEN_SERVER")
	}
	if token == "" {
		token = os.Getenv("WARDEN_TOKEN")
	}
	if server == "" || token == "" {
		ps := client.NewProfileStore(opts.profilePath)
		if err := ps.Load(); err != nil {
			return nil, err
		}
		if p := ps.Find(opts.profile); p != nil {
			if server == "" {
				server = p.Server
			}
			if token == "" {
				token = p.Token
			}
			if ps.Touch(p.Name, time.Now().Unix()) {
				_ = ps.Save()
			}
		} else if opts.profile != "" {
			return nil, fmt.Errorf("profile %q not found in %s", opts.profile, ps.Path())
		}
	}
	if server == "" {
		return nil, fmt.Errorf("no server configured: use --server, WARDEN_SERVER or `wardenctl profile add`")
	}
	return client.New(server, token, opts.timeout), nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the wardenctl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return outputResult(cmd.OutOrStdout(), version.Get(), opts.output)
		},
	}
}
