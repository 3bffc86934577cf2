package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/gowarden/pkg/auth"
	"github.com/NicolasHaas/gowarden/pkg/model"
)

func tokenCmd() *cobra.Command {
	var (
		file string
		name string
		role string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an API token and add it to a tokens file",
		Long: `Generate a random API token, append its argon2id hash to the server's
tokens file and print the raw token once. Restart the server to load it.

Roles: admin, moderator, viewer, gameserver.

Examples:
  wardenctl token --name discord-bot --role moderator --file tokens.yaml
  wardenctl token --name server-eu1 --role gameserver`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name = strings.TrimSpace(name)
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			r, err := parseRoleStrict(role)
			if err != nil {
				return err
			}

			tokens, err := auth.LoadTokensFile(file)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			for _, t := range tokens {
				if t.Name == name {
					return fmt.Errorf("a token named %q already exists in %s", name, file)
				}
			}

			entry, raw, err := auth.NewAPIToken(name, r)
			if err != nil {
				return err
			}
			if err := auth.SaveTokensFile(file, append(tokens, entry)); err != nil {
				return err
			}
			return outputResult(cmd.OutOrStdout(), TokenResult{Name: name, Role: r.String(), Token: raw, File: file}, opts.output)
		},
	}
	cmd.Flags().StringVar(&file, "file", "tokens.yaml", "Tokens file")
	cmd.Flags().StringVar(&name, "name", "", "Token name, recorded as the admin on bans (required)")
	cmd.Flags().StringVar(&role, "role", "viewer", "Role: admin, moderator, viewer, gameserver")
	return cmd
}

// parseRoleStrict is model.ParseRole without the fallback to viewer.
func parseRoleStrict(s string) (model.Role, error) {
	switch name := strings.ToLower(strings.TrimSpace(s)); name {
	case "admin", "moderator", "viewer", "gameserver", "game_server":
		return model.ParseRole(name), nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}
