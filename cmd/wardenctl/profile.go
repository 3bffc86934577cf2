package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/gowarden/pkg/client"
)

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved server connections",
	}

	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Save a server URL and token under a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.server == "" {
				return fmt.Errorf("--server is required")
			}
			ps, err := loadProfiles()
			if err != nil {
				return err
			}
			created := ps.Add(client.Profile{Name: args[0], Server: opts.server, Token: opts.token})
			if err := ps.Save(); err != nil {
				return err
			}
			verb := "Updated"
			if created {
				verb = "Added"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s profile %q in %s\n", verb, args[0], ps.Path())
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ps, err := loadProfiles()
			if err != nil {
				return err
			}
			res := ProfileList{Current: ps.Current, Profiles: []ProfileInfo{}}
			for _, p := range ps.Profiles {
				res.Profiles = append(res.Profiles, ProfileInfo{Name: p.Name, Server: p.Server, LastUsed: p.LastUsed})
			}
			return outputResult(cmd.OutOrStdout(), res, opts.output)
		},
	}

	use := &cobra.Command{
		Use:   "use <name>",
		Short: "Switch the current profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := loadProfiles()
			if err != nil {
				return err
			}
			if err := ps.Use(args[0]); err != nil {
				return err
			}
			return ps.Save()
		},
	}

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a saved profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := loadProfiles()
			if err != nil {
				return err
			}
			if !ps.Remove(args[0]) {
				return fmt.Errorf("profile %q not found", args[0])
			}
			return ps.Save()
		},
	}

	cmd.AddCommand(add, list, use, remove)
	return cmd
}

func loadProfiles() (*client.ProfileStore, error) {
	ps := client.NewProfileStore(opts.profilePath)
	if err := ps.Load(); err != nil {
		return nil, err
	}
	return ps, nil
}
