package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

const passwordEnv = "ASSETINSIGHT_PASSWORD"

func newSignUpCommand(state *cli) *cobra.Command {
	var name, password string
	cmd := &cobra.Command{
		Use:   "signup <email>",
		Short: "Create an account on the sync service and sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := passwordFrom(password)
			if err != nil {
				return err
			}
			profile, err := state.app.SignUp(cmd.Context(), args[0], secret, name)
			if err != nil {
				return err
			}
			state.printf("signed in as %s (%s)\n", profile.Email, profile.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&password, "password", "", "Password (or "+passwordEnv+")")
	return cmd
}

func newLoginCommand(state *cli) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in to the sync service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := passwordFrom(password)
			if err != nil {
				return err
			}
			profile, err := state.app.Login(cmd.Context(), args[0], secret)
			if err != nil {
				return err
			}
			state.printf("signed in as %s (%s)\n", profile.Email, profile.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password (or "+passwordEnv+")")
	return cmd
}

func newLogoutCommand(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear local data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.app.Profiles.SignOut(cmd.Context())
		},
	}
}

func newProfilesCommand(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the profiles known on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := state.app.Profiles.List(cmd.Context())
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(state.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "\tID\tEMAIL\tPROVIDER\tLAST SYNC")
			for _, profile := range profiles {
				marker := ""
				if profile.IsActive {
					marker = "*"
				}
				lastSync := "never"
				if profile.LastSyncTime != nil {
					lastSync = time.UnixMilli(*profile.LastSyncTime).UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", marker, profile.ID, profile.Email, profile.Provider, lastSync)
			}
			return writer.Flush()
		},
	}
}

func newSwitchCommand(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <profile-id>",
		Short: "Make another known profile active; local data is replaced on next sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := state.app.Profiles.Switch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			state.printf("active profile: %s\n", profile.Email)
			return nil
		},
	}
}

func passwordFrom(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if fromEnv := os.Getenv(passwordEnv); strings.TrimSpace(fromEnv) != "" {
		return fromEnv, nil
	}
	return "", fmt.Errorf("%w: --password or %s is required", errUsage, passwordEnv)
}
