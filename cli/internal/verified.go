package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/palikkayhteiso/emmet/internal/keycloak"
	"github.com/palikkayhteiso/emmet/internal/pkg/logger"
)

func newSetEmailVerifiedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-email-verified EMAIL",
		Short: "Mark one user's email as verified",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := args[0]
			log := logger.WithEmail(logger.WithCommand(slog.Default(), "set-email-verified"), email)

			cfg, _, err := keycloakConfig(true)
			if err != nil {
				return err
			}
			client, err := keycloak.NewClient(cmd.Context(), cfg, log)
			if err != nil {
				return fmt.Errorf("failed to connect to Keycloak: %w", err)
			}

			users, err := client.FindUsersByEmail(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("failed to look up user: %w", err)
			}
			if len(users) == 0 {
				return fmt.Errorf("no user with email %q", email)
			}
			if len(users) > 1 {
				log.Warn("multiple users share this email, using the first", "count", len(users))
			}

			update := keycloak.User{EmailVerified: keycloak.Bool(true)}
			if err := client.UpdateUser(cmd.Context(), users[0].ID, update); err != nil {
				return fmt.Errorf("failed to update user: %w", err)
			}

			fmt.Printf("Email %s marked as verified\n", email)
			return nil
		},
	}
}

func newSetAllEmailsVerifiedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-all-emails-verified",
		Short: "Mark every unverified email in the realm as verified",
		Long: `Walk every user in the realm and mark unverified emails as verified.
A failure on one user is logged and the walk continues.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.WithCommand(slog.Default(), "set-all-emails-verified")

			cfg, _, err := keycloakConfig(true)
			if err != nil {
				return err
			}
			client, err := keycloak.NewClient(cmd.Context(), cfg, log)
			if err != nil {
				return fmt.Errorf("failed to connect to Keycloak: %w", err)
			}

			users, err := client.ListUsers(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list realm users: %w", err)
			}

			var updated, failed int
			for _, user := range users {
				if user.IsEmailVerified() {
					continue
				}
				update := keycloak.User{EmailVerified: keycloak.Bool(true)}
				if err := client.UpdateUser(cmd.Context(), user.ID, update); err != nil {
					log.Error("error updating user", "username", user.Username, "error", err)
					failed++
					continue
				}
				fmt.Printf("Marked %s (%s) as verified\n", user.Username, user.Email)
				updated++
			}

			fmt.Printf("Updated %d users, %d failures\n", updated, failed)
			return nil
		},
	}
}
