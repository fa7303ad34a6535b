package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/palikkayhteiso/emmet/internal/keycloak"
	"github.com/palikkayhteiso/emmet/internal/pkg/logger"
)

func newSendVerificationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send-verification EMAIL",
		Short: "Send a verification email to one user",
		Long: `Look up the user by email, mark the address unverified so the provider
accepts a new verification round, and trigger the verification email.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := args[0]
			log := logger.WithEmail(logger.WithCommand(slog.Default(), "send-verification"), email)

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
			user := users[0]

			// Re-arm verification so an already verified address gets a
			// fresh email too.
			update := keycloak.User{EmailVerified: keycloak.Bool(false)}
			if err := client.UpdateUser(cmd.Context(), user.ID, update); err != nil {
				return fmt.Errorf("failed to mark email unverified: %w", err)
			}
			if err := client.SendVerifyEmail(cmd.Context(), user.ID); err != nil {
				return fmt.Errorf("failed to send verification email: %w", err)
			}

			fmt.Printf("Verification email sent to %s\n", email)
			return nil
		},
	}
}
