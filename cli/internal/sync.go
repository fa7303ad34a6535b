package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/palikkayhteiso/emmet/internal/keycloak"
	"github.com/palikkayhteiso/emmet/internal/pkg/logger"
	"github.com/palikkayhteiso/emmet/internal/reconcile"
	"github.com/palikkayhteiso/emmet/internal/roster"
)

func newSyncCommand() *cobra.Command {
	var (
		dryRun             bool
		email              string
		resendVerification bool
		useColumnMapping   bool
		usernameColumn     string
		emailColumn        string
		firstNameColumn    string
		lastNameColumn     string
	)

	cmd := &cobra.Command{
		Use:   "sync EXCEL_FILE",
		Short: "Reconcile the membership roster against the realm",
		Long: `Read the membership roster from an Excel workbook and reconcile it against
the Keycloak realm: create missing users, update drifted fields and disable
users no longer on the roster. Use --dry-run to review the plan first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.WithCommand(slog.Default(), "sync")
			start := time.Now()

			var mapping *roster.ColumnMapping
			if useColumnMapping {
				m := roster.ColumnMapping{
					Username:  usernameColumn,
					Email:     emailColumn,
					FirstName: firstNameColumn,
					LastName:  lastNameColumn,
				}
				mapping = &m
			}

			records, err := roster.Load(args[0], roster.LoadOptions{Mapping: mapping, Log: log})
			if err != nil {
				return fmt.Errorf("failed to read roster: %w", err)
			}
			if len(records) == 0 {
				return fmt.Errorf("no users found in %s", args[0])
			}
			if email != "" && !rosterContains(records, email) {
				return fmt.Errorf("no roster record with email %q", email)
			}

			cfg, context, err := keycloakConfig(true)
			if err != nil {
				return err
			}
			log = logger.WithRealm(log, cfg.Realm)
			client, err := keycloak.NewClient(cmd.Context(), cfg, log)
			if err != nil {
				return fmt.Errorf("failed to connect to Keycloak: %w", err)
			}

			accounts, err := client.ListUsers(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list realm users: %w", err)
			}

			opts := reconcile.Options{
				Protected:          context.Sync.ProtectedUsers,
				RequiredActions:    context.Sync.RequiredActions,
				InitialGroups:      context.Sync.InitialGroups,
				DefaultLocale:      context.Sync.DefaultLocale,
				EmailFilter:        email,
				DryRun:             dryRun,
				ResendVerification: resendVerification,
			}
			plan := reconcile.New(client, opts, log).Run(cmd.Context(), records, accounts)

			logger.WithDuration(log, time.Since(start)).Info("sync finished",
				"roster", len(records),
				"accounts", len(accounts),
				"creates", len(plan.Creates),
				"updates", len(plan.Updates),
				"up_to_date", len(plan.UpToDate),
				"disables", len(plan.Disables),
				"dry_run", dryRun)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"Report every decision without changing the realm")
	cmd.Flags().StringVar(&email, "email", "",
		"Only sync the roster record with this email; skips the disable phase")
	cmd.Flags().BoolVar(&resendVerification, "resend-verification", false,
		"Re-send verification emails to matched users with unverified emails")
	defaults := roster.DefaultColumnMapping()
	cmd.Flags().BoolVar(&useColumnMapping, "use-column-mapping", false,
		"Read columns by header name from row 1 instead of heuristic detection")
	cmd.Flags().StringVar(&usernameColumn, "username-column", defaults.Username,
		"Header of the username column (with --use-column-mapping)")
	cmd.Flags().StringVar(&emailColumn, "email-column", defaults.Email,
		"Header of the email column (with --use-column-mapping)")
	cmd.Flags().StringVar(&firstNameColumn, "first-name-column", defaults.FirstName,
		"Header of the first name column (with --use-column-mapping)")
	cmd.Flags().StringVar(&lastNameColumn, "last-name-column", defaults.LastName,
		"Header of the last name column (with --use-column-mapping)")

	return cmd
}

func rosterContains(records []roster.User, email string) bool {
	for _, rec := range records {
		if rec.Email == email {
			return true
		}
	}
	return false
}
