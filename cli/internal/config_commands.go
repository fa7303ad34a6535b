package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration and contexts",
		Long:  `Manage CLI configuration including realm contexts, similar to kubectl contexts.`,
	}

	// Add subcommands
	cmd.AddCommand(newCurrentContextCommand())
	cmd.AddCommand(newUseContextCommand())
	cmd.AddCommand(newListContextsCommand())
	cmd.AddCommand(newAddContextCommand())
	cmd.AddCommand(newDeleteContextCommand())
	cmd.AddCommand(newConfigShowCommand())

	return cmd
}

// current-context command
func newCurrentContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current-context",
		Short: "Display the current context",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			fmt.Println(config.CurrentContext)
			return nil
		},
	}
}

// use-context command
func newUseContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use-context CONTEXT_NAME",
		Short: "Switch to a different context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextName := args[0]

			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if err := config.SetCurrentContext(contextName); err != nil {
				return err
			}

			if err := SaveConfig(config); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Printf("Switched to context %q\n", contextName)
			return nil
		},
	}
}

// list-contexts command
func newListContextsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list-contexts",
		Aliases: []string{"get-contexts"},
		Short:   "List all available contexts",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if len(config.Contexts) == 0 {
				fmt.Println("No contexts configured")
				return nil
			}

			// Sort context names for consistent output
			names := make([]string, 0, len(config.Contexts))
			for name := range config.Contexts {
				names = append(names, name)
			}
			sort.Strings(names)

			// Use tabwriter for aligned output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CURRENT\tNAME\tSERVER\tREALM\tCLIENT")

			for _, name := range names {
				ctx := config.Contexts[name]
				current := " "
				if name == config.CurrentContext {
					current = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					current,
					name,
					ctx.Keycloak.Server,
					ctx.Keycloak.Realm,
					ctx.Keycloak.ClientID,
				)
			}
			w.Flush()

			return nil
		},
	}
}

// add-context command
func newAddContextCommand() *cobra.Command {
	var (
		server          string
		realm           string
		clientID        string
		protectedUsers  []string
		initialGroups   []string
		requiredActions []string
		locale          string
	)

	cmd := &cobra.Command{
		Use:   "add-context CONTEXT_NAME",
		Short: "Add or update a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextName := args[0]

			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Create new context
			ctx := &Context{}
			ctx.Keycloak.Server = server
			ctx.Keycloak.Realm = realm
			ctx.Keycloak.ClientID = clientID
			ctx.Sync.ProtectedUsers = protectedUsers
			ctx.Sync.InitialGroups = initialGroups
			ctx.Sync.RequiredActions = requiredActions
			ctx.Sync.DefaultLocale = locale

			// Add or update the context
			config.AddContext(contextName, ctx)

			// If this is the first context, make it current
			if len(config.Contexts) == 1 {
				config.CurrentContext = contextName
			}

			if err := SaveConfig(config); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Printf("Context %q added/updated\n", contextName)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Keycloak server URL")
	cmd.Flags().StringVar(&realm, "realm", "", "Keycloak realm")
	cmd.Flags().StringVar(&clientID, "client-id", "emmet", "Keycloak client ID")
	cmd.Flags().StringSliceVar(&protectedUsers, "protected-user", nil,
		"Username or email never disabled by sync (repeatable)")
	cmd.Flags().StringSliceVar(&initialGroups, "initial-group", []string{"members"},
		"Group joined by newly created users (repeatable)")
	cmd.Flags().StringSliceVar(&requiredActions, "required-action", []string{"webauthn-register-passwordless"},
		"Required action applied to newly created users (repeatable)")
	cmd.Flags().StringVar(&locale, "locale", "fi", "Locale attribute for newly created users")
	cmd.MarkFlagRequired("server")
	cmd.MarkFlagRequired("realm")

	return cmd
}

// delete-context command
func newDeleteContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-context CONTEXT_NAME",
		Short: "Delete a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextName := args[0]

			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if err := config.DeleteContext(contextName); err != nil {
				return err
			}

			if err := SaveConfig(config); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Printf("Context %q deleted\n", contextName)
			return nil
		},
	}
}

// show command - shows current context
func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current context configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx, err := config.GetCurrentContext()
			if err != nil {
				return fmt.Errorf("failed to get current context: %w", err)
			}

			fmt.Printf("Current context: %s\n", config.CurrentContext)
			fmt.Printf("  Server: %s\n", ctx.Keycloak.Server)
			fmt.Printf("  Realm: %s\n", ctx.Keycloak.Realm)
			fmt.Printf("  Client ID: %s\n", ctx.Keycloak.ClientID)
			fmt.Printf("  Protected Users: %s\n", strings.Join(ctx.Sync.ProtectedUsers, ", "))
			fmt.Printf("  Initial Groups: %s\n", strings.Join(ctx.Sync.InitialGroups, ", "))
			fmt.Printf("  Required Actions: %s\n", strings.Join(ctx.Sync.RequiredActions, ", "))
			fmt.Printf("  Default Locale: %s\n", ctx.Sync.DefaultLocale)

			configPath, _ := GetConfigPath()
			fmt.Printf("  Config File: %s\n", configPath)

			return nil
		},
	}
}
