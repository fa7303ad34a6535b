package cli

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/palikkayhteiso/emmet/internal/keycloak"
	"github.com/palikkayhteiso/emmet/internal/pkg/logger"
)

// Global logging flags
var (
	verbose       bool
	logLevel      string
	logFile       string
	logToStderr   bool
	alsoLogStderr bool
	logFormat     string
)

// Global provider flags. Empty values fall back to KEYCLOAK_* environment
// variables and then to the current context in ~/.emmet.
var (
	keycloakServer   string
	keycloakRealm    string
	keycloakClientID string
	keycloakSecret   string
)

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "emmet",
		Short:         "Membership roster synchronization for Keycloak",
		Long:          `A command line interface that reads a membership roster spreadsheet and reconciles it against a Keycloak realm.`,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors (main.go handles it)
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(); err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}
			slog.Default().Debug("CLI started", "command", cmd.Name())
			return nil
		},
	}

	// Add subcommands
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newDumpExcelCommand())
	rootCmd.AddCommand(newSendVerificationCommand())
	rootCmd.AddCommand(newSetEmailVerifiedCommand())
	rootCmd.AddCommand(newSetAllEmailsVerifiedCommand())
	rootCmd.AddCommand(newVerifyTokenCommand())

	// Add logging flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Log progress at info level (shorthand for --log-level=info)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "error",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"Log file path (if specified, logs to file instead of stderr)")
	rootCmd.PersistentFlags().BoolVar(&logToStderr, "logtostderr", false,
		"Log to stderr (default behavior unless --log-file specified)")
	rootCmd.PersistentFlags().BoolVar(&alsoLogStderr, "alsologtostderr", false,
		"Log to both file and stderr")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"Log format (text, json)")

	// Add provider flags
	rootCmd.PersistentFlags().StringVar(&keycloakServer, "keycloak-server", "",
		"Keycloak server URL (overrides KEYCLOAK_SERVER and the current context)")
	rootCmd.PersistentFlags().StringVar(&keycloakRealm, "keycloak-realm", "",
		"Keycloak realm (overrides KEYCLOAK_REALM and the current context)")
	rootCmd.PersistentFlags().StringVar(&keycloakClientID, "keycloak-client-id", "",
		"Keycloak client ID (overrides KEYCLOAK_CLIENT_ID and the current context)")
	rootCmd.PersistentFlags().StringVar(&keycloakSecret, "keycloak-client-secret", "",
		"Keycloak client secret (overrides KEYCLOAK_CLIENT_SECRET; prompted if missing)")

	return rootCmd
}

// setupLogging configures the global logger based on CLI flags
func setupLogging() error {
	// Default to stderr logging unless file is specified
	if logFile == "" {
		logToStderr = true
	}

	level := logger.ParseLevel(logLevel)
	if verbose && level > slog.LevelInfo {
		level = slog.LevelInfo
	}

	cfg := logger.Config{
		Level:         level,
		LogFile:       logFile,
		LogToStderr:   logToStderr,
		AlsoLogStderr: alsoLogStderr,
		Format:        logFormat,
	}

	globalLogger, err := logger.SetupLogger(cfg)
	if err != nil {
		return err
	}

	// Set as default logger
	slog.SetDefault(globalLogger)
	return nil
}

// resolve returns the first non-empty value: flag, environment, context.
func resolve(flagValue, envKey, contextValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return contextValue
}

// keycloakConfig assembles the provider configuration from flags, the
// environment and the current context. When requireSecret is set and no
// secret was supplied, the user is prompted on the terminal; the secret
// never reaches the config file.
func keycloakConfig(requireSecret bool) (keycloak.Config, *Context, error) {
	config, err := LoadConfig()
	if err != nil {
		return keycloak.Config{}, nil, fmt.Errorf("failed to load config: %w", err)
	}
	context, err := config.GetCurrentContext()
	if err != nil {
		return keycloak.Config{}, nil, fmt.Errorf("failed to get current context: %w", err)
	}

	cfg := keycloak.Config{
		ServerURL:    resolve(keycloakServer, "KEYCLOAK_SERVER", context.Keycloak.Server),
		Realm:        resolve(keycloakRealm, "KEYCLOAK_REALM", context.Keycloak.Realm),
		ClientID:     resolve(keycloakClientID, "KEYCLOAK_CLIENT_ID", context.Keycloak.ClientID),
		ClientSecret: resolve(keycloakSecret, "KEYCLOAK_CLIENT_SECRET", ""),
	}
	if cfg.ServerURL == "" {
		return keycloak.Config{}, nil, fmt.Errorf("no Keycloak server configured")
	}
	if cfg.Realm == "" {
		return keycloak.Config{}, nil, fmt.Errorf("no Keycloak realm configured")
	}

	if requireSecret && cfg.ClientSecret == "" {
		secret, err := promptSecret(cfg.ClientID)
		if err != nil {
			return keycloak.Config{}, nil, err
		}
		cfg.ClientSecret = secret
	}

	return cfg, context, nil
}

// promptSecret reads the client secret from the terminal without echo.
func promptSecret(clientID string) (string, error) {
	fmt.Fprintf(os.Stderr, "Client secret for %s: ", clientID)
	secretBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("failed to read client secret: %w", err)
	}
	return string(secretBytes), nil
}
