package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Context represents a named configuration context (like kubectl contexts).
// The client secret is deliberately absent: it comes from a flag, the
// environment, or an interactive prompt, and is never written to disk.
type Context struct {
	Keycloak struct {
		Server   string `yaml:"server"`
		Realm    string `yaml:"realm"`
		ClientID string `yaml:"client-id"`
	} `yaml:"keycloak"`
	Sync struct {
		ProtectedUsers  []string `yaml:"protected-users"`
		InitialGroups   []string `yaml:"initial-groups"`
		RequiredActions []string `yaml:"required-actions"`
		DefaultLocale   string   `yaml:"default-locale"`
	} `yaml:"sync"`
}

// Config represents the CLI configuration with multiple contexts
type Config struct {
	CurrentContext string              `yaml:"current-context"`
	Contexts       map[string]*Context `yaml:"contexts"`
}

// DefaultConfig returns the default configuration with a "prod" context
func DefaultConfig() *Config {
	prodContext := &Context{}
	prodContext.Keycloak.Server = "https://auth.palikkayhteiso.fi"
	prodContext.Keycloak.Realm = "palikkayhteiso"
	prodContext.Keycloak.ClientID = "emmet"
	prodContext.Sync.ProtectedUsers = []string{
		"suomenpalikkayhteisory@outlook.com",
		"suomenpalikkayhteisory+dummy@outlook.com",
	}
	prodContext.Sync.InitialGroups = []string{"members"}
	prodContext.Sync.RequiredActions = []string{"webauthn-register-passwordless"}
	prodContext.Sync.DefaultLocale = "fi"

	return &Config{
		CurrentContext: "prod",
		Contexts: map[string]*Context{
			"prod": prodContext,
		},
	}
}

// GetCurrentContext returns the current active context
func (c *Config) GetCurrentContext() (*Context, error) {
	if c.CurrentContext == "" {
		return nil, fmt.Errorf("no current context set")
	}

	ctx, ok := c.Contexts[c.CurrentContext]
	if !ok {
		return nil, fmt.Errorf("current context %q not found", c.CurrentContext)
	}

	return ctx, nil
}

// SetCurrentContext sets the current active context
func (c *Config) SetCurrentContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q does not exist", name)
	}
	c.CurrentContext = name
	return nil
}

// AddContext adds or updates a context
func (c *Config) AddContext(name string, ctx *Context) {
	if c.Contexts == nil {
		c.Contexts = make(map[string]*Context)
	}
	c.Contexts[name] = ctx
}

// DeleteContext removes a context
func (c *Config) DeleteContext(name string) error {
	if name == c.CurrentContext {
		return fmt.Errorf("cannot delete current context %q", name)
	}
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q does not exist", name)
	}
	delete(c.Contexts, name)
	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".emmet"), nil
}

// LoadConfig loads configuration from ~/.emmet file
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	// If config file doesn't exist, create it with defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		defaultConfig := DefaultConfig()
		if err := SaveConfig(defaultConfig); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return defaultConfig, nil
	}

	// Read existing config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Ensure we have a valid current context
	if config.CurrentContext == "" && len(config.Contexts) > 0 {
		// Pick the first context as default
		for name := range config.Contexts {
			config.CurrentContext = name
			break
		}
	}

	return &config, nil
}

// SaveConfig saves configuration to ~/.emmet file
func SaveConfig(config *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
