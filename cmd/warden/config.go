package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wardenhq/warden/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

//go:embed templates/config.yaml
var embeddedDefaultConfig []byte

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Dump fully resolved configuration",
	Long:  `Display the configuration with all defaults applied and environment variables resolved. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := ensureConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		return enc.Encode(redactConfigSecrets(loaded))
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration",
	Long:  `Create a commented configuration file at $HOME/.warden/config.yaml if none exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}

		configDir := filepath.Join(home, ".warden")
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return fmt.Errorf("create config directory %s: %w", configDir, err)
		}

		configPath := filepath.Join(configDir, "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Config already exists at %s\n", configPath)
			fmt.Println("Use 'warden config view' to see the resolved configuration.")
			return nil
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("check config file: %w", err)
		}

		if err := os.WriteFile(configPath, embeddedDefaultConfig, 0o644); err != nil {
			return fmt.Errorf("write config to %s: %w", configPath, err)
		}

		fmt.Printf("✓ Initialized config at %s\n", configPath)
		fmt.Println("\nNext steps:")
		fmt.Println("1. Set GITHUB_TOKEN and ANTHROPIC_API_KEY (or fill the keys in directly)")
		fmt.Println("2. Add a project under", filepath.Join(configDir, "projects"))
		fmt.Println("3. Run 'warden serve'")
		return nil
	},
}

// redactConfigSecrets copies the config with credential fields masked so
// view output is safe to paste into an issue.
func redactConfigSecrets(in *config.Config) *config.Config {
	if in == nil {
		return nil
	}

	out := *in
	out.Server.WebhookSecret = maskSecret(in.Server.WebhookSecret)
	if len(in.Server.APIKeys) > 0 {
		out.Server.APIKeys = make([]string, len(in.Server.APIKeys))
		for i, key := range in.Server.APIKeys {
			out.Server.APIKeys[i] = maskSecret(key)
		}
	}
	out.Forge.Token = maskSecret(in.Forge.Token)
	out.Providers.Anthropic.APIKey = maskSecret(in.Providers.Anthropic.APIKey)
	out.Providers.OpenAI.APIKey = maskSecret(in.Providers.OpenAI.APIKey)
	out.Providers.Gemini.APIKey = maskSecret(in.Providers.Gemini.APIKey)
	out.Notify.Slack.Token = maskSecret(in.Notify.Slack.Token)
	out.Notify.Telegram.Token = maskSecret(in.Notify.Telegram.Token)
	return &out
}

func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}

func init() {
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
