package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server      ServerConfig    `koanf:"server"`
	Forge       ForgeConfig     `koanf:"forge"`
	Model       ModelConfig     `koanf:"model"`
	Providers   ProvidersConfig `koanf:"providers"`
	Store       StoreConfig     `koanf:"store"`
	Policy      PolicyConfig    `koanf:"policy"`
	Invoker     InvokerConfig   `koanf:"invoker"`
	Trust       TrustConfig     `koanf:"trust"`
	Tooling     ToolingConfig   `koanf:"tooling"`
	Notify      NotifyConfig    `koanf:"notify"`
	Sweeper     SweeperConfig   `koanf:"sweeper"`
	ProjectsDir string          `koanf:"projects_dir"`
}

type ServerConfig struct {
	Port            int      `koanf:"port"`
	LogLevel        string   `koanf:"log_level"`
	WebhookSecret   string   `koanf:"webhook_secret"`
	APIKeys         []string `koanf:"api_keys"`
	ReadTimeout     string   `koanf:"read_timeout"`
	WriteTimeout    string   `koanf:"write_timeout"`
	ShutdownTimeout string   `koanf:"shutdown_timeout"`
}

type ForgeConfig struct {
	BaseURL string `koanf:"base_url"`
	Token   string `koanf:"token"`
	Timeout string `koanf:"timeout"`
}

type ModelConfig struct {
	Provider  string          `koanf:"provider"`
	Name      string          `koanf:"name"`
	MaxTokens int             `koanf:"max_tokens"`
	Timeout   string          `koanf:"timeout"`
	Embedding EmbeddingConfig `koanf:"embedding"`
}

type EmbeddingConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
}

type ProvidersConfig struct {
	Anthropic AnthropicConfig `koanf:"anthropic"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	Gemini    GeminiConfig    `koanf:"gemini"`
}

type AnthropicConfig struct {
	APIKey string `koanf:"api_key"`
}

type OpenAIConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

type GeminiConfig struct {
	APIKey string `koanf:"api_key"`
}

type StoreConfig struct {
	DataDir     string `koanf:"data_dir"`
	LockTimeout string `koanf:"lock_timeout"`
	LockRetry   string `koanf:"lock_retry"`
}

type PolicyConfig struct {
	StrictStop bool     `koanf:"strict_stop"`
	Redact     []string `koanf:"redact"`
}

type InvokerConfig struct {
	MaxIterations        int `koanf:"max_iterations"`
	MaxConversationDepth int `koanf:"max_conversation_depth"`
}

type TrustConfig struct {
	CacheTTL string `koanf:"cache_ttl"`
}

type ToolingConfig struct {
	Servers []ToolServerConfig `koanf:"servers"`
}

// ToolServerConfig describes one external tool server. Command servers
// are spawned over stdio; URL servers are reached over streamable HTTP.
// Exactly one of Command and URL must be set.
type ToolServerConfig struct {
	Name    string   `koanf:"name"`
	Command string   `koanf:"command"`
	URL     string   `koanf:"url"`
	Env     []string `koanf:"env"`
}

type NotifyConfig struct {
	Slack    SlackConfig    `koanf:"slack"`
	Telegram TelegramConfig `koanf:"telegram"`
}

type SlackConfig struct {
	Token   string `koanf:"token"`
	Channel string `koanf:"channel"`
}

type TelegramConfig struct {
	Token  string `koanf:"token"`
	ChatID int64  `koanf:"chat_id"`
}

type SweeperConfig struct {
	Enabled          bool   `koanf:"enabled"`
	Schedule         string `koanf:"schedule"`
	ThreadStaleAfter string `koanf:"thread_stale_after"`
	ApprovalTTL      string `koanf:"approval_ttl"`
}

const (
	DefaultServerPort             = 8420
	DefaultServerLogLevel         = "info"
	DefaultServerReadTimeout      = "10s"
	DefaultServerWriteTimeout     = "0s"
	DefaultServerShutdownTimeout  = "5s"
	DefaultForgeBaseURL           = "https://api.github.com"
	DefaultForgeTimeout           = "15s"
	DefaultModelProvider          = "anthropic"
	DefaultModelName              = "claude-sonnet-4-0"
	DefaultModelMaxTokens         = 4096
	DefaultModelTimeout           = "120s"
	DefaultEmbeddingProvider      = "openai"
	DefaultEmbeddingModel         = "text-embedding-3-small"
	DefaultOpenAIBaseURL          = "https://api.openai.com/v1"
	DefaultStoreLockTimeout       = "30s"
	DefaultStoreLockRetry         = "100ms"
	DefaultPolicyStrictStop       = false
	DefaultInvokerMaxIterations   = 10
	DefaultMaxConversationDepth   = 5
	DefaultTrustCacheTTL          = "5m"
	DefaultSweeperEnabled         = true
	DefaultSweeperSchedule        = "0 * * * *"
	DefaultThreadStaleAfter       = "168h"
	DefaultApprovalTTL            = "72h"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                    DefaultServerPort,
		"server.log_level":               DefaultServerLogLevel,
		"server.read_timeout":            DefaultServerReadTimeout,
		"server.write_timeout":           DefaultServerWriteTimeout,
		"server.shutdown_timeout":        DefaultServerShutdownTimeout,
		"forge.base_url":                 DefaultForgeBaseURL,
		"forge.timeout":                  DefaultForgeTimeout,
		"model.provider":                 DefaultModelProvider,
		"model.name":                     DefaultModelName,
		"model.max_tokens":               DefaultModelMaxTokens,
		"model.timeout":                  DefaultModelTimeout,
		"model.embedding.provider":       DefaultEmbeddingProvider,
		"model.embedding.model":          DefaultEmbeddingModel,
		"providers.openai.base_url":      DefaultOpenAIBaseURL,
		"store.data_dir":                 filepath.Join(os.Getenv("HOME"), ".warden"),
		"store.lock_timeout":             DefaultStoreLockTimeout,
		"store.lock_retry":               DefaultStoreLockRetry,
		"policy.strict_stop":             DefaultPolicyStrictStop,
		"policy.redact":                  []string{"token", "secret", "password", "api_key"},
		"invoker.max_iterations":         DefaultInvokerMaxIterations,
		"invoker.max_conversation_depth": DefaultMaxConversationDepth,
		"trust.cache_ttl":                DefaultTrustCacheTTL,
		"sweeper.enabled":                DefaultSweeperEnabled,
		"sweeper.schedule":               DefaultSweeperSchedule,
		"sweeper.thread_stale_after":     DefaultThreadStaleAfter,
		"sweeper.approval_ttl":           DefaultApprovalTTL,
		"projects_dir":                   filepath.Join(os.Getenv("HOME"), ".warden", "projects"),
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".warden", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment variables: WARDEN_SERVER_PORT -> server.port
	k.Load(env.Provider("WARDEN_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "WARDEN_")), "_", ".", -1)
	}), nil)

	// CLI flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	// Standard env vars fill provider keys when the config leaves them out
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Providers.Anthropic.APIKey == "" {
		cfg.Providers.Anthropic.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.Providers.Gemini.APIKey == "" {
		cfg.Providers.Gemini.APIKey = key
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" && cfg.Forge.Token == "" {
		cfg.Forge.Token = token
	}

	return &cfg, nil
}

// DurationOrDefault parses a duration string and falls back to defaultValue when empty.
func DurationOrDefault(value string, defaultValue string) (time.Duration, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		candidate = strings.TrimSpace(defaultValue)
	}
	if candidate == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
	}
	return d, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	dataDir, err := ExpandPath(cfg.Store.DataDir)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}

	projectsDir, err := ExpandPath(cfg.ProjectsDir)
	if err != nil {
		return err
	}
	if projectsDir != "" {
		cfg.ProjectsDir = projectsDir
	}

	return nil
}
