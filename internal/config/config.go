// Package config loads term-agent settings from config.yaml, a .env file and
// TERM_AGENT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "TERM_AGENT"

type Config struct {
	Model   string        `mapstructure:"model"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	MCP     MCPConfig     `mapstructure:"mcp"`
	Session SessionConfig `mapstructure:"session"`
	Log     LogConfig     `mapstructure:"log"`
}

// RemoteConfig selects the model endpoint and its credentials.
type RemoteConfig struct {
	Dialect         string `mapstructure:"dialect"` // code-assist or gemini
	BaseURL         string `mapstructure:"base_url"`
	Project         string `mapstructure:"project"`
	AccessToken     string `mapstructure:"access_token"`
	APIKey          string `mapstructure:"api_key"`
	CredentialsFile string `mapstructure:"credentials_file"` // oauth_creds.json
	OAuthClientID   string `mapstructure:"oauth_client_id"`
	OAuthSecret     string `mapstructure:"oauth_client_secret"`
}

type RetryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
}

type ToolsConfig struct {
	Workspace   string   `mapstructure:"workspace"`
	Builtin     bool     `mapstructure:"builtin"`
	Enabled     []string `mapstructure:"enabled"`      // builtin tools to offer; empty means all
	AutoApprove []string `mapstructure:"auto_approve"` // tool name globs approved without asking
}

type MCPConfig struct {
	Config string `mapstructure:"config"` // path to mcp.json; empty means the default location
}

type SessionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
	JSON  bool   `mapstructure:"json"`
}

// LoadOptions overrides where configuration is read from.
type LoadOptions struct {
	ConfigFile string // explicit config file; skips the search path
	EnvFile    string // defaults to .env in the working directory
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model", "gemini-2.5-pro")
	v.SetDefault("remote.dialect", "code-assist")
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.project", "")
	v.SetDefault("remote.access_token", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.credentials_file", "")
	v.SetDefault("remote.oauth_client_id", "")
	v.SetDefault("remote.oauth_client_secret", "")
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_backoff", 2*time.Second)
	v.SetDefault("tools.workspace", ".")
	v.SetDefault("tools.builtin", true)
	v.SetDefault("tools.enabled", []string{})
	v.SetDefault("tools.auto_approve", []string{})
	v.SetDefault("mcp.config", "")
	v.SetDefault("session.enabled", false)
	v.SetDefault("session.path", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.file", "")
	v.SetDefault("log.json", false)
}

// Load reads the configuration. A missing config file or .env file is not an
// error.
func Load(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		configDir, err := GetConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	resolveRemoteCredentials(&cfg.Remote)
	cfg.Log.File = expandEnv(cfg.Log.File)
	cfg.Session.Path = expandEnv(cfg.Session.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	// godotenv.Load never overrides variables already set in the environment.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// resolveRemoteCredentials expands ${VAR} references and falls back to the
// variables the gemini tooling uses.
func resolveRemoteCredentials(cfg *RemoteConfig) {
	cfg.AccessToken = expandEnv(cfg.AccessToken)
	cfg.APIKey = expandEnv(cfg.APIKey)
	cfg.Project = expandEnv(cfg.Project)
	cfg.CredentialsFile = expandEnv(cfg.CredentialsFile)
	cfg.OAuthClientID = expandEnv(cfg.OAuthClientID)
	cfg.OAuthSecret = expandEnv(cfg.OAuthSecret)

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Project == "" {
		cfg.Project = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	switch c.Remote.Dialect {
	case "code-assist", "gemini":
	default:
		return fmt.Errorf("invalid remote.dialect %q (want code-assist or gemini)", c.Remote.Dialect)
	}
	if c.Model == "" {
		return errors.New("model must not be empty")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BaseBackoff < 0 {
		return fmt.Errorf("retry.base_backoff must be >= 0, got %s", c.Retry.BaseBackoff)
	}
	return nil
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	if strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, s[2:])
		}
	}
	return s
}

// GetConfigDir returns the XDG config directory for term-agent.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "term-agent"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "term-agent"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}
