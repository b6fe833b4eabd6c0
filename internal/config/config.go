// Package config loads chet's TOML configuration file and resolves the
// layered precedence of CLI flag, config file, environment variable, and
// built-in default, following the override-precedence idiom of the
// teacher's internal/config package (ResolveModel's CLI > settings >
// default chain) applied to a flat TOML shape instead of the teacher's
// layered JSON settings merge.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Default values used when neither flag, config file, nor environment
// variable supplies one.
const (
	DefaultModel          = "claude-opus-4-1-20250805"
	DefaultMaxTokens       = 8192
	DefaultMaxRetries      = 2
	DefaultInitialDelayMS  = 1000
	DefaultMaxDelayMS      = 60000
	DefaultHookTimeoutMS   = 5000
	DefaultConfigDirName   = ".chet"
)

// ErrConfigInvalid is returned when the config file parses but fails
// validation (e.g. an unknown permission level or malformed glob).
var ErrConfigInvalid = errors.New("invalid configuration")

// RetryConfig mirrors spec §4.2's retry policy defaults.
type RetryConfig struct {
	MaxRetries     int `toml:"max_retries"`
	InitialDelayMS int `toml:"initial_delay_ms"`
	MaxDelayMS     int `toml:"max_delay_ms"`
}

// APIConfig mirrors the `[api]` table of spec §6's config file shape.
type APIConfig struct {
	Model          string      `toml:"model"`
	MaxTokens      int         `toml:"max_tokens"`
	APIKey         string      `toml:"api_key"`
	BaseURL        string      `toml:"base_url"`
	ThinkingBudget int         `toml:"thinking_budget"`
	Retry          RetryConfig `toml:"retry"`
}

// PermissionRuleConfig mirrors one `[[permissions.rules]]` entry.
type PermissionRuleConfig struct {
	Tool  string `toml:"tool"`
	Args  string `toml:"args"`
	Level string `toml:"level"`
}

// PermissionsConfig mirrors the `[permissions]` table.
type PermissionsConfig struct {
	Rules []PermissionRuleConfig `toml:"rules"`
}

// HookConfig mirrors one `[[hooks]]` entry.
type HookConfig struct {
	Event     string `toml:"event"`
	Command   string `toml:"command"`
	TimeoutMS int    `toml:"timeout_ms"`
}

// Config is the fully parsed, defaulted configuration file.
type Config struct {
	API         APIConfig           `toml:"api"`
	Permissions PermissionsConfig   `toml:"permissions"`
	Hooks       []HookConfig        `toml:"hooks"`
}

// Defaults returns a Config populated with built-in defaults, used when
// no config file exists.
func Defaults() *Config {
	return &Config{
		API: APIConfig{
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
			Retry: RetryConfig{
				MaxRetries:     DefaultMaxRetries,
				InitialDelayMS: DefaultInitialDelayMS,
				MaxDelayMS:     DefaultMaxDelayMS,
			},
		},
	}
}

// Dir resolves the config directory: CHET_CONFIG_DIR env var if set,
// else ~/.chet.
func Dir() (string, error) {
	if dir := os.Getenv("CHET_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDirName), nil
}

// Path returns the path to config.toml inside the resolved config dir.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads and parses the TOML config file at path. A missing file is
// not an error; it yields Defaults(). A present-but-malformed file is a
// Configuration error per spec §7 and aborts at startup.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	fileCfg := &Config{}
	if err := toml.Unmarshal(data, fileCfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfigInvalid, path, err)
	}

	merged := mergeDefaults(cfg, fileCfg)
	if err := validate(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// mergeDefaults overlays non-zero fields from file on top of defaults.
func mergeDefaults(defaults, file *Config) *Config {
	merged := *defaults
	if file.API.Model != "" {
		merged.API.Model = file.API.Model
	}
	if file.API.MaxTokens != 0 {
		merged.API.MaxTokens = file.API.MaxTokens
	}
	if file.API.APIKey != "" {
		merged.API.APIKey = file.API.APIKey
	}
	if file.API.BaseURL != "" {
		merged.API.BaseURL = file.API.BaseURL
	}
	if file.API.ThinkingBudget != 0 {
		merged.API.ThinkingBudget = file.API.ThinkingBudget
	}
	if file.API.Retry.MaxRetries != 0 {
		merged.API.Retry.MaxRetries = file.API.Retry.MaxRetries
	}
	if file.API.Retry.InitialDelayMS != 0 {
		merged.API.Retry.InitialDelayMS = file.API.Retry.InitialDelayMS
	}
	if file.API.Retry.MaxDelayMS != 0 {
		merged.API.Retry.MaxDelayMS = file.API.Retry.MaxDelayMS
	}
	if len(file.Permissions.Rules) > 0 {
		merged.Permissions.Rules = file.Permissions.Rules
	}
	if len(file.Hooks) > 0 {
		merged.Hooks = file.Hooks
	}
	return &merged
}

func validate(cfg *Config) error {
	for i, rule := range cfg.Permissions.Rules {
		switch rule.Level {
		case "permit", "block", "prompt":
		default:
			return fmt.Errorf("%w: permissions.rules[%d]: unknown level %q", ErrConfigInvalid, i, rule.Level)
		}
		if rule.Tool == "" {
			return fmt.Errorf("%w: permissions.rules[%d]: tool pattern is required", ErrConfigInvalid, i)
		}
	}
	for i, hook := range cfg.Hooks {
		switch hook.Event {
		case "before_tool", "after_tool", "session_start", "session_end", "config_change", "worktree_create", "worktree_remove":
		default:
			return fmt.Errorf("%w: hooks[%d]: unknown event %q", ErrConfigInvalid, i, hook.Event)
		}
		if hook.Command == "" {
			return fmt.Errorf("%w: hooks[%d]: command is required", ErrConfigInvalid, i)
		}
	}
	return nil
}

// ResolveModel applies CLI > config file > environment variable >
// built-in default precedence, mirroring the teacher's ResolveModel.
func ResolveModel(cfg *Config, cliModel string) string {
	if cliModel != "" {
		return cliModel
	}
	if cfg != nil && cfg.API.Model != "" {
		return cfg.API.Model
	}
	if envModel := os.Getenv("CHET_MODEL"); envModel != "" {
		return envModel
	}
	return DefaultModel
}

// ResolveAPIKey applies CLI > config file > environment variable
// precedence. There is no built-in default for an API key.
func ResolveAPIKey(cfg *Config, cliKey string) string {
	if cliKey != "" {
		return cliKey
	}
	if cfg != nil && cfg.API.APIKey != "" {
		return cfg.API.APIKey
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// ResolveBaseURL applies CLI > config file > environment variable >
// built-in default precedence.
func ResolveBaseURL(cfg *Config, cliBaseURL string) string {
	if cliBaseURL != "" {
		return cliBaseURL
	}
	if cfg != nil && cfg.API.BaseURL != "" {
		return cfg.API.BaseURL
	}
	if envURL := os.Getenv("ANTHROPIC_API_BASE_URL"); envURL != "" {
		return envURL
	}
	return "https://api.anthropic.com"
}
