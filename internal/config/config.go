// Package config loads and manages the runner's configuration from
// pm-orchestrator.yaml, with a legacy TOML reader kept for migrating an
// old-format agent.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Limits bounds a run's resource consumption.
type Limits struct {
	MaxFiles   int `yaml:"max_files"`
	MaxTests   int `yaml:"max_tests"`
	MaxSeconds int `yaml:"max_seconds"`
}

// Runner controls executor selection and behavior.
type Runner struct {
	EvidenceDir            string `yaml:"evidence_dir"`
	ContinueOnTaskFailure  bool   `yaml:"continue_on_task_failure"`
	UseClaudeCode          bool   `yaml:"use_claude_code"`
	ClaudeCodeTimeout      int    `yaml:"claude_code_timeout"`
	EnableAutoResolve      bool   `yaml:"enable_auto_resolve"`
	AutoResolveLLMProvider string `yaml:"auto_resolve_llm_provider"`
}

// Telemetry controls tracing export. Kept as a struct shape directly
// from the legacy TelemetryConfig.
type Telemetry struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // http, otlp, file, noop
}

// LLM names the provider/model pair an executor uses.
type LLM struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	MaxTokens int    `yaml:"max_tokens"`
	BaseURL   string `yaml:"base_url"`
}

// Config is the full, explicit set of recognized fields — no dynamic
// option objects, per the design notes' requirement that configuration
// be an enumerable record, not an open map. Security is deliberately
// absent: there is no prompt-level security-tiering concept in scope.
type Config struct {
	Project   string    `yaml:"project"`
	Limits    Limits    `yaml:"limits"`
	Runner    Runner    `yaml:"runner"`
	Telemetry Telemetry `yaml:"telemetry"`
	LLM       LLM       `yaml:"llm"`
}

// New returns a Config populated with the runner options table's
// recognized defaults: 20 files, 50 tests, 900 seconds.
func New() *Config {
	return &Config{
		Limits: Limits{
			MaxFiles:   20,
			MaxTests:   50,
			MaxSeconds: 900,
		},
		Runner: Runner{
			EvidenceDir:       ".claude/logs/evidence",
			ClaudeCodeTimeout: 300,
		},
		Telemetry: Telemetry{
			Protocol: "noop",
		},
		LLM: LLM{
			MaxTokens: 4096,
		},
	}
}

// LoadFile loads configuration from a YAML file, applying New()'s
// defaults first so any field the file omits keeps its default.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads pm-orchestrator.yaml from the current directory. A
// .env file in the same directory is loaded first, best-effort, so
// GetAPIKey's os.Getenv lookups can see locally-set credentials without
// requiring them to already be exported in the shell.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get current directory: %w", err)
	}
	_ = godotenv.Load(filepath.Join(cwd, ".env"))
	return LoadFile(filepath.Join(cwd, "pm-orchestrator.yaml"))
}

// legacyConfig mirrors just enough of the old TOML shape to carry
// forward an LLM provider/model/api-key-env/max-tokens selection from a
// pre-migration agent.toml; every other legacy section (security,
// embeddings, MCP, skills, profiles) has no analogue in this
// specification's scope and is intentionally not read.
type legacyConfig struct {
	LLM struct {
		Provider  string `toml:"provider"`
		Model     string `toml:"model"`
		APIKeyEnv string `toml:"api_key_env"`
		MaxTokens int    `toml:"max_tokens"`
		BaseURL   string `toml:"base_url"`
	} `toml:"llm"`
}

// LoadLegacyTOML reads an old-format agent.toml and maps its LLM section
// onto a Config, for one-time migration to pm-orchestrator.yaml.
func LoadLegacyTOML(path string) (*Config, error) {
	var legacy legacyConfig
	if _, err := toml.DecodeFile(path, &legacy); err != nil {
		return nil, fmt.Errorf("parse legacy config: %w", err)
	}
	cfg := New()
	cfg.LLM = LLM{
		Provider:  legacy.LLM.Provider,
		Model:     legacy.LLM.Model,
		APIKeyEnv: legacy.LLM.APIKeyEnv,
		MaxTokens: legacy.LLM.MaxTokens,
		BaseURL:   legacy.LLM.BaseURL,
	}
	return cfg, nil
}

// DefaultAPIKeyEnv returns the default environment variable name for a
// provider, used when LLM.APIKeyEnv is unset.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}

// GetAPIKey returns the API key from the configured environment
// variable, falling back to the provider's default variable name.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// HasCredential reports only whether the configured credential is
// present, never its value — the Sentinel's key gate is built on this,
// not on GetAPIKey, so a credential value never has to pass through
// gate-checking code.
func (c *Config) HasCredential() bool {
	return c.GetAPIKey() != ""
}
