package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_AppliesRunnerOptionDefaults(t *testing.T) {
	cfg := New()
	require.Equal(t, 20, cfg.Limits.MaxFiles)
	require.Equal(t, 50, cfg.Limits.MaxTests)
	require.Equal(t, 900, cfg.Limits.MaxSeconds)
}

func TestLoadFile_OverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pm-orchestrator.yaml")
	content := `
project: /tmp/example
limits:
  max_files: 5
runner:
  use_claude_code: true
llm:
  provider: anthropic
  model: claude
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Limits.MaxFiles)
	require.Equal(t, 50, cfg.Limits.MaxTests, "untouched default should survive a partial override")
	require.True(t, cfg.Runner.UseClaudeCode)
	require.Equal(t, "anthropic", cfg.LLM.Provider)
}

func TestGetAPIKey_FallsBackToProviderDefaultEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-value")
	cfg := New()
	cfg.LLM.Provider = "anthropic"

	require.Equal(t, "sk-ant-test-value", cfg.GetAPIKey())
}

func TestHasCredential_NeverExposesValue(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-value")
	cfg := New()
	cfg.LLM.Provider = "openai"
	require.True(t, cfg.HasCredential())

	cfg.LLM.Provider = "unknown-provider"
	cfg.LLM.APIKeyEnv = ""
	require.False(t, cfg.HasCredential(), "unknown provider with no explicit env var should report no credential")
}

func TestLoadLegacyTOML_MapsLLMSectionOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.toml")
	content := `
[llm]
provider = "anthropic"
model = "claude-legacy"
max_tokens = 2048

[security]
mode = "paranoid"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadLegacyTOML(path)
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.LLM.Provider)
	require.Equal(t, "claude-legacy", cfg.LLM.Model)
	require.Equal(t, 2048, cfg.LLM.MaxTokens)
}

func TestLoadDefault_LoadsDotEnvBeforeReadingConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ANTHROPIC_API_KEY=sk-ant-from-dotenv\n"), 0o644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	_, err = LoadDefault()
	require.Error(t, err, "no pm-orchestrator.yaml in dir, but .env should still have been loaded")
	require.Equal(t, "sk-ant-from-dotenv", os.Getenv("ANTHROPIC_API_KEY"))
}
