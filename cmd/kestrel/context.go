package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kestrelrun/runner/internal/config"
	"github.com/kestrelrun/runner/internal/dal"
	"github.com/kestrelrun/runner/internal/llmclient"
	"github.com/kestrelrun/runner/internal/obslog"
	"github.com/kestrelrun/runner/internal/runner"
)

// RunContext is the shared state every kong command's Run method
// receives: loaded configuration, a logger, and the project repository,
// constructed once in main rather than rediscovered at each call site.
type RunContext struct {
	Config   *config.Config
	Logger   *obslog.Logger
	Projects *dal.ProjectRepo
}

func newRunContext() (*RunContext, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		cfg = config.New()
	}

	logger, err := obslog.New(true)
	if err != nil {
		logger = obslog.NewNop()
	}

	stateDir, err := kestrelStateDir()
	if err != nil {
		return nil, err
	}
	idx, err := dal.OpenIndex(filepath.Join(stateDir, "accelerator.db"))
	if err != nil {
		idx = nil // the accelerator is best-effort; repos fall back to a tree walk
	}
	projects := dal.NewProjectRepo(stateDir, idx)

	return &RunContext{Config: cfg, Logger: logger, Projects: projects}, nil
}

func kestrelStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".kestrel")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}
	return dir, nil
}

// currentSession is the pointer a session leaves behind so a later CLI
// invocation — a new process — knows which session to resume.
type currentSession struct {
	Project   string `json:"project"`
	SessionID string `json:"sessionId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func currentSessionPath(project string) string {
	return filepath.Join(project, ".claude", "state", "current.json")
}

func saveCurrentSession(project, sessionID string) error {
	path := currentSessionPath(project)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(currentSession{Project: project, SessionID: sessionID, UpdatedAt: time.Now()})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func loadCurrentSession(project string) (currentSession, error) {
	data, err := os.ReadFile(currentSessionPath(project))
	if err != nil {
		return currentSession{}, fmt.Errorf("no active session for %q; run \"kestrel start\" first: %w", project, err)
	}
	var cs currentSession
	if err := json.Unmarshal(data, &cs); err != nil {
		return currentSession{}, fmt.Errorf("corrupt session pointer: %w", err)
	}
	return cs, nil
}

func clearCurrentSession(project string) error {
	err := os.Remove(currentSessionPath(project))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// buildExecutor constructs the Executor a Config selects: a subprocess
// invocation of the claude-code binary, or a direct LLM API call.
func buildExecutor(cfg *config.Config) (runner.Executor, runner.ExecutorKind, error) {
	if cfg.Runner.UseClaudeCode {
		timeout := time.Duration(cfg.Runner.ClaudeCodeTimeout) * time.Second
		return runner.NewClaudeCodeExecutor("claude", timeout), runner.ExecutorClaudeCode, nil
	}

	apiKey := cfg.GetAPIKey()
	if apiKey == "" {
		return nil, "", fmt.Errorf("no credential configured for llm provider %q", cfg.LLM.Provider)
	}

	var provider llmclient.Provider
	switch cfg.LLM.Provider {
	case "anthropic":
		provider = llmclient.NewAnthropicProvider(apiKey, int64(cfg.LLM.MaxTokens))
	case "openai":
		provider = llmclient.NewOpenAIProvider(apiKey)
	default:
		return nil, "", fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}

	return &runner.APIExecutor{
		Provider:    provider,
		Model:       cfg.LLM.Model,
		AutoResolve: cfg.Runner.EnableAutoResolve,
	}, runner.ExecutorAPI, nil
}
