package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kestrelrun/runner/internal/evidence"
)

// ClaudeCodeExecutor drives a real coding-agent subprocess: the prompt
// is piped to stdin, combined stdout/stderr is captured as Output, and
// the subprocess is killed on context cancellation or timeout. Every
// invocation is evidenced the same way an API call is, so a
// claude-code-driven session carries the same integrity-gate material
// an API-driven one does.
type ClaudeCodeExecutor struct {
	Binary  string
	Timeout time.Duration

	EvidenceMgr *evidence.Manager
	SessionID   string
}

// NewClaudeCodeExecutor constructs an executor invoking binary (e.g.
// "claude") with a per-invocation timeout.
func NewClaudeCodeExecutor(binary string, timeout time.Duration) *ClaudeCodeExecutor {
	if binary == "" {
		binary = "claude"
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &ClaudeCodeExecutor{Binary: binary, Timeout: timeout}
}

func (c *ClaudeCodeExecutor) Name() string { return "claude-code" }

func (c *ClaudeCodeExecutor) setEvidence(mgr *evidence.Manager, sessionID string) {
	c.EvidenceMgr = mgr
	c.SessionID = sessionID
}

func (c *ClaudeCodeExecutor) Execute(ctx context.Context, in Input) (Output, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	args := []string{"--print"}
	if in.SelectedModel != "" {
		args = append(args, "--model", in.SelectedModel)
	}

	cmd := exec.CommandContext(runCtx, c.Binary, args...)
	cmd.Dir = in.WorkingDir
	cmd.Stdin = bytes.NewBufferString(in.Prompt)

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		out := Output{
			Executed:     false,
			Status:       StatusError,
			Output:       combined.String(),
			DurationMs:   duration.Milliseconds(),
			TimeoutMs:    c.Timeout.Milliseconds(),
			TerminatedBy: TerminatedByTimeout,
			Error:        "claude-code subprocess exceeded timeout",
		}
		c.recordEvidence(ctx, in, out)
		return out, nil
	}
	if err != nil {
		out := Output{
			Executed:   true,
			Status:     StatusError,
			Output:     combined.String(),
			DurationMs: duration.Milliseconds(),
			Error:      err.Error(),
		}
		c.recordEvidence(ctx, in, out)
		return out, nil
	}

	verified := c.verifyFiles(in.WorkingDir, scanModifiedFilePaths(combined.String()))
	out := Output{
		Executed:      true,
		Status:        StatusComplete,
		Output:        combined.String(),
		FilesModified: scanModifiedFilePaths(combined.String()),
		VerifiedFiles: verified,
		DurationMs:    duration.Milliseconds(),
	}
	c.recordEvidence(ctx, in, out)
	return out, nil
}

// recordEvidence persists one evidence record for the prompt this
// subprocess was given and the combined output it produced. The
// working directory and subprocess arguments aren't part of the
// evidenced request — only the prompt content is, matching what the
// other executors evidence.
func (c *ClaudeCodeExecutor) recordEvidence(ctx context.Context, in Input, out Output) {
	if c.EvidenceMgr == nil {
		return
	}
	callID, idErr := evidence.NewCallID(time.Now())
	if idErr != nil {
		return
	}
	messages := []evidence.Message{{Role: "user", Content: in.Prompt}}
	failureKind := ""
	success := out.Status == StatusComplete
	if !success {
		failureKind = "subprocess_error"
	}
	rec, err := evidence.NewRecord(callID, in.ID, c.SessionID, "claude-code", in.SelectedModel, messages, out.Output, success, failureKind, time.Now())
	if err != nil {
		return
	}
	_ = c.EvidenceMgr.Write(ctx, rec)
}

// verifyFiles stats each claimed relative path against workingDir,
// producing the authoritative verified_files evidence.
func (c *ClaudeCodeExecutor) verifyFiles(workingDir string, relPaths []string) []VerifiedFile {
	out := make([]VerifiedFile, 0, len(relPaths))
	for _, rel := range relPaths {
		info, err := os.Stat(filepath.Join(workingDir, rel))
		if err != nil {
			out = append(out, VerifiedFile{Path: rel, Exists: false})
			continue
		}
		out = append(out, VerifiedFile{Path: rel, Exists: true, Size: info.Size()})
	}
	return out
}

// scanModifiedFilePaths looks for a trailing "Modified files:" block in
// the subprocess output. This is a best-effort informational signal
// only; it never participates in completion judgment on its own.
func scanModifiedFilePaths(output string) []string {
	const marker = "Modified files:"
	idx := strings.Index(output, marker)
	if idx < 0 {
		return nil
	}
	rest := output[idx+len(marker):]
	var out []string
	for _, line := range strings.Split(rest, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
