package runner

import (
	"context"

	"github.com/kestrelrun/runner/internal/evidence"
)

// Status is the closed set of outcomes an executor invocation reports
// back to the runner. The runner, not the executor, decides what this
// means for the task's terminal state.
type Status string

const (
	StatusComplete   Status = "COMPLETE"
	StatusIncomplete Status = "INCOMPLETE"
	StatusNoEvidence Status = "NO_EVIDENCE"
	StatusError      Status = "ERROR"
	StatusBlocked    Status = "BLOCKED"
)

// TerminatedBy records why a subprocess executor stopped before
// reporting a status on its own.
type TerminatedBy string

const (
	TerminatedByTimeout           TerminatedBy = "timeout"
	TerminatedByInteractivePrompt TerminatedBy = "interactive_prompt"
	TerminatedBySignal            TerminatedBy = "signal"
)

// TaskType distinguishes tasks whose deliverable is an informational
// answer rather than a file change; completion judgment treats these
// differently when no file evidence is produced.
type TaskType string

const (
	TaskTypeReadInfo TaskType = "READ_INFO"
	TaskTypeReport   TaskType = "REPORT"
	TaskTypeGeneral  TaskType = "GENERAL"
)

// VerifiedFile is one post-execution existence check the runner treats
// as authoritative evidence. FilesModified, by contrast, is
// informational only and never participates in completion judgment.
type VerifiedFile struct {
	Path   string
	Exists bool
	Size   int64
}

// Input is what the runner hands to an executor for one task.
type Input struct {
	ID             string
	Prompt         string
	WorkingDir     string
	SelectedModel  string
	TaskType       TaskType
}

// Output is the executor's structured report. The runner treats every
// field here as a claim to be judged, not a verdict to be trusted.
type Output struct {
	Executed       bool
	Status         Status
	Output         string
	FilesModified  []string
	VerifiedFiles  []VerifiedFile
	DurationMs     int64
	Error          string
	ExecutorBlocked bool
	BlockedReason  string
	TimeoutMs      int64
	TerminatedBy   TerminatedBy
}

// Executor is the capability interface every backend implements.
type Executor interface {
	Name() string
	Execute(ctx context.Context, in Input) (Output, error)
}

// evidenceAware is implemented by executors that record evidence of
// their own calls. The session's evidence manager and id aren't known
// until after Initialize/Resume construct the executor (it may be
// built by a caller before a session exists at all), so wiring happens
// as a post-construction step rather than through the constructor.
type evidenceAware interface {
	setEvidence(mgr *evidence.Manager, sessionID string)
}

func wireEvidence(executor Executor, mgr *evidence.Manager, sessionID string) {
	if ea, ok := executor.(evidenceAware); ok {
		ea.setEvidence(mgr, sessionID)
	}
}
