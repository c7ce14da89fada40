package runner

import (
	"context"
	"time"
)

// StubExecutor returns a fixed Output regardless of Input, for tests
// that exercise the runner's completion-judgment logic without a real
// subprocess or network call.
type StubExecutor struct {
	Output Output
	Err    error
}

func (s *StubExecutor) Name() string { return "stub" }

func (s *StubExecutor) Execute(ctx context.Context, in Input) (Output, error) {
	if s.Err != nil {
		return Output{}, s.Err
	}
	return s.Output, nil
}

// DeterministicExecutor replays one of a fixed set of transcripts keyed
// by task id, for scenario tests that need distinct canned behavior
// per task without branching on prompt content.
type DeterministicExecutor struct {
	Transcripts map[string]Output
	Default     Output
}

func (d *DeterministicExecutor) Name() string { return "deterministic" }

func (d *DeterministicExecutor) Execute(ctx context.Context, in Input) (Output, error) {
	if out, ok := d.Transcripts[in.ID]; ok {
		return out, nil
	}
	return d.Default, nil
}

// RecoveryMode gates whether a RecoveryStubExecutor may be constructed.
// It exists to make the rejection in NewRecoveryStubExecutor
// observable and testable without relying on a package-level global.
type RecoveryMode bool

const (
	RecoveryModeDisabled RecoveryMode = false
	RecoveryModeEnabled  RecoveryMode = true
)

// ErrRecoveryModeRequired is returned when something tries to
// construct a RecoveryStubExecutor outside explicit recovery mode.
type ErrRecoveryModeRequired struct{}

func (ErrRecoveryModeRequired) Error() string {
	return "recovery-stub executor requires explicit recovery mode"
}

// RecoveryStubExecutor simulates the failure modes the stale-run sweep
// and timeout machinery must recover from: a timeout, an executor_blocked
// report, and a fail-closed NO_EVIDENCE report, selected by Scenario.
type RecoveryStubExecutor struct {
	Scenario string
}

// NewRecoveryStubExecutor constructs a RecoveryStubExecutor. It is
// rejected unless mode is RecoveryModeEnabled, mirroring the
// initialization-time rejection the per-task algorithm requires.
func NewRecoveryStubExecutor(mode RecoveryMode, scenario string) (*RecoveryStubExecutor, error) {
	if mode != RecoveryModeEnabled {
		return nil, ErrRecoveryModeRequired{}
	}
	return &RecoveryStubExecutor{Scenario: scenario}, nil
}

func (r *RecoveryStubExecutor) Name() string { return "recovery-stub" }

func (r *RecoveryStubExecutor) Execute(ctx context.Context, in Input) (Output, error) {
	switch r.Scenario {
	case "timeout":
		return Output{
			Executed:     false,
			Status:       StatusError,
			DurationMs:   time.Minute.Milliseconds(),
			TerminatedBy: TerminatedByTimeout,
			Error:        "executor timed out",
		}, nil
	case "blocked":
		return Output{
			Executed:        false,
			ExecutorBlocked: true,
			BlockedReason:   "external policy blocked execution",
		}, nil
	case "no_evidence":
		return Output{
			Executed: true,
			Status:   StatusNoEvidence,
		}, nil
	default:
		return Output{Executed: true, Status: StatusError, Error: "unknown recovery scenario"}, nil
	}
}
