package main

import (
	"context"
	"fmt"

	"github.com/kestrelrun/runner/internal/runner"
)

// ResumeCmd resumes a previously saved session, restoring its lifecycle
// phase history from the on-disk state snapshot.
type ResumeCmd struct {
	Project string `short:"p" default:"." help:"Project directory the session ran against"`
	Session string `arg:"" help:"Session id to resume"`
}

func (r *ResumeCmd) Run(rc *RunContext) error {
	ctx := context.Background()

	executor, kind, err := buildExecutor(rc.Config)
	if err != nil {
		return err
	}

	core, err := runner.Resume(ctx, r.Project, r.Session, runner.Options{
		ExecutorKind: kind,
		Executor:     executor,
		Logger:       rc.Logger,
	})
	if err != nil {
		return &invalidArgsError{msg: err.Error()}
	}
	defer func() { _ = core.Shutdown(ctx) }()

	if err := saveCurrentSession(r.Project, core.SessionID()); err != nil {
		return err
	}

	fmt.Println("resumed session", core.SessionID())
	if core.Failed() {
		return &sessionErrorResult{msg: "resumed session was previously marked failed"}
	}
	return nil
}
