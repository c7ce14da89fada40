package main

import (
	"context"

	"github.com/kestrelrun/runner/internal/runner"
)

// ShutdownCmd flushes durable state and stops the current session.
type ShutdownCmd struct {
	Project string `short:"p" default:"." help:"Project directory of the current session"`
}

func (s *ShutdownCmd) Run(rc *RunContext) error {
	ctx := context.Background()

	cs, err := loadCurrentSession(s.Project)
	if err != nil {
		return &invalidArgsError{msg: err.Error()}
	}

	core, err := runner.Resume(ctx, cs.Project, cs.SessionID, runner.Options{
		ExecutorKind: runner.ExecutorStub,
		Executor:     &runner.StubExecutor{},
		Logger:       rc.Logger,
	})
	if err != nil {
		return err
	}

	if err := core.SaveState(ctx); err != nil {
		return err
	}
	if err := core.Shutdown(ctx); err != nil {
		return err
	}
	return clearCurrentSession(s.Project)
}
