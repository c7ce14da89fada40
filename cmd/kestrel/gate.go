package main

import (
	"context"
	"fmt"

	"github.com/kestrelrun/runner/internal/runner"
)

// GateCmd runs the sentinel gate check against the current session's
// evidence directory and prints the verdict.
type GateCmd struct {
	Project string `short:"p" default:"." help:"Project directory of the current session"`
}

func (g *GateCmd) Run(rc *RunContext) error {
	ctx := context.Background()

	cs, err := loadCurrentSession(g.Project)
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
	defer func() { _ = core.Shutdown(ctx) }()

	verdict := core.CheckSentinel(rc.Config.HasCredential)
	fmt.Println("can_assert_complete:", verdict.CanAssertComplete)
	if !verdict.CanAssertComplete {
		fmt.Println("failed gate:", verdict.FailedGate)
		fmt.Println("reason:", verdict.Reason)
		return &sessionErrorResult{msg: "sentinel gate did not pass"}
	}
	return nil
}
