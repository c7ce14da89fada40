package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kestrelrun/runner/internal/dal"
	"github.com/kestrelrun/runner/internal/runner"
)

// PlanCmd shows the current run's decomposition: the ordered task ids a
// Lifecycle Controller produced during TASK_DECOMPOSITION.
type PlanCmd struct {
	Project string `short:"p" default:"." help:"Project directory of the current session"`
}

func (p *PlanCmd) Run(rc *RunContext) error {
	ctx := context.Background()

	cs, err := loadCurrentSession(p.Project)
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

	root := filepath.Join(core.ProjectRoot(), ".claude", "logs")
	planRepo := dal.NewPlanRepo(root, nil)
	plan, err := planRepo.Get(ctx, core.SessionID(), core.RunID())
	if err != nil {
		return err
	}

	fmt.Println("run:", core.RunID())
	for i, taskID := range plan.TaskIDs {
		fmt.Printf("%d. %s\n", i+1, taskID)
	}
	return nil
}
