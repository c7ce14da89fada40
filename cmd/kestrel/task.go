package main

import (
	"context"
	"fmt"

	"github.com/kestrelrun/runner/internal/runner"
	"github.com/kestrelrun/runner/internal/tasklog"
)

// TaskCmd submits a task prompt to the current session.
type TaskCmd struct {
	Project string `short:"p" default:"." help:"Project directory of the current session"`
	Prompt  string `arg:"" help:"Natural-language task description"`
}

func (t *TaskCmd) Run(rc *RunContext) error {
	ctx := context.Background()

	cs, err := loadCurrentSession(t.Project)
	if err != nil {
		return &invalidArgsError{msg: err.Error()}
	}

	executor, kind, err := buildExecutor(rc.Config)
	if err != nil {
		return err
	}

	core, err := runner.Resume(ctx, cs.Project, cs.SessionID, runner.Options{
		ExecutorKind: kind,
		Executor:     executor,
		Logger:       rc.Logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = core.Shutdown(ctx) }()

	result, err := core.Execute(ctx, runner.ExecuteRequest{
		Tasks: []runner.Task{{ID: "cli-task", NaturalLanguageTask: t.Prompt}},
	})
	if err != nil {
		return err
	}

	if err := core.SaveState(ctx); err != nil {
		return err
	}

	fmt.Println(result.Status)
	for _, outcome := range result.Tasks {
		if outcome.Signal != nil && outcome.Signal.ClarificationNeeded {
			fmt.Println("clarification needed:", outcome.Signal.ClarificationReason)
		}
	}

	if result.Status == tasklog.StatusError {
		core.CompleteSession(true)
		return &sessionErrorResult{msg: "session ended with ERROR status"}
	}
	return nil
}
