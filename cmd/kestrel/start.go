package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kestrelrun/runner/internal/runner"
)

// StartCmd initializes a new session against a project directory.
type StartCmd struct {
	Project string `arg:"" help:"Project directory to run against"`
}

func (s *StartCmd) Run(rc *RunContext) error {
	ctx := context.Background()

	executor, kind, err := buildExecutor(rc.Config)
	if err != nil {
		return err
	}

	core, err := runner.Initialize(ctx, s.Project, runner.Options{
		Project:      rc.Config.Project,
		ExecutorKind: kind,
		Executor:     executor,
		Logger:       rc.Logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = core.Shutdown(ctx) }()

	if err := core.SaveState(ctx); err != nil {
		return err
	}
	if err := saveCurrentSession(s.Project, core.SessionID()); err != nil {
		return err
	}
	name := rc.Config.Project
	if name == "" {
		name = filepath.Base(s.Project)
	}
	if err := rc.Projects.Register(ctx, name, s.Project); err != nil {
		rc.Logger.Warn("failed to register project in the persistence DAL", map[string]interface{}{"error": err.Error()})
	}

	fmt.Println(core.SessionID())
	return nil
}
