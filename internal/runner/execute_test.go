package runner

import (
	"context"
	"testing"

	"github.com/kestrelrun/runner/internal/obslog"
	"github.com/kestrelrun/runner/internal/tasklog"
)

func TestExecute_DependenciesRunInTopologicalOrder(t *testing.T) {
	dir := t.TempDir()
	exec := &DeterministicExecutor{
		Default: Output{Executed: true, Status: StatusComplete, VerifiedFiles: []VerifiedFile{{Path: "x", Exists: true}}},
	}
	c, err := Initialize(context.Background(), dir, Options{
		ExecutorKind: ExecutorDeterministic,
		Executor:     exec,
		Logger:       obslog.NewNop(),
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() { _ = c.Shutdown(context.Background()) }()

	result, err := c.Execute(context.Background(), ExecuteRequest{
		Tasks: []Task{
			{ID: "setup-the-environment", NaturalLanguageTask: "prepare the build pipeline environment"},
			{ID: "build-the-artifact", NaturalLanguageTask: "build the release artifact for the pipeline", Dependencies: []string{"setup-the-environment"}},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != tasklog.StatusComplete {
		t.Fatalf("expected COMPLETE aggregate, got %s", result.Status)
	}
	if len(result.Tasks) != 2 {
		t.Fatalf("expected 2 task outcomes, got %d", len(result.Tasks))
	}
}

func TestExecute_UnresolvedDependencyFailsClosed(t *testing.T) {
	dir := t.TempDir()
	exec := &DeterministicExecutor{Default: Output{Executed: true, Status: StatusComplete}}
	c, err := Initialize(context.Background(), dir, Options{
		ExecutorKind: ExecutorDeterministic,
		Executor:     exec,
		Logger:       obslog.NewNop(),
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() { _ = c.Shutdown(context.Background()) }()

	_, err = c.Execute(context.Background(), ExecuteRequest{
		Tasks: []Task{
			{ID: "only-task", NaturalLanguageTask: "do the thing", Dependencies: []string{"nonexistent"}},
		},
	})
	if err == nil {
		t.Fatal("expected an error for a dependency that can never be satisfied")
	}
}

func TestExecute_ParallelPathUsedWhenNoDependenciesDeclared(t *testing.T) {
	dir := t.TempDir()
	exec := &DeterministicExecutor{
		Default: Output{Executed: true, Status: StatusComplete, VerifiedFiles: []VerifiedFile{{Path: "x", Exists: true}}},
	}
	c, err := Initialize(context.Background(), dir, Options{
		ExecutorKind: ExecutorDeterministic,
		Executor:     exec,
		Logger:       obslog.NewNop(),
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() { _ = c.Shutdown(context.Background()) }()

	result, err := c.Execute(context.Background(), ExecuteRequest{
		Tasks: []Task{
			{ID: "task-a", NaturalLanguageTask: "build component a for the pipeline"},
			{ID: "task-b", NaturalLanguageTask: "build component b for the pipeline"},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != tasklog.StatusComplete {
		t.Fatalf("expected COMPLETE, got %s", result.Status)
	}
}
