package runner

import (
	"context"
	"sync"

	"github.com/kestrelrun/runner/internal/errkind"
)

// ExecuteRequest is the input to Execute: the task DAG for this run
// plus an optional model override applied to every task that doesn't
// set its own.
type ExecuteRequest struct {
	Tasks         []Task
	SelectedModel string
	Parts         PromptParts
}

// Execute runs the task DAG respecting declared dependencies and
// returns the session-level aggregate result.
func (c *Core) Execute(ctx context.Context, req ExecuteRequest) (AggregateResult, error) {
	for i := range req.Tasks {
		if req.Tasks[i].SelectedModel == "" {
			req.Tasks[i].SelectedModel = req.SelectedModel
		}
	}

	var outcomes []TaskOutcome
	var err error
	if hasDependencies(req.Tasks) {
		outcomes, err = c.executeTasksWithDependencies(ctx, req.Tasks, req.Parts)
	} else {
		outcomes, err = c.executeTasksParallel(ctx, req.Tasks, req.Parts)
	}
	if err != nil {
		return AggregateResult{}, err
	}

	return AggregateResult{Status: Aggregate(outcomes), Tasks: outcomes}, nil
}

// ExecuteTasksSequentially runs each task to completion before
// starting the next, in slice order, ignoring any declared
// Dependencies.
func (c *Core) ExecuteTasksSequentially(ctx context.Context, tasks []Task, parts PromptParts) ([]TaskOutcome, error) {
	return c.executeTasksSequentially(ctx, tasks, parts)
}

// ExecuteTasksParallel runs every task concurrently, ignoring any
// declared Dependencies.
func (c *Core) ExecuteTasksParallel(ctx context.Context, tasks []Task, parts PromptParts) ([]TaskOutcome, error) {
	return c.executeTasksParallel(ctx, tasks, parts)
}

// ExecuteTasksWithDependencies runs tasks in topological waves over
// their declared Dependencies.
func (c *Core) ExecuteTasksWithDependencies(ctx context.Context, tasks []Task, parts PromptParts) ([]TaskOutcome, error) {
	return c.executeTasksWithDependencies(ctx, tasks, parts)
}

func hasDependencies(tasks []Task) bool {
	for _, t := range tasks {
		if len(t.Dependencies) > 0 {
			return true
		}
	}
	return false
}

// executeTasksSequentially runs each task to completion before
// starting the next, in slice order.
func (c *Core) executeTasksSequentially(ctx context.Context, tasks []Task, parts PromptParts) ([]TaskOutcome, error) {
	outcomes := make([]TaskOutcome, 0, len(tasks))
	for _, t := range tasks {
		out, err := c.ExecuteTask(ctx, "", t, parts)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// executeTasksParallel runs every task concurrently, each acquiring
// its own L2 slot through ExecuteTask's executor invocation. Results
// preserve the input task order regardless of completion order.
func (c *Core) executeTasksParallel(ctx context.Context, tasks []Task, parts PromptParts) ([]TaskOutcome, error) {
	outcomes := make([]TaskOutcome, len(tasks))
	errs := make([]error, len(tasks))

	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(idx int, task Task) {
			defer wg.Done()
			out, err := c.ExecuteTask(ctx, "", task, parts)
			outcomes[idx] = out
			errs[idx] = err
		}(i, t)
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return outcomes, e
		}
	}
	return outcomes, nil
}

// executeTasksWithDependencies runs tasks in topological waves: every
// task in a wave has had all its Dependencies satisfied by a prior
// wave, and waves within themselves run in parallel.
func (c *Core) executeTasksWithDependencies(ctx context.Context, tasks []Task, parts PromptParts) ([]TaskOutcome, error) {
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	done := make(map[string]TaskOutcome)
	remaining := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		remaining[t.ID] = t
	}

	var outcomes []TaskOutcome
	for len(remaining) > 0 {
		var wave []Task
		for id, t := range remaining {
			if dependenciesSatisfied(t, done) {
				wave = append(wave, t)
				_ = id
			}
		}
		if len(wave) == 0 {
			return outcomes, errkind.New(errkind.Configuration, "executeTasksWithDependencies",
				errCycleOrMissingDependency(remaining))
		}

		waveOutcomes, err := c.executeTasksParallel(ctx, wave, parts)
		if err != nil {
			return append(outcomes, waveOutcomes...), err
		}
		for i, t := range wave {
			done[t.ID] = waveOutcomes[i]
			delete(remaining, t.ID)
		}
		outcomes = append(outcomes, waveOutcomes...)
	}
	return outcomes, nil
}

func dependenciesSatisfied(t Task, done map[string]TaskOutcome) bool {
	for _, dep := range t.Dependencies {
		if _, ok := done[dep]; !ok {
			return false
		}
	}
	return true
}

func errCycleOrMissingDependency(remaining map[string]Task) error {
	ids := make([]string, 0, len(remaining))
	for id := range remaining {
		ids = append(ids, id)
	}
	return &unresolvedDependencyError{TaskIDs: ids}
}

type unresolvedDependencyError struct {
	TaskIDs []string
}

func (e *unresolvedDependencyError) Error() string {
	return "unresolved task dependencies (cycle or missing reference): " + joinIDs(e.TaskIDs)
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out
}
