package main

import (
	"github.com/kestrelrun/runner/internal/tasklog"
)

// taskStats is the logs --full duration rollup for a single task,
// the same per-task aggregate the teacher's session-wide Stats computes
// across a whole workflow, scoped down to one Task Log entry.
type taskStats struct {
	TotalDurationMs int64
	EventCount      int
}

func computeTaskStats(task *tasklog.Task) taskStats {
	return taskStats{
		TotalDurationMs: task.UpdatedAt.Sub(task.CreatedAt).Milliseconds(),
		EventCount:      len(task.Events),
	}
}
