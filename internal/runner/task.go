package runner

import (
	"context"
	"fmt"

	"github.com/kestrelrun/runner/internal/events"
	"github.com/kestrelrun/runner/internal/mediation"
	"github.com/kestrelrun/runner/internal/tasklog"
)

// ExecuteTask runs the per-task algorithm for one Task: create the log
// row, triage for clarification, assemble the prompt, invoke the
// executor, and judge the terminal status. The caller supplies
// preamble parts shared across the task group.
func (c *Core) ExecuteTask(ctx context.Context, parentTaskID string, t Task, parts PromptParts) (TaskOutcome, error) {
	logRow, err := c.taskMgr.CreateTaskWithContext(ctx, c.threadID, c.runID, parentTaskID, t.ID, t.NaturalLanguageTask)
	if err != nil {
		return TaskOutcome{}, err
	}
	_, _ = c.eventStore.Record(events.Event{
		Source:    events.SourceTask,
		Summary:   "TASK_STARTED",
		Relations: events.Relations{TaskID: logRow.ID, SessionID: c.sessionID},
	})

	if sig, needed := Triage(t.NaturalLanguageTask, c.project); needed {
		if err := c.taskMgr.CompleteTaskWithSession(ctx, logRow.ID, c.sessionID, tasklog.StatusIncomplete, nil, "", "clarification required", true, ""); err != nil {
			return TaskOutcome{}, err
		}
		_, _ = c.eventStore.Record(events.Event{
			Source:    events.SourceTask,
			Summary:   "clarification required: " + string(sig.ClarificationReason),
			Relations: events.Relations{TaskID: logRow.ID, SessionID: c.sessionID},
		})
		return TaskOutcome{TaskID: logRow.ID, Status: tasklog.StatusIncomplete, Blocking: true, Signal: &sig}, nil
	}

	if err := c.taskMgr.SetInFlightStatus(ctx, logRow.ID, tasklog.StatusRunning); err != nil {
		return TaskOutcome{}, err
	}

	parts.UserInput = t.NaturalLanguageTask
	assembled := parts.Assemble()
	_ = c.taskMgr.AddEvent(ctx, logRow.ID, c.sessionID, "prompt_assembled", assembled, nil)

	execCtx := ctx
	if c.tracer != nil {
		spanCtx, span := c.tracer.StartExecutorSpan(ctx, c.executor.Name(), logRow.ID)
		execCtx = spanCtx
		defer func() { c.tracer.EndExecutorSpan(span, "", nil) }()
	}

	out, execErr := c.executor.Execute(execCtx, Input{
		ID:            logRow.ID,
		Prompt:        assembled,
		WorkingDir:    c.project,
		SelectedModel: t.SelectedModel,
		TaskType:      t.TaskType,
	})
	if execErr != nil {
		return c.finalize(ctx, logRow.ID, tasklog.StatusError, nil, "", execErr.Error(), false, nil)
	}

	return c.judge(ctx, logRow.ID, t.TaskType, out)
}

// judge implements the Runner's completion-judgment table. The
// executor's self-reported status is a claim, not a verdict; only
// verified_files and the explicit rules below decide the terminal
// state the task log records.
func (c *Core) judge(ctx context.Context, taskID string, taskType TaskType, out Output) (TaskOutcome, error) {
	if out.ExecutorBlocked {
		return c.finalize(ctx, taskID, tasklog.StatusError, out.FilesModified, "", "executor_blocked: "+out.BlockedReason, true, nil)
	}
	if out.Status == StatusError || !out.Executed {
		return c.finalize(ctx, taskID, tasklog.StatusError, out.FilesModified, "", out.Error, false, nil)
	}

	isInfoType := taskType == TaskTypeReadInfo || taskType == TaskTypeReport

	switch out.Status {
	case StatusNoEvidence:
		if isInfoType && out.Output != "" {
			return c.finalize(ctx, taskID, tasklog.StatusComplete, out.FilesModified, "", "", false, &out)
		}
		return c.finalize(ctx, taskID, tasklog.StatusError, out.FilesModified, "", "no evidence of work", false, nil)

	case StatusIncomplete:
		if isInfoType && out.Output != "" {
			return c.finalize(ctx, taskID, tasklog.StatusComplete, out.FilesModified, "", "", false, &out)
		}
		if out.Output == "" {
			sig := mediation.Signal{
				ClarificationNeeded: true,
				ClarificationReason: mediation.ReasonMissingRequiredInfo,
				ExecutionResult:     out.Output,
			}
			if err := c.taskMgr.SetInFlightStatus(ctx, taskID, tasklog.StatusAwaitingResponse); err != nil {
				return TaskOutcome{}, err
			}
			return TaskOutcome{TaskID: taskID, Status: tasklog.StatusAwaitingResponse, Signal: &sig}, nil
		}
		return c.finalize(ctx, taskID, tasklog.StatusError, out.FilesModified, "", "incomplete with non-empty output and no recognized deliverable", false, nil)

	case StatusComplete:
		if !hasVerifiedFile(out.VerifiedFiles) {
			return c.finalize(ctx, taskID, tasklog.StatusError, out.FilesModified, "", "no verified file evidence for claimed completion", false, nil)
		}
		return c.finalize(ctx, taskID, tasklog.StatusComplete, out.FilesModified, "", "", false, &out)

	default:
		return c.finalize(ctx, taskID, tasklog.StatusError, out.FilesModified, "", fmt.Sprintf("unrecognized executor status %q", out.Status), false, nil)
	}
}

func hasVerifiedFile(files []VerifiedFile) bool {
	for _, f := range files {
		if f.Exists {
			return true
		}
	}
	return false
}

func (c *Core) finalize(ctx context.Context, taskID string, status tasklog.Status, filesModified []string, evidenceRef, errorMessage string, blocking bool, out *Output) (TaskOutcome, error) {
	responseSummary := ""
	if out != nil {
		responseSummary = out.Output
	}
	if err := c.taskMgr.CompleteTaskWithSession(ctx, taskID, c.sessionID, status, filesModified, evidenceRef, errorMessage, blocking, responseSummary); err != nil {
		return TaskOutcome{}, err
	}
	_, _ = c.eventStore.Record(events.Event{
		Source:    events.SourceTask,
		Summary:   "terminal status " + string(status),
		Relations: events.Relations{TaskID: taskID, SessionID: c.sessionID},
	})
	return TaskOutcome{TaskID: taskID, Status: status, Blocking: blocking}, nil
}

// Aggregate reduces a set of task outcomes to a single session-level
// status: any ERROR wins outright; else any INCOMPLETE or non-terminal
// outcome forces INCOMPLETE; else at least one COMPLETE yields
// COMPLETE. NO_EVIDENCE and INVALID are never produced by aggregation
// itself — they are asserted only by explicit calls elsewhere.
func Aggregate(outcomes []TaskOutcome) tasklog.Status {
	if len(outcomes) == 0 {
		return tasklog.StatusIncomplete
	}

	sawIncomplete := false
	sawComplete := false
	for _, o := range outcomes {
		switch o.Status {
		case tasklog.StatusError:
			return tasklog.StatusError
		case tasklog.StatusComplete:
			sawComplete = true
		default:
			sawIncomplete = true
		}
	}
	if sawIncomplete {
		return tasklog.StatusIncomplete
	}
	if sawComplete {
		return tasklog.StatusComplete
	}
	return tasklog.StatusIncomplete
}
