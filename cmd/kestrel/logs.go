package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"github.com/kestrelrun/runner/internal/runner"
	"github.com/kestrelrun/runner/internal/tasklog"
)

var (
	logsLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	logsValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	logsStatusStyles = map[tasklog.Status]lipgloss.Style{
		tasklog.StatusComplete:         lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		tasklog.StatusIncomplete:       lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		tasklog.StatusError:            lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		tasklog.StatusAwaitingResponse: lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
	}
)

func statusStyle(s tasklog.Status) lipgloss.Style {
	if style, ok := logsStatusStyles[s]; ok {
		return style
	}
	return lipgloss.NewStyle()
}

// LogsCmd lists task summaries, or shows one task's detail.
type LogsCmd struct {
	Project string `short:"p" default:"." help:"Project directory of the current session"`
	Task    string `arg:"" optional:"" help:"Task id to inspect"`
	Full    bool   `help:"Show the full task record with a duration rollup"`
	Watch   bool   `help:"Keep printing the task's summary as its record changes, until interrupted"`
}

func (l *LogsCmd) Run(rc *RunContext) error {
	ctx := context.Background()

	cs, err := loadCurrentSession(l.Project)
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

	if l.Task == "" {
		for _, entry := range core.TaskLog().GetTaskList() {
			fmt.Printf("%s  %s  %s\n", entry.TaskID, statusStyle(entry.Status).Render(string(entry.Status)), entry.UpdatedAt.Format("2006-01-02T15:04:05"))
		}
		return nil
	}

	visibility := tasklog.VisibilitySummary
	if l.Full {
		visibility = tasklog.VisibilityFull
	}
	if err := l.printTask(core, visibility); err != nil {
		return &invalidArgsError{msg: err.Error()}
	}
	if !l.Watch {
		return nil
	}
	return l.watchTask(ctx, core, visibility)
}

func (l *LogsCmd) printTask(core *runner.Core, visibility tasklog.Visibility) error {
	task, err := core.TaskLog().GetTaskDetail(l.Task, visibility)
	if err != nil {
		return err
	}

	fmt.Println(logsLabelStyle.Render("task:"), logsValueStyle.Render(task.ID))
	fmt.Println(logsLabelStyle.Render("status:"), statusStyle(task.Status).Render(string(task.Status)))
	fmt.Println(logsLabelStyle.Render("prompt:"), logsValueStyle.Render(task.NaturalLanguageTask))
	if visibility != tasklog.VisibilityFull {
		return nil
	}

	fmt.Println(logsLabelStyle.Render("files modified:"), logsValueStyle.Render(fmt.Sprint(task.FilesModified)))
	fmt.Println(logsLabelStyle.Render("evidence ref:"), logsValueStyle.Render(task.EvidenceRef))
	if task.ErrorMessage != "" {
		fmt.Println(logsLabelStyle.Render("error:"), logsValueStyle.Render(task.ErrorMessage))
	}
	stats := computeTaskStats(task)
	fmt.Println(logsLabelStyle.Render("duration:"), logsValueStyle.Render(fmt.Sprintf("%dms", stats.TotalDurationMs)))
	fmt.Println(logsLabelStyle.Render("events:"), logsValueStyle.Render(fmt.Sprint(stats.EventCount)))
	return nil
}

// watchTask re-prints a task's record each time its on-disk JSON file
// changes, until the process is interrupted. The task file path is
// reconstructed from the session's own layout convention rather than
// exported from tasklog, since watching is a read-only CLI concern
// sitting outside the task log's own API.
func (l *LogsCmd) watchTask(ctx context.Context, core *runner.Core, visibility tasklog.Visibility) error {
	watchCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()

	taskFile := filepath.Join(core.ProjectRoot(), ".claude", "logs", "sessions", core.SessionID(), "tasks", l.Task+".json")
	if err := watcher.Add(taskFile); err != nil {
		return fmt.Errorf("watch %s: %w", taskFile, err)
	}

	for {
		select {
		case <-watchCtx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fmt.Println("---")
			if err := l.printTask(core, visibility); err != nil {
				fmt.Println(logsLabelStyle.Render("error:"), err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Println(logsLabelStyle.Render("watch error:"), err)
		}
	}
}
