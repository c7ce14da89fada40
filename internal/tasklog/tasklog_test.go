package tasklog

import (
	"context"
	"os"
	"testing"

	"github.com/kestrelrun/runner/internal/atomicio"
	"github.com/kestrelrun/runner/internal/events"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root, err := os.MkdirTemp("", "tasklog-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(root) })

	store, err := events.NewStore(root+"/events", 10)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)

	m, err := InitializeSession(context.Background(), atomicio.New(), store, root, "sess-001", "/tmp/project")
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	return m
}

func TestManager_CreateTaskAndComplete(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	thr, err := m.CreateThread(ctx)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	run, err := m.CreateRun(ctx)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	task, err := m.CreateTaskWithContext(ctx, thr, run, "", "ext-1", "Create docs/guide.md")
	if err != nil {
		t.Fatalf("CreateTaskWithContext: %v", err)
	}
	if task.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", task.Status)
	}

	if err := m.CompleteTaskWithSession(ctx, task.ID, "sess-001", StatusComplete, []string{"docs/guide.md"}, "ev-1", "", false, "guide.md now documents the setup flow"); err != nil {
		t.Fatalf("CompleteTaskWithSession: %v", err)
	}

	detail, err := m.GetTaskDetail(task.ID, VisibilityFull)
	if err != nil {
		t.Fatalf("GetTaskDetail: %v", err)
	}
	if detail.Status != StatusComplete {
		t.Fatalf("expected COMPLETE, got %s", detail.Status)
	}
	if detail.ResponseSummary != "guide.md now documents the setup flow" {
		t.Fatalf("expected response summary preserved, got %q", detail.ResponseSummary)
	}

	list := m.GetTaskList()
	if len(list) != 1 || list[0].Status != StatusComplete {
		t.Fatalf("expected index to reflect completion, got %+v", list)
	}
	if list[0].ResponseSummary != "guide.md now documents the setup flow" {
		t.Fatalf("expected index entry to carry response summary, got %+v", list[0])
	}
}

func TestManager_CompleteRejectsNonTerminalStatus(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	thr, _ := m.CreateThread(ctx)
	run, _ := m.CreateRun(ctx)
	task, err := m.CreateTaskWithContext(ctx, thr, run, "", "ext-1", "do something")
	if err != nil {
		t.Fatalf("CreateTaskWithContext: %v", err)
	}

	if err := m.CompleteTaskWithSession(ctx, task.ID, "sess-001", StatusRunning, nil, "", "", false, ""); err == nil {
		t.Fatalf("expected error completing with a non-terminal status")
	}
}

func TestManager_ParentMustShareThread(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	thrA, _ := m.CreateThread(ctx)
	thrB, _ := m.CreateThread(ctx)
	run, _ := m.CreateRun(ctx)

	parent, err := m.CreateTaskWithContext(ctx, thrA, run, "", "ext-parent", "parent task")
	if err != nil {
		t.Fatalf("CreateTaskWithContext parent: %v", err)
	}

	if _, err := m.CreateTaskWithContext(ctx, thrB, run, parent.ID, "ext-child", "child task"); err == nil {
		t.Fatalf("expected failure creating child task in a different thread than its parent")
	}
}

func TestManager_GetTaskDetailSummaryHidesExecutorFields(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	thr, _ := m.CreateThread(ctx)
	run, _ := m.CreateRun(ctx)
	task, _ := m.CreateTaskWithContext(ctx, thr, run, "", "ext-1", "task")

	full, err := m.readTask(task.ID)
	if err != nil {
		t.Fatalf("readTask: %v", err)
	}
	full.Provider = "anthropic"
	full.Model = "claude"
	full.TokensIn = 100
	if err := m.persistTask(ctx, full); err != nil {
		t.Fatalf("persistTask: %v", err)
	}

	summary, err := m.GetTaskDetail(task.ID, VisibilitySummary)
	if err != nil {
		t.Fatalf("GetTaskDetail: %v", err)
	}
	if summary.Provider != "" || summary.Model != "" || summary.TokensIn != 0 {
		t.Fatalf("summary visibility leaked executor fields: %+v", summary)
	}
}

func TestManager_AddEventMasksSensitiveContent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	thr, _ := m.CreateThread(ctx)
	run, _ := m.CreateRun(ctx)
	task, _ := m.CreateTaskWithContext(ctx, thr, run, "", "ext-1", "task")

	err := m.AddEvent(ctx, task.ID, "sess-001", "log", "using sk-ant-REDACTED", nil)
	if err != nil {
		t.Fatalf("AddEvent: %v", err)
	}

	detail, err := m.GetTaskDetail(task.ID, VisibilityFull)
	if err != nil {
		t.Fatalf("GetTaskDetail: %v", err)
	}
	if len(detail.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(detail.Events))
	}
	if got := detail.Events[0].Content; got == "using sk-ant-REDACTED" {
		t.Fatalf("secret leaked into task event: %s", got)
	}
}
