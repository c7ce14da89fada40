package dal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kestrelrun/runner/internal/atomicio"
	"github.com/kestrelrun/runner/internal/events"
	"github.com/kestrelrun/runner/internal/tasklog"
)

func TestProjectRepo_RegisterIsIdempotentAndListReflectsLatestPath(t *testing.T) {
	dir := t.TempDir()
	repo := NewProjectRepo(dir, nil)
	ctx := context.Background()

	if err := repo.Register(ctx, "demo", "/one/path"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := repo.Register(ctx, "demo", "/two/path"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one registered project, got %d", len(records))
	}
	if records[0].Path != "/two/path" {
		t.Fatalf("expected latest path to win, got %q", records[0].Path)
	}
}

func TestProjectRepo_GetMissingReturnsFalse(t *testing.T) {
	repo := NewProjectRepo(t.TempDir(), nil)
	_, found, err := repo.Get(context.Background(), "nothing-here")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected no project to be found")
	}
}

func newTaskTree(t *testing.T, project string) (string, string) {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	writer := atomicio.New()
	store, err := events.NewStore(filepath.Join(root, "events"), 100)
	if err != nil {
		t.Fatalf("events.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mgr, err := tasklog.InitializeSession(ctx, writer, store, root, "sess-test", project)
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	threadID, err := mgr.CreateThread(ctx)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	runID, err := mgr.CreateRun(ctx)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	for i := 0; i < 2; i++ {
		task, err := mgr.CreateTaskWithContext(ctx, threadID, runID, "", "", "do something useful")
		if err != nil {
			t.Fatalf("CreateTaskWithContext: %v", err)
		}
		if err := mgr.CompleteTaskWithSession(ctx, task.ID, "sess-test", tasklog.StatusComplete, nil, "", "", false, ""); err != nil {
			t.Fatalf("CompleteTaskWithSession: %v", err)
		}
	}
	return root, "sess-test"
}

func TestSessionRepo_GetReadsBackPersistedMetadata(t *testing.T) {
	root, sessionID := newTaskTree(t, "demo-project")
	repo := NewSessionRepo(root, nil)

	rec, err := repo.Get(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Project != "demo-project" {
		t.Fatalf("expected project demo-project, got %q", rec.Project)
	}
}

func TestSessionRepo_ListByProjectFallsBackToDirectoryWalk(t *testing.T) {
	root, _ := newTaskTree(t, "demo-project")
	repo := NewSessionRepo(root, nil)

	records, err := repo.ListByProject(context.Background(), "demo-project")
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one session for demo-project, got %d", len(records))
	}
}

func TestRunRepo_AllCompleteTasksYieldCompleteRun(t *testing.T) {
	root, sessionID := newTaskTree(t, "demo-project")
	repo := NewRunRepo(root, nil)

	runs, err := repo.ListBySession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs))
	}
	if runs[0].Status != string(tasklog.StatusComplete) {
		t.Fatalf("expected COMPLETE run, got %s", runs[0].Status)
	}
}

func TestPlanRepo_GetDerivesOrderedTaskIDsFromTaskTree(t *testing.T) {
	root, sessionID := newTaskTree(t, "demo-project")
	runRepo := NewRunRepo(root, nil)
	runs, err := runRepo.ListBySession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(runs) == 0 {
		t.Fatal("expected at least one run")
	}

	planRepo := NewPlanRepo(root, nil)
	plan, err := planRepo.Get(context.Background(), sessionID, runs[0].RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(plan.TaskIDs) != 2 {
		t.Fatalf("expected 2 task ids in the plan, got %d", len(plan.TaskIDs))
	}
}

func TestIndex_RebuildRepopulatesAllTables(t *testing.T) {
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "accel.db"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer idx.Close()

	now := time.Now()
	err = idx.Rebuild(context.Background(),
		[]ProjectRecord{{Name: "demo", Path: "/demo", CreatedAt: now}},
		[]SessionRecord{{SessionID: "sess-1", Project: "demo", CreatedAt: now, UpdatedAt: now}},
		[]RunRecord{{RunID: "run-001", ThreadID: "thr-001", SessionID: "sess-1", Status: "COMPLETE", UpdatedAt: now}},
		[]PlanRecord{{RunID: "run-001", TaskIDs: []string{"task-001", "task-002"}, CreatedAt: now}},
	)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	var count int
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE target_project = ?`, "demo").Scan(&count); err != nil {
		t.Fatalf("QueryRow: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 session row after rebuild, got %d", count)
	}
}
