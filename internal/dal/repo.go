package dal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kestrelrun/runner/internal/errkind"
	"github.com/kestrelrun/runner/internal/tasklog"
)

// ProjectRepo tracks the set of projects this installation has ever run
// a session against. The registry file under stateDir is the source of
// truth; the accelerator index is a best-effort mirror.
type ProjectRepo struct {
	stateDir string
	idx      *Index // may be nil; every method degrades to the registry file alone
}

func NewProjectRepo(stateDir string, idx *Index) *ProjectRepo {
	return &ProjectRepo{stateDir: stateDir, idx: idx}
}

func (r *ProjectRepo) registryPath() string {
	return filepath.Join(r.stateDir, "projects.json")
}

func (r *ProjectRepo) readRegistry() ([]ProjectRecord, error) {
	data, err := os.ReadFile(r.registryPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.New(errkind.Persistence, "ProjectRepo.readRegistry", err)
	}
	var records []ProjectRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errkind.New(errkind.Persistence, "ProjectRepo.readRegistry", err)
	}
	return records, nil
}

func (r *ProjectRepo) writeRegistry(records []ProjectRecord) error {
	if err := os.MkdirAll(r.stateDir, 0o755); err != nil {
		return errkind.New(errkind.Persistence, "ProjectRepo.writeRegistry", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errkind.New(errkind.Persistence, "ProjectRepo.writeRegistry", err)
	}
	if err := os.WriteFile(r.registryPath(), data, 0o644); err != nil {
		return errkind.New(errkind.Persistence, "ProjectRepo.writeRegistry", err)
	}
	return nil
}

// Register records a project under name, pointing at path, idempotently.
func (r *ProjectRepo) Register(ctx context.Context, name, path string) error {
	records, err := r.readRegistry()
	if err != nil {
		return err
	}
	for i, p := range records {
		if p.Name == name {
			records[i].Path = path
			if err := r.writeRegistry(records); err != nil {
				return err
			}
			r.mirrorIndex(ctx, records)
			return nil
		}
	}
	records = append(records, ProjectRecord{Name: name, Path: path, CreatedAt: time.Now()})
	if err := r.writeRegistry(records); err != nil {
		return err
	}
	r.mirrorIndex(ctx, records)
	return nil
}

func (r *ProjectRepo) mirrorIndex(ctx context.Context, records []ProjectRecord) {
	if r.idx == nil {
		return
	}
	for _, p := range records {
		_, _ = r.idx.db.ExecContext(ctx,
			`INSERT INTO projects(name, path, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET path=excluded.path`,
			p.Name, p.Path, p.CreatedAt)
	}
}

// List returns every registered project, read from the registry file.
func (r *ProjectRepo) List(ctx context.Context) ([]ProjectRecord, error) {
	return r.readRegistry()
}

// Get looks up a single project by name.
func (r *ProjectRepo) Get(ctx context.Context, name string) (ProjectRecord, bool, error) {
	records, err := r.readRegistry()
	if err != nil {
		return ProjectRecord{}, false, err
	}
	for _, p := range records {
		if p.Name == name {
			return p, true, nil
		}
	}
	return ProjectRecord{}, false, nil
}

// SessionRepo reads session.json files from a tasklog root, the same
// tree tasklog.Manager writes. It never competes with a Manager holding
// the same root open for writes; it only reads.
type SessionRepo struct {
	root string
	idx  *Index
}

func NewSessionRepo(root string, idx *Index) *SessionRepo {
	return &SessionRepo{root: root, idx: idx}
}

// Get reads one session's metadata directly from disk.
func (r *SessionRepo) Get(ctx context.Context, sessionID string) (SessionRecord, error) {
	path := filepath.Join(r.root, "sessions", sessionID, "session.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionRecord{}, errkind.New(errkind.Persistence, "SessionRepo.Get", err)
	}
	var meta tasklog.SessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return SessionRecord{}, errkind.New(errkind.Persistence, "SessionRepo.Get", err)
	}
	rec := SessionRecord{SessionID: meta.SessionID, Project: meta.Project, CreatedAt: meta.CreatedAt}
	rec.UpdatedAt = r.latestTaskUpdate(sessionID, meta.CreatedAt)
	r.mirrorOne(ctx, rec)
	return rec, nil
}

func (r *SessionRepo) latestTaskUpdate(sessionID string, fallback time.Time) time.Time {
	tasksDir := filepath.Join(r.root, "sessions", sessionID, "tasks")
	entries, err := os.ReadDir(tasksDir)
	if err != nil {
		return fallback
	}
	latest := fallback
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest
}

func (r *SessionRepo) mirrorOne(ctx context.Context, rec SessionRecord) {
	if r.idx == nil {
		return
	}
	_, _ = r.idx.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, target_project, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET updated_at=excluded.updated_at`,
		rec.SessionID, rec.Project, rec.CreatedAt, rec.UpdatedAt)
}

// ListByProject prefers the accelerator index (a single SELECT) and
// falls back to a full directory walk if the index is unavailable or
// returns nothing, since the index is only ever a best-effort mirror.
func (r *SessionRepo) ListByProject(ctx context.Context, project string) ([]SessionRecord, error) {
	if r.idx != nil {
		rows, err := r.idx.db.QueryContext(ctx,
			`SELECT session_id, target_project, created_at, updated_at FROM sessions WHERE target_project = ?`, project)
		if err == nil {
			defer rows.Close()
			var out []SessionRecord
			for rows.Next() {
				var rec SessionRecord
				if err := rows.Scan(&rec.SessionID, &rec.Project, &rec.CreatedAt, &rec.UpdatedAt); err == nil {
					out = append(out, rec)
				}
			}
			if len(out) > 0 {
				return out, nil
			}
		}
	}
	return r.walkProject(project)
}

func (r *SessionRepo) walkProject(project string) ([]SessionRecord, error) {
	sessionsDir := filepath.Join(r.root, "sessions")
	entries, err := os.ReadDir(sessionsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.New(errkind.Persistence, "SessionRepo.walkProject", err)
	}
	var out []SessionRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sessionsDir, e.Name(), "session.json"))
		if err != nil {
			continue
		}
		var meta tasklog.SessionMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		if meta.Project != project {
			continue
		}
		out = append(out, SessionRecord{
			SessionID: meta.SessionID,
			Project:   meta.Project,
			CreatedAt: meta.CreatedAt,
			UpdatedAt: r.latestTaskUpdate(meta.SessionID, meta.CreatedAt),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RunRepo derives run-level status by aggregating the tasks that share a
// RunID — tasklog never persists a run record of its own, only the
// tasks that reference one.
type RunRepo struct {
	root string
	idx  *Index
}

func NewRunRepo(root string, idx *Index) *RunRepo {
	return &RunRepo{root: root, idx: idx}
}

// ListBySession aggregates every run referenced by a session's tasks.
func (r *RunRepo) ListBySession(ctx context.Context, sessionID string) ([]RunRecord, error) {
	tasks, err := readAllTasks(r.root, sessionID)
	if err != nil {
		return nil, err
	}
	byRun := make(map[string][]tasklog.Task)
	for _, t := range tasks {
		byRun[t.RunID] = append(byRun[t.RunID], t)
	}
	var out []RunRecord
	for runID, ts := range byRun {
		out = append(out, RunRecord{
			RunID:     runID,
			ThreadID:  ts[0].ThreadID,
			SessionID: sessionID,
			Status:    string(aggregateStatus(ts)),
			UpdatedAt: latestUpdate(ts),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	if r.idx != nil {
		for _, rec := range out {
			_, _ = r.idx.db.ExecContext(ctx,
				`INSERT INTO runs(run_id, thread_id, session_id, status, updated_at) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(run_id) DO UPDATE SET status=excluded.status, updated_at=excluded.updated_at`,
				rec.RunID, rec.ThreadID, rec.SessionID, rec.Status, rec.UpdatedAt)
		}
	}
	return out, nil
}

func aggregateStatus(tasks []tasklog.Task) tasklog.Status {
	sawNonComplete := false
	for _, t := range tasks {
		if t.Status == tasklog.StatusError {
			return tasklog.StatusError
		}
		if t.Status != tasklog.StatusComplete {
			sawNonComplete = true
		}
	}
	if sawNonComplete {
		return tasklog.StatusIncomplete
	}
	if len(tasks) == 0 {
		return tasklog.StatusIncomplete
	}
	return tasklog.StatusComplete
}

func latestUpdate(tasks []tasklog.Task) time.Time {
	var latest time.Time
	for _, t := range tasks {
		if t.UpdatedAt.After(latest) {
			latest = t.UpdatedAt
		}
	}
	return latest
}

// PlanRepo reconstructs and caches a run's decomposition — its ordered
// task list — from the tasks that reference it.
type PlanRepo struct {
	root string
	idx  *Index
}

func NewPlanRepo(root string, idx *Index) *PlanRepo {
	return &PlanRepo{root: root, idx: idx}
}

// Get returns a run's plan, deriving it from the task tree if the
// accelerator index has nothing cached yet.
func (r *PlanRepo) Get(ctx context.Context, sessionID, runID string) (PlanRecord, error) {
	if r.idx != nil {
		var taskIDsCSV string
		var createdAt time.Time
		err := r.idx.db.QueryRowContext(ctx, `SELECT task_ids, created_at FROM plans WHERE run_id = ?`, runID).
			Scan(&taskIDsCSV, &createdAt)
		if err == nil {
			return PlanRecord{RunID: runID, TaskIDs: splitTaskIDs(taskIDsCSV), CreatedAt: createdAt}, nil
		}
	}

	tasks, err := readAllTasks(r.root, sessionID)
	if err != nil {
		return PlanRecord{}, err
	}
	var ordered []tasklog.Task
	for _, t := range tasks {
		if t.RunID == runID {
			ordered = append(ordered, t)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })

	ids := make([]string, 0, len(ordered))
	created := time.Now()
	if len(ordered) > 0 {
		created = ordered[0].CreatedAt
	}
	for _, t := range ordered {
		ids = append(ids, t.ID)
	}
	plan := PlanRecord{RunID: runID, TaskIDs: ids, CreatedAt: created}

	if r.idx != nil {
		_, _ = r.idx.db.ExecContext(ctx,
			`INSERT INTO plans(run_id, task_ids, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(run_id) DO UPDATE SET task_ids=excluded.task_ids`,
			plan.RunID, joinTaskIDs(plan.TaskIDs), plan.CreatedAt)
	}
	return plan, nil
}

func readAllTasks(root, sessionID string) ([]tasklog.Task, error) {
	tasksDir := filepath.Join(root, "sessions", sessionID, "tasks")
	entries, err := os.ReadDir(tasksDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.New(errkind.Persistence, "readAllTasks", err)
	}
	var out []tasklog.Task
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(tasksDir, e.Name()))
		if err != nil {
			continue
		}
		var t tasklog.Task
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
