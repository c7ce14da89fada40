// Package dal is the Persistence DAL: a file-backed record of projects,
// sessions, runs, and plans, with a SQLite accelerator index for
// cross-session queries that a JSONL walk would make O(n) over every
// session on disk.
//
// The tasklog directory tree is the source of truth. Writes to the
// SQLite index are best-effort and the index is fully rebuildable from
// the tree; a failed index write never fails the caller's operation.
package dal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kestrelrun/runner/internal/errkind"
)

// ProjectRecord is one row of the project registry.
type ProjectRecord struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionRecord is the denormalized, query-friendly view of a session.
type SessionRecord struct {
	SessionID string    `json:"sessionId"`
	Project   string    `json:"project"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RunRecord is the denormalized view of a run within a thread.
type RunRecord struct {
	RunID     string    `json:"runId"`
	ThreadID  string    `json:"threadId"`
	SessionID string    `json:"sessionId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PlanRecord is a decomposition artifact attached to a run: the ordered
// task list a Lifecycle Controller produced during TASK_DECOMPOSITION.
type PlanRecord struct {
	RunID     string    `json:"runId"`
	TaskIDs   []string  `json:"taskIds"`
	CreatedAt time.Time `json:"createdAt"`
}

// Index wraps the SQLite accelerator database. One Index is shared by
// every repo backed by the same tasklog root.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if absent) the accelerator database at path
// and ensures its schema exists. Any failure here is non-fatal to a
// caller willing to fall back to a JSONL walk — NewIndex surfaces the
// error so the caller can decide.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errkind.New(errkind.Persistence, "OpenIndex", err)
	}
	idx := &Index{db: db}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		name TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		target_project TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(target_project);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id);

	CREATE TABLE IF NOT EXISTS plans (
		run_id TEXT PRIMARY KEY,
		task_ids TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := idx.db.Exec(schema); err != nil {
		return errkind.New(errkind.Persistence, "Index.init", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Rebuild drops and recreates every accelerator table, then repopulates
// them from the given records. Used after detecting the index has
// fallen out of sync with the tasklog tree, or on first use.
func (idx *Index) Rebuild(ctx context.Context, projects []ProjectRecord, sessions []SessionRecord, runs []RunRecord, plans []PlanRecord) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.New(errkind.Persistence, "Index.Rebuild", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"projects", "sessions", "runs", "plans"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return errkind.New(errkind.Persistence, "Index.Rebuild", err)
		}
	}
	for _, p := range projects {
		if _, err := tx.ExecContext(ctx, `INSERT INTO projects(name, path, created_at) VALUES (?, ?, ?)`,
			p.Name, p.Path, p.CreatedAt); err != nil {
			return errkind.New(errkind.Persistence, "Index.Rebuild", err)
		}
	}
	for _, s := range sessions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sessions(session_id, target_project, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			s.SessionID, s.Project, s.CreatedAt, s.UpdatedAt); err != nil {
			return errkind.New(errkind.Persistence, "Index.Rebuild", err)
		}
	}
	for _, r := range runs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, thread_id, session_id, status, updated_at) VALUES (?, ?, ?, ?, ?)`,
			r.RunID, r.ThreadID, r.SessionID, r.Status, r.UpdatedAt); err != nil {
			return errkind.New(errkind.Persistence, "Index.Rebuild", err)
		}
	}
	for _, pl := range plans {
		if _, err := tx.ExecContext(ctx, `INSERT INTO plans(run_id, task_ids, created_at) VALUES (?, ?, ?)`,
			pl.RunID, joinTaskIDs(pl.TaskIDs), pl.CreatedAt); err != nil {
			return errkind.New(errkind.Persistence, "Index.Rebuild", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errkind.New(errkind.Persistence, "Index.Rebuild", err)
	}
	return nil
}

func joinTaskIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

func splitTaskIDs(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
