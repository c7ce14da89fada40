// Package tasklog manages the per-session directory tree of index,
// metadata, and per-task logs: the durable record of every thread, run,
// and task a session has produced.
package tasklog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelrun/runner/internal/atomicio"
	"github.com/kestrelrun/runner/internal/errkind"
	"github.com/kestrelrun/runner/internal/events"
	"github.com/kestrelrun/runner/internal/mask"
)

// Status is a task's terminal or in-flight state.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusRunning          Status = "RUNNING"
	StatusAwaitingResponse Status = "AWAITING_RESPONSE"
	StatusComplete         Status = "COMPLETE"
	StatusIncomplete       Status = "INCOMPLETE"
	StatusError            Status = "ERROR"
)

func (s Status) terminal() bool {
	return s == StatusComplete || s == StatusIncomplete || s == StatusError
}

// Visibility controls which fields getTaskDetail exposes.
type Visibility string

const (
	VisibilitySummary Visibility = "summary"
	VisibilityFull    Visibility = "full"
)

// Thread, Run and Task mirror the identifiers section: sess-…, thr-NNN,
// run-NNN, task-NNN, evt-NNN, per-session monotonic and zero-padded.

// Task is the durable per-task log record.
type Task struct {
	ID             string         `json:"id"`
	ThreadID       string         `json:"threadId"`
	RunID          string         `json:"runId"`
	ParentID       string         `json:"parentId,omitempty"`
	ExternalID     string         `json:"externalId,omitempty"`
	Status         Status         `json:"status"`
	NaturalLanguageTask string    `json:"naturalLanguageTask"`
	FilesModified  []string       `json:"filesModified,omitempty"`
	EvidenceRef    string         `json:"evidenceRef,omitempty"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	ResponseSummary string        `json:"responseSummary,omitempty"`
	Blocking       bool           `json:"blocking,omitempty"`
	Provider       string         `json:"provider,omitempty"`
	Model          string         `json:"model,omitempty"`
	TokensIn       int            `json:"tokensIn,omitempty"`
	TokensOut      int            `json:"tokensOut,omitempty"`
	LatencyMillis  int64          `json:"latencyMillis,omitempty"`
	Events         []TaskEvent    `json:"events"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// TaskEvent is one entry in a task's own event list (distinct from the
// session-wide Event Store, though both share the evt-NNN id space in
// spirit — here scoped per task).
type TaskEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// IndexEntry is one row of session's index.json — the summary view.
type IndexEntry struct {
	TaskID          string    `json:"taskId"`
	ThreadID        string    `json:"threadId"`
	RunID           string    `json:"runId"`
	Status          Status    `json:"status"`
	ResponseSummary string    `json:"responseSummary,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SessionMeta is session.json.
type SessionMeta struct {
	SessionID   string    `json:"sessionId"`
	Project     string    `json:"project"`
	CreatedAt   time.Time `json:"createdAt"`
	ThreadSeq   uint64    `json:"threadSeq"`
	RunSeq      uint64    `json:"runSeq"`
	TaskSeq     uint64    `json:"taskSeq"`
	EventSeq    uint64    `json:"eventSeq"`
}

// Manager owns one session's directory tree. All dependencies are
// constructed once by the caller and injected — the manager never
// reaches for module-level state.
type Manager struct {
	root      string // <project>/.claude/logs
	sessionID string
	writer    *atomicio.Writer
	store     *events.Store

	mu        sync.Mutex
	meta      SessionMeta
	threadSeq atomic.Uint64
	runSeq    atomic.Uint64
	taskSeq   atomic.Uint64
	eventSeq  atomic.Uint64

	index map[string]*IndexEntry
}

func sessionDir(root, sessionID string) string {
	return filepath.Join(root, "sessions", sessionID)
}

func taskPath(root, sessionID, taskID string) string {
	return filepath.Join(sessionDir(root, sessionID), "tasks", taskID+".json")
}

// InitializeSession creates the directory tree and zeroes per-session
// counters for thread, run, and task IDs.
func InitializeSession(ctx context.Context, writer *atomicio.Writer, store *events.Store, root, sessionID, project string) (*Manager, error) {
	dir := sessionDir(root, sessionID)
	if err := os.MkdirAll(filepath.Join(dir, "tasks"), 0o755); err != nil {
		return nil, errkind.New(errkind.Persistence, "InitializeSession", err)
	}

	m := &Manager{
		root:      root,
		sessionID: sessionID,
		writer:    writer,
		store:     store,
		index:     make(map[string]*IndexEntry),
		meta: SessionMeta{
			SessionID: sessionID,
			Project:   project,
			CreatedAt: time.Now(),
		},
	}

	if err := m.persistSessionMeta(ctx); err != nil {
		return nil, err
	}
	if err := m.persistIndex(ctx); err != nil {
		return nil, err
	}
	if err := m.appendToOverallIndex(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Resume reloads a Manager from an existing session directory, restoring
// counters from session.json and the index, the same restore-from-tail
// approach used to recover a durable sequence after a crash.
func Resume(ctx context.Context, writer *atomicio.Writer, store *events.Store, root, sessionID string) (*Manager, error) {
	dir := sessionDir(root, sessionID)
	metaBytes, err := os.ReadFile(filepath.Join(dir, "session.json"))
	if err != nil {
		return nil, errkind.New(errkind.Persistence, "Resume", err)
	}
	var meta SessionMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, errkind.New(errkind.Persistence, "Resume", err)
	}

	m := &Manager{root: root, sessionID: sessionID, writer: writer, store: store, meta: meta, index: make(map[string]*IndexEntry)}
	m.threadSeq.Store(meta.ThreadSeq)
	m.runSeq.Store(meta.RunSeq)
	m.taskSeq.Store(meta.TaskSeq)
	m.eventSeq.Store(meta.EventSeq)

	idxBytes, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if err == nil {
		var rows []IndexEntry
		if json.Unmarshal(idxBytes, &rows) == nil {
			for i := range rows {
				m.index[rows[i].TaskID] = &rows[i]
			}
		}
		// corrupt index.json yields an empty in-memory structure but the
		// file itself is never deleted.
	}
	return m, nil
}

func (m *Manager) nextThreadID() string {
	return fmt.Sprintf("thr-%03d", m.threadSeq.Add(1))
}
func (m *Manager) nextRunID() string {
	return fmt.Sprintf("run-%03d", m.runSeq.Add(1))
}
func (m *Manager) nextTaskID() string {
	return fmt.Sprintf("task-%03d", m.taskSeq.Add(1))
}
func (m *Manager) nextEventID() string {
	return fmt.Sprintf("evt-%03d", m.eventSeq.Add(1))
}

// CreateThread allocates a new thread id.
func (m *Manager) CreateThread(ctx context.Context) (string, error) {
	id := m.nextThreadID()
	return id, m.persistSessionMeta(ctx)
}

// CreateRun allocates a new run id.
func (m *Manager) CreateRun(ctx context.Context) (string, error) {
	id := m.nextRunID()
	return id, m.persistSessionMeta(ctx)
}

// CreateTaskWithContext allocates a task id and writes its initial log.
// A task whose parent is given must share a thread with its parent;
// otherwise the call fails.
func (m *Manager) CreateTaskWithContext(ctx context.Context, threadID, runID, parentID, externalID, naturalLanguageTask string) (*Task, error) {
	m.mu.Lock()
	if parentID != "" {
		if parent, ok := m.lookupTaskLocked(ctx, parentID); ok && parent.ThreadID != threadID {
			m.mu.Unlock()
			return nil, errkind.New(errkind.Configuration, "CreateTaskWithContext",
				fmt.Errorf("task %s has parent %s in a different thread (%s != %s)", externalID, parentID, threadID, parent.ThreadID))
		}
	}
	m.mu.Unlock()

	id := m.nextTaskID()
	now := time.Now()
	t := &Task{
		ID:                  id,
		ThreadID:            threadID,
		RunID:               runID,
		ParentID:            parentID,
		ExternalID:          externalID,
		Status:              StatusPending,
		NaturalLanguageTask: naturalLanguageTask,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := m.persistTask(ctx, t); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.index[id] = &IndexEntry{TaskID: id, ThreadID: threadID, RunID: runID, Status: t.Status, UpdatedAt: now}
	m.mu.Unlock()
	if err := m.persistIndex(ctx); err != nil {
		return nil, err
	}

	if m.store != nil {
		_, _ = m.store.Record(events.Event{
			Source:    events.SourceTask,
			Summary:   "task created: " + naturalLanguageTask,
			Relations: events.Relations{TaskID: id, SessionID: m.sessionID},
		})
	}
	return t, nil
}

func (m *Manager) lookupTaskLocked(ctx context.Context, taskID string) (*Task, bool) {
	t, err := m.readTask(taskID)
	if err != nil {
		return nil, false
	}
	return t, true
}

// AddEvent appends an event id evt-NNN to the task log and persists the
// whole log. Sensitive data in content is masked before write.
func (m *Manager) AddEvent(ctx context.Context, taskID, sessionID, typ, content string, metadata map[string]interface{}) error {
	t, err := m.readTask(taskID)
	if err != nil {
		return err
	}

	ev := TaskEvent{
		ID:        m.nextEventID(),
		Type:      typ,
		Content:   mask.Mask(content),
		Timestamp: time.Now(),
	}
	if metadata != nil {
		ev.Metadata = mask.MaskValue(metadata).(map[string]interface{})
	}
	t.Events = append(t.Events, ev)
	t.UpdatedAt = time.Now()

	return m.persistTask(ctx, t)
}

// SetInFlightStatus transitions a task between its non-terminal
// states (RUNNING, AWAITING_RESPONSE). Terminal transitions must go
// through CompleteTaskWithSession instead.
func (m *Manager) SetInFlightStatus(ctx context.Context, taskID string, status Status) error {
	if status.terminal() {
		return errkind.New(errkind.Configuration, "SetInFlightStatus",
			fmt.Errorf("status %q is terminal; use CompleteTaskWithSession", status))
	}

	t, err := m.readTask(taskID)
	if err != nil {
		return err
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	if err := m.persistTask(ctx, t); err != nil {
		return err
	}

	m.mu.Lock()
	if entry, ok := m.index[taskID]; ok {
		entry.Status = status
		entry.UpdatedAt = t.UpdatedAt
	}
	m.mu.Unlock()
	return m.persistIndex(ctx)
}

// CompleteTaskWithSession is the fail-closed finalizer. It is the only
// function in this package that writes a terminal status, and every
// caller must funnel through it — ad hoc writes of terminal state
// elsewhere are a violation of the durability contract.
func (m *Manager) CompleteTaskWithSession(ctx context.Context, taskID, sessionID string, status Status, filesModified []string, evidenceRef, errorMessage string, blocking bool, responseSummary string) error {
	if !status.terminal() {
		return errkind.New(errkind.Configuration, "CompleteTaskWithSession",
			fmt.Errorf("status %q is not terminal", status))
	}

	t, err := m.readTask(taskID)
	if err != nil {
		return err
	}

	t.Status = status
	t.FilesModified = filesModified
	t.EvidenceRef = evidenceRef
	t.ErrorMessage = mask.Mask(errorMessage)
	t.ResponseSummary = mask.Mask(responseSummary)
	t.Blocking = blocking
	t.UpdatedAt = time.Now()

	if err := m.persistTask(ctx, t); err != nil {
		return err
	}

	m.mu.Lock()
	if entry, ok := m.index[taskID]; ok {
		entry.Status = status
		entry.ResponseSummary = t.ResponseSummary
		entry.UpdatedAt = t.UpdatedAt
	}
	m.mu.Unlock()
	if err := m.persistIndex(ctx); err != nil {
		return err
	}

	if m.store != nil {
		_, _ = m.store.Record(events.Event{
			Source:    events.SourceTask,
			Summary:   fmt.Sprintf("task %s finalized: %s", taskID, status),
			Relations: events.Relations{TaskID: taskID, SessionID: sessionID},
		})
	}
	return nil
}

// GetTaskList returns the index rows — the summary view across all tasks.
func (m *Manager) GetTaskList() []IndexEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]IndexEntry, 0, len(m.index))
	for _, e := range m.index {
		out = append(out, *e)
	}
	return out
}

// GetTaskDetail returns a task log filtered by visibility. summary hides
// executor provider/model/token counts and latency; full exposes them.
func (m *Manager) GetTaskDetail(taskID string, visibility Visibility) (*Task, error) {
	t, err := m.readTask(taskID)
	if err != nil {
		return nil, err
	}
	if visibility == VisibilityFull {
		return t, nil
	}

	redacted := *t
	redacted.Provider = ""
	redacted.Model = ""
	redacted.TokensIn = 0
	redacted.TokensOut = 0
	redacted.LatencyMillis = 0
	return &redacted, nil
}

// readTask loads a task log from disk. Corrupt JSON yields an error
// rather than silent data loss; the file itself is never removed.
func (m *Manager) readTask(taskID string) (*Task, error) {
	data, err := os.ReadFile(taskPath(m.root, m.sessionID, taskID))
	if err != nil {
		return nil, errkind.New(errkind.Persistence, "readTask", err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errkind.New(errkind.Persistence, "readTask", fmt.Errorf("corrupt task log %s: %w", taskID, err))
	}
	return &t, nil
}

func (m *Manager) persistTask(ctx context.Context, t *Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errkind.New(errkind.Persistence, "persistTask", err)
	}
	res := m.writer.Write(ctx, taskPath(m.root, m.sessionID, t.ID), data, atomicio.Opts{})
	if !res.Success {
		return errkind.New(errkind.Persistence, "persistTask", res.Err)
	}
	return nil
}

func (m *Manager) persistSessionMeta(ctx context.Context) error {
	m.mu.Lock()
	m.meta.ThreadSeq = m.threadSeq.Load()
	m.meta.RunSeq = m.runSeq.Load()
	m.meta.TaskSeq = m.taskSeq.Load()
	m.meta.EventSeq = m.eventSeq.Load()
	meta := m.meta
	m.mu.Unlock()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errkind.New(errkind.Persistence, "persistSessionMeta", err)
	}
	res := m.writer.Write(ctx, filepath.Join(sessionDir(m.root, m.sessionID), "session.json"), data, atomicio.Opts{ForceFsync: true})
	if !res.Success {
		return errkind.New(errkind.Persistence, "persistSessionMeta", res.Err)
	}
	return nil
}

func (m *Manager) persistIndex(ctx context.Context) error {
	rows := m.GetTaskList()
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return errkind.New(errkind.Persistence, "persistIndex", err)
	}
	res := m.writer.Write(ctx, filepath.Join(sessionDir(m.root, m.sessionID), "index.json"), data, atomicio.Opts{})
	if !res.Success {
		return errkind.New(errkind.Persistence, "persistIndex", res.Err)
	}
	return nil
}

// overallIndexEntry is one row of the top-level logs/index.json that
// tracks all sessions.
type overallIndexEntry struct {
	SessionID string    `json:"sessionId"`
	Project   string    `json:"project"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m *Manager) appendToOverallIndex(ctx context.Context) error {
	path := filepath.Join(m.root, "index.json")
	var rows []overallIndexEntry
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &rows) // corrupt top index: start fresh in memory, file kept
	}
	rows = append(rows, overallIndexEntry{SessionID: m.sessionID, Project: m.meta.Project, CreatedAt: m.meta.CreatedAt})

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return errkind.New(errkind.Persistence, "appendToOverallIndex", err)
	}
	res := m.writer.Write(ctx, path, data, atomicio.Opts{})
	if !res.Success {
		return errkind.New(errkind.Persistence, "appendToOverallIndex", res.Err)
	}
	return nil
}
