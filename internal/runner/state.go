package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/kestrelrun/runner/internal/atomicio"
	"github.com/kestrelrun/runner/internal/errkind"
	"github.com/kestrelrun/runner/internal/events"
	"github.com/kestrelrun/runner/internal/evidence"
	"github.com/kestrelrun/runner/internal/lifecycle"
	"github.com/kestrelrun/runner/internal/mediation"
	"github.com/kestrelrun/runner/internal/obslog"
	"github.com/kestrelrun/runner/internal/tasklog"
)

// stateSnapshot is the orchestrator resume state: the optional
// .claude/state/<session_id>.json the layout calls out. It carries
// only what can't be cheaply recomputed from the task log on resume
// (the lifecycle position) plus identifiers needed to resume the
// rest.
type stateSnapshot struct {
	SessionID string             `json:"sessionId"`
	ThreadID  string             `json:"threadId"`
	RunID     string             `json:"runId"`
	Phase     lifecycle.Phase    `json:"phase"`
	History   []lifecycle.PhaseRecord `json:"history"`
	Failed    bool               `json:"failed"`
}

func statePath(project, sessionID string) string {
	return filepath.Join(project, ".claude", "state", sessionID+".json")
}

// SaveState persists the orchestrator's resumable position.
func (c *Core) SaveState(ctx context.Context) error {
	c.mu.Lock()
	snap := stateSnapshot{
		SessionID: c.sessionID,
		ThreadID:  c.threadID,
		RunID:     c.runID,
		Phase:     c.lifecycle.Current(),
		History:   c.lifecycle.History(),
		Failed:    c.failed,
	}
	c.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return errkind.New(errkind.Persistence, "SaveState", err)
	}
	res := c.writer.Write(ctx, statePath(c.project, c.sessionID), data, atomicio.Opts{ForceFsync: true})
	if !res.Success {
		return errkind.New(errkind.Persistence, "SaveState", res.Err)
	}
	return nil
}

// Resume reconstructs a Core for an existing session: it reloads the
// task-log manager's counters and index, and restores whatever
// lifecycle position was last saved. It does not reselect an
// executor or mediation backend — callers must set those via Options
// as they would at initial startup.
func Resume(ctx context.Context, project, sessionID string, opts Options) (*Core, error) {
	logsDir := opts.LogsDir
	if logsDir == "" {
		logsDir = filepath.Join(project, ".claude", "logs")
	}
	evidenceDirPath := opts.EvidenceDir
	if evidenceDirPath == "" {
		evidenceDirPath = filepath.Join(project, ".claude", "logs", "evidence")
	}

	writer := atomicio.New()
	eventStore, err := events.NewStore(filepath.Join(logsDir, "events"), 1000)
	if err != nil {
		return nil, errkind.New(errkind.Persistence, "Resume", err)
	}

	taskMgr, err := tasklog.Resume(ctx, writer, eventStore, logsDir, sessionID)
	if err != nil {
		return nil, err
	}

	evMgr, err := evidence.NewManager(evidenceDirPath, writer)
	if err != nil {
		return nil, err
	}

	executor, err := selectExecutor(opts)
	if err != nil {
		return nil, err
	}
	wireEvidence(executor, evMgr, sessionID)

	logger := opts.Logger
	if logger == nil {
		logger = obslog.NewNop()
	}
	mediationBackend := opts.MediationBackend
	if mediationBackend == nil {
		mediationBackend = mediation.NewDeterministic()
	}

	c := &Core{
		project:     project,
		sessionID:   sessionID,
		writer:      writer,
		eventStore:  eventStore,
		taskMgr:     taskMgr,
		evidenceMgr: evMgr,
		lifecycle:   lifecycle.New(),
		executor:    executor,
		mediation:   mediationBackend,
		logger:      logger,
		tracer:      opts.Tracer,
	}

	if data, readErr := os.ReadFile(statePath(project, sessionID)); readErr == nil {
		var snap stateSnapshot
		if json.Unmarshal(data, &snap) == nil {
			c.threadID = snap.ThreadID
			c.runID = snap.RunID
			c.failed = snap.Failed
			replayHistory(c.lifecycle, snap.History)
		}
	}

	return c, nil
}

func replayHistory(ctrl *lifecycle.Controller, history []lifecycle.PhaseRecord) {
	for _, rec := range history {
		_ = ctrl.CompleteCurrentPhase(rec.Evidence, rec.Status)
	}
}
