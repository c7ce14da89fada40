// Package runner implements the orchestration core: it drives a task
// DAG through a fixed lifecycle, invokes an executor per task, and
// decides terminal status itself rather than trusting what the
// executor reports.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelrun/runner/internal/atomicio"
	"github.com/kestrelrun/runner/internal/errkind"
	"github.com/kestrelrun/runner/internal/events"
	"github.com/kestrelrun/runner/internal/evidence"
	"github.com/kestrelrun/runner/internal/lifecycle"
	"github.com/kestrelrun/runner/internal/lockmgr"
	"github.com/kestrelrun/runner/internal/mediation"
	"github.com/kestrelrun/runner/internal/obslog"
	"github.com/kestrelrun/runner/internal/pool"
	"github.com/kestrelrun/runner/internal/sentinel"
	"github.com/kestrelrun/runner/internal/tasklog"
	"github.com/kestrelrun/runner/internal/telemetry"
)

// ExecutorKind selects which Executor implementation a session runs
// against.
type ExecutorKind string

const (
	ExecutorClaudeCode    ExecutorKind = "claude-code"
	ExecutorAPI           ExecutorKind = "api"
	ExecutorStub          ExecutorKind = "stub"
	ExecutorDeterministic ExecutorKind = "deterministic"
	ExecutorRecoveryStub  ExecutorKind = "recovery-stub"
)

// Options configures a Core at initialization time.
type Options struct {
	Project          string
	EvidenceDir      string
	LogsDir          string
	ExecutorKind     ExecutorKind
	Executor         Executor // required for stub/deterministic/recovery-stub, constructed otherwise
	RecoveryMode     RecoveryMode
	MediationBackend mediation.Backend
	L1Capacity       int
	L1Queueing       bool
	L2Capacity       int
	StaleAfter       time.Duration
	Logger           *obslog.Logger
	Tracer           *telemetry.Tracer
}

// Core is the Runner's orchestration state for a single session.
type Core struct {
	mu sync.Mutex

	project   string
	sessionID string
	threadID  string
	runID     string

	writer      *atomicio.Writer
	eventStore  *events.Store
	taskMgr     *tasklog.Manager
	evidenceMgr *evidence.Manager
	locks       *lockmgr.Manager
	l1          *pool.L1Pool
	l2          *pool.L2Pool
	lifecycle   *lifecycle.Controller

	executor    Executor
	mediation   mediation.Backend
	logger      *obslog.Logger
	tracer      *telemetry.Tracer

	failed bool
}

// Task is one unit of work in a session's DAG.
type Task struct {
	ID                  string
	NaturalLanguageTask string
	TaskType            TaskType
	SelectedModel       string
	Dependencies        []string
}

// TaskOutcome is the terminal (or awaiting-response) record produced
// for one task.
type TaskOutcome struct {
	TaskID  string
	Status  tasklog.Status
	Blocking bool
	Signal  *mediation.Signal
}

// AggregateResult is the session-level reduction over every task's
// terminal outcome.
type AggregateResult struct {
	Status  tasklog.Status
	Tasks   []TaskOutcome
}

func newSessionID() string {
	return fmt.Sprintf("sess-%s", uuid.NewString())
}

// Initialize verifies targetProject exists, stands up the session's
// durable state, and selects the executor implementation. recovery-stub
// is rejected unless opts.RecoveryMode is explicitly enabled.
func Initialize(ctx context.Context, targetProject string, opts Options) (*Core, error) {
	info, err := os.Stat(targetProject)
	if err != nil || !info.IsDir() {
		return nil, errkind.New(errkind.Configuration, "Initialize", fmt.Errorf("target project %q is not a directory", targetProject))
	}

	logsDir := opts.LogsDir
	if logsDir == "" {
		logsDir = filepath.Join(targetProject, ".claude", "logs")
	}
	evidenceDir := opts.EvidenceDir
	if evidenceDir == "" {
		evidenceDir = filepath.Join(targetProject, ".claude", "logs", "evidence")
	}

	writer := atomicio.New()

	eventStore, err := events.NewStore(filepath.Join(logsDir, "events"), 1000)
	if err != nil {
		return nil, errkind.New(errkind.Persistence, "Initialize", err)
	}

	sessionID := newSessionID()
	taskMgr, err := tasklog.InitializeSession(ctx, writer, eventStore, logsDir, sessionID, opts.Project)
	if err != nil {
		return nil, err
	}

	evidenceMgr, err := evidence.NewManager(evidenceDir, writer)
	if err != nil {
		return nil, err
	}

	threadID, err := taskMgr.CreateThread(ctx)
	if err != nil {
		return nil, err
	}
	runID, err := taskMgr.CreateRun(ctx)
	if err != nil {
		return nil, err
	}

	locks := lockmgr.New()

	l1Cap := opts.L1Capacity
	if l1Cap <= 0 {
		l1Cap = pool.DefaultL1Capacity
	}
	l2Cap := opts.L2Capacity
	if l2Cap <= 0 {
		l2Cap = pool.DefaultL2Capacity
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}

	logger := opts.Logger
	if logger == nil {
		logger = obslog.NewNop()
	}

	l1 := pool.NewL1Pool(l1Cap, opts.L1Queueing)
	l2 := pool.NewL2Pool(l2Cap, locks, staleAfter, func(agentID string) {
		logger.Warn("stale executor reaped", map[string]interface{}{"agent_id": agentID})
	})

	executor, err := selectExecutor(opts)
	if err != nil {
		return nil, err
	}
	wireEvidence(executor, evidenceMgr, sessionID)

	mediationBackend := opts.MediationBackend
	if mediationBackend == nil {
		mediationBackend = mediation.NewDeterministic()
	}

	return &Core{
		project:     targetProject,
		sessionID:   sessionID,
		threadID:    threadID,
		runID:       runID,
		writer:      writer,
		eventStore:  eventStore,
		taskMgr:     taskMgr,
		evidenceMgr: evidenceMgr,
		locks:       locks,
		l1:          l1,
		l2:          l2,
		lifecycle:   lifecycle.New(),
		executor:    executor,
		mediation:   mediationBackend,
		logger:      logger,
		tracer:      opts.Tracer,
	}, nil
}

func selectExecutor(opts Options) (Executor, error) {
	switch opts.ExecutorKind {
	case ExecutorRecoveryStub:
		if opts.RecoveryMode != RecoveryModeEnabled {
			return nil, ErrRecoveryModeRequired{}
		}
		if opts.Executor == nil {
			return nil, errkind.New(errkind.Configuration, "selectExecutor", fmt.Errorf("recovery-stub executor requires an injected implementation"))
		}
		return opts.Executor, nil
	case ExecutorStub, ExecutorDeterministic:
		if opts.Executor == nil {
			return nil, errkind.New(errkind.Configuration, "selectExecutor", fmt.Errorf("%s executor requires an injected implementation", opts.ExecutorKind))
		}
		return opts.Executor, nil
	case ExecutorClaudeCode, ExecutorAPI, "":
		if opts.Executor != nil {
			return opts.Executor, nil
		}
		return nil, errkind.New(errkind.Configuration, "selectExecutor", fmt.Errorf("no executor constructed for kind %q", opts.ExecutorKind))
	default:
		return nil, errkind.New(errkind.Configuration, "selectExecutor", fmt.Errorf("unknown executor kind %q", opts.ExecutorKind))
	}
}

// SessionID reports the session id this Core was initialized with.
func (c *Core) SessionID() string { return c.sessionID }

// TaskLog exposes the session's task manager for read-only inspection
// (listing tasks, reading task detail) by front ends that sit outside
// the orchestration core itself.
func (c *Core) TaskLog() *tasklog.Manager { return c.taskMgr }

// ProjectRoot reports the project directory this Core was initialized
// against.
func (c *Core) ProjectRoot() string { return c.project }

// RunID reports the current run id.
func (c *Core) RunID() string { return c.runID }

// CheckSentinel runs the fail-closed gate check over this session's
// evidence, using hasCredential as the key gate probe.
func (c *Core) CheckSentinel(hasCredential sentinel.CredentialProbe) sentinel.Verdict {
	material := func(callID string) ([]evidence.Message, string, bool) {
		rec, err := c.evidenceMgr.Read(callID)
		if err != nil {
			return nil, "", false
		}
		return rec.RequestMaterial, rec.ResponseMaterial, true
	}
	return sentinel.Check(c.evidenceMgr.Dir(), hasCredential, c.evidenceMgr, material)
}

// AdvancePhase completes the lifecycle controller's current phase with
// the given evidence, advancing to the next phase in sequence.
func (c *Core) AdvancePhase(ev lifecycle.Evidence, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle.CompleteCurrentPhase(ev, status)
}

// Shutdown drains in-flight durable writes and stops the L2 pool's
// stale-executor sweep.
func (c *Core) Shutdown(ctx context.Context) error {
	if c.l2 != nil {
		c.l2.Stop()
	}
	if c.eventStore != nil {
		c.eventStore.Close()
	}
	return c.writer.FlushAll(ctx)
}

// AcquireExecutor explicitly acquires an L2 slot for lockPaths,
// failing if the pool is saturated or the paths are already locked by
// another acquisition.
func (c *Core) AcquireExecutor(ctx context.Context, lockPaths []string) (*pool.Acquisition, error) {
	if c.l2 == nil {
		return nil, errkind.New(errkind.Configuration, "AcquireExecutor", fmt.Errorf("session was resumed without an L2 pool; reinitialize with Options.L2Capacity"))
	}
	return c.l2.Acquire(ctx, lockPaths)
}

// ReleaseExecutor releases a slot acquired via AcquireExecutor.
func (c *Core) ReleaseExecutor(acq *pool.Acquisition) {
	if c.l2 != nil {
		c.l2.Release(acq)
	}
}

// CompleteSession marks the session failed or leaves it at its
// current aggregate state; either way no further dispatch is
// permitted afterward.
func (c *Core) CompleteSession(failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = failed
}

// Failed reports whether the session has been marked failed.
func (c *Core) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}
