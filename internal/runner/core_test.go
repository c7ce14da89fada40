package runner

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelrun/runner/internal/llmclient"
	"github.com/kestrelrun/runner/internal/obslog"
)

// fakeChatProvider is a minimal llmclient.Provider double that always
// returns a fixed, non-empty reply.
type fakeChatProvider struct {
	reply string
}

func (f *fakeChatProvider) Chat(ctx context.Context, model string, messages []llmclient.Message, temperature float64) (llmclient.Response, error) {
	return llmclient.Response{Content: f.reply}, nil
}

func TestAcquireExecutor_GrantsAndReleasesAnL2Slot(t *testing.T) {
	dir := t.TempDir()
	c, err := Initialize(context.Background(), dir, Options{
		ExecutorKind: ExecutorDeterministic,
		Executor:     &DeterministicExecutor{Default: Output{Executed: true, Status: StatusComplete}},
		L2Capacity:   1,
		Logger:       obslog.NewNop(),
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() { _ = c.Shutdown(context.Background()) }()

	acq, err := c.AcquireExecutor(context.Background(), []string{"src/main.go"})
	if err != nil {
		t.Fatalf("AcquireExecutor: %v", err)
	}
	if acq.Agent.ID == "" {
		t.Fatal("expected a non-empty agent id")
	}

	// capacity is 1: a second acquisition must fail until the first is released.
	if _, err := c.AcquireExecutor(context.Background(), []string{"src/other.go"}); err == nil {
		t.Fatal("expected the second acquisition to fail at capacity")
	}

	c.ReleaseExecutor(acq)

	acq2, err := c.AcquireExecutor(context.Background(), []string{"src/other.go"})
	if err != nil {
		t.Fatalf("AcquireExecutor after release: %v", err)
	}
	c.ReleaseExecutor(acq2)
}

func TestAcquireExecutor_ConflictingLockPathsAreRejected(t *testing.T) {
	dir := t.TempDir()
	c, err := Initialize(context.Background(), dir, Options{
		ExecutorKind: ExecutorDeterministic,
		Executor:     &DeterministicExecutor{Default: Output{Executed: true, Status: StatusComplete}},
		L2Capacity:   4,
		Logger:       obslog.NewNop(),
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() { _ = c.Shutdown(context.Background()) }()

	first, err := c.AcquireExecutor(context.Background(), []string{"shared/config.go"})
	if err != nil {
		t.Fatalf("first AcquireExecutor: %v", err)
	}
	defer c.ReleaseExecutor(first)

	if _, err := c.AcquireExecutor(context.Background(), []string{"shared/config.go"}); err == nil {
		t.Fatal("expected a lock conflict on the same path")
	}
}

func TestAcquireExecutor_WithoutL2PoolReportsConfigurationError(t *testing.T) {
	c := &Core{}
	if _, err := c.AcquireExecutor(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected an error when no L2 pool was configured")
	}
}

func TestResume_SavedCoreHasNilPools(t *testing.T) {
	dir := t.TempDir()
	c, err := Initialize(context.Background(), dir, Options{
		ExecutorKind: ExecutorDeterministic,
		Executor:     &DeterministicExecutor{Default: Output{Executed: true, Status: StatusComplete}},
		Logger:       obslog.NewNop(),
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	sessionID := c.SessionID()
	if err := c.SaveState(context.Background()); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	resumed, err := Resume(context.Background(), dir, sessionID, Options{
		ExecutorKind: ExecutorStub,
		Executor:     &StubExecutor{},
		Logger:       obslog.NewNop(),
	})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	defer func() { _ = resumed.Shutdown(context.Background()) }()

	if _, err := resumed.AcquireExecutor(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected resumed Core without an L2 pool to reject AcquireExecutor")
	}
}

func TestRecoveryStubExecutor_TimeoutScenarioReportsTerminatedByTimeout(t *testing.T) {
	exec, err := NewRecoveryStubExecutor(RecoveryModeEnabled, "timeout")
	if err != nil {
		t.Fatalf("NewRecoveryStubExecutor: %v", err)
	}

	out, err := exec.Execute(context.Background(), Input{ID: "task-1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Executed {
		t.Fatal("a timed-out executor should report Executed=false")
	}
	if out.Status != StatusError {
		t.Fatalf("expected ERROR status, got %s", out.Status)
	}
	if out.TerminatedBy != TerminatedByTimeout {
		t.Fatalf("expected timeout termination, got %s", out.TerminatedBy)
	}
}

func TestRecoveryStubExecutor_BlockedScenarioReportsExecutorBlocked(t *testing.T) {
	exec, err := NewRecoveryStubExecutor(RecoveryModeEnabled, "blocked")
	if err != nil {
		t.Fatalf("NewRecoveryStubExecutor: %v", err)
	}

	out, err := exec.Execute(context.Background(), Input{ID: "task-1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.ExecutorBlocked {
		t.Fatal("expected ExecutorBlocked=true")
	}
	if out.BlockedReason == "" {
		t.Fatal("expected a non-empty blocked reason")
	}
}

func TestRecoveryStubExecutor_NoEvidenceScenarioFailsClosed(t *testing.T) {
	exec, err := NewRecoveryStubExecutor(RecoveryModeEnabled, "no_evidence")
	if err != nil {
		t.Fatalf("NewRecoveryStubExecutor: %v", err)
	}

	out, err := exec.Execute(context.Background(), Input{ID: "task-1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Status != StatusNoEvidence {
		t.Fatalf("expected NO_EVIDENCE status, got %s", out.Status)
	}
}

func TestRecoveryStubExecutor_RejectedWithoutExplicitRecoveryMode(t *testing.T) {
	if _, err := NewRecoveryStubExecutor(RecoveryModeDisabled, "timeout"); err == nil {
		t.Fatal("expected construction to be rejected outside explicit recovery mode")
	}
}

func TestSelectExecutor_RecoveryStubRequiresRecoveryModeOption(t *testing.T) {
	dir := t.TempDir()
	stub, err := NewRecoveryStubExecutor(RecoveryModeEnabled, "timeout")
	if err != nil {
		t.Fatalf("NewRecoveryStubExecutor: %v", err)
	}

	if _, err := Initialize(context.Background(), dir, Options{
		ExecutorKind: ExecutorRecoveryStub,
		Executor:     stub,
		Logger:       obslog.NewNop(),
	}); err == nil {
		t.Fatal("expected Initialize to reject recovery-stub without Options.RecoveryMode enabled")
	}

	c, err := Initialize(context.Background(), dir, Options{
		ExecutorKind: ExecutorRecoveryStub,
		Executor:     stub,
		RecoveryMode: RecoveryModeEnabled,
		Logger:       obslog.NewNop(),
	})
	if err != nil {
		t.Fatalf("Initialize with recovery mode enabled: %v", err)
	}
	defer func() { _ = c.Shutdown(context.Background()) }()
}

func TestNewSessionID_ProducesDistinctIDs(t *testing.T) {
	a := newSessionID()
	b := newSessionID()
	if a == b {
		t.Fatal("expected distinct session ids across calls")
	}
	if len(a) <= len("sess-") {
		t.Fatalf("expected a populated suffix after the sess- prefix, got %q", a)
	}
}

func TestCheckSentinel_PassesAfterAGenuinelyEvidencedAPICall(t *testing.T) {
	dir := t.TempDir()
	apiExec := &APIExecutor{Provider: &fakeChatProvider{reply: "I will update docs/guide.md."}, Model: "test-model"}
	c, err := Initialize(context.Background(), dir, Options{
		ExecutorKind: ExecutorAPI,
		Executor:     apiExec,
		Logger:       obslog.NewNop(),
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() { _ = c.Shutdown(context.Background()) }()

	if apiExec.EvidenceMgr == nil {
		t.Fatal("expected Initialize to wire an evidence manager into the API executor")
	}

	if _, err := c.Execute(context.Background(), ExecuteRequest{
		Tasks: []Task{{ID: "write-the-docs", NaturalLanguageTask: "explain the setup flow", TaskType: TaskTypeReadInfo}},
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	verdict := c.CheckSentinel(func() bool { return true })
	if !verdict.CanAssertComplete {
		t.Fatalf("expected CanAssertComplete after a real evidenced call, got failed gate %q reason %q", verdict.FailedGate, verdict.Reason)
	}
}

func TestCheckSentinel_FailsIntegrityGateWithNoEvidence(t *testing.T) {
	dir := t.TempDir()
	c, err := Initialize(context.Background(), dir, Options{
		ExecutorKind: ExecutorDeterministic,
		Executor:     &DeterministicExecutor{Default: Output{Executed: true, Status: StatusComplete}},
		Logger:       obslog.NewNop(),
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() { _ = c.Shutdown(context.Background()) }()

	verdict := c.CheckSentinel(func() bool { return true })
	if verdict.CanAssertComplete {
		t.Fatal("expected the integrity gate to fail-closed with zero evidence files")
	}
	if verdict.FailedGate != "integrity" {
		t.Fatalf("expected the integrity gate to fail, got %q", verdict.FailedGate)
	}
}

func TestCheckSentinel_FailsKeyGateWithoutCredential(t *testing.T) {
	dir := t.TempDir()
	c, err := Initialize(context.Background(), dir, Options{
		ExecutorKind: ExecutorDeterministic,
		Executor:     &DeterministicExecutor{Default: Output{Executed: true, Status: StatusComplete}},
		Logger:       obslog.NewNop(),
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() { _ = c.Shutdown(context.Background()) }()

	verdict := c.CheckSentinel(func() bool { return false })
	if verdict.CanAssertComplete || verdict.FailedGate != "key" {
		t.Fatalf("expected the key gate to fail without a credential, got %+v", verdict)
	}
}

func TestL2Pool_StaleAgentIsReapedAndReported(t *testing.T) {
	dir := t.TempDir()
	c, err := Initialize(context.Background(), dir, Options{
		ExecutorKind: ExecutorDeterministic,
		Executor:     &DeterministicExecutor{Default: Output{Executed: true, Status: StatusComplete}},
		L2Capacity:   1,
		StaleAfter:   20 * time.Millisecond,
		Logger:       obslog.NewNop(),
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer func() { _ = c.Shutdown(context.Background()) }()

	if _, err := c.AcquireExecutor(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("AcquireExecutor: %v", err)
	}

	// the sweep reaps agents idle past StaleAfter on its own ticker; once
	// it does, the slot becomes acquirable again without an explicit release.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := c.AcquireExecutor(context.Background(), []string{"y"}); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the stale-executor sweep to eventually free the slot")
}
