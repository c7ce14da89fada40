package evidence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kestrelrun/runner/internal/atomicio"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir, err := os.MkdirTemp("", "evidence-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	m, err := NewManager(dir, atomicio.New())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewCallID_FormatAndUniqueness(t *testing.T) {
	a, err := NewCallID(time.Now())
	if err != nil {
		t.Fatalf("NewCallID: %v", err)
	}
	b, err := NewCallID(time.Now())
	if err != nil {
		t.Fatalf("NewCallID: %v", err)
	}
	if a == b {
		t.Fatalf("expected unique call ids, got %s twice", a)
	}
	if len(a) < 8 || a[:4] != "llm-" {
		t.Fatalf("unexpected call id format: %s", a)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	m := newTestManager(t)
	callID, _ := NewCallID(time.Now())

	messages := []Message{{Role: "user", Content: "do the thing"}}
	reqHash, err := HashRequest(messages)
	if err != nil {
		t.Fatalf("HashRequest: %v", err)
	}
	respHash := HashResponse("ok, done")

	rec := Record{
		CallID:       callID,
		TaskID:       "task-001",
		SessionID:    "sess-001",
		Provider:     "anthropic",
		Model:        "claude",
		RequestHash:  reqHash,
		ResponseHash: respHash,
		Success:      true,
		CreatedAt:    time.Now(),
	}

	if err := m.Write(context.Background(), rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := m.Read(callID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.RequestHash != reqHash || got.ResponseHash != respHash {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	ok, err := VerifyIntegrity(got, messages, "ok, done")
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !ok {
		t.Fatalf("expected integrity to verify")
	}
}

func TestVerifyIntegrity_DetectsTamperedResponse(t *testing.T) {
	messages := []Message{{Role: "user", Content: "task"}}
	reqHash, _ := HashRequest(messages)
	rec := Record{RequestHash: reqHash, ResponseHash: HashResponse("original")}

	ok, err := VerifyIntegrity(rec, messages, "tampered")
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if ok {
		t.Fatalf("expected tampered response to fail integrity check")
	}
}

func TestHashResponse_EmptyOnFailure(t *testing.T) {
	if got := HashResponse(""); got != "" {
		t.Fatalf("expected empty hash for failed call, got %s", got)
	}
}

func TestList_SkipsCorruptFilesWithoutDeleting(t *testing.T) {
	m := newTestManager(t)
	bad := m.path("llm-bad-0000")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	callID, _ := NewCallID(time.Now())
	if err := m.Write(context.Background(), Record{CallID: callID, Success: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	recs, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected corrupt file to be skipped, got %d records", len(recs))
	}
	if _, err := os.Stat(bad); err != nil {
		t.Fatalf("corrupt file should not have been deleted: %v", err)
	}
}

func TestParseCallIDTime_Ordering(t *testing.T) {
	t1 := time.Now()
	t2 := t1.Add(time.Hour)

	a, _ := NewCallID(t1)
	b, _ := NewCallID(t2)

	at, err := ParseCallIDTime(a)
	if err != nil {
		t.Fatalf("ParseCallIDTime: %v", err)
	}
	bt, err := ParseCallIDTime(b)
	if err != nil {
		t.Fatalf("ParseCallIDTime: %v", err)
	}
	if at >= bt {
		t.Fatalf("expected later call id to parse to a later timestamp: %d vs %d", at, bt)
	}
}
