package events

import (
	"context"
	"os"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "events-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := NewStore(dir, 10)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStore_RecordAndQuery(t *testing.T) {
	s := newTestStore(t)

	ev, err := s.Record(Event{Source: SourceTask, Summary: "task started", Relations: Relations{TaskID: "task-001"}})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if ev.ID == "" {
		t.Fatalf("expected generated ID")
	}

	got, err := s.Query(context.Background(), Filter{TaskID: "task-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID != ev.ID {
		t.Fatalf("expected 1 matching event, got %+v", got)
	}
}

func TestStore_RecordMasksSensitiveData(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Record(Event{
		Source:  SourceExecutor,
		Summary: "called with key sk-ant-REDACTED",
		Data:    map[string]interface{}{"token": "sk-deadbeefdeadbeefdeadbeef01"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Query(context.Background(), Filter{Source: SourceExecutor})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Data["token"] == "sk-deadbeefdeadbeefdeadbeef01" {
		t.Fatalf("secret leaked into stored event: %+v", got[0])
	}
}

func TestStore_QueryOrderingAndPagination(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_, err := s.Record(Event{
			Source:    SourceCommand,
			Summary:   "step",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Query(context.Background(), Filter{Source: SourceCommand, Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if !got[0].Timestamp.Before(got[1].Timestamp) {
		t.Fatalf("expected ascending order by default")
	}
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	dir, err := os.MkdirTemp("", "events-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	s1, err := NewStore(dir, 10)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := s1.Record(Event{Source: SourceSession, Summary: "session opened"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s1.Close()

	s2, err := NewStore(dir, 10)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s2.Close()

	got, err := s2.Query(context.Background(), Filter{Source: SourceSession})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected event to survive reload, got %d", len(got))
	}
}
