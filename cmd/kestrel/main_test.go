package main

import (
	"path/filepath"
	"testing"
)

func TestExitCodeFor_MapsErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"invalid", &invalidArgsError{msg: "bad arg"}, ExitInvalid},
		{"session error", &sessionErrorResult{msg: "ERROR"}, ExitSessionError},
		{"infra", filepathError{}, ExitInfrastructure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCodeFor(tc.err); got != tc.want {
				t.Fatalf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

type filepathError struct{}

func (filepathError) Error() string { return "boom" }

func TestCurrentSessionPointer_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	if err := saveCurrentSession(dir, "sess-123"); err != nil {
		t.Fatalf("saveCurrentSession: %v", err)
	}

	cs, err := loadCurrentSession(dir)
	if err != nil {
		t.Fatalf("loadCurrentSession: %v", err)
	}
	if cs.SessionID != "sess-123" {
		t.Fatalf("expected sess-123, got %q", cs.SessionID)
	}

	if err := clearCurrentSession(dir); err != nil {
		t.Fatalf("clearCurrentSession: %v", err)
	}
	if _, err := loadCurrentSession(dir); err == nil {
		t.Fatal("expected an error after clearing the session pointer")
	}
}

func TestCurrentSessionPath_IsUnderClaudeState(t *testing.T) {
	got := currentSessionPath("/tmp/proj")
	want := filepath.Join("/tmp/proj", ".claude", "state", "current.json")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
