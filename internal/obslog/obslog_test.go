package obslog

import "testing"

func TestNewNop_DoesNotPanicOnAnyCall(t *testing.T) {
	l := NewNop()
	l.PhaseStart("EXECUTION", "sess-001", "task-001")
	l.PhaseComplete("EXECUTION", "sess-001", "task-001", 0, "COMPLETE")
	l.ExecutorResult("claude-code", 0, nil)
	l.Warn("something to note", map[string]interface{}{"key": "value"})
	l.Info("informational", map[string]interface{}{"n": 1})
	l.Error("failure", map[string]interface{}{"err": "boom"})
	l.Debug("detail", nil)
	if err := l.Sync(); err != nil {
		// zap's Nop logger's Sync can return an error on some platforms
		// for stdout/stderr syncing; NewNop itself discards entirely so
		// this should never happen, but don't fail the test on it.
		t.Logf("Sync returned: %v", err)
	}
}

func TestMaskedField_RedactsSensitiveStrings(t *testing.T) {
	l := NewNop()
	// Exercise the masking path directly through the public logging
	// surface; there is no sink to assert against with NewNop, so this
	// test only confirms the call does not panic on sensitive content.
	l.Info("api call", map[string]interface{}{
		"token": "sk-ant-REDACTED",
	})
}
