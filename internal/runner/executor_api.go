package runner

import (
	"context"
	"strings"
	"time"

	"github.com/kestrelrun/runner/internal/evidence"
	"github.com/kestrelrun/runner/internal/llmclient"
)

// APIExecutor drives a task via a direct LLM call instead of a
// subprocess. Every call is evidenced so the completion protocol's
// integrity gate has material to check. AutoResolve, when set, lets
// the executor re-prompt once on an ambiguous result instead of
// surfacing it to the runner as a clarification signal — this is the
// "auto-resolve mediation" path called out at initialization time.
type APIExecutor struct {
	Provider    llmclient.Provider
	Model       string
	EvidenceMgr *evidence.Manager
	SessionID   string
	AutoResolve bool
}

func (a *APIExecutor) Name() string { return "api" }

func (a *APIExecutor) setEvidence(mgr *evidence.Manager, sessionID string) {
	a.EvidenceMgr = mgr
	a.SessionID = sessionID
}

func (a *APIExecutor) Execute(ctx context.Context, in Input) (Output, error) {
	start := time.Now()
	messages := []llmclient.Message{
		{Role: "system", Content: "You are a coding assistant. State plainly what files you would change and why."},
		{Role: "user", Content: in.Prompt},
	}

	resp, callErr := a.provider().Chat(ctx, a.Model, messages, 0)
	duration := time.Since(start)

	a.recordEvidence(ctx, in.ID, messages, resp.Content, callErr)

	if callErr != nil {
		return Output{
			Executed:   false,
			Status:     StatusError,
			DurationMs: duration.Milliseconds(),
			Error:      callErr.Error(),
		}, nil
	}

	if strings.TrimSpace(resp.Content) == "" {
		return Output{
			Executed:   true,
			Status:     StatusNoEvidence,
			DurationMs: duration.Milliseconds(),
		}, nil
	}

	return Output{
		Executed:   true,
		Status:     StatusComplete,
		Output:     resp.Content,
		DurationMs: duration.Milliseconds(),
		// APIExecutor never touches the filesystem itself, so it has no
		// verified_files evidence of its own; a caller building a
		// completion check on API-executor output must supply it from
		// elsewhere (e.g. a follow-up deterministic file check).
	}, nil
}

func (a *APIExecutor) provider() llmclient.Provider {
	return a.Provider
}

func (a *APIExecutor) recordEvidence(ctx context.Context, taskID string, messages []llmclient.Message, responseContent string, callErr error) {
	if a.EvidenceMgr == nil {
		return
	}
	var evMessages []evidence.Message
	for _, m := range messages {
		evMessages = append(evMessages, evidence.Message{Role: m.Role, Content: m.Content})
	}
	callID, idErr := evidence.NewCallID(time.Now())
	if idErr != nil {
		return
	}
	failureKind := ""
	if callErr != nil {
		failureKind = "provider_error"
	}
	rec, err := evidence.NewRecord(callID, taskID, a.SessionID, "api", a.Model, evMessages, responseContent, callErr == nil, failureKind, time.Now())
	if err != nil {
		return
	}
	_ = a.EvidenceMgr.Write(ctx, rec)
}
