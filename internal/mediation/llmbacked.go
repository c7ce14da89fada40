package mediation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kestrelrun/runner/internal/evidence"
	"github.com/kestrelrun/runner/internal/llmclient"
)

// LLMBacked mediates clarification by calling an external model with
// temperature > 0. The prose it produces may vary run to run; the
// normalized structure handed back to the runner is parsed out of a
// fixed tag format and validated against the closed Action
// enumeration before it is trusted.
type LLMBacked struct {
	provider    llmclient.Provider
	model       string
	temperature float64
	evidenceMgr *evidence.Manager
	sessionID   string
	taskID      string
}

// NewLLMBacked constructs an LLM-backed mediation backend. evidenceMgr
// may be nil only in tests that don't care about evidence coverage;
// production callers must supply one, since every mediation call here
// must be evidenced per the fail-closed completion gate.
func NewLLMBacked(provider llmclient.Provider, model string, temperature float64, evidenceMgr *evidence.Manager, sessionID, taskID string) *LLMBacked {
	if temperature <= 0 {
		temperature = 0.7
	}
	return &LLMBacked{
		provider:    provider,
		model:       model,
		temperature: temperature,
		evidenceMgr: evidenceMgr,
		sessionID:   sessionID,
		taskID:      taskID,
	}
}

func (b *LLMBacked) Question(ctx context.Context, sig Signal) (string, error) {
	messages := []llmclient.Message{
		{Role: "system", Content: "You phrase a single, short clarification question for a user. Reply with only the question."},
		{Role: "user", Content: fmt.Sprintf("Reason: %s\nOriginal request: %s\nTarget file: %s", sig.ClarificationReason, sig.OriginalPrompt, sig.TargetFile)},
	}

	resp, err := b.callAndRecord(ctx, messages)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

var actionTagRe = regexp.MustCompile(`(?is)<action>\s*(\w+)\s*</action>`)
var promptTagRe = regexp.MustCompile(`(?is)<prompt>(.*?)</prompt>`)
var fileTagRe = regexp.MustCompile(`(?is)<file>(.*?)</file>`)

func (b *LLMBacked) Normalize(ctx context.Context, sig Signal, userResponse string) (FollowUp, error) {
	messages := []llmclient.Message{
		{Role: "system", Content: "Normalize a user's clarification response into <action>, <prompt>, and optional <file> tags. <action> must be exactly one of: create, overwrite, create_new, modify, cancel."},
		{Role: "user", Content: fmt.Sprintf("Original request: %s\nTarget file: %s\nUser response: %s", sig.OriginalPrompt, sig.TargetFile, userResponse)},
	}

	raw, err := b.callAndRecord(ctx, messages)
	if err != nil {
		return FollowUp{}, err
	}

	actionMatch := actionTagRe.FindStringSubmatch(raw)
	if actionMatch == nil {
		return FollowUp{}, &ErrUnrecognizedAction{Raw: raw}
	}
	action, err := validateAction(strings.ToLower(actionMatch[1]))
	if err != nil {
		return FollowUp{}, err
	}

	prompt := strings.TrimSpace(userResponse)
	if m := promptTagRe.FindStringSubmatch(raw); m != nil {
		prompt = strings.TrimSpace(m[1])
	}
	targetFile := sig.TargetFile
	if m := fileTagRe.FindStringSubmatch(raw); m != nil {
		targetFile = strings.TrimSpace(m[1])
	}

	return FollowUp{
		ExplicitPrompt:  prompt,
		TargetFile:      targetFile,
		Action:          action,
		OriginalContext: sig.OriginalPrompt,
	}, nil
}

func (b *LLMBacked) callAndRecord(ctx context.Context, messages []llmclient.Message) (string, error) {
	var evMessages []evidence.Message
	for _, m := range messages {
		evMessages = append(evMessages, evidence.Message{Role: m.Role, Content: m.Content})
	}

	resp, callErr := b.provider.Chat(ctx, b.model, messages, b.temperature)

	if b.evidenceMgr != nil {
		callID, idErr := evidence.NewCallID(time.Now())
		if idErr == nil {
			failureKind := ""
			if callErr != nil {
				failureKind = "provider_error"
			}
			rec, err := evidence.NewRecord(callID, b.taskID, b.sessionID, "mediation", b.model, evMessages, resp.Content, callErr == nil, failureKind, time.Now())
			if err == nil {
				_ = b.evidenceMgr.Write(ctx, rec)
			}
		}
	}

	if callErr != nil {
		return "", callErr
	}
	return resp.Content, nil
}
