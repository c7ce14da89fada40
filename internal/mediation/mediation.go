// Package mediation sits above the runner and keeps it free of
// conversational phrasing. It consumes a structured clarification
// signal and either produces a natural-language question for the user
// or, given a user response, normalizes that response into a
// deterministic follow-up task.
package mediation

import (
	"context"
	"fmt"
)

// ClarificationReason is the closed set of reasons a task can't be
// dispatched to an executor without more information.
type ClarificationReason string

const (
	ReasonTargetFileExists      ClarificationReason = "target_file_exists"
	ReasonTargetFileAmbiguous   ClarificationReason = "target_file_ambiguous"
	ReasonTargetActionAmbiguous ClarificationReason = "target_action_ambiguous"
	ReasonMissingRequiredInfo   ClarificationReason = "missing_required_info"
)

// Action is the closed set of normalized follow-up actions a user
// response can resolve to.
type Action string

const (
	ActionCreate    Action = "create"
	ActionOverwrite Action = "overwrite"
	ActionCreateNew Action = "create_new"
	ActionModify    Action = "modify"
	ActionCancel    Action = "cancel"
)

// Signal is the structured value the runner emits when a task can't
// proceed without clarification.
type Signal struct {
	ClarificationNeeded bool
	ClarificationReason ClarificationReason
	TargetFile          string
	OriginalPrompt      string
	ExecutionResult     string
}

// FollowUp is the normalized task the runner re-dispatches once a user
// has responded to a clarification question.
type FollowUp struct {
	ExplicitPrompt  string
	TargetFile      string
	Action          Action
	OriginalContext string
}

// Backend mediates between a Signal and a user, and between a user's
// response and a FollowUp. Two implementations exist: Deterministic
// (regex/keyword rules, no network) and LLM-backed (an external call,
// evidenced, validated against the closed Action enumeration before it
// is trusted).
type Backend interface {
	Question(ctx context.Context, sig Signal) (string, error)
	Normalize(ctx context.Context, sig Signal, userResponse string) (FollowUp, error)
}

// ErrUnrecognizedAction is returned when a backend's raw output can't
// be mapped onto the closed Action enumeration.
type ErrUnrecognizedAction struct {
	Raw string
}

func (e *ErrUnrecognizedAction) Error() string {
	return fmt.Sprintf("mediation: unrecognized action %q", e.Raw)
}

func validateAction(a string) (Action, error) {
	switch Action(a) {
	case ActionCreate, ActionOverwrite, ActionCreateNew, ActionModify, ActionCancel:
		return Action(a), nil
	default:
		return "", &ErrUnrecognizedAction{Raw: a}
	}
}
