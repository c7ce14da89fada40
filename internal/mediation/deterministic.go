package mediation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Deterministic mediates clarification entirely with regex and
// keyword rules. It never calls out to a network and never needs
// evidence recorded against it.
type Deterministic struct{}

// NewDeterministic constructs a Deterministic backend.
func NewDeterministic() *Deterministic {
	return &Deterministic{}
}

var overwriteIntentRe = regexp.MustCompile(`(?i)\b(overwrite|replace|redo|start over|from scratch)\b`)
var newFileIntentRe = regexp.MustCompile(`(?i)\b(new file|different file|another file|separate file)\b`)
var cancelIntentRe = regexp.MustCompile(`(?i)\b(cancel|never ?mind|forget it|stop|abort)\b`)

// filenameRe finds a bare filename-looking token in free text: a run
// of word/dash characters followed by a dotted extension.
var filenameRe = regexp.MustCompile(`[\w./-]+\.\w+`)

// Question turns a structured Signal into a natural-language question
// for the user, phrased deterministically per reason code.
func (d *Deterministic) Question(_ context.Context, sig Signal) (string, error) {
	switch sig.ClarificationReason {
	case ReasonTargetFileExists:
		return fmt.Sprintf("%q already exists. Overwrite it, or create a new file instead?", sig.TargetFile), nil
	case ReasonTargetFileAmbiguous:
		return "Which file should this apply to?", nil
	case ReasonTargetActionAmbiguous:
		return "What change would you like made, and to which file?", nil
	case ReasonMissingRequiredInfo:
		return "Can you provide more detail about what you'd like done?", nil
	default:
		return "Can you clarify what you'd like done?", nil
	}
}

// Normalize maps a user's free-text response onto a deterministic
// FollowUp task, using keyword rules scoped by the original
// clarification reason.
func (d *Deterministic) Normalize(_ context.Context, sig Signal, userResponse string) (FollowUp, error) {
	trimmed := strings.TrimSpace(userResponse)
	if cancelIntentRe.MatchString(trimmed) {
		return FollowUp{
			ExplicitPrompt:  trimmed,
			TargetFile:      sig.TargetFile,
			Action:          ActionCancel,
			OriginalContext: sig.OriginalPrompt,
		}, nil
	}

	action := ActionModify
	switch sig.ClarificationReason {
	case ReasonTargetFileExists:
		if newFileIntentRe.MatchString(trimmed) {
			action = ActionCreateNew
		} else if overwriteIntentRe.MatchString(trimmed) {
			action = ActionOverwrite
		} else {
			action = ActionOverwrite
		}
	case ReasonTargetFileAmbiguous:
		action = ActionCreate
	case ReasonTargetActionAmbiguous, ReasonMissingRequiredInfo:
		action = ActionModify
	}

	targetFile := sig.TargetFile
	if targetFile == "" {
		if m := filenameRe.FindString(trimmed); m != "" {
			targetFile = m
		}
	}

	validated, err := validateAction(string(action))
	if err != nil {
		return FollowUp{}, err
	}

	return FollowUp{
		ExplicitPrompt:  trimmed,
		TargetFile:      targetFile,
		Action:          validated,
		OriginalContext: sig.OriginalPrompt,
	}, nil
}
