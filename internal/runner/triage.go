package runner

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kestrelrun/runner/internal/mediation"
)

var createVerbRe = regexp.MustCompile(`(?i)\b(create|add|write|generate|build)\b`)
var modifyVerbRe = regexp.MustCompile(`(?i)\b(modify|update|change|fix|edit|refactor)\b`)
var filenameRe = regexp.MustCompile(`[\w./-]+\.\w{1,8}\b`)
var vagueReferenceRe = regexp.MustCompile(`(?i)\b(something|anything|whatever|なにか)\b`)

// candidateIdentifierKeywords are closed, common words that look like
// identifiers but never single out a target on their own.
var candidateIdentifierKeywords = map[string]bool{
	"the": true, "this": true, "that": true, "these": true, "those": true,
	"and": true, "for": true, "with": true, "from": true, "code": true,
}

// Triage rule-classifies a natural-language task into exactly one
// clarification reason, or reports that no clarification is needed.
// The returned Signal carries no natural-language phrasing; that is
// the mediation layer's job.
func Triage(naturalLanguageTask, workingDir string) (mediation.Signal, bool) {
	task := strings.TrimSpace(naturalLanguageTask)

	if createVerbRe.MatchString(task) {
		if file := filenameRe.FindString(task); file != "" {
			if fileExists(workingDir, file) {
				return mediation.Signal{
					ClarificationNeeded: true,
					ClarificationReason: mediation.ReasonTargetFileExists,
					TargetFile:          file,
					OriginalPrompt:      task,
				}, true
			}
			return mediation.Signal{}, false
		}
		if trulyAmbiguous(createVerbRe.ReplaceAllString(task, "")) {
			return mediation.Signal{
				ClarificationNeeded: true,
				ClarificationReason: mediation.ReasonTargetFileAmbiguous,
				OriginalPrompt:      task,
			}, true
		}
		return mediation.Signal{}, false
	}

	if modifyVerbRe.MatchString(task) {
		rest := modifyVerbRe.ReplaceAllString(task, "")
		if filenameRe.FindString(task) == "" && !hasCandidateIdentifier(rest) {
			return mediation.Signal{
				ClarificationNeeded: true,
				ClarificationReason: mediation.ReasonTargetActionAmbiguous,
				OriginalPrompt:      task,
			}, true
		}
		return mediation.Signal{}, false
	}

	if task == "" || len(strings.Fields(task)) < 3 {
		return mediation.Signal{
			ClarificationNeeded: true,
			ClarificationReason: mediation.ReasonMissingRequiredInfo,
			OriginalPrompt:      task,
		}, true
	}

	return mediation.Signal{}, false
}

// trulyAmbiguous implements the exact rule: no candidate identifier of
// length >= 3 outside the closed keyword list exists, and the prompt
// contains a vague-reference term.
func trulyAmbiguous(task string) bool {
	if !vagueReferenceRe.MatchString(task) {
		return false
	}
	return !hasCandidateIdentifier(task)
}

func hasCandidateIdentifier(task string) bool {
	for _, word := range strings.Fields(task) {
		w := strings.ToLower(strings.Trim(word, ".,!?;:\"'"))
		if len(w) >= 3 && !candidateIdentifierKeywords[w] && !vagueReferenceRe.MatchString(w) {
			return true
		}
	}
	return false
}

func fileExists(workingDir, relPath string) bool {
	_, err := os.Stat(filepath.Join(workingDir, relPath))
	return err == nil
}
