// Package lifecycle drives a session through its fixed phase sequence:
// REQUIREMENT_ANALYSIS, TASK_DECOMPOSITION, PLANNING, EXECUTION, QA,
// COMPLETION_VALIDATION, REPORT. Phases only ever advance by one; a
// transition that would skip a phase is rejected outright.
package lifecycle

import (
	"fmt"

	"github.com/kestrelrun/runner/internal/errkind"
)

// Phase is one stage of the ordered sequence.
type Phase string

const (
	PhaseRequirementAnalysis   Phase = "REQUIREMENT_ANALYSIS"
	PhaseTaskDecomposition     Phase = "TASK_DECOMPOSITION"
	PhasePlanning              Phase = "PLANNING"
	PhaseExecution             Phase = "EXECUTION"
	PhaseQA                    Phase = "QA"
	PhaseCompletionValidation  Phase = "COMPLETION_VALIDATION"
	PhaseReport                Phase = "REPORT"
)

var order = []Phase{
	PhaseRequirementAnalysis,
	PhaseTaskDecomposition,
	PhasePlanning,
	PhaseExecution,
	PhaseQA,
	PhaseCompletionValidation,
	PhaseReport,
}

func indexOf(p Phase) int {
	for i, v := range order {
		if v == p {
			return i
		}
	}
	return -1
}

// Evidence is the per-phase payload attached to the session record.
// Which fields are populated depends on the phase: PLANNING requires a
// non-empty TaskList, EXECUTION attaches TaskResults, QA attaches
// GateOutcomes, COMPLETION_VALIDATION attaches the EvidenceInventory.
type Evidence struct {
	TaskList          []string               `json:"taskList,omitempty"`
	TaskResults       []TaskResult            `json:"taskResults,omitempty"`
	GateOutcomes      map[string]bool         `json:"gateOutcomes,omitempty"`
	EvidenceInventory []string                `json:"evidenceInventory,omitempty"`
	Extra             map[string]interface{}  `json:"extra,omitempty"`
}

// TaskResult summarizes one task's outcome for EXECUTION phase evidence.
type TaskResult struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

// PhaseRecord is one completed phase entry in the session's history.
type PhaseRecord struct {
	Phase    Phase    `json:"phase"`
	Status   string   `json:"status"`
	Evidence Evidence `json:"evidence"`
}

// Controller tracks the current phase of one session and the evidence
// attached to each completed phase.
type Controller struct {
	current int
	history []PhaseRecord
}

// New constructs a Controller positioned at the first phase.
func New() *Controller {
	return &Controller{current: 0}
}

// Current reports the phase the controller is presently in.
func (c *Controller) Current() Phase {
	return order[c.current]
}

// History returns every completed phase record, in order.
func (c *Controller) History() []PhaseRecord {
	return append([]PhaseRecord(nil), c.history...)
}

// CompleteCurrentPhase validates the evidence for the current phase,
// records it, and advances to the next phase. It never allows a phase
// to be skipped: callers always traverse the sequence one step at a time.
func (c *Controller) CompleteCurrentPhase(evidence Evidence, status string) error {
	phase := c.Current()

	if err := validateEvidence(phase, evidence); err != nil {
		return err
	}

	c.history = append(c.history, PhaseRecord{Phase: phase, Status: status, Evidence: evidence})

	if c.current+1 < len(order) {
		c.current++
	}
	return nil
}

// AdvanceTo validates that target is exactly the phase immediately
// after the current one and, if so, completes the current phase with
// the supplied evidence. Any other target is rejected as a skip.
func (c *Controller) AdvanceTo(target Phase, evidence Evidence, status string) error {
	targetIdx := indexOf(target)
	if targetIdx != c.current+1 {
		return errkind.New(errkind.Configuration, "AdvanceTo",
			fmt.Errorf("cannot advance from %s to %s: phases must proceed in order", c.Current(), target))
	}
	return c.CompleteCurrentPhase(evidence, status)
}

// IsComplete reports whether every phase, including REPORT, has been
// completed.
func (c *Controller) IsComplete() bool {
	return len(c.history) == len(order) && c.history[len(c.history)-1].Phase == PhaseReport
}

func validateEvidence(phase Phase, ev Evidence) error {
	switch phase {
	case PhasePlanning:
		if len(ev.TaskList) == 0 {
			return errkind.New(errkind.Configuration, "validateEvidence",
				fmt.Errorf("PLANNING requires a non-empty task list"))
		}
	case PhaseExecution:
		if len(ev.TaskResults) == 0 {
			return errkind.New(errkind.Configuration, "validateEvidence",
				fmt.Errorf("EXECUTION requires per-task results"))
		}
	case PhaseQA:
		if len(ev.GateOutcomes) == 0 {
			return errkind.New(errkind.Configuration, "validateEvidence",
				fmt.Errorf("QA requires aggregated gate outcomes"))
		}
	case PhaseCompletionValidation:
		if len(ev.EvidenceInventory) == 0 {
			return errkind.New(errkind.Configuration, "validateEvidence",
				fmt.Errorf("COMPLETION_VALIDATION requires an evidence inventory"))
		}
	}
	return nil
}
