// Package completion implements the Completion Protocol: an
// independent judge over QA-gate results, scoped to a single run id, that
// refuses to treat mixed or stale gate results as evidence of anything.
package completion

import (
	"fmt"
	"sort"
	"time"
)

// Verdict is the closed set of outcomes the protocol can reach. It is a
// sum type expressed as a string enum rather than an error, per the
// design notes: completion judgment is a result, not an exception.
type Verdict string

const (
	VerdictComplete   Verdict = "COMPLETE"
	VerdictFailing    Verdict = "FAILING"
	VerdictNoEvidence Verdict = "NO_EVIDENCE"
)

// StaleRunError is raised when gate results mix run ids, or don't match
// the expected current run id. It is a typed error, not a panic, so
// callers can distinguish "stale" from every other failure mode.
type StaleRunError struct {
	ExpectedRunID string
	FoundRunIDs   []string
}

func (e *StaleRunError) Error() string {
	return fmt.Sprintf("stale run: expected %q, found %v", e.ExpectedRunID, e.FoundRunIDs)
}

// GateResult is one {run_id, timestamp, passing, failing, skipped,
// gate_name} record.
type GateResult struct {
	RunID     string
	Timestamp time.Time
	Passing   int
	Failing   int
	Skipped   int
	GateName  string
}

// Result is the outcome of Judge: a Verdict plus, for FAILING, the
// offending gate names.
type Result struct {
	Verdict       Verdict
	FailingGates  []string
}

// Judge applies the completion rules to a set of gate results, all of
// which must belong to a single run. expectedRunID, if non-empty, must
// match that run id or a StaleRunError is raised.
func Judge(results []GateResult, expectedRunID string) (Result, error) {
	if len(results) == 0 {
		return Result{Verdict: VerdictNoEvidence}, nil
	}

	runIDs := map[string]bool{}
	for _, r := range results {
		runIDs[r.RunID] = true
	}
	if len(runIDs) != 1 {
		return Result{}, &StaleRunError{ExpectedRunID: expectedRunID, FoundRunIDs: sortedKeys(runIDs)}
	}

	actualRunID := results[0].RunID
	if expectedRunID != "" && actualRunID != expectedRunID {
		return Result{}, &StaleRunError{ExpectedRunID: expectedRunID, FoundRunIDs: []string{actualRunID}}
	}

	var failingGates []string
	totalPassing := 0
	for _, r := range results {
		if r.Failing > 0 || r.Failing < 0 || r.Passing < 0 || r.Skipped < 0 {
			failingGates = append(failingGates, r.GateName)
		}
		totalPassing += r.Passing
	}

	if len(failingGates) > 0 {
		return Result{Verdict: VerdictFailing, FailingGates: failingGates}, nil
	}

	if totalPassing > 0 {
		return Result{Verdict: VerdictComplete}, nil
	}
	return Result{Verdict: VerdictNoEvidence}, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsStale reports whether a run id is stale relative to the current
// one, comparing both the timestamp prefix and the full string — the
// prefix ordering (YYYYMMDD-HHmmss-mmm-...) implies temporal ordering,
// but two runs sharing a timestamp prefix with different shortSha/
// cmdHash8 suffixes are still distinct runs.
func IsStale(candidate, current string) bool {
	if candidate == current {
		return false
	}
	candidatePrefix, _ := splitTimestampPrefix(candidate)
	currentPrefix, _ := splitTimestampPrefix(current)
	return candidatePrefix < currentPrefix
}

// splitTimestampPrefix returns the YYYYMMDD-HHmmss-mmm portion (the
// first three dash-separated fields) and the remainder of a run id.
func splitTimestampPrefix(runID string) (prefix, rest string) {
	fields := 0
	for i, c := range runID {
		if c == '-' {
			fields++
			if fields == 3 {
				return runID[:i], runID[i+1:]
			}
		}
	}
	return runID, ""
}
