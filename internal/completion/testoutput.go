package completion

import (
	"regexp"
	"strconv"
	"strings"
)

// Scope tags whether a failing test counts against in-scope work.
type Scope string

const (
	ScopeInScope    Scope = "IN_SCOPE"
	ScopeOutOfScope Scope = "OUT_OF_SCOPE"
)

// FailingTest is one tagged failure extracted from test output.
type FailingTest struct {
	Name  string
	Scope Scope
}

// Summary is the {passing, failing, pending} triple extracted from
// Mocha/Jest-style output.
type Summary struct {
	Passing int
	Failing int
	Pending int
}

var (
	passingRe = regexp.MustCompile(`(?m)^\s*(\d+)\s+passing\b`)
	failingRe = regexp.MustCompile(`(?m)^\s*(\d+)\s+failing\b`)
	pendingRe = regexp.MustCompile(`(?m)^\s*(\d+)\s+pending\b`)
	// Jest's summary line: "Tests:       2 failed, 1 skipped, 10 passed, 13 total"
	jestFailedRe = regexp.MustCompile(`(\d+)\s+failed`)
	jestSkippedRe = regexp.MustCompile(`(\d+)\s+skipped`)
	jestPassedRe = regexp.MustCompile(`(\d+)\s+passed`)

	failingLineRe = regexp.MustCompile(`(?m)^\s*\d+\)\s+(.+)$`)
)

// outOfScopeMarkers are substrings in a failing test's name that mark it
// as exercising something outside the work under judgment.
var outOfScopeMarkers = []string{"integration", "e2e", "external"}

// ParseSummary extracts {passing, failing, pending} from Mocha- or
// Jest-style test output. Whichever format's markers are found wins;
// if neither is present, all three fields are zero.
func ParseSummary(output string) Summary {
	if m := passingRe.FindStringSubmatch(output); m != nil {
		return Summary{
			Passing: atoi(m[1]),
			Failing: atoiOr(failingRe, output, 0),
			Pending: atoiOr(pendingRe, output, 0),
		}
	}

	var s Summary
	if m := jestPassedRe.FindStringSubmatch(output); m != nil {
		s.Passing = atoi(m[1])
	}
	if m := jestFailedRe.FindStringSubmatch(output); m != nil {
		s.Failing = atoi(m[1])
	}
	if m := jestSkippedRe.FindStringSubmatch(output); m != nil {
		s.Pending = atoi(m[1])
	}
	return s
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func atoiOr(re *regexp.Regexp, output string, fallback int) int {
	if m := re.FindStringSubmatch(output); m != nil {
		return atoi(m[1])
	}
	return fallback
}

// ExtractFailingTests scans Mocha-style numbered failure blocks
// ("1) suite test name") and tags each by whether its name contains an
// out-of-scope marker.
func ExtractFailingTests(output string) []FailingTest {
	matches := failingLineRe.FindAllStringSubmatch(output, -1)
	out := make([]FailingTest, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		out = append(out, FailingTest{Name: name, Scope: classifyScope(name)})
	}
	return out
}

func classifyScope(name string) Scope {
	lower := strings.ToLower(name)
	for _, marker := range outOfScopeMarkers {
		if strings.Contains(lower, marker) {
			return ScopeOutOfScope
		}
	}
	return ScopeInScope
}
