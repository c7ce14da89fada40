package runner

import "strings"

// PromptParts assembles the executor prompt in a fixed, auditable
// order: global preamble, optional template rules, project preamble,
// task-group preamble, user input, optional template output format,
// output epilogue. The executor sees exactly this text — nothing is
// injected after assembly.
type PromptParts struct {
	GlobalPreamble     string
	TemplateRules      string
	ProjectPreamble    string
	TaskGroupPreamble  string
	UserInput          string
	TemplateOutputForm string
	OutputEpilogue     string
}

// Assemble concatenates the parts in their fixed order, skipping any
// that are empty, each separated by a blank line.
func (p PromptParts) Assemble() string {
	ordered := []string{
		p.GlobalPreamble,
		p.TemplateRules,
		p.ProjectPreamble,
		p.TaskGroupPreamble,
		p.UserInput,
		p.TemplateOutputForm,
		p.OutputEpilogue,
	}
	var nonEmpty []string
	for _, part := range ordered {
		if strings.TrimSpace(part) != "" {
			nonEmpty = append(nonEmpty, strings.TrimSpace(part))
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}
