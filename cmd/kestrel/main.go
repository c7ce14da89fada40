// Package main is the entry point for the kestrel CLI.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

const version = "0.1.0"

// Exit codes per the front-end boundary contract.
const (
	ExitSuccess           = 0
	ExitInfrastructure    = 1
	ExitSessionError      = 2
	ExitInvalid           = 3
)

// CLI is the full command surface: start, task, resume, logs, shutdown,
// plus /gate and /plan for the plan-and-verify loop. Nothing else.
type CLI struct {
	Start    StartCmd    `cmd:"" help:"Initialize a new session against a project directory"`
	Task     TaskCmd     `cmd:"" help:"Submit a task prompt to the current session"`
	Resume   ResumeCmd   `cmd:"" help:"Resume a previously saved session"`
	Logs     LogsCmd     `cmd:"" help:"List task logs, or show one task's detail"`
	Shutdown ShutdownCmd `cmd:"" help:"Flush durable state and stop the current session"`
	Gate     GateCmd     `cmd:"" name:"/gate" help:"Run the sentinel gate check against the current session"`
	Plan     PlanCmd     `cmd:"" name:"/plan" help:"Show the current run's task plan"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (v *VersionCmd) Run(rc *RunContext) error {
	fmt.Println("kestrel", version)
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("kestrel"),
		kong.Description("drives an external coding-agent executor through a disciplined task lifecycle"),
	)

	rc, err := newRunContext()
	if err != nil {
		fmt.Fprintln(os.Stderr, "kestrel:", err)
		os.Exit(ExitInfrastructure)
	}

	runErr := kctx.Run(rc)
	code := exitCodeFor(runErr)
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "kestrel:", runErr)
	}
	os.Exit(code)
}

func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch err.(type) {
	case *invalidArgsError:
		return ExitInvalid
	case *sessionErrorResult:
		return ExitSessionError
	default:
		return ExitInfrastructure
	}
}

type invalidArgsError struct{ msg string }

func (e *invalidArgsError) Error() string { return e.msg }

type sessionErrorResult struct{ msg string }

func (e *sessionErrorResult) Error() string { return e.msg }
