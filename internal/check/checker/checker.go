// Package checker implements the units of evaluation applied to a submission.
package checker

import (
	"context"
	"time"

	"gradebox/internal/check/sandbox/result"
)

// Checker is one configured evaluation step.
type Checker interface {
	// Run evaluates the submission in env. Submission failures are reported in the Result;
	// errors mean the checker is misconfigured or could not run.
	Run(ctx context.Context, env Environment) (Result, error)
	ID() string
	Title() string
	Description() string
}

// Source is one submitted file.
type Source struct {
	Name    string
	Content []byte
}

// User identifies the submitting user.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Environment is the per-submission context a checker runs in.
type Environment interface {
	// WorkDir is the writable directory owned by this submission.
	WorkDir() string
	Sources() []Source
	User() User
	// Program is the artifact of an earlier successful build, or "".
	Program() string
	SetProgram(program string)
	// Vars are the template variables of this submission (TASK_ID, SUBMISSION_ID, USER_ID).
	Vars() map[string]string
}

// Status is the final state of one checker run.
type Status string

const (
	StatusPassed        Status = "passed"
	StatusFailed        Status = "failed"
	StatusMisconfigured Status = "misconfigured"
	StatusNotRun        Status = "not_run"
)

// Diagnostic is one parsed compiler message.
type Diagnostic struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Result is the outcome of one checker run.
type Result struct {
	CheckerID   string       `json:"checker_id"`
	Title       string       `json:"title"`
	Status      Status       `json:"status"`
	Passed      bool         `json:"passed"`
	TimedOut    bool         `json:"timed_out"`
	Truncated   bool         `json:"truncated"`
	ExitCode    int          `json:"exit_code"`
	DurationMs  int64        `json:"duration_ms"`
	Log         string       `json:"log"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// judge builds the result of a run that completed. It is the only place Passed is set.
func judge(c Checker, out result.Outcome, log string, truncated bool) Result {
	truncated = truncated || out.Truncated
	passed := out.ExitCode == 0 && !out.TimedOut && !truncated
	status := StatusFailed
	if passed {
		status = StatusPassed
	}
	return Result{
		CheckerID:  c.ID(),
		Title:      c.Title(),
		Status:     status,
		Passed:     passed,
		TimedOut:   out.TimedOut,
		Truncated:  truncated,
		ExitCode:   out.ExitCode,
		DurationMs: out.Duration.Milliseconds(),
		Log:        log,
	}
}

// NotRun is the result shown when a checker could not be executed.
func NotRun(id, title string) Result {
	return Result{CheckerID: id, Title: title, Status: StatusNotRun, ExitCode: result.ExitTerminated, Log: "could not execute check"}
}

// Misconfigured is the result shown when the checker definition is invalid.
func Misconfigured(id, title, reason string) Result {
	return Result{CheckerID: id, Title: title, Status: StatusMisconfigured, ExitCode: result.ExitTerminated, Log: reason}
}

func timeoutOr(seconds int, fallback time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
