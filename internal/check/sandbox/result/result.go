// Package result defines the raw outcome of one supervised run.
package result

import "time"

// ExitTerminated is the exit code reported when the run was killed by the supervisor or a signal.
const ExitTerminated = -1

// Outcome captures what one run produced. Submission failures are expressed here, never as errors.
type Outcome struct {
	// Output is the combined stdout and stderr, capped at the run's MaxOutputBytes.
	Output    []byte
	ExitCode  int
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
}

// Succeeded reports a clean exit inside all limits.
func (o Outcome) Succeeded() bool {
	return o.ExitCode == 0 && !o.TimedOut && !o.Truncated
}
