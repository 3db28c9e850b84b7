// Package initproc is the launcher that runs between the engine and the checked program. It reads
// a Request on stdin, confines itself (working directory, rlimits, environment, optional seccomp)
// and replaces itself with the requested command.
//
// The launcher reports on a status pipe (fd 3, close-on-exec): "ready" right before exec, or
// "fail <stage> <message>" when setup fails. An empty status means the launcher never ran.
package initproc

import (
	"bufio"
	"bytes"
	"strings"

	"gradebox/internal/check/sandbox/spec"
)

// StatusFD is the descriptor number of the status pipe in the launcher.
const StatusFD = 3

// ExitSetupFailed is the launcher's exit code when it could not start the command.
const ExitSetupFailed = 121

// Stages reported in a failure status.
const (
	StageRequest = "request"
	StageWorkDir = "workdir"
	StageRlimit  = "rlimit"
	StageStdio   = "stdio"
	StageEnv     = "env"
	StageSeccomp = "seccomp"
	StageExec    = "exec"
)

const (
	statusReady = "ready"
	statusFail  = "fail"
)

// Request is the launcher input.
type Request struct {
	Cmd            []string           `json:"cmd"`
	WorkDir        string             `json:"work_dir"`
	Env            []string           `json:"env"`
	Limits         spec.ResourceLimit `json:"limits"`
	SeccompProfile string             `json:"seccomp_profile,omitempty"`
}

// Status is the decoded status pipe content.
type Status struct {
	Ready   bool
	Failed  bool
	Stage   string
	Message string
}

// Started reports whether the launcher produced any status at all.
func (s Status) Started() bool {
	return s.Ready || s.Failed
}

// ParseStatus decodes what the launcher wrote to the status pipe. A failure line wins over an
// earlier ready line because exec itself can fail after the handshake.
func ParseStatus(raw []byte) Status {
	var st Status
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == statusReady:
			st.Ready = true
		case strings.HasPrefix(line, statusFail+" "):
			rest := strings.TrimPrefix(line, statusFail+" ")
			stage, msg, _ := strings.Cut(rest, " ")
			st.Failed = true
			st.Stage = stage
			st.Message = msg
		}
	}
	return st
}

func formatFailure(stage string, err error) string {
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	return statusFail + " " + stage + " " + msg + "\n"
}

// DefaultPath is used when the request carries no PATH.
const DefaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

func buildEnv(env []string) []string {
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			return env
		}
	}
	out := make([]string, 0, len(env)+1)
	out = append(out, env...)
	return append(out, "PATH="+DefaultPath)
}
