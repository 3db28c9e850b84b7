//go:build linux

package initproc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// FilterLoader installs the syscall filter stored at profilePath into the current process.
type FilterLoader func(profilePath string) error

// Main runs the launcher and never returns. Requests naming a seccomp profile fail when
// loadFilter is nil.
func Main(loadFilter FilterLoader) {
	status := os.NewFile(StatusFD, "status")
	code := run(os.Stdin, status, loadFilter)
	os.Exit(code)
}

func run(in io.Reader, status io.Writer, loadFilter FilterLoader) int {
	unix.CloseOnExec(StatusFD)

	fail := func(stage string, err error) int {
		_, _ = io.WriteString(status, formatFailure(stage, err))
		return ExitSetupFailed
	}

	req, err := decodeRequest(in)
	if err != nil {
		return fail(StageRequest, err)
	}
	if err := validateRequest(req); err != nil {
		return fail(StageRequest, err)
	}
	if err := os.Chdir(req.WorkDir); err != nil {
		return fail(StageWorkDir, fmt.Errorf("chdir workdir: %w", err))
	}
	if err := applyRlimits(req); err != nil {
		return fail(StageRlimit, err)
	}
	if err := detachStdin(); err != nil {
		return fail(StageStdio, err)
	}

	env := buildEnv(req.Env)
	os.Clearenv()
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fail(StageEnv, fmt.Errorf("set env: %w", err))
		}
	}

	cmdPath, err := exec.LookPath(req.Cmd[0])
	if err != nil && !errors.Is(err, exec.ErrDot) {
		return fail(StageExec, fmt.Errorf("resolve command: %w", err))
	}

	if req.SeccompProfile != "" {
		if loadFilter == nil {
			return fail(StageSeccomp, errors.New("launcher built without seccomp support"))
		}
		if err := loadFilter(req.SeccompProfile); err != nil {
			return fail(StageSeccomp, err)
		}
	}

	_, _ = io.WriteString(status, statusReady+"\n")
	err = unix.Exec(cmdPath, req.Cmd, env)
	return fail(StageExec, fmt.Errorf("exec %s: %w", req.Cmd[0], err))
}

func decodeRequest(r io.Reader) (Request, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func validateRequest(req Request) error {
	if len(req.Cmd) == 0 || req.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if req.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	return nil
}

func applyRlimits(req Request) error {
	limits := req.Limits
	if limits.MaxOpenFiles > 0 {
		val := uint64(limits.MaxOpenFiles)
		// syscall.Setrlimit also drops the runtime's saved NOFILE value that Exec would restore.
		if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &syscall.Rlimit{Cur: val, Max: val}); err != nil {
			return fmt.Errorf("set rlimit nofile: %w", err)
		}
	}
	if limits.MaxFileSizeKB > 0 {
		bytes := uint64(limits.MaxFileSizeKB) * 1024
		if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: bytes, Max: bytes}); err != nil {
			return fmt.Errorf("set rlimit fsize: %w", err)
		}
	}
	if limits.CPUSeconds > 0 {
		seconds := uint64(limits.CPUSeconds)
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: seconds, Max: seconds}); err != nil {
			return fmt.Errorf("set rlimit cpu: %w", err)
		}
	}
	if limits.Processes > 0 {
		val := uint64(limits.Processes)
		if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: val, Max: val}); err != nil {
			return fmt.Errorf("set rlimit nproc: %w", err)
		}
	}
	return nil
}

func detachStdin() error {
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return fmt.Errorf("open stdin: %w", err)
	}
	defer devNull.Close()
	if err := unix.Dup2(int(devNull.Fd()), int(os.Stdin.Fd())); err != nil {
		return fmt.Errorf("dup stdin: %w", err)
	}
	return nil
}
