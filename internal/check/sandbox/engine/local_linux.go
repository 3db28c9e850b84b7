//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"gradebox/internal/check/sandbox/initproc"
	"gradebox/internal/check/sandbox/output"
	"gradebox/internal/check/sandbox/result"
	"gradebox/internal/check/sandbox/spec"
	appErr "gradebox/pkg/errors"
	"gradebox/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// localEngine runs the launcher as a child process, either as the caller (direct) or through
// sudo as the delegated account.
type localEngine struct {
	cfg  Config
	kind Kind
}

func newDirect(cfg Config) (Engine, error) {
	return &localEngine{cfg: cfg, kind: KindDirect}, nil
}

func newDelegated(ctx context.Context, cfg Config) (Engine, error) {
	if err := validateDelegated(cfg.Delegated); err != nil {
		return nil, err
	}
	e := &localEngine{cfg: cfg, kind: KindDelegated}
	if !cfg.Delegated.SkipProbe {
		if err := e.probe(ctx); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *localEngine) Kind() Kind {
	return e.kind
}

// Reclaim is a no-op for direct runs, which create files as the caller.
func (e *localEngine) Reclaim(ctx context.Context, dir string) error {
	if e.kind != KindDelegated {
		return nil
	}
	reclaimCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultKillWait)
	defer cancel()
	argv := delegatedReclaimArgv(e.cfg, dir)
	cmd := exec.CommandContext(reclaimCtx, argv[0], argv[1:]...)
	cmd.Env = []string{"PATH=" + initproc.DefaultPath}
	if out, err := cmd.CombinedOutput(); err != nil {
		return appErr.Wrapf(err, appErr.WorkDirUnusable, "reclaim %s as %s: %s", dir, e.cfg.Delegated.User, bytes.TrimSpace(out))
	}
	return nil
}

// probe runs a no-op command through the full launch path.
func (e *localEngine) probe(ctx context.Context) error {
	out, err := e.Run(ctx, spec.RunSpec{
		Cmd:            []string{"true"},
		WorkDir:        os.TempDir(),
		Timeout:        10 * time.Second,
		MaxOutputBytes: 4096,
		Label:          "probe",
	})
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return appErr.Newf(appErr.BackendUnavailable, "%s backend probe exited with %d: %s", e.kind, out.ExitCode, out.Output)
	}
	return nil
}

func (e *localEngine) argv() []string {
	if e.kind == KindDelegated {
		return delegatedArgv(e.cfg)
	}
	return launcherArgv(e.cfg)
}

func (e *localEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.Outcome, error) {
	payload, err := json.Marshal(initproc.Request{
		Cmd:            runSpec.Cmd,
		WorkDir:        runSpec.WorkDir,
		Env:            runSpec.EnvList(),
		Limits:         runSpec.Limits,
		SeccompProfile: e.cfg.SeccompProfile,
	})
	if err != nil {
		return result.Outcome{}, appErr.Wrapf(err, appErr.CheckExecutionFailed, "encode launch request")
	}

	statusR, statusW, err := os.Pipe()
	if err != nil {
		return result.Outcome{}, appErr.Wrapf(err, appErr.CheckExecutionFailed, "create status pipe")
	}
	defer statusR.Close()

	argv := e.argv()
	capture := output.NewCappedBuffer(runSpec.MaxOutputBytes)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = []string{"PATH=" + initproc.DefaultPath}
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = capture
	cmd.Stderr = capture
	cmd.ExtraFiles = []*os.File{statusW}
	cmd.WaitDelay = e.cfg.WaitDelay
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		_ = statusW.Close()
		return result.Outcome{}, appErr.Wrapf(err, appErr.BackendUnavailable, "start %s launcher", e.kind)
	}
	_ = statusW.Close()
	pgid := cmd.Process.Pid

	statusCh := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(statusR)
		statusCh <- data
	}()

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(runSpec.Timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			timedOut.Store(true)
			e.killGroup(ctx, pgid)
		case <-ctx.Done():
			e.killGroup(context.WithoutCancel(ctx), pgid)
		case <-done:
		}
	}()

	waitExited(pgid)
	close(done)
	duration := time.Since(start)
	// The leader is still an unreaped zombie here, so pgid cannot have been reused.
	e.killGroup(context.WithoutCancel(ctx), pgid)
	waitErr := cmd.Wait()

	var status initproc.Status
	select {
	case raw := <-statusCh:
		status = initproc.ParseStatus(raw)
	case <-time.After(e.cfg.WaitDelay):
	}

	outcome := result.Outcome{
		Output:    capture.Bytes(),
		ExitCode:  exitCodeFromErr(waitErr, cmd.ProcessState),
		TimedOut:  timedOut.Load(),
		Truncated: capture.Truncated(),
		Duration:  duration,
	}
	if outcome.TimedOut {
		outcome.ExitCode = result.ExitTerminated
		return outcome, nil
	}
	if ctx.Err() != nil {
		return outcome, appErr.Wrapf(ctx.Err(), appErr.CheckExecutionFailed, "run canceled")
	}
	if err := launchError(e.kind, status, outcome); err != nil {
		logger.Warn(ctx, "launcher failed",
			zap.String("backend", string(e.kind)),
			zap.String("label", runSpec.Label),
			zap.Int("exit_code", outcome.ExitCode),
			zap.ByteString("output", outcome.Output),
			zap.Error(err),
		)
		return result.Outcome{}, err
	}
	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return result.Outcome{}, appErr.Wrapf(waitErr, appErr.CheckExecutionFailed, "wait for %s run", e.kind)
		}
	}
	return outcome, nil
}

// launchError maps a launcher that never reached exec onto an infrastructure error.
func launchError(kind Kind, status initproc.Status, outcome result.Outcome) error {
	if status.Failed {
		code := appErr.CheckExecutionFailed
		if status.Stage == initproc.StageWorkDir {
			code = appErr.WorkDirUnusable
		}
		return appErr.Newf(code, "%s launcher %s: %s", kind, status.Stage, status.Message).
			WithDetail("stage", status.Stage)
	}
	if !status.Ready {
		return appErr.Newf(appErr.BackendUnavailable, "%s launcher did not start (exit %d)", kind, outcome.ExitCode)
	}
	return nil
}

func (e *localEngine) killGroup(ctx context.Context, pgid int) {
	if pgid <= 0 {
		return
	}
	if e.kind == KindDelegated {
		killCtx, cancel := context.WithTimeout(ctx, defaultKillWait)
		argv := delegatedKillArgv(e.cfg, pgid)
		kill := exec.CommandContext(killCtx, argv[0], argv[1:]...)
		kill.Env = []string{"PATH=" + initproc.DefaultPath}
		if out, err := kill.CombinedOutput(); err != nil && !isNoSuchProcess(out) {
			logger.Debug(ctx, "delegated kill failed", zap.Int("pgid", pgid), zap.ByteString("output", out), zap.Error(err))
		}
		cancel()
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		logger.Debug(ctx, "kill process group failed", zap.Int("pgid", pgid), zap.Error(err))
	}
}

// waitExited blocks until pid has exited without reaping it.
func waitExited(pid int) {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

func isNoSuchProcess(out []byte) bool {
	return bytes.Contains(out, []byte("No such process"))
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return result.ExitTerminated
}
