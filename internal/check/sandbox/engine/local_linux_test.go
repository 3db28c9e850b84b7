//go:build linux

package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"gradebox/internal/check/sandbox/result"
	"gradebox/internal/check/sandbox/spec"
	appErr "gradebox/pkg/errors"

	"golang.org/x/sys/unix"
)

func shellSpec(t *testing.T, script string) spec.RunSpec {
	t.Helper()
	return spec.RunSpec{
		Cmd:            []string{"/bin/sh", "-c", script},
		WorkDir:        t.TempDir(),
		Env:            map[string]string{"PATH": "/usr/bin:/bin"},
		Timeout:        5 * time.Second,
		MaxOutputBytes: 1 << 16,
		Label:          "test",
	}
}

func TestDirectRunExitCodes(t *testing.T) {
	e := testLocalEngine(t)
	cases := []struct {
		name   string
		script string
		code   int
		output string
	}{
		{name: "success", script: "echo hello", code: 0, output: "hello\n"},
		{name: "failure", script: "echo oops >&2; exit 3", code: 3, output: "oops\n"},
		{name: "signal", script: "kill -9 $$", code: result.ExitTerminated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := e.Run(context.Background(), shellSpec(t, tc.script))
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if out.ExitCode != tc.code {
				t.Fatalf("expected exit %d, got %d (%q)", tc.code, out.ExitCode, out.Output)
			}
			if tc.output != "" && string(out.Output) != tc.output {
				t.Fatalf("expected output %q, got %q", tc.output, out.Output)
			}
			if out.TimedOut || out.Truncated {
				t.Fatalf("unexpected flags %+v", out)
			}
		})
	}
}

func TestDirectRunUsesExactEnvironment(t *testing.T) {
	t.Setenv("GRADEBOX_LEAK", "1")
	e := testLocalEngine(t)
	rs := shellSpec(t, "env | sort")
	rs.Env["USER"] = "student"

	out, err := e.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := string(out.Output)
	if strings.Contains(got, "GRADEBOX_LEAK") {
		t.Fatalf("caller environment leaked: %q", got)
	}
	if !strings.Contains(got, "USER=student\n") {
		t.Fatalf("expected USER in %q", got)
	}
}

func TestDirectRunStartsInWorkDir(t *testing.T) {
	e := testLocalEngine(t)
	rs := shellSpec(t, "pwd")
	out, err := e.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want, _ := filepath.EvalSymlinks(rs.WorkDir)
	if strings.TrimSpace(string(out.Output)) != want {
		t.Fatalf("expected %q, got %q", want, out.Output)
	}
}

func TestDirectRunTimeoutKillsGroup(t *testing.T) {
	e := testLocalEngine(t)
	rs := shellSpec(t, "sleep 30 & echo $! > child.pid; wait")
	rs.Timeout = 300 * time.Millisecond

	start := time.Now()
	out, err := e.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("run returned after %v", elapsed)
	}
	if !out.TimedOut || out.ExitCode != result.ExitTerminated {
		t.Fatalf("expected timeout, got %+v", out)
	}

	raw, err := os.ReadFile(filepath.Join(rs.WorkDir, "child.pid"))
	if err != nil {
		t.Fatalf("read child pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("parse child pid: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("background child %d survived the timeout", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDirectRunSweepsDetachedChildren(t *testing.T) {
	e := testLocalEngine(t)
	rs := shellSpec(t, "sleep 30 >/dev/null 2>&1 & echo $! > child.pid; exit 0")

	out, err := e.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.ExitCode != 0 || out.TimedOut {
		t.Fatalf("expected a normal exit, got %+v", out)
	}
	raw, err := os.ReadFile(filepath.Join(rs.WorkDir, "child.pid"))
	if err != nil {
		t.Fatalf("read child pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("parse child pid: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("detached child %d outlived the run", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWaitExitedLeavesZombie(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 7")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExited(cmd.Process.Pid)
	// The pid must still belong to our unreaped child.
	if err := unix.Kill(cmd.Process.Pid, 0); err != nil {
		t.Fatalf("expected an unreaped child, got %v", err)
	}
	if err := cmd.Wait(); err == nil || cmd.ProcessState.ExitCode() != 7 {
		t.Fatalf("expected exit 7, got %v", err)
	}
}

func TestDelegatedReclaimRunsThroughSudo(t *testing.T) {
	bin := t.TempDir()
	record := filepath.Join(bin, "calls")
	sudo := filepath.Join(bin, "sudo")
	script := "#!/bin/sh\nprintf '%s\\n' \"$*\" >> " + record + "\n"
	if err := os.WriteFile(sudo, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake sudo: %v", err)
	}
	cfg := Config{Backend: KindDelegated, Delegated: DelegatedConfig{User: "tester", SudoPath: sudo}}
	cfg.applyDefaults()
	e := &localEngine{cfg: cfg, kind: KindDelegated}

	if err := e.Reclaim(context.Background(), "/work/s1"); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	got, err := os.ReadFile(record)
	if err != nil {
		t.Fatalf("read calls: %v", err)
	}
	if string(got) != "-n -u tester -- /bin/chmod -R a+rwX -- /work/s1\n" {
		t.Fatalf("unexpected sudo call %q", got)
	}
}

func TestDelegatedReclaimFailureIsReported(t *testing.T) {
	cfg := Config{Backend: KindDelegated, Delegated: DelegatedConfig{User: "tester", SudoPath: "/bin/false"}}
	cfg.applyDefaults()
	e := &localEngine{cfg: cfg, kind: KindDelegated}
	if err := e.Reclaim(context.Background(), t.TempDir()); appErr.GetCode(err) != appErr.WorkDirUnusable {
		t.Fatalf("expected WorkDirUnusable, got %v", err)
	}
}

func TestDirectReclaimIsNoop(t *testing.T) {
	if err := testLocalEngine(t).Reclaim(context.Background(), "/nonexistent"); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
}

func TestDirectRunTruncationDoesNotKill(t *testing.T) {
	e := testLocalEngine(t)
	rs := shellSpec(t, "i=0; while [ $i -lt 200 ]; do echo 0123456789; i=$((i+1)); done; echo done > finished")
	rs.MaxOutputBytes = 64

	out, err := e.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.Truncated || len(out.Output) != 64 {
		t.Fatalf("expected 64 truncated bytes, got %d (truncated=%v)", len(out.Output), out.Truncated)
	}
	if out.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", out.ExitCode)
	}
	if _, err := os.Stat(filepath.Join(rs.WorkDir, "finished")); err != nil {
		t.Fatalf("program did not run to completion: %v", err)
	}
}

func TestDirectRunMissingWorkDir(t *testing.T) {
	e := testLocalEngine(t)
	rs := shellSpec(t, "true")
	rs.WorkDir = filepath.Join(rs.WorkDir, "missing")

	_, err := e.Run(context.Background(), rs)
	if !appErr.Is(err, appErr.WorkDirUnusable) {
		t.Fatalf("expected WorkDirUnusable, got %v", err)
	}
}

func TestDirectRunMissingCommandIsInfrastructure(t *testing.T) {
	e := testLocalEngine(t)
	rs := shellSpec(t, "")
	rs.Cmd = []string{"/nonexistent/gradebox-tool"}

	_, err := e.Run(context.Background(), rs)
	if err == nil || !appErr.GetCode(err).IsInfrastructure() {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

func TestDirectRunMissingLauncher(t *testing.T) {
	cfg := Config{Backend: KindDirect, HelperPath: "/nonexistent/check-init"}
	cfg.applyDefaults()
	e, _ := newDirect(cfg)

	_, err := e.Run(context.Background(), shellSpec(t, "true"))
	if !appErr.Is(err, appErr.BackendUnavailable) {
		t.Fatalf("expected BackendUnavailable, got %v", err)
	}
}

func TestDirectRunForgedStatusIsIgnored(t *testing.T) {
	e := testLocalEngine(t)
	// fd 3 is closed in the program, so it cannot forge a launcher failure.
	out, err := e.Run(context.Background(), shellSpec(t, "echo 'fail exec forged' >&3; exit 121"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.ExitCode != 121 {
		t.Fatalf("expected exit 121, got %d", out.ExitCode)
	}
}

func TestDirectRunFileSizeLimit(t *testing.T) {
	e := testLocalEngine(t)
	rs := shellSpec(t, "head -c 8192 /dev/zero > big; echo $?")
	rs.Limits.MaxFileSizeKB = 1

	out, err := e.Run(context.Background(), rs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	info, statErr := os.Stat(filepath.Join(rs.WorkDir, "big"))
	if statErr != nil {
		t.Fatalf("stat: %v", statErr)
	}
	if info.Size() > 1024 {
		t.Fatalf("file grew to %d bytes past the limit (%q)", info.Size(), out.Output)
	}
}
