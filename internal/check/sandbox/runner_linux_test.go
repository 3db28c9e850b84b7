//go:build linux

package sandbox

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"gradebox/internal/check/sandbox/engine"
	"gradebox/internal/check/sandbox/initproc"
	"gradebox/internal/check/sandbox/spec"
	appErr "gradebox/pkg/errors"
)

const launcherMarker = "__check_init__"

func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == launcherMarker {
		initproc.Main(nil)
	}
	os.Exit(m.Run())
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	e, err := engine.New(context.Background(), engine.Config{
		Backend:    engine.KindDirect,
		HelperPath: os.Args[0],
		HelperArgs: []string{launcherMarker},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return NewRunner(e)
}

func script(t *testing.T, body string) spec.RunSpec {
	t.Helper()
	return spec.RunSpec{
		Cmd:            []string{"/bin/sh", "-c", body},
		WorkDir:        t.TempDir(),
		Env:            map[string]string{"PATH": "/usr/bin:/bin"},
		Timeout:        5 * time.Second,
		MaxOutputBytes: 1 << 16,
	}
}

func TestRunnerTimeoutReturnsPromptly(t *testing.T) {
	r := newTestRunner(t)
	timeout := 300 * time.Millisecond
	rs := script(t, "sleep 0.6")
	rs.Timeout = timeout

	start := time.Now()
	out, err := r.Execute(context.Background(), rs)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.TimedOut {
		t.Fatalf("expected timeout, got %+v", out)
	}
	if out.Succeeded() {
		t.Fatalf("timed out run must not succeed")
	}
	if elapsed := time.Since(start); elapsed > timeout+time.Second {
		t.Fatalf("execute returned after %v", elapsed)
	}
}

func TestRunnerTruncationDoesNotKill(t *testing.T) {
	r := newTestRunner(t)
	const limit = 100
	rs := script(t, "head -c 5000 /dev/zero | tr '\\0' a; echo; echo after > marker")
	rs.MaxOutputBytes = limit

	out, err := r.Execute(context.Background(), rs)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.Truncated || len(out.Output) != limit {
		t.Fatalf("expected %d bytes truncated, got %d truncated=%v", limit, len(out.Output), out.Truncated)
	}
	if out.TimedOut || out.ExitCode != 0 {
		t.Fatalf("truncation must not terminate the run: %+v", out)
	}
	if _, err := os.Stat(rs.WorkDir + "/marker"); err != nil {
		t.Fatalf("run stopped early: %v", err)
	}
}

func TestRunnerExitStatus(t *testing.T) {
	r := newTestRunner(t)
	out, err := r.Execute(context.Background(), script(t, "exit 0"))
	if err != nil || !out.Succeeded() {
		t.Fatalf("expected success, got %+v, %v", out, err)
	}
	out, err = r.Execute(context.Background(), script(t, "echo broken; exit 1"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Succeeded() || out.TimedOut || out.ExitCode != 1 {
		t.Fatalf("expected plain failure, got %+v", out)
	}
	if !strings.Contains(string(out.Output), "broken") {
		t.Fatalf("missing output %q", out.Output)
	}
}

func TestRunnerValidation(t *testing.T) {
	r := newTestRunner(t)
	dir := t.TempDir()
	file := dir + "/file"
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	base := func() spec.RunSpec {
		return spec.RunSpec{Cmd: []string{"true"}, WorkDir: dir, Timeout: time.Second, MaxOutputBytes: 10}
	}
	cases := []struct {
		name   string
		mutate func(*spec.RunSpec)
		code   appErr.ErrorCode
	}{
		{name: "empty cmd", mutate: func(s *spec.RunSpec) { s.Cmd = nil }, code: appErr.ValidationFailed},
		{name: "zero timeout", mutate: func(s *spec.RunSpec) { s.Timeout = 0 }, code: appErr.ValidationFailed},
		{name: "zero output", mutate: func(s *spec.RunSpec) { s.MaxOutputBytes = 0 }, code: appErr.ValidationFailed},
		{name: "missing dir", mutate: func(s *spec.RunSpec) { s.WorkDir = dir + "/nope" }, code: appErr.WorkDirUnusable},
		{name: "not a dir", mutate: func(s *spec.RunSpec) { s.WorkDir = file }, code: appErr.WorkDirUnusable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rs := base()
			tc.mutate(&rs)
			_, err := r.Execute(context.Background(), rs)
			if appErr.GetCode(err) != tc.code {
				t.Fatalf("expected code %d, got %v", tc.code, err)
			}
		})
	}
}
