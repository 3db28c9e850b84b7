package checker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"gradebox/internal/check/sandbox/result"
	"gradebox/internal/check/sandbox/spec"
)

type fakeExecutor struct {
	mu      sync.Mutex
	specs   []spec.RunSpec
	outcome result.Outcome
	err     error
	// onRun sees the spec before the canned outcome is returned.
	onRun func(spec.RunSpec)
}

func (f *fakeExecutor) Execute(ctx context.Context, runSpec spec.RunSpec) (result.Outcome, error) {
	f.mu.Lock()
	f.specs = append(f.specs, runSpec)
	f.mu.Unlock()
	if f.onRun != nil {
		f.onRun(runSpec)
	}
	return f.outcome, f.err
}

func (f *fakeExecutor) last(t *testing.T) spec.RunSpec {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.specs) == 0 {
		t.Fatalf("executor was not called")
	}
	return f.specs[len(f.specs)-1]
}

type testEnv struct {
	dir     string
	sources []Source
	user    User
	program string
}

func newTestEnv(t *testing.T, sources ...Source) *testEnv {
	t.Helper()
	env := &testEnv{dir: t.TempDir(), sources: sources, user: User{ID: "42", Name: "student"}}
	for _, src := range sources {
		if err := os.WriteFile(filepath.Join(env.dir, src.Name), src.Content, 0o644); err != nil {
			t.Fatalf("write source: %v", err)
		}
	}
	return env
}

func (e *testEnv) WorkDir() string           { return e.dir }
func (e *testEnv) Sources() []Source         { return e.sources }
func (e *testEnv) User() User                { return e.user }
func (e *testEnv) Program() string           { return e.program }
func (e *testEnv) SetProgram(program string) { e.program = program }
func (e *testEnv) Vars() map[string]string {
	return map[string]string{"USER_ID": e.user.ID}
}

func testConfig() Config {
	cfg := Config{MaxLogBytes: 1024}
	cfg.ApplyDefaults()
	return cfg
}
