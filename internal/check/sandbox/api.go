// Package sandbox is the process runner used by checkers. It validates a run, hands it to the
// configured isolation backend and reports the outcome.
package sandbox

import (
	"context"
	"os"

	"gradebox/internal/check/sandbox/engine"
	"gradebox/internal/check/sandbox/result"
	"gradebox/internal/check/sandbox/spec"
	appErr "gradebox/pkg/errors"
	"gradebox/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Executor runs one supervised process.
type Executor interface {
	Execute(ctx context.Context, runSpec spec.RunSpec) (result.Outcome, error)
}

// Runner validates run specs and delegates the spawn to one backend.
type Runner struct {
	engine engine.Engine
}

// NewRunner wraps an isolation backend.
func NewRunner(e engine.Engine) *Runner {
	return &Runner{engine: e}
}

// Backend returns the active backend kind.
func (r *Runner) Backend() engine.Kind {
	return r.engine.Kind()
}

// Execute runs runSpec. Submission failures (non-zero exit, timeout, truncation) are reported in
// the outcome; errors are reserved for invalid specs and infrastructure failures.
func (r *Runner) Execute(ctx context.Context, runSpec spec.RunSpec) (result.Outcome, error) {
	if err := validate(runSpec); err != nil {
		return result.Outcome{}, err
	}

	out, err := r.engine.Run(ctx, runSpec)
	if err != nil {
		logger.Error(ctx, "run failed",
			zap.String("backend", string(r.engine.Kind())),
			zap.String("label", runSpec.Label),
			zap.Strings("cmd", runSpec.Cmd),
			zap.Error(err),
		)
		if appErr.GetCode(err) == appErr.InternalServerError {
			err = appErr.Wrapf(err, appErr.CheckExecutionFailed, "%s backend", r.engine.Kind())
		}
		return result.Outcome{}, err
	}

	logger.Debug(ctx, "run finished",
		zap.String("backend", string(r.engine.Kind())),
		zap.String("label", runSpec.Label),
		zap.Duration("duration", out.Duration),
		zap.Int("exit_code", out.ExitCode),
		zap.Bool("timed_out", out.TimedOut),
		zap.Bool("truncated", out.Truncated),
	)
	return out, nil
}

// Reclaim hands files the backend's run identity left under dir back to the caller.
func (r *Runner) Reclaim(ctx context.Context, dir string) error {
	if err := r.engine.Reclaim(ctx, dir); err != nil {
		logger.Warn(ctx, "reclaim work dir failed",
			zap.String("backend", string(r.engine.Kind())),
			zap.String("work_dir", dir),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func validate(runSpec spec.RunSpec) error {
	if len(runSpec.Cmd) == 0 || runSpec.Cmd[0] == "" {
		return appErr.ValidationError("cmd", "command must not be empty")
	}
	if runSpec.Timeout <= 0 {
		return appErr.ValidationError("timeout", "timeout must be positive")
	}
	if runSpec.MaxOutputBytes <= 0 {
		return appErr.ValidationError("max_output_bytes", "output limit must be positive")
	}
	return checkWorkDir(runSpec.WorkDir)
}

func checkWorkDir(dir string) error {
	if dir == "" {
		return appErr.Newf(appErr.WorkDirUnusable, "working directory is empty")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return appErr.Wrapf(err, appErr.WorkDirUnusable, "stat working directory")
	}
	if !info.IsDir() {
		return appErr.Newf(appErr.WorkDirUnusable, "%s is not a directory", dir)
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return appErr.Wrapf(err, appErr.WorkDirUnusable, "working directory is not writable")
	}
	return nil
}
