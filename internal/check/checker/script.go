package checker

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gradebox/internal/check/sandbox"
	"gradebox/internal/check/sandbox/spec"
	appErr "gradebox/pkg/errors"

	"golang.org/x/sys/unix"
)

const (
	defaultScriptName = "checker.sh"
	scriptMode        = 0o750

	tokenProgram = "PROGRAM"
	tokenJava    = "JAVA"
)

// ScriptChecker runs an instructor script against the submission.
type ScriptChecker struct {
	def    Definition
	cfg    Config
	runner sandbox.Executor
	name   string
	remove *regexp.Regexp
}

// NewScriptChecker validates the script definition.
func NewScriptChecker(def Definition, cfg Config, runner sandbox.Executor) (*ScriptChecker, error) {
	if def.Script == "" {
		return nil, appErr.ConfigError("script", "script content is empty")
	}
	name := def.ScriptName
	if name == "" {
		name = defaultScriptName
	}
	if name != filepath.Base(name) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return nil, appErr.ConfigError("script_name", "must be a plain file name")
	}
	c := &ScriptChecker{def: def, cfg: cfg, runner: runner, name: name}
	if def.Remove != "" {
		re, err := regexp.Compile(def.Remove)
		if err != nil {
			return nil, appErr.ConfigError("remove", err.Error())
		}
		c.remove = re
	}
	return c, nil
}

func (c *ScriptChecker) ID() string {
	return c.def.ID
}

func (c *ScriptChecker) Title() string {
	if c.def.Name != "" {
		return c.def.Name
	}
	return "Run external checker"
}

func (c *ScriptChecker) Description() string {
	if c.def.Description != "" {
		return c.def.Description
	}
	return "This check passes if the external program exits without an error code."
}

// materialize writes the script with its tokens replaced and returns its path.
func (c *ScriptChecker) materialize(env Environment) (string, error) {
	content := c.def.Script
	if program := env.Program(); program != "" {
		content = strings.ReplaceAll(content, tokenProgram, program)
	}
	content = strings.ReplaceAll(content, tokenJava, c.cfg.JVMSecure)

	// Earlier runs may have left anything at this name, including a symlink out of the work dir.
	path := filepath.Join(env.WorkDir(), c.name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", appErr.Wrapf(err, appErr.WorkDirUnusable, "remove stale checker script")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|unix.O_NOFOLLOW, scriptMode)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.WorkDirUnusable, "create checker script")
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return "", appErr.Wrapf(err, appErr.WorkDirUnusable, "write checker script")
	}
	if err := f.Chmod(scriptMode); err != nil {
		f.Close()
		return "", appErr.Wrapf(err, appErr.WorkDirUnusable, "chmod checker script")
	}
	if err := f.Close(); err != nil {
		return "", appErr.Wrapf(err, appErr.WorkDirUnusable, "close checker script")
	}
	return path, nil
}

func (c *ScriptChecker) Run(ctx context.Context, env Environment) (Result, error) {
	path, err := c.materialize(env)
	if err != nil {
		return Result{}, err
	}

	sources := env.Sources()
	argv := make([]string, 0, 1+len(sources))
	argv = append(argv, path)
	for _, src := range sources {
		argv = append(argv, src.Name)
	}

	out, err := c.runner.Execute(ctx, spec.RunSpec{
		Cmd:            argv,
		WorkDir:        env.WorkDir(),
		Env:            c.cfg.runEnv(env, map[string]string{"JAVA": c.cfg.JVM}),
		Timeout:        timeoutOr(c.def.TimeoutSeconds, c.cfg.Timeout),
		MaxOutputBytes: c.cfg.MaxOutputBytes,
		Limits:         c.cfg.Limits,
		Vars:           env.Vars(),
		Label:          "script:" + c.def.ID,
	})
	if err != nil {
		return Result{}, err
	}

	log, truncated := renderLog(out.Output, logOptions{
		maxBytes:    c.cfg.MaxLogBytes,
		remove:      c.remove,
		returnsHTML: c.def.ReturnsHTML,
	})
	return judge(c, out, log, truncated), nil
}
