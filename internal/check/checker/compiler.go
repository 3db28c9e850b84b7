package checker

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gradebox/internal/check/sandbox"
	"gradebox/internal/check/sandbox/spec"
	appErr "gradebox/pkg/errors"

	"github.com/google/shlex"
)

// ProgramName is the artifact every compiler checker produces.
const ProgramName = "program"

// CompilerChecker compiles the matching sources with one configured compiler.
type CompilerChecker struct {
	def     Definition
	cfg     Config
	runner  sandbox.Executor
	profile profile

	binary      string
	flags       []string
	outputFlags []string
	libs        []string
	pattern     *regexp.Regexp
}

// NewCompilerChecker resolves def against the preset of its kind.
func NewCompilerChecker(def Definition, cfg Config, runner sandbox.Executor) (*CompilerChecker, error) {
	p, ok := profiles[def.Kind]
	if !ok {
		return nil, appErr.Newf(appErr.CheckerKindUnknown, "unknown compiler kind %q", def.Kind)
	}
	c := &CompilerChecker{def: def, cfg: cfg, runner: runner, profile: p}

	c.binary = firstNonEmpty(def.Binary, cfg.Compilers[def.Kind], p.binary)
	if c.binary == "" {
		return nil, appErr.ConfigError("binary", "compiler binary is required")
	}
	var err error
	if c.flags, err = splitFlags("flags", firstNonEmpty(def.Flags, p.flags)); err != nil {
		return nil, err
	}
	if c.outputFlags, err = splitFlags("output_flags", firstNonEmpty(def.OutputFlags, p.outputFlags)); err != nil {
		return nil, err
	}
	if c.libs, err = splitFlags("libs", def.Libs); err != nil {
		return nil, err
	}
	pattern := firstNonEmpty(def.FilePattern, p.pattern)
	if pattern == "" {
		return nil, appErr.ConfigError("file_pattern", "file pattern is required")
	}
	if c.pattern, err = regexp.Compile(pattern); err != nil {
		return nil, appErr.ConfigError("file_pattern", err.Error())
	}
	return c, nil
}

func (c *CompilerChecker) ID() string {
	return c.def.ID
}

func (c *CompilerChecker) Title() string {
	if c.def.Name != "" {
		return c.def.Name
	}
	return fmt.Sprintf("%s compiler", c.profile.language)
}

func (c *CompilerChecker) Description() string {
	if c.def.Description != "" {
		return c.def.Description
	}
	return "This check passes if the submitted sources compile without errors."
}

// Argv builds the compiler command line for the matched source names.
func (c *CompilerChecker) Argv(matched []string) []string {
	argv := make([]string, 0, 1+len(c.flags)+len(matched)+len(c.outputFlags)+len(c.libs))
	argv = append(argv, c.binary)
	argv = append(argv, c.flags...)
	argv = append(argv, matched...)
	for _, f := range c.outputFlags {
		argv = append(argv, strings.ReplaceAll(f, "%s", ProgramName))
	}
	return append(argv, c.libs...)
}

func (c *CompilerChecker) match(sources []Source) []string {
	var matched []string
	for _, src := range sources {
		if c.pattern.MatchString(src.Name) {
			matched = append(matched, src.Name)
		}
	}
	return matched
}

func (c *CompilerChecker) Run(ctx context.Context, env Environment) (Result, error) {
	matched := c.match(env.Sources())
	if len(matched) == 0 {
		return Result{}, appErr.Newf(appErr.NoMatchingSources, "no submitted file matches %q", c.pattern.String())
	}

	out, err := c.runner.Execute(ctx, spec.RunSpec{
		Cmd:            c.Argv(matched),
		WorkDir:        env.WorkDir(),
		Env:            c.cfg.runEnv(env, map[string]string{"LC_ALL": "C"}),
		Timeout:        timeoutOr(c.def.TimeoutSeconds, c.cfg.Timeout),
		MaxOutputBytes: c.cfg.MaxOutputBytes,
		Limits:         c.cfg.Limits,
		Vars:           env.Vars(),
		Label:          "compile:" + c.def.ID,
	})
	if err != nil {
		return Result{}, err
	}

	log, truncated := renderLog(out.Output, logOptions{maxBytes: c.cfg.MaxLogBytes})
	res := judge(c, out, log, truncated)
	if c.def.ParseDiagnostics {
		res.Diagnostics = parseDiagnostics(out.Output)
	}
	if res.Passed {
		env.SetProgram(c.program(env.WorkDir(), matched))
	}
	return res, nil
}

func (c *CompilerChecker) program(workDir string, matched []string) string {
	if c.profile.mainClass {
		return strings.TrimSuffix(matched[0], filepath.Ext(matched[0]))
	}
	return filepath.Join(workDir, ProgramName)
}

func splitFlags(field, raw string) ([]string, error) {
	parts, err := shlex.Split(raw)
	if err != nil {
		return nil, appErr.ConfigError(field, err.Error())
	}
	return parts, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
