package checker

import (
	"time"

	"gradebox/internal/check/sandbox/spec"
)

const (
	defaultTimeout        = 60 * time.Second
	defaultMaxOutputBytes = 1 << 20
	defaultMaxLogBytes    = 64 << 10
	defaultMaxOpenFiles   = 128
	defaultMaxFileSizeKB  = 64
	defaultPath           = "/usr/local/bin:/usr/bin:/bin"
	defaultJVM            = "java"
)

// Config holds the settings shared by every checker.
type Config struct {
	// Timeout bounds each run unless the definition sets its own.
	Timeout time.Duration
	// MaxOutputBytes caps capture during execution.
	MaxOutputBytes int64
	// MaxLogBytes caps the stored log.
	MaxLogBytes int
	Limits      spec.ResourceLimit

	// JVM is exported to scripts as $JAVA; JVMSecure replaces the JAVA token in scripts.
	JVM       string
	JVMSecure string
	// Path is the PATH of every run.
	Path string
	// Compilers overrides preset binaries per kind.
	Compilers map[Kind]string
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = defaultMaxOutputBytes
	}
	if c.MaxLogBytes <= 0 {
		c.MaxLogBytes = defaultMaxLogBytes
	}
	if c.Limits.MaxOpenFiles <= 0 {
		c.Limits.MaxOpenFiles = defaultMaxOpenFiles
	}
	if c.Limits.MaxFileSizeKB <= 0 {
		c.Limits.MaxFileSizeKB = defaultMaxFileSizeKB
	}
	if c.JVM == "" {
		c.JVM = defaultJVM
	}
	if c.JVMSecure == "" {
		c.JVMSecure = c.JVM
	}
	if c.Path == "" {
		c.Path = defaultPath
	}
}

func (c Config) runEnv(env Environment, extra map[string]string) map[string]string {
	out := map[string]string{
		"PATH": c.Path,
		"HOME": env.WorkDir(),
		"USER": env.User().ID,
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
