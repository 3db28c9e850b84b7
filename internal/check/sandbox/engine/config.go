package engine

import "time"

const (
	defaultHelperPath = "check-init"
	defaultSudoPath   = "sudo"
	defaultKillPath   = "/bin/kill"
	defaultChmodPath  = "/bin/chmod"
	defaultWaitDelay  = 2 * time.Second
	defaultKillWait   = 5 * time.Second
)

// Config controls backend selection and behavior.
type Config struct {
	Backend Kind

	// HelperPath is the check-init launcher used by the direct and delegated backends.
	HelperPath string
	// HelperArgs are passed to the launcher before anything else.
	HelperArgs []string
	// SeccompProfile is an optional JSON filter the launcher loads before exec.
	SeccompProfile string
	// WaitDelay bounds how long a finished run may keep its output pipe open via stray children.
	WaitDelay time.Duration

	Delegated DelegatedConfig
	Container ContainerConfig
}

// DelegatedConfig configures re-execution under a dedicated unprivileged account.
type DelegatedConfig struct {
	// User is the account checks run as. It needs a NOPASSWD sudoers rule for the launcher, the
	// kill binary and the chmod binary, with closefrom_override and !use_pty.
	User      string
	SudoPath  string
	KillPath  string
	ChmodPath string
	// SkipProbe disables the startup check that elevation works.
	SkipProbe bool
}

// ContainerConfig configures the containerized backend.
type ContainerConfig struct {
	Image string
	// Writable keeps the container root filesystem writable.
	Writable bool
	// MapHostUIDGID runs the container process as the caller's uid:gid.
	MapHostUIDGID bool
	// ExtraMountTemplate is an optional host path, expanded with ${TASK_ID}, ${SUBMISSION_ID},
	// ${USER_ID}, mounted read-only at the same path.
	ExtraMountTemplate string
	HostNetwork        bool
	// DiscardArtifacts mounts a throwaway copy of the working directory.
	DiscardArtifacts bool
	MaxMemoryMB      int64
	DockerHost       string
	// ScratchDir holds discard copies. Empty uses the system temp dir.
	ScratchDir string
}

func (c *Config) applyDefaults() {
	if c.HelperPath == "" {
		c.HelperPath = defaultHelperPath
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = defaultWaitDelay
	}
	if c.Delegated.SudoPath == "" {
		c.Delegated.SudoPath = defaultSudoPath
	}
	if c.Delegated.KillPath == "" {
		c.Delegated.KillPath = defaultKillPath
	}
	if c.Delegated.ChmodPath == "" {
		c.Delegated.ChmodPath = defaultChmodPath
	}
	if c.Container.Image == "" {
		c.Container.Image = "safe-docker"
	}
}
