package engine

import (
	"fmt"
	"strconv"

	"gradebox/internal/check/sandbox/initproc"
)

func launcherArgv(cfg Config) []string {
	argv := make([]string, 0, 1+len(cfg.HelperArgs))
	argv = append(argv, cfg.HelperPath)
	return append(argv, cfg.HelperArgs...)
}

// delegatedArgv wraps the launcher in a non-interactive sudo that keeps the status pipe open.
func delegatedArgv(cfg Config) []string {
	keep := strconv.Itoa(initproc.StatusFD + 1)
	argv := []string{cfg.Delegated.SudoPath, "-n", "-C", keep, "-u", cfg.Delegated.User, "--"}
	return append(argv, launcherArgv(cfg)...)
}

// delegatedKillArgv kills a process group as the delegated account, which may be the only
// identity allowed to signal it.
func delegatedKillArgv(cfg Config, pgid int) []string {
	return []string{
		cfg.Delegated.SudoPath, "-n", "-u", cfg.Delegated.User, "--",
		cfg.Delegated.KillPath, "-KILL", "--", "-" + strconv.Itoa(pgid),
	}
}

// delegatedReclaimArgv opens up everything the delegated account created under dir so the
// service account can delete it.
func delegatedReclaimArgv(cfg Config, dir string) []string {
	return []string{
		cfg.Delegated.SudoPath, "-n", "-u", cfg.Delegated.User, "--",
		cfg.Delegated.ChmodPath, "-R", "a+rwX", "--", dir,
	}
}

func validateDelegated(cfg DelegatedConfig) error {
	if cfg.User == "" {
		return fmt.Errorf("delegated backend requires a user")
	}
	if cfg.User == "root" || cfg.User == "0" {
		return fmt.Errorf("delegated backend must not run checks as root")
	}
	return nil
}
