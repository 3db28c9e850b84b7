//go:build linux && cgo

// Package seccomp loads JSON syscall filters for the check-init launcher.
package seccomp

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	libseccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

// Load reads the profile at profilePath, sets no_new_privs and installs the filter.
func Load(profilePath string) error {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("read seccomp profile: %w", err)
	}
	var cfg profile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse seccomp profile: %w", err)
	}
	defaultAction, err := parseAction(cfg.DefaultAction)
	if err != nil {
		return err
	}
	filter, err := libseccomp.NewFilter(defaultAction)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	for _, rule := range cfg.Syscalls {
		action, err := parseAction(rule.Action)
		if err != nil {
			return err
		}
		for _, name := range rule.Names {
			call, err := libseccomp.GetSyscallFromName(name)
			if err != nil {
				return fmt.Errorf("unknown syscall %q: %w", name, err)
			}
			if err := filter.AddRule(call, action); err != nil {
				return fmt.Errorf("add seccomp rule: %w", err)
			}
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

type profile struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []syscallRule `json:"syscalls"`
}

type syscallRule struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

func parseAction(action string) (libseccomp.ScmpAction, error) {
	switch strings.ToUpper(action) {
	case "SCMP_ACT_ALLOW":
		return libseccomp.ActAllow, nil
	case "SCMP_ACT_ERRNO":
		return libseccomp.ActErrno.SetReturnCode(int16(unix.EPERM)), nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return libseccomp.ActKillProcess, nil
	default:
		return libseccomp.ActKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}
