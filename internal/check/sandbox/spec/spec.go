// Package spec defines the execution specification and resource limits.
package spec

import (
	"sort"
	"time"
)

// ResourceLimit describes limits enforced by the isolation backend. Zero means unlimited.
type ResourceLimit struct {
	// MaxOpenFiles caps file descriptors (RLIMIT_NOFILE / nofile ulimit).
	MaxOpenFiles int64
	// MaxFileSizeKB caps the size of any file the process writes (RLIMIT_FSIZE).
	MaxFileSizeKB int64
	// CPUSeconds caps CPU time (RLIMIT_CPU).
	CPUSeconds int64
	// Processes caps processes of the executing identity (RLIMIT_NPROC) or of the container.
	Processes int64
	// MemoryMB is enforced by the container backend only.
	MemoryMB int64
}

// MountSpec describes an extra host path made visible to the run.
type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec is the execution specification for one supervised process run.
type RunSpec struct {
	Cmd     []string
	WorkDir string
	// Env is the complete environment of the process. Nothing is inherited.
	Env            map[string]string
	Timeout        time.Duration
	MaxOutputBytes int64
	Limits         ResourceLimit
	ExtraMounts    []MountSpec
	// Vars feeds template expansion in backend configuration (e.g. TASK_ID, SUBMISSION_ID).
	Vars map[string]string
	// Label names the run in logs.
	Label string
}

// EnvList renders Env as sorted KEY=VALUE pairs.
func (r RunSpec) EnvList() []string {
	out := make([]string, 0, len(r.Env))
	for k, v := range r.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
