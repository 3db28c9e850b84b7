//go:build linux && cgo

package main

import (
	"gradebox/internal/check/sandbox/initproc"
	"gradebox/internal/check/sandbox/initproc/seccomp"
)

var filterLoader initproc.FilterLoader = seccomp.Load
