//go:build linux

// Command check-init prepares one check process and replaces itself with it.
package main

import "gradebox/internal/check/sandbox/initproc"

func main() {
	initproc.Main(filterLoader)
}
