//go:build !unix

package process

import "os/exec"

// killProcessGroup is a no-op; cancellation kills the direct child and
// WaitDelay bounds the wait for its pipes.
func killProcessGroup(*exec.Cmd) {}
