//go:build !unix

package build

import "os/exec"

// setProcessGroup is a no-op here; WaitDelay still bounds the wait.
func setProcessGroup(cmd *exec.Cmd) {}
