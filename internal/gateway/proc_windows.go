//go:build windows

package gateway

import "os/exec"

// setProcessGroup is a no-op on Windows: there are no Unix process groups,
// and the default CommandContext cancel kills the direct child.
func setProcessGroup(cmd *exec.Cmd) {}
