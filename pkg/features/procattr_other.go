//go:build !unix

package features

import "os/exec"

// setProcessGroup keeps the exec.CommandContext default of killing the process.
func setProcessGroup(*exec.Cmd) {}
