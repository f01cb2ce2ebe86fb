//go:build windows

package process

import "os/exec"

// configureProcessGroup keeps the default behavior on Windows; WaitDelay
// still bounds how long Run waits for inherited pipes.
func configureProcessGroup(cmd *exec.Cmd) {}
