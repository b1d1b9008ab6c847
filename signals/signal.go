//go:build !windows

// Package signals delivers signals to local commands and the processes
// they spawn.
package signals

import (
	"os"
	"os/exec"
	"syscall"
)

// NewProcessGroup makes cmd start in a process group of its own, so that
// Kill can reach everything it starts.
func NewProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Kill sends sig to process. With group set the signal goes to the
// process group led by process instead.
func Kill(process *os.Process, sig os.Signal, group bool) error {
	localSig := sig.(syscall.Signal)
	pid := process.Pid
	if group {
		pid = -pid
	}
	return syscall.Kill(pid, localSig)
}
