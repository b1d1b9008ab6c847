package signals

import (
	"os"
	"os/exec"
)

// NewProcessGroup does nothing on Windows.
func NewProcessGroup(cmd *exec.Cmd) {}

// Kill kills process. Signals and process groups are not supported.
func Kill(process *os.Process, sig os.Signal, group bool) error {
	return process.Kill()
}
