package remote

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Executor runs commands on hosts. Implementations must be safe for
// concurrent use across hosts.
type Executor interface {
	// Run runs cmd on host. A non-zero exit status is returned as a
	// *CommandError unless WarnOnly is given.
	Run(ctx context.Context, host string, cmd Command, opts ...RunOption) (Result, error)
	// Upload writes the contents of r to path on host with the given
	// mode. The file is replaced atomically.
	Upload(ctx context.Context, host string, r io.Reader, path string, mode os.FileMode) error
}

// Result is the outcome of a command.
type Result struct {
	Host       string
	ExitStatus int
	Stdout     string
}

// Succeeded reports whether the command exited with status zero.
func (r Result) Succeeded() bool {
	return r.ExitStatus == 0
}

// CommandError is returned when a command exits with a non-zero status.
type CommandError struct {
	Host       string
	Command    string
	ExitStatus int
	// Output holds the last lines of the command's output.
	Output string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: command %q exited with status %d", e.Host, e.Command, e.ExitStatus)
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

// ErrorTailLines is the number of output lines kept in a CommandError.
const ErrorTailLines = 20
