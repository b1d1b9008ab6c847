package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/stuartcarnie/djdeploy/signals"
)

// killDelay is how long a cancelled command may take to exit after its
// process group was sent SIGTERM.
const killDelay = 5 * time.Second

// Local runs commands on the machine djdeploy runs on. The host name is
// only used for reporting.
type Local struct {
	// Fs receives uploads. It defaults to the OS filesystem.
	Fs afero.Fs
	// Shell defaults to /bin/sh.
	Shell string

	transcript *transcript
}

// NewLocal returns a Local executor writing a transcript of every
// command to w, which may be nil.
func NewLocal(w io.Writer) *Local {
	return &Local{
		Fs:         afero.NewOsFs(),
		Shell:      "/bin/sh",
		transcript: &transcript{w: w},
	}
}

func (l *Local) Run(ctx context.Context, host string, cmd Command, opts ...RunOption) (Result, error) {
	o := NewRunConfig(opts...)
	if o.LoginAs != "" {
		// There is no login step locally; commands run as the current user.
		zap.L().Debug("Ignoring login user for local command", zap.String("user", o.LoginAs))
	}
	script := o.Script(cmd)
	shell := l.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	c := exec.CommandContext(ctx, shell, "-c", script)
	signals.NewProcessGroup(c)
	c.Cancel = func() error {
		return signals.Kill(c.Process, syscall.SIGTERM, true)
	}
	c.WaitDelay = killDelay
	var stdout bytes.Buffer
	stderr := newRingBuffer(captureSize)
	c.Stdout = &stdout
	c.Stderr = stderr

	status := 0
	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || ctx.Err() != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return Result{Host: host, ExitStatus: -1}, err
		}
		status = exitErr.ExitCode()
	}
	return complete(l.transcript, host, cmd, script, o, status, stdout.Bytes(), stderr)
}

func (l *Local) Upload(ctx context.Context, host string, r io.Reader, dst string, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs := l.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	tmp, err := afero.TempFile(fs, path.Dir(dst), "."+path.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer fs.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := fs.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	if err := fs.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	l.transcript.record(host, "upload "+dst, 0, nil, nil)
	return nil
}
