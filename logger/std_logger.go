package logger

import (
	"io"
	"os"
)

// stdLogger writes to a stream it does not own.
type stdLogger struct {
	io.Writer
}

// NewStdLogger returns a logger that logs to the given writer.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{
		Writer: w,
	}
}

// NewStdoutLogger returns a logger echoing to standard output.
func NewStdoutLogger() Logger {
	return NewStdLogger(os.Stdout)
}

// NewStderrLogger returns a logger echoing to standard error.
func NewStderrLogger() Logger {
	return NewStdLogger(os.Stderr)
}

func (l *stdLogger) Close() error {
	return nil
}
