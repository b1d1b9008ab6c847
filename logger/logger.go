// Package logger writes the transcript of the commands run during a
// djdeploy invocation.
package logger

import (
	"io"
	"strings"
)

// Logger receives transcript output.
type Logger interface {
	io.WriteCloser
}

// DefaultMaxBytes is the size at which a transcript file is rotated.
const DefaultMaxBytes = 10 << 20

// NewLogger returns a Logger writing to every destination in the comma
// separated list dests. The names /dev/stdout, /dev/stderr and /dev/null
// are recognised; anything else is a file, rotated at maxBytes keeping
// the given number of backups.
func NewLogger(dests string, maxBytes int64, backups int) (Logger, error) {
	var loggers []Logger
	for _, f := range splitLogFile(dests) {
		l, err := createLogger(f, maxBytes, backups)
		if err != nil {
			for _, l := range loggers {
				l.Close()
			}
			return nil, err
		}
		loggers = append(loggers, l)
	}
	if len(loggers) == 0 {
		return NewNullLogger(), nil
	}
	return NewCompositeLogger(loggers...), nil
}

func splitLogFile(logFile string) []string {
	var files []string
	for _, f := range strings.Split(logFile, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}

func createLogger(logFile string, maxBytes int64, backups int) (Logger, error) {
	switch logFile {
	case "/dev/stdout":
		return NewStdoutLogger(), nil
	case "/dev/stderr":
		return NewStderrLogger(), nil
	case "/dev/null":
		return NewNullLogger(), nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return NewFileLogger(logFile, maxBytes, backups)
}
