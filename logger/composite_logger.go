package logger

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// CompositeLogger copies the transcript to several destinations.
type CompositeLogger struct {
	mu      sync.Mutex
	loggers []Logger
}

// NewCompositeLogger returns a Logger writing to all of loggers. Lines
// written by concurrent hosts are kept whole.
func NewCompositeLogger(loggers ...Logger) *CompositeLogger {
	return &CompositeLogger{loggers: loggers}
}

// Write writes p to every destination, even after one of them fails.
func (cl *CompositeLogger) Write(p []byte) (int, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	var errs *multierror.Error
	for _, l := range cl.loggers {
		if _, err := l.Write(p); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes every destination.
func (cl *CompositeLogger) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	var errs *multierror.Error
	for _, l := range cl.loggers {
		if err := l.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	cl.loggers = nil
	return errs.ErrorOrNil()
}
