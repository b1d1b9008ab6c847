package config

import "fmt"

// ConfigurationError is returned when an environment configuration cannot
// be used: no environment was selected, a required key is missing, a
// value is invalid or the interpolation graph is cyclic.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Err: fmt.Errorf(format, args...)}
}

// LookupError is returned when a key has neither an explicit value nor a
// default, either when asked for directly or when referenced from another
// value's placeholder.
type LookupError struct {
	Key string
	// Referrer holds the key whose value referenced Key, if any.
	Referrer string
}

func (e *LookupError) Error() string {
	if e.Referrer != "" {
		return fmt.Sprintf("undefined key %q referenced by %q", e.Key, e.Referrer)
	}
	return fmt.Sprintf("undefined key %q", e.Key)
}
