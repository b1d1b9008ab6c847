package remote

import (
	"sort"
	"strings"

	"github.com/alessio/shellescape"
)

// RunOption configures a single Run.
type RunOption func(*RunConfig)

// RunConfig is the combined effect of a set of RunOptions.
type RunConfig struct {
	WarnOnly bool
	Sudo     bool
	AsUser   string
	LoginAs  string
	Dir      string
	Env      map[string]string
	Quiet    bool
}

// WarnOnly makes a non-zero exit status a logged warning rather than an
// error. The Result still reports the status.
func WarnOnly() RunOption {
	return func(o *RunConfig) { o.WarnOnly = true }
}

// Sudo runs the command as root.
func Sudo() RunOption {
	return func(o *RunConfig) { o.Sudo = true }
}

// AsUser runs the command as user via sudo.
func AsUser(user string) RunOption {
	return func(o *RunConfig) { o.AsUser = user }
}

// LoginAs connects to the host as user instead of the configured one.
func LoginAs(user string) RunOption {
	return func(o *RunConfig) { o.LoginAs = user }
}

// Dir runs the command in dir.
func Dir(dir string) RunOption {
	return func(o *RunConfig) { o.Dir = dir }
}

// Env sets an environment variable for the command. It may be given
// more than once.
func Env(key, value string) RunOption {
	return func(o *RunConfig) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		o.Env[key] = value
	}
}

// Quiet keeps the command and its output out of the transcript, for
// probes whose failure is expected.
func Quiet() RunOption {
	return func(o *RunConfig) { o.Quiet = true }
}

// NewRunConfig applies opts in order.
func NewRunConfig(opts ...RunOption) RunConfig {
	var o RunConfig
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Script returns the shell script that runs cmd with o applied.
func (o RunConfig) Script(cmd Command) string {
	var b strings.Builder
	keys := make([]string, 0, len(o.Env))
	for k := range o.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("export " + k + "=" + shellescape.Quote(o.Env[k]) + "; ")
	}
	if o.Dir != "" {
		b.WriteString("cd " + shellescape.Quote(o.Dir) + " && ")
	}
	b.WriteString(cmd.String())
	script := b.String()

	// A simple command is passed to sudo directly so that it can be
	// matched by a restricted sudoers entry.
	simple := !cmd.compound && len(o.Env) == 0 && o.Dir == ""
	switch {
	case o.AsUser != "" && simple:
		return "sudo -n -u " + shellescape.Quote(o.AsUser) + " " + script
	case o.Sudo && simple:
		return "sudo -n " + script
	case o.AsUser != "":
		return "sudo -n -H -u " + shellescape.Quote(o.AsUser) + " sh -c " + shellescape.Quote(script)
	case o.Sudo:
		return "sudo -n -H sh -c " + shellescape.Quote(script)
	case len(o.Env) > 0 || o.Dir != "":
		// Keep exports and cd out of the login shell.
		return "sh -c " + shellescape.Quote(script)
	}
	return script
}
