// Package remotetest provides a fake remote.Executor that records the
// commands it is given and answers them from canned responses.
package remotetest

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/stuartcarnie/djdeploy/remote"
)

// Call is a recorded Run or Upload.
type Call struct {
	Host   string
	Cmd    string
	Config remote.RunConfig

	// Upload is set for Upload calls, together with Data and Mode.
	Upload string
	Data   string
	Mode   os.FileMode
}

// Response is the canned answer to a command.
type Response struct {
	Status int
	Stdout string
	// Err, if set, is returned as a transport failure.
	Err error
}

type rule struct {
	host   string
	substr string
	resp   Response
}

// Recorder is a remote.Executor for tests. Commands that match no rule
// succeed with empty output.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	rules []rule
}

var _ remote.Executor = (*Recorder)(nil)

// On answers every command containing substr with resp. Rules added later
// take precedence.
func (r *Recorder) On(substr string, resp Response) {
	r.OnHost("", substr, resp)
}

// OnHost is like On but only applies to host.
func (r *Recorder) OnHost(host, substr string, resp Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{host: host, substr: substr, resp: resp})
}

func (r *Recorder) Run(ctx context.Context, host string, cmd remote.Command, opts ...remote.RunOption) (remote.Result, error) {
	if err := ctx.Err(); err != nil {
		return remote.Result{Host: host, ExitStatus: -1}, err
	}
	cfg := remote.NewRunConfig(opts...)
	s := cmd.String()

	r.mu.Lock()
	r.calls = append(r.calls, Call{Host: host, Cmd: s, Config: cfg})
	var resp Response
	for i := len(r.rules) - 1; i >= 0; i-- {
		rl := r.rules[i]
		if (rl.host == "" || rl.host == host) && strings.Contains(s, rl.substr) {
			resp = rl.resp
			break
		}
	}
	r.mu.Unlock()

	if resp.Err != nil {
		return remote.Result{Host: host, ExitStatus: -1}, resp.Err
	}
	res := remote.Result{Host: host, ExitStatus: resp.Status, Stdout: resp.Stdout}
	if resp.Status != 0 && !cfg.WarnOnly {
		return res, &remote.CommandError{
			Host:       host,
			Command:    s,
			ExitStatus: resp.Status,
			Output:     strings.TrimSpace(resp.Stdout),
		}
	}
	return res, nil
}

func (r *Recorder) Upload(ctx context.Context, host string, rd io.Reader, path string, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Host: host, Upload: path, Data: string(data), Mode: mode})
	return nil
}

// Calls returns all recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Commands returns the commands run on host, in order.
func (r *Recorder) Commands(host string) []string {
	var cmds []string
	for _, c := range r.Calls() {
		if c.Host == host && c.Upload == "" {
			cmds = append(cmds, c.Cmd)
		}
	}
	return cmds
}

// Uploaded returns the last data uploaded to path on host.
func (r *Recorder) Uploaded(host, path string) (Call, bool) {
	calls := r.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if c := calls[i]; c.Host == host && c.Upload == path {
			return c, true
		}
	}
	return Call{}, false
}

// Index returns the position of the first command on host containing
// substr, or -1.
func (r *Recorder) Index(host, substr string) int {
	for i, c := range r.Commands(host) {
		if strings.Contains(c, substr) {
			return i
		}
	}
	return -1
}

// Reset forgets recorded calls but keeps rules.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
