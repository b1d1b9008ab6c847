// Package djdeploy deploys Django applications to a set of hosts.
//
// A deployment is a pipeline of steps. Each step runs on every host of
// the environment in parallel, and the next step only starts when the
// previous one has finished everywhere. A failed step aborts the
// pipeline; nothing is undone automatically. Rollback is a separate
// operation that switches back to an earlier release and reverses its
// schema migrations.
package djdeploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stuartcarnie/djdeploy/config"
	"github.com/stuartcarnie/djdeploy/provision"
	"github.com/stuartcarnie/djdeploy/release"
	"github.com/stuartcarnie/djdeploy/remote"
)

// Deployer runs lifecycle operations against one environment.
type Deployer struct {
	Config      *config.Config
	Exec        remote.Executor
	Provisioner *provision.Provisioner

	// Operator is recorded in manifests and lock files.
	Operator string
	// Now returns the current time. It is replaced in tests.
	Now func() time.Time
}

// New returns a Deployer for cfg that runs commands through exec.
func New(cfg *config.Config, exec remote.Executor) *Deployer {
	return &Deployer{
		Config:      cfg,
		Exec:        exec,
		Provisioner: provision.New(cfg, exec),
		Operator:    operator(),
		Now:         time.Now,
	}
}

// operator returns user@hostname for the local user.
func operator() string {
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	if h, err := os.Hostname(); err == nil {
		return name + "@" + h
	}
	return name
}

// Invocation is everything a step needs to act on one host.
type Invocation struct {
	Config  *config.Config
	Host    string
	Release release.ID
}

// ReleaseDir returns the directory of the invocation's release.
func (inv Invocation) ReleaseDir(parts ...string) string {
	return inv.Config.RootPath(append([]string{"releases", string(inv.Release)}, parts...)...)
}

func (d *Deployer) invocation(host string, id release.ID) Invocation {
	return Invocation{Config: d.Config, Host: host, Release: id}
}

func (d *Deployer) run(ctx context.Context, inv Invocation, cmd remote.Command, opts ...remote.RunOption) (remote.Result, error) {
	return d.Exec.Run(ctx, inv.Host, cmd, opts...)
}

// step is one stage of a pipeline.
type step struct {
	name string
	// state is reached by a host when the step succeeds on it.
	state State
	// once runs the step on the first host only. It is used for steps
	// acting on the shared database.
	once bool
	run  func(ctx context.Context, inv Invocation) error
}

// states tracks the lifecycle state of each host in a pipeline.
type states struct {
	mu sync.Mutex
	m  map[string]State
}

func newStates(hosts []string, initial State) *states {
	s := &states{m: make(map[string]State)}
	for _, h := range hosts {
		s.m[h] = initial
	}
	return s
}

func (s *states) get(host string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[host]
}

func (s *states) set(host string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[host] = state
}

func (s *states) setAll(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h := range s.m {
		s.m[h] = state
	}
}

// pipeline runs steps in order on all hosts, in lockstep.
func (d *Deployer) pipeline(ctx context.Context, op string, id release.ID, initial State, steps ...step) error {
	hosts := d.Config.Hosts
	st := newStates(hosts, initial)
	for _, s := range steps {
		s := s
		targets := hosts
		if s.once {
			targets = hosts[:1]
		}
		zap.L().Debug("Starting step", zap.String("operation", op), zap.String("step", s.name), zap.Strings("hosts", targets))
		err := remote.Each(ctx, targets, func(ctx context.Context, host string) error {
			return d.runStep(ctx, s, d.invocation(host, id), st)
		})
		if err != nil {
			return err
		}
		if s.once {
			st.setAll(s.state)
		}
	}
	return nil
}

func (d *Deployer) runStep(ctx context.Context, s step, inv Invocation, st *states) error {
	sctx := ctx
	if d.Config.StepTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, d.Config.StepTimeout)
		defer cancel()
	}
	start := time.Now()
	err := s.run(sctx, inv)
	if err != nil {
		if ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %v: %w", d.Config.StepTimeout, err)
		}
		zap.L().Error("Step failed",
			zap.String("host", inv.Host),
			zap.String("step", s.name),
			zap.Stringer("state", st.get(inv.Host)),
			zap.Error(err))
		return &StepError{Step: s.name, Host: inv.Host, State: st.get(inv.Host), Err: err}
	}
	st.set(inv.Host, s.state)
	zap.L().Info("Completed step",
		zap.String("host", inv.Host),
		zap.String("step", s.name),
		zap.Stringer("state", s.state),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// each runs fn on every host, without lifecycle tracking.
func (d *Deployer) each(ctx context.Context, fn func(ctx context.Context, inv Invocation) error) error {
	return remote.Each(ctx, d.Config.Hosts, func(ctx context.Context, host string) error {
		return fn(ctx, d.invocation(host, ""))
	})
}
