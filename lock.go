package djdeploy

import (
	"bytes"
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/stuartcarnie/djdeploy/release"
	"github.com/stuartcarnie/djdeploy/remote"
)

func (d *Deployer) lockPath(parts ...string) string {
	return d.Config.RootPath(append([]string{release.LockDir}, parts...)...)
}

// acquireLock takes the deploy lock of inv.Host for owner.
func (d *Deployer) acquireLock(ctx context.Context, inv Invocation, owner release.LockOwner) error {
	if _, err := d.run(ctx, inv, remote.Cmd("mkdir", "-p", d.Config.Root)); err != nil {
		return err
	}
	res, err := d.run(ctx, inv, remote.Cmd("mkdir", d.lockPath()), remote.WarnOnly(), remote.Quiet())
	if err != nil {
		return err
	}
	if !res.Succeeded() {
		return &LockHeldError{Host: inv.Host, Owner: d.lockOwner(ctx, inv)}
	}
	data, err := owner.Encode()
	if err != nil {
		d.releaseLock(ctx, inv, owner)
		return err
	}
	ownerFile := d.lockPath(release.LockOwnerFile)
	if err := d.Exec.Upload(ctx, inv.Host, bytes.NewReader(data), ownerFile, 0o644); err != nil {
		d.releaseLock(ctx, inv, owner)
		return err
	}
	zap.L().Debug("Acquired deploy lock", zap.String("host", inv.Host), zap.String("token", owner.Token))
	return nil
}

// lockOwner reads the owner of the lock held on inv.Host. It returns the
// zero LockOwner if the owner cannot be read.
func (d *Deployer) lockOwner(ctx context.Context, inv Invocation) release.LockOwner {
	res, err := d.run(ctx, inv, remote.Cmd("cat", d.lockPath(release.LockOwnerFile)), remote.WarnOnly(), remote.Quiet())
	if err != nil || !res.Succeeded() {
		return release.LockOwner{}
	}
	return release.ParseLockOwner([]byte(res.Stdout))
}

// releaseLock removes the lock from inv.Host if owner still holds it.
// Failures are logged; a lock left behind can be removed with Unlock.
func (d *Deployer) releaseLock(ctx context.Context, inv Invocation, owner release.LockOwner) {
	cmd := remote.Cmd("grep", "-qF", owner.Token, d.lockPath(release.LockOwnerFile)).
		And(remote.Cmd("rm", "-rf", d.lockPath()))
	res, err := d.run(ctx, inv, cmd, remote.WarnOnly(), remote.Quiet())
	if err != nil || !res.Succeeded() {
		zap.L().Warn("Unable to release deploy lock", zap.String("host", inv.Host), zap.Error(err))
	}
}

// withLock takes the deploy lock on every host, runs fn and releases the
// locks again, whether or not fn succeeded. If the lock cannot be taken
// on every host, fn is not run.
func (d *Deployer) withLock(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	owner := release.NewLockOwner(d.Operator, op, d.Now())
	var (
		mu     sync.Mutex
		locked []string
	)
	unlock := func() {
		// The locks are released even when ctx has been cancelled.
		ctx := context.WithoutCancel(ctx)
		remote.Each(ctx, locked, func(ctx context.Context, host string) error {
			d.releaseLock(ctx, d.invocation(host, ""), owner)
			return nil
		})
	}
	err := remote.Each(ctx, d.Config.Hosts, func(ctx context.Context, host string) error {
		if err := d.acquireLock(ctx, d.invocation(host, ""), owner); err != nil {
			return err
		}
		mu.Lock()
		locked = append(locked, host)
		mu.Unlock()
		return nil
	})
	defer unlock()
	if err != nil {
		return err
	}
	return fn(ctx)
}

// Unlock forcibly removes the deploy lock from every host, for use after
// an operation was interrupted without releasing it.
func (d *Deployer) Unlock(ctx context.Context) error {
	return d.each(ctx, func(ctx context.Context, inv Invocation) error {
		owner := d.lockOwner(ctx, inv)
		if _, err := d.run(ctx, inv, remote.Cmd("rm", "-rf", d.lockPath())); err != nil {
			return err
		}
		if owner.Operator != "" {
			zap.L().Info("Removed deploy lock", zap.String("host", inv.Host), zap.Stringer("owner", owner))
		}
		return nil
	})
}
