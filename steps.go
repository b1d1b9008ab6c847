package djdeploy

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stuartcarnie/djdeploy/config"
	"github.com/stuartcarnie/djdeploy/manifest"
	"github.com/stuartcarnie/djdeploy/provision"
	"github.com/stuartcarnie/djdeploy/release"
	"github.com/stuartcarnie/djdeploy/remote"
)

// binstub is the path of bin/run.
func (d *Deployer) binstub() string {
	return d.Config.RootPath("bin", "run")
}

// manage returns a command running a Django management command through
// the binstub.
func (d *Deployer) manage(args ...string) remote.Command {
	return remote.Cmd(d.binstub(), args...)
}

// inRelease makes bin/run use the code of release id rather than the
// one current points at.
func (d *Deployer) inRelease(id release.ID) remote.RunOption {
	return remote.Env("DEPLOY_RELEASE_DIR", d.Config.RootPath("releases", string(id)))
}

// virtualenvOpts are the options for running tools of the virtualenv.
func (d *Deployer) virtualenvOpts() []remote.RunOption {
	cache := d.Config.RootPath(".pip_cache")
	return []remote.RunOption{
		remote.Env("PIP_DOWNLOAD_CACHE", cache),
		remote.Env("PIP_CACHE_DIR", cache),
		remote.Env("PATH", d.Config.VirtualenvPath("bin")+":/usr/local/bin:/usr/bin:/bin"),
	}
}

// InstallDependencies installs requirements.txt of the release into the
// virtualenv.
func (d *Deployer) InstallDependencies(ctx context.Context, inv Invocation) error {
	opts := append(d.virtualenvOpts(), remote.Dir(inv.ReleaseDir()))
	_, err := d.run(ctx, inv, remote.Cmd("pip", "install", "-q", "-r", "requirements.txt"), opts...)
	return err
}

// PostDeploy runs the configured post-deploy commands in the release
// directory, in order.
func (d *Deployer) PostDeploy(ctx context.Context, inv Invocation) error {
	for _, c := range d.Config.PostDeploy {
		if _, err := d.run(ctx, inv, remote.Raw(c), remote.Dir(inv.ReleaseDir()), d.inRelease(inv.Release)); err != nil {
			return err
		}
	}
	return nil
}

// PrecompileAssets collects the static files of the release.
func (d *Deployer) PrecompileAssets(ctx context.Context, inv Invocation) error {
	_, err := d.run(ctx, inv, d.manage("collectstatic", "--noinput", "-v", "0"), d.inRelease(inv.Release))
	return err
}

// BuildDocs builds the Sphinx documentation of the release, if it has
// any.
func (d *Deployer) BuildDocs(ctx context.Context, inv Invocation) error {
	hasDocs, err := d.succeeds(ctx, inv, remote.Test("-d", inv.ReleaseDir("doc")))
	if err != nil {
		return err
	}
	if !hasDocs {
		zap.L().Debug("No documentation to build", zap.String("host", inv.Host))
		return nil
	}
	opts := append(d.virtualenvOpts(), remote.Dir(inv.ReleaseDir()))
	ensure := remote.Cmd("pip", "freeze").Pipe(remote.Cmd("grep", "-qi", "sphinx")).
		Or(remote.Cmd("pip", "install", "-q", "sphinx"))
	if _, err := d.run(ctx, inv, ensure, opts...); err != nil {
		return err
	}
	build := remote.Cmd("sphinx-build", "-q", "-b", "html", "-d", "doc/_build/doctrees", "doc/", "doc/_build/html")
	_, err = d.run(ctx, inv, build, opts...)
	return err
}

// RunMigrations brings the database schema up to date with the release.
func (d *Deployer) RunMigrations(ctx context.Context, inv Invocation) error {
	if !d.Config.SkipSyncdb {
		if _, err := d.run(ctx, inv, d.manage("syncdb", "--noinput"), d.inRelease(inv.Release)); err != nil {
			return err
		}
	}
	_, err := d.run(ctx, inv, d.manage("migrate", "--no-initial-data"), d.inRelease(inv.Release))
	return err
}

// WriteManifest records the migration state of the release together
// with where its code came from.
func (d *Deployer) WriteManifest(ctx context.Context, inv Invocation, f Fetched) error {
	status := d.manage(strings.Fields(d.Config.MigrationStatus)...)
	res, err := d.run(ctx, inv, status, d.inRelease(inv.Release), remote.Quiet())
	if err != nil {
		return err
	}
	migs, err := manifest.ParseMigrations(res.Stdout)
	if err != nil {
		return err
	}
	m := manifest.New(manifest.Release{
		App:  d.Config.AppName,
		Ref:  f.Ref,
		SHA:  f.SHA,
		Date: d.Now().UTC().Truncate(time.Second),
		Type: string(d.Config.Checkout.Method),
		By:   d.Operator,
	}, migs)
	data, err := manifest.Encode(m)
	if err != nil {
		return err
	}
	return d.Exec.Upload(ctx, inv.Host, bytes.NewReader(data), inv.ReleaseDir(manifest.FileName), 0o644)
}

// control applies verb to every process of the environment on inv.Host.
func (d *Deployer) control(ctx context.Context, inv Invocation, verb string) error {
	for _, p := range d.Config.Processes {
		service := d.Config.ServiceName(p.Name)
		args := provision.ControlCommand(d.Config, verb, service)
		cmd := remote.Cmd(args[0], args[1:]...)
		if verb == "restart" && d.Config.InitSystem == config.InitUpstart {
			// upstart refuses to restart a job that is not running.
			res, err := d.run(ctx, inv, cmd, remote.Sudo(), remote.WarnOnly())
			if err != nil {
				return err
			}
			if res.Succeeded() {
				continue
			}
			args = provision.ControlCommand(d.Config, "start", service)
			cmd = remote.Cmd(args[0], args[1:]...)
		}
		if _, err := d.run(ctx, inv, cmd, remote.Sudo()); err != nil {
			return fmt.Errorf("cannot %s %s: %w", verb, service, err)
		}
	}
	zap.L().Info("Controlled processes", zap.String("host", inv.Host), zap.String("verb", verb))
	return nil
}

// Start starts every process on every host.
func (d *Deployer) Start(ctx context.Context) error {
	return d.each(ctx, func(ctx context.Context, inv Invocation) error {
		return d.control(ctx, inv, "start")
	})
}

// Stop stops every process on every host.
func (d *Deployer) Stop(ctx context.Context) error {
	return d.each(ctx, func(ctx context.Context, inv Invocation) error {
		return d.control(ctx, inv, "stop")
	})
}

// Restart restarts every process on every host.
func (d *Deployer) Restart(ctx context.Context) error {
	return d.each(ctx, func(ctx context.Context, inv Invocation) error {
		return d.control(ctx, inv, "restart")
	})
}

// RunCommand runs a management command of the current release on the
// first host and returns its output.
func (d *Deployer) RunCommand(ctx context.Context, args ...string) (remote.Result, error) {
	if len(args) == 0 {
		return remote.Result{}, fmt.Errorf("no management command given")
	}
	return d.run(ctx, d.invocation(d.Config.Hosts[0], ""), d.manage(args...))
}
