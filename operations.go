package djdeploy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/stuartcarnie/djdeploy/manifest"
	"github.com/stuartcarnie/djdeploy/provision"
	"github.com/stuartcarnie/djdeploy/release"
	"github.com/stuartcarnie/djdeploy/remote"
	"github.com/stuartcarnie/djdeploy/rollback"
)

// Previous names the release before the current one as a rollback
// target.
const Previous = "previous"

func (d *Deployer) provisionSteps() []step {
	return []step{{
		name:  "provision",
		state: Provisioned,
		run: func(ctx context.Context, inv Invocation) error {
			return d.Provisioner.Provision(ctx, inv.Host)
		},
	}, {
		name:  "configure-ssh-trust",
		state: Provisioned,
		run: func(ctx context.Context, inv Invocation) error {
			return d.Provisioner.ConfigureSSHTrust(ctx, inv.Host)
		},
	}}
}

// Setup provisions every host. It may be run any number of times.
func (d *Deployer) Setup(ctx context.Context) error {
	return d.withLock(ctx, "setup", func(ctx context.Context) error {
		return d.pipeline(ctx, "setup", "", Unprovisioned, d.provisionSteps()...)
	})
}

// RecreateVirtualenv replaces the virtualenv of every host with a new
// one.
func (d *Deployer) RecreateVirtualenv(ctx context.Context) error {
	return d.withLock(ctx, "recreate-virtualenv", func(ctx context.Context) error {
		return d.pipeline(ctx, "recreate-virtualenv", "", Unprovisioned, step{
			name:  "recreate-virtualenv",
			state: Provisioned,
			run: func(ctx context.Context, inv Invocation) error {
				return d.Provisioner.EnsureVirtualenv(ctx, inv.Host, true)
			},
		})
	})
}

// Deploy deploys a new release to every host and returns its ID.
func (d *Deployer) Deploy(ctx context.Context) (release.ID, error) {
	id := release.NewID(d.Now())
	var fetched sync.Map
	steps := append(d.provisionSteps(), []step{{
		name:  "fetch",
		state: CodeFetched,
		run: func(ctx context.Context, inv Invocation) error {
			f, err := d.FetchRelease(ctx, inv)
			if err != nil {
				return err
			}
			fetched.Store(inv.Host, f)
			return nil
		},
	}, {
		name:  "cutover",
		state: Linked,
		run: func(ctx context.Context, inv Invocation) error {
			return d.Cutover(ctx, inv, inv.Release)
		},
	}, {
		name:  "install-dependencies",
		state: DependenciesInstalled,
		run:   d.InstallDependencies,
	}, {
		name:  "post-deploy",
		state: DependenciesInstalled,
		run:   d.PostDeploy,
	}, {
		name:  "precompile-assets",
		state: DependenciesInstalled,
		run:   d.PrecompileAssets,
	}, {
		name:  "build-docs",
		state: DependenciesInstalled,
		run:   d.BuildDocs,
	}, {
		name:  "run-migrations",
		state: Migrated,
		once:  true,
		run:   d.RunMigrations,
	}, {
		name:  "write-manifest",
		state: ManifestWritten,
		run: func(ctx context.Context, inv Invocation) error {
			f, _ := fetched.Load(inv.Host)
			return d.WriteManifest(ctx, inv, f.(Fetched))
		},
	}, {
		name:  "restart",
		state: Running,
		run: func(ctx context.Context, inv Invocation) error {
			return d.control(ctx, inv, "restart")
		},
	}}...)

	zap.L().Info("Deploying release", zap.Stringer("release", id), zap.Stringer("checkout", d.Config.Checkout))
	err := d.withLock(ctx, "deploy", func(ctx context.Context) error {
		return d.pipeline(ctx, "deploy", id, Unprovisioned, steps...)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// RollbackPlan describes a rollback of one host.
type RollbackPlan struct {
	Host string
	From release.ID
	To   release.ID
	// Steps are the migrations to run, using the code of From.
	Steps []rollback.Step
}

// PlanRollback works out how inv.Host would be rolled back to target,
// which is a release ID or Previous. Nothing is changed on the host.
func (d *Deployer) PlanRollback(ctx context.Context, inv Invocation, target string) (RollbackPlan, error) {
	set, err := d.releases(ctx, inv)
	if err != nil {
		return RollbackPlan{}, err
	}
	cur, err := d.current(ctx, inv)
	if err != nil {
		return RollbackPlan{}, err
	}
	if cur == "" {
		return RollbackPlan{}, &MissingReleaseError{Host: inv.Host, Release: "current"}
	}
	p := RollbackPlan{Host: inv.Host, From: cur}
	switch target {
	case "", Previous:
		prev, ok := set.Before(cur)
		if !ok {
			return RollbackPlan{}, &MissingReleaseError{Host: inv.Host, Release: Previous}
		}
		p.To = prev
	default:
		id, err := release.ParseID(target)
		if err != nil || !set.Contains(id) {
			return RollbackPlan{}, &MissingReleaseError{Host: inv.Host, Release: target}
		}
		switch {
		case id == cur:
			return RollbackPlan{}, fmt.Errorf("%s: release %s is already current", inv.Host, id)
		case id > cur:
			return RollbackPlan{}, fmt.Errorf("%s: release %s is newer than current release %s", inv.Host, id, cur)
		}
		p.To = id
	}
	from, err := d.readManifest(ctx, inv, p.From)
	if err != nil {
		return RollbackPlan{}, err
	}
	to, err := d.readManifest(ctx, inv, p.To)
	if err != nil {
		return RollbackPlan{}, err
	}
	if p.Steps, err = rollback.Plan(from, to); err != nil {
		return RollbackPlan{}, err
	}
	return p, nil
}

// migrateBack runs the migrations of p using the code of the release
// being rolled back from, which still knows how to reverse them.
func (d *Deployer) migrateBack(ctx context.Context, inv Invocation, p RollbackPlan) error {
	for _, s := range p.Steps {
		zap.L().Info("Reversing migrations", zap.String("host", inv.Host), zap.Stringer("target", s))
		if _, err := d.run(ctx, inv, d.manage("migrate", s.App, s.Version), d.inRelease(p.From)); err != nil {
			return err
		}
	}
	return nil
}

// Rollback switches every host back to target, which is a release ID or
// Previous ("" means Previous), and reverses the schema migrations added
// since. Every plan is computed before any host is switched. The plans
// carried out are returned in host order.
func (d *Deployer) Rollback(ctx context.Context, target string) ([]RollbackPlan, error) {
	var plans sync.Map
	plan := func(inv Invocation) RollbackPlan {
		p, _ := plans.Load(inv.Host)
		return p.(RollbackPlan)
	}
	err := d.withLock(ctx, "rollback", func(ctx context.Context) error {
		return d.pipeline(ctx, "rollback", "", Running, step{
			name:  "plan-rollback",
			state: Running,
			run: func(ctx context.Context, inv Invocation) error {
				p, err := d.PlanRollback(ctx, inv, target)
				if err != nil {
					return err
				}
				zap.L().Info("Planned rollback",
					zap.String("host", inv.Host),
					zap.Stringer("from", p.From),
					zap.Stringer("to", p.To),
					zap.Int("migrations", len(p.Steps)))
				plans.Store(inv.Host, p)
				return nil
			},
		}, step{
			name:  "cutover",
			state: Linked,
			run: func(ctx context.Context, inv Invocation) error {
				return d.Cutover(ctx, inv, plan(inv).To)
			},
		}, step{
			name:  "migrate-back",
			state: MigratedBack,
			once:  true,
			run: func(ctx context.Context, inv Invocation) error {
				return d.migrateBack(ctx, inv, plan(inv))
			},
		}, step{
			name:  "restart",
			state: Running,
			run: func(ctx context.Context, inv Invocation) error {
				return d.control(ctx, inv, "restart")
			},
		})
	})
	if err != nil {
		return nil, err
	}
	result := make([]RollbackPlan, len(d.Config.Hosts))
	for i, host := range d.Config.Hosts {
		result[i] = plan(Invocation{Host: host})
	}
	return result, nil
}

// Pruned lists the releases removed from a host.
type Pruned struct {
	Host    string
	Deleted []release.ID
	// Partials are releases whose fetch failed halfway.
	Partials []release.ID
}

// Prune removes all but the keep newest releases from every host. The
// release current points at is never removed. Directories left by failed
// fetches are removed too: fetches only run under the deploy lock, so
// none can be in progress.
func (d *Deployer) Prune(ctx context.Context, keep int) ([]Pruned, error) {
	if keep < 1 {
		return nil, fmt.Errorf("keep must be at least 1, got %d", keep)
	}
	result := make([]Pruned, len(d.Config.Hosts))
	err := d.withLock(ctx, "prune", func(ctx context.Context) error {
		return d.eachIndexed(ctx, func(ctx context.Context, i int, inv Invocation) error {
			names, err := d.listReleases(ctx, inv)
			if err != nil {
				return err
			}
			cur, err := d.current(ctx, inv)
			if err != nil {
				return err
			}
			p := Pruned{
				Host:     inv.Host,
				Deleted:  release.NewSet(names).Prune(cur, keep),
				Partials: release.Partials(names),
			}
			result[i] = p
			if len(p.Deleted) == 0 && len(p.Partials) == 0 {
				return nil
			}
			cmd := remote.Cmd("rm", "-rf")
			for _, id := range p.Deleted {
				cmd = cmd.Arg(d.Config.RootPath("releases", string(id)))
			}
			for _, id := range p.Partials {
				cmd = cmd.Arg(d.Config.RootPath("releases", release.PartialName(id)))
			}
			if _, err := d.run(ctx, inv, cmd); err != nil {
				return err
			}
			zap.L().Info("Pruned releases",
				zap.String("host", inv.Host),
				zap.Int("deleted", len(p.Deleted)),
				zap.Int("partials", len(p.Partials)))
			return nil
		})
	})
	return result, err
}

// HostReleases lists the releases present on a host.
type HostReleases struct {
	Host     string
	Current  release.ID
	Releases release.Set
}

// Releases lists the releases on every host, which are the possible
// rollback targets.
func (d *Deployer) Releases(ctx context.Context) ([]HostReleases, error) {
	result := make([]HostReleases, len(d.Config.Hosts))
	err := d.eachIndexed(ctx, func(ctx context.Context, i int, inv Invocation) error {
		set, err := d.releases(ctx, inv)
		if err != nil {
			return err
		}
		cur, err := d.current(ctx, inv)
		if err != nil {
			return err
		}
		result[i] = HostReleases{Host: inv.Host, Current: cur, Releases: set}
		return nil
	})
	return result, err
}

// HostInfo describes the release running on a host.
type HostInfo struct {
	Host     string
	Current  release.ID
	Manifest *manifest.Manifest
	// Previous is the release a rollback would return to, if any.
	Previous release.ID
}

// Info reports the current release of every host.
func (d *Deployer) Info(ctx context.Context) ([]HostInfo, error) {
	result := make([]HostInfo, len(d.Config.Hosts))
	err := d.eachIndexed(ctx, func(ctx context.Context, i int, inv Invocation) error {
		cur, err := d.current(ctx, inv)
		if err != nil {
			return err
		}
		if cur == "" {
			return &MissingReleaseError{Host: inv.Host, Release: "current"}
		}
		m, err := d.readManifest(ctx, inv, cur)
		if err != nil {
			return err
		}
		set, err := d.releases(ctx, inv)
		if err != nil {
			return err
		}
		info := HostInfo{Host: inv.Host, Current: cur, Manifest: m}
		if prev, ok := set.Before(cur); ok {
			info.Previous = prev
		}
		result[i] = info
		return nil
	})
	return result, err
}

// Check verifies that every host has what a deployment needs.
func (d *Deployer) Check(ctx context.Context) error {
	return d.each(ctx, func(ctx context.Context, inv Invocation) error {
		return d.Provisioner.Check(ctx, inv.Host)
	})
}

// Purge removes the application from every host.
func (d *Deployer) Purge(ctx context.Context) error {
	return d.withLock(ctx, "purge", func(ctx context.Context) error {
		return d.each(ctx, func(ctx context.Context, inv Invocation) error {
			return d.Provisioner.Purge(ctx, inv.Host)
		})
	})
}

// SecretsFile returns the local secrets file of the environment.
func (d *Deployer) SecretsFile() string {
	return filepath.Join(d.Config.Dir, filepath.FromSlash(provision.SecretsPath(d.Config)))
}

// PutSecrets uploads the local secrets file to every host.
func (d *Deployer) PutSecrets(ctx context.Context) error {
	local := d.SecretsFile()
	return d.each(ctx, func(ctx context.Context, inv Invocation) error {
		return d.Provisioner.PutSecrets(ctx, inv.Host, local)
	})
}

// ConfigureServer prepares every host for its first deployment using an
// administrative account: the deploy user joins the web group and may
// control its services, then the host is provisioned and the init
// configuration installed.
func (d *Deployer) ConfigureServer(ctx context.Context, admin string) error {
	if admin == "" {
		return fmt.Errorf("no administrative user given")
	}
	return d.withLock(ctx, "configure-server", func(ctx context.Context) error {
		steps := []step{{
			name:  "grant-web-group",
			state: Unprovisioned,
			run: func(ctx context.Context, inv Invocation) error {
				return d.Provisioner.GrantWebGroup(ctx, inv.Host, admin)
			},
		}, {
			name:  "append-sudoers",
			state: Unprovisioned,
			run: func(ctx context.Context, inv Invocation) error {
				return d.Provisioner.AppendSudoers(ctx, inv.Host, admin)
			},
		}}
		steps = append(steps, d.provisionSteps()...)
		steps = append(steps, step{
			name:  "install-init-configs",
			state: Provisioned,
			run: func(ctx context.Context, inv Invocation) error {
				return d.Provisioner.InstallInitConfigs(ctx, inv.Host, remote.LoginAs(admin))
			},
		})
		return d.pipeline(ctx, "configure-server", "", Unprovisioned, steps...)
	})
}

// eachIndexed is like each but also passes the index of the host in the
// configuration, for collecting ordered results.
func (d *Deployer) eachIndexed(ctx context.Context, fn func(ctx context.Context, i int, inv Invocation) error) error {
	index := make(map[string]int, len(d.Config.Hosts))
	for i, h := range d.Config.Hosts {
		index[h] = i
	}
	return d.each(ctx, func(ctx context.Context, inv Invocation) error {
		return fn(ctx, index[inv.Host], inv)
	})
}
