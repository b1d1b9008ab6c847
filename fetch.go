package djdeploy

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/stuartcarnie/djdeploy/config"
	"github.com/stuartcarnie/djdeploy/manifest"
	"github.com/stuartcarnie/djdeploy/release"
	"github.com/stuartcarnie/djdeploy/remote"
)

// Fetched describes the code unpacked into a release.
type Fetched struct {
	// Ref is the branch, revision or tag that was resolved.
	Ref string
	SHA string
}

func (d *Deployer) repoDir() string {
	return d.Config.RootPath("shared", "repo")
}

// FetchRelease resolves the configured checkout strategy to a commit and
// unpacks that commit into the release directory of inv. The release
// directory only appears once it is complete.
func (d *Deployer) FetchRelease(ctx context.Context, inv Invocation) (Fetched, error) {
	repo := d.repoDir()
	inRepo := remote.Dir(repo)

	cloned, err := d.succeeds(ctx, inv, remote.Test("-d", path.Join(repo, ".git")))
	if err != nil {
		return Fetched{}, err
	}
	if !cloned {
		zap.L().Info("Cloning repository", zap.String("host", inv.Host), zap.String("repo", d.Config.Repo))
		if _, err := d.run(ctx, inv, remote.Cmd("git", "clone", "-nq", d.Config.Repo, repo)); err != nil {
			return Fetched{}, err
		}
	}
	if _, err := d.run(ctx, inv, remote.Cmd("git", "fetch", "-q", "origin"), inRepo); err != nil {
		return Fetched{}, err
	}
	if _, err := d.run(ctx, inv, remote.Cmd("git", "fetch", "-q", "--tags", "origin"), inRepo); err != nil {
		return Fetched{}, err
	}

	ref, err := d.resolveRef(ctx, inv)
	if err != nil {
		return Fetched{}, err
	}
	res, err := d.run(ctx, inv, remote.Cmd("git", "rev-parse", "--verify", "-q", ref+"^{commit}"), inRepo)
	if err != nil {
		return Fetched{}, fmt.Errorf("cannot resolve %q: %w", ref, err)
	}
	f := Fetched{Ref: ref, SHA: strings.TrimSpace(res.Stdout)}

	dir := inv.ReleaseDir()
	exists, err := d.succeeds(ctx, inv, remote.Test("-e", dir))
	if err != nil {
		return Fetched{}, err
	}
	if exists {
		return Fetched{}, fmt.Errorf("release %s already exists", inv.Release)
	}
	partial := d.Config.RootPath("releases", release.PartialName(inv.Release))
	if _, err := d.run(ctx, inv, remote.Cmd("rm", "-rf", partial).And(remote.Cmd("mkdir", "-p", partial))); err != nil {
		return Fetched{}, err
	}
	archive := remote.Cmd("git", "archive", f.SHA).Pipe(remote.Cmd("tar", "-C", partial, "-xf", "-"))
	if _, err := d.run(ctx, inv, archive, inRepo); err != nil {
		return Fetched{}, err
	}
	if _, err := d.run(ctx, inv, remote.Cmd("mv", "-T", partial, dir)); err != nil {
		return Fetched{}, err
	}
	zap.L().Info("Fetched release",
		zap.String("host", inv.Host),
		zap.Stringer("release", inv.Release),
		zap.String("ref", f.Ref),
		zap.String("sha", f.SHA))
	return f, nil
}

// resolveRef returns the git reference selected by the checkout
// strategy. For tags it is the highest version matching "<name>-*".
func (d *Deployer) resolveRef(ctx context.Context, inv Invocation) (string, error) {
	cs := d.Config.Checkout
	if cs.Method != config.DeployTag {
		return cs.Name, nil
	}
	pattern := cs.Name + "-*"
	cmd := remote.Cmd("git", "tag", "-l", pattern, "--sort=-v:refname").Pipe(remote.Cmd("head", "-n1"))
	res, err := d.run(ctx, inv, cmd, remote.Dir(d.repoDir()))
	if err != nil {
		return "", err
	}
	tag := strings.TrimSpace(res.Stdout)
	if tag == "" {
		return "", fmt.Errorf("no tag matches %q", pattern)
	}
	return tag, nil
}

// Cutover points current at release id. The new link is created beside
// current and renamed over it, so readers always see either the old or
// the new release.
func (d *Deployer) Cutover(ctx context.Context, inv Invocation, id release.ID) error {
	target := d.Config.RootPath("releases", string(id))
	tmp := d.Config.RootPath(".current." + string(id))
	cmd := remote.Cmd("ln", "-sfn", target, tmp).And(remote.Cmd("mv", "-T", tmp, d.Config.RootPath("current")))
	if _, err := d.run(ctx, inv, cmd); err != nil {
		return err
	}
	zap.L().Info("Switched current release", zap.String("host", inv.Host), zap.Stringer("release", id))
	return nil
}

// succeeds reports whether cmd exits with status zero.
func (d *Deployer) succeeds(ctx context.Context, inv Invocation, cmd remote.Command) (bool, error) {
	res, err := d.run(ctx, inv, cmd, remote.WarnOnly(), remote.Quiet())
	if err != nil {
		return false, err
	}
	return res.Succeeded(), nil
}

// listReleases returns the entries of the releases directory of
// inv.Host, or nil if it does not exist.
func (d *Deployer) listReleases(ctx context.Context, inv Invocation) ([]string, error) {
	res, err := d.run(ctx, inv, remote.Cmd("ls", "-1A", d.Config.RootPath("releases")), remote.WarnOnly(), remote.Quiet())
	if err != nil || !res.Succeeded() {
		return nil, err
	}
	return strings.Fields(res.Stdout), nil
}

// releases lists the complete releases on inv.Host.
func (d *Deployer) releases(ctx context.Context, inv Invocation) (release.Set, error) {
	names, err := d.listReleases(ctx, inv)
	if err != nil {
		return nil, err
	}
	return release.NewSet(names), nil
}

// current returns the release current points at on inv.Host, or "" if
// there is none.
func (d *Deployer) current(ctx context.Context, inv Invocation) (release.ID, error) {
	res, err := d.run(ctx, inv, remote.Cmd("readlink", d.Config.RootPath("current")), remote.WarnOnly(), remote.Quiet())
	if err != nil {
		return "", err
	}
	target := strings.TrimSpace(res.Stdout)
	if !res.Succeeded() || target == "" {
		return "", nil
	}
	id, err := release.ParseID(path.Base(target))
	if err != nil {
		return "", fmt.Errorf("current points at %q: %w", target, err)
	}
	return id, nil
}

// readManifest decodes the manifest of release id on inv.Host.
func (d *Deployer) readManifest(ctx context.Context, inv Invocation, id release.ID) (*manifest.Manifest, error) {
	p := d.Config.RootPath("releases", string(id), manifest.FileName)
	res, err := d.run(ctx, inv, remote.Cmd("cat", p), remote.Quiet())
	if err != nil {
		return nil, fmt.Errorf("cannot read manifest of release %s: %w", id, err)
	}
	m, err := manifest.Decode([]byte(res.Stdout))
	if err != nil {
		return nil, fmt.Errorf("release %s: %w", id, err)
	}
	return m, nil
}
