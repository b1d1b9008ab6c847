package djdeploy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartcarnie/djdeploy/config"
	"github.com/stuartcarnie/djdeploy/manifest"
	"github.com/stuartcarnie/djdeploy/release"
	"github.com/stuartcarnie/djdeploy/remote"
	"github.com/stuartcarnie/djdeploy/remote/remotetest"
)

var deployTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

const deployID = "20240102030405"

const migrationListing = `
 shop
  (*) 0001_initial
  (*) 0002_add_price
 blog
  (*) 0001_initial
`

func testConfig(t testing.TB, extra map[string]string) *config.Config {
	t.Helper()
	env := map[string]string{
		"server_list": "web1, web2",
		"root":        "/srv/shop",
		"user":        "deploy",
	}
	for k, v := range extra {
		env[k] = v
	}
	cfg, err := config.Build("shop", "staging", &config.Sources{
		Global: map[string]string{
			"app_name":    "shop",
			"repo":        "git@example.com:shop.git",
			"server_name": "shop.example.com",
		},
		Env:       env,
		Processes: map[string]string{"web": ""},
	})
	require.NoError(t, err)
	return cfg
}

func newTestDeployer(t testing.TB, extra map[string]string) (*Deployer, *remotetest.Recorder) {
	rec := &remotetest.Recorder{}
	d := New(testConfig(t, extra), rec)
	d.Operator = "alice@laptop"
	d.Now = func() time.Time { return deployTime }
	return d, rec
}

// freshHost makes rec answer like a host that has been provisioned but
// never deployed to.
func freshHost(rec *remotetest.Recorder) {
	rec.On("test -d /srv/shop/shared/repo/.git", remotetest.Response{Status: 1})
	rec.On("test -e /srv/shop/releases/", remotetest.Response{Status: 1})
	rec.On("test -d /srv/shop/releases/"+deployID+"/doc", remotetest.Response{Status: 1})
	rec.On("git rev-parse", remotetest.Response{Stdout: "abc123\n"})
	rec.On("migrate --list", remotetest.Response{Stdout: migrationListing})
}

func TestDeployRunsStepsInOrder(t *testing.T) {
	d, rec := newTestDeployer(t, nil)
	freshHost(rec)

	id, err := d.Deploy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, release.ID(deployID), id)

	for _, host := range []string{"web1", "web2"} {
		order := []string{
			"mkdir /srv/shop/.deploy.lock",
			"mkdir -p /srv/shop /srv/shop/releases",
			"git clone -nq git@example.com:shop.git /srv/shop/shared/repo",
			"git archive abc123",
			"mv -T /srv/shop/releases/." + deployID + ".partial /srv/shop/releases/" + deployID,
			"ln -sfn /srv/shop/releases/" + deployID,
			"pip install -q -r requirements.txt",
			"collectstatic --noinput",
			"migrate --list",
			"/sbin/restart shop-web",
			"rm -rf /srv/shop/.deploy.lock",
		}
		last := -1
		for _, substr := range order {
			i := rec.Index(host, substr)
			require.True(t, i > last, "%s: %q out of order (at %d, previous at %d)", host, substr, i, last)
			last = i
		}
	}

	// The database is migrated from one host only.
	assert.True(t, rec.Index("web1", "migrate --no-initial-data") > rec.Index("web1", "collectstatic"))
	assert.True(t, rec.Index("web1", "syncdb --noinput") >= 0)
	assert.Equal(t, -1, rec.Index("web2", "migrate --no-initial-data"))

	up, ok := rec.Uploaded("web2", "/srv/shop/releases/"+deployID+"/manifest.cfg")
	require.True(t, ok)
	m, err := manifest.Decode([]byte(up.Data))
	require.NoError(t, err)
	assert.Equal(t, "origin/master", m.Release.Ref)
	assert.Equal(t, "abc123", m.Release.SHA)
	assert.Equal(t, "deploy_branch", m.Release.Type)
	assert.Equal(t, "alice@laptop", m.Release.By)
	assert.True(t, deployTime.Equal(m.Release.Date), "date %v", m.Release.Date)
	require.Len(t, m.Sections, 2)
	assert.Equal(t, "shop", m.Sections[0].App)
	assert.Equal(t, "blog", m.Sections[1].App)

	for _, c := range rec.Calls() {
		if strings.Contains(c.Cmd, "/sbin/restart") {
			assert.True(t, c.Config.Sudo, "restart must run with sudo")
		}
		if strings.Contains(c.Cmd, "pip install") {
			assert.Equal(t, "/srv/shop/.pip_cache", c.Config.Env["PIP_DOWNLOAD_CACHE"])
			assert.Equal(t, "/srv/shop/releases/"+deployID, c.Config.Dir)
		}
	}
}

func TestDeploySkipsSyncdb(t *testing.T) {
	d, rec := newTestDeployer(t, map[string]string{"skip_syncdb": "true"})
	freshHost(rec)
	_, err := d.Deploy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, rec.Index("web1", "syncdb"))
	assert.True(t, rec.Index("web1", "migrate --no-initial-data") >= 0)
}

func TestDeployTagStrategy(t *testing.T) {
	d, rec := newTestDeployer(t, map[string]string{"checkout_strategy": "deploy_tag:release"})
	freshHost(rec)
	rec.On("git tag -l", remotetest.Response{Stdout: "release-1.10\n"})

	_, err := d.Deploy(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.Index("web1", "git tag -l 'release-*' --sort=-v:refname | head -n1") >= 0)
	assert.True(t, rec.Index("web1", "git rev-parse --verify -q 'release-1.10^{commit}'") >= 0)

	up, ok := rec.Uploaded("web1", "/srv/shop/releases/"+deployID+"/manifest.cfg")
	require.True(t, ok)
	m, err := manifest.Decode([]byte(up.Data))
	require.NoError(t, err)
	assert.Equal(t, "release-1.10", m.Release.Ref)
	assert.Equal(t, "deploy_tag", m.Release.Type)
}

func TestDeployNoMatchingTag(t *testing.T) {
	d, rec := newTestDeployer(t, map[string]string{
		"server_list":       "web1",
		"checkout_strategy": "deploy_tag:release",
	})
	freshHost(rec)

	_, err := d.Deploy(context.Background())
	var se *StepError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "fetch", se.Step)
	assert.Equal(t, "web1", se.Host)
	assert.Equal(t, Provisioned, se.State)
	assert.Contains(t, err.Error(), `no tag matches "release-*"`)

	assert.Equal(t, -1, rec.Index("web1", "ln -sfn"))
	assert.True(t, rec.Index("web1", "rm -rf /srv/shop/.deploy.lock") >= 0, "lock must be released")
}

func TestDeployFailingStepAborts(t *testing.T) {
	d, rec := newTestDeployer(t, map[string]string{"server_list": "web1"})
	freshHost(rec)
	rec.On("pip install", remotetest.Response{Status: 1})

	_, err := d.Deploy(context.Background())
	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "install-dependencies", se.Step)
	assert.Equal(t, Linked, se.State)
	var ce *remote.CommandError
	assert.True(t, errors.As(err, &ce))

	assert.Equal(t, -1, rec.Index("web1", "collectstatic"))
	assert.Equal(t, -1, rec.Index("web1", "/sbin/restart"))
	assert.True(t, rec.Index("web1", "rm -rf /srv/shop/.deploy.lock") >= 0)
}

func TestDeployExistingReleaseFails(t *testing.T) {
	d, rec := newTestDeployer(t, map[string]string{"server_list": "web1"})
	freshHost(rec)
	rec.On("test -e /srv/shop/releases/"+deployID, remotetest.Response{})

	_, err := d.Deploy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "release "+deployID+" already exists")
	assert.Equal(t, -1, rec.Index("web1", "git archive"))
}

func TestDeployLockHeld(t *testing.T) {
	d, rec := newTestDeployer(t, nil)
	freshHost(rec)
	holder, err := release.NewLockOwner("bob@ci", "deploy", deployTime).Encode()
	require.NoError(t, err)
	rec.OnHost("web2", "mkdir /srv/shop/.deploy.lock", remotetest.Response{Status: 1})
	rec.OnHost("web2", "cat /srv/shop/.deploy.lock/owner", remotetest.Response{Stdout: string(holder)})

	_, err = d.Deploy(context.Background())
	var le *LockHeldError
	require.True(t, errors.As(err, &le), "got %v", err)
	assert.Equal(t, "web2", le.Host)
	assert.Equal(t, "bob@ci", le.Owner.Operator)
	assert.Contains(t, err.Error(), "deploy lock is held by bob@ci (deploy since 2024-01-02T03:04:05Z)")

	for _, host := range []string{"web1", "web2"} {
		assert.Equal(t, -1, rec.Index(host, "git "), "%s: nothing must run without the lock", host)
	}
	// The lock taken on web1 is given back, and web2's is left alone.
	assert.True(t, rec.Index("web1", "rm -rf /srv/shop/.deploy.lock") >= 0)
	assert.Equal(t, -1, rec.Index("web2", "rm -rf /srv/shop/.deploy.lock"))
}

func TestLockOwnerUploaded(t *testing.T) {
	d, rec := newTestDeployer(t, map[string]string{"server_list": "web1"})
	require.NoError(t, d.Setup(context.Background()))

	up, ok := rec.Uploaded("web1", "/srv/shop/.deploy.lock/owner")
	require.True(t, ok)
	owner := release.ParseLockOwner([]byte(up.Data))
	assert.Equal(t, "alice@laptop", owner.Operator)
	assert.Equal(t, "setup", owner.Operation)
	assert.NotEmpty(t, owner.Token)
	assert.True(t, rec.Index("web1", "grep -qF "+owner.Token) >= 0)
}

func TestUnlock(t *testing.T) {
	d, rec := newTestDeployer(t, nil)
	require.NoError(t, d.Unlock(context.Background()))
	for _, host := range []string{"web1", "web2"} {
		assert.Contains(t, rec.Commands(host), "rm -rf /srv/shop/.deploy.lock")
	}
}

// blockingExec blocks commands containing block until their context is
// done.
type blockingExec struct {
	*remotetest.Recorder
	block string
}

func (b blockingExec) Run(ctx context.Context, host string, cmd remote.Command, opts ...remote.RunOption) (remote.Result, error) {
	if strings.Contains(cmd.String(), b.block) {
		<-ctx.Done()
		return remote.Result{Host: host, ExitStatus: -1}, ctx.Err()
	}
	return b.Recorder.Run(ctx, host, cmd, opts...)
}

func TestStepTimeout(t *testing.T) {
	rec := &remotetest.Recorder{}
	freshHost(rec)
	cfg := testConfig(t, map[string]string{"server_list": "web1", "step_timeout": "20ms"})
	d := New(cfg, blockingExec{Recorder: rec, block: "pip install"})
	d.Now = func() time.Time { return deployTime }

	_, err := d.Deploy(context.Background())
	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "install-dependencies", se.Step)
	assert.Contains(t, err.Error(), "timed out after 20ms")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, rec.Index("web1", "rm -rf /srv/shop/.deploy.lock") >= 0)
}

func TestRestartFallsBackToStart(t *testing.T) {
	d, rec := newTestDeployer(t, map[string]string{"server_list": "web1"})
	rec.On("/sbin/restart shop-web", remotetest.Response{Status: 1})
	require.NoError(t, d.Restart(context.Background()))
	assert.Equal(t, []string{"/sbin/restart shop-web", "/sbin/start shop-web"}, rec.Commands("web1"))
}

func TestControlSystemd(t *testing.T) {
	d, rec := newTestDeployer(t, map[string]string{"server_list": "web1", "init_system": "systemd"})
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, []string{"/bin/systemctl stop shop-web"}, rec.Commands("web1"))
	assert.True(t, rec.Calls()[0].Config.Sudo)
}

func TestPostDeployRunsInRelease(t *testing.T) {
	d, rec := newTestDeployer(t, map[string]string{
		"server_list":      "web1",
		"post_deploy_list": "bin/run clearsessions, bin/run invalidate --all",
	})
	inv := d.invocation("web1", deployID)
	require.NoError(t, d.PostDeploy(context.Background(), inv))
	assert.Equal(t, []string{"bin/run clearsessions", "bin/run invalidate --all"}, rec.Commands("web1"))
	for _, c := range rec.Calls() {
		assert.Equal(t, "/srv/shop/releases/"+deployID, c.Config.Dir)
	}
}

func TestBuildDocs(t *testing.T) {
	d, rec := newTestDeployer(t, map[string]string{"server_list": "web1"})
	inv := d.invocation("web1", deployID)
	require.NoError(t, d.BuildDocs(context.Background(), inv))
	assert.Equal(t, []string{
		"test -d /srv/shop/releases/" + deployID + "/doc",
		"pip freeze | grep -qi sphinx || pip install -q sphinx",
		"sphinx-build -q -b html -d doc/_build/doctrees doc/ doc/_build/html",
	}, rec.Commands("web1"))
}

func TestRunCommand(t *testing.T) {
	d, rec := newTestDeployer(t, nil)
	rec.On("bin/run", remotetest.Response{Stdout: "ok\n"})
	res, err := d.RunCommand(context.Background(), "invalidate", "--all")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", res.Stdout)
	assert.Equal(t, []string{"/srv/shop/bin/run invalidate --all"}, rec.Commands("web1"))
	assert.Empty(t, rec.Commands("web2"))

	_, err = d.RunCommand(context.Background())
	assert.Error(t, err)
}
