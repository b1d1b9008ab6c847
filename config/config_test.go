package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectCfg = `
[ALL_ENVIRONMENTS]
app_name = shop
repo = git@github.com:example/shop.git
server_name = shop.example.com
user = deploy
python_version = 2.7

[staging]
server_list = web1.example.com, web2.example.com
root = /srv/{app_name}-{env_name}
workers = 3
checkout_strategy = deploy_tag:release
post_deploy_list = bin/run clearsessions, bin/run invalidate --all

[staging:processes]
web =
celery = celery worker --app={app_name} --logfile={shared}/log/celery.log

[staging:cron]
sessions.schedule = @daily
sessions.command = {root}/bin/run clearsessions
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadINI(t *testing.T) {
	path := writeConfig(t, "shop.cfg", projectCfg)
	cfg, err := Load(Options{Env: "staging", Path: path})
	require.NoError(t, err)

	assert.Equal(t, "shop", cfg.Project)
	assert.Equal(t, "staging", cfg.EnvName)
	assert.Equal(t, "shop", cfg.AppName)
	assert.Equal(t, "deploy", cfg.User)
	assert.Equal(t, "/srv/shop-staging", cfg.Root)
	assert.Equal(t, []string{"web1.example.com", "web2.example.com"}, cfg.Hosts)
	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, 5, cfg.KeepReleases)
	assert.Equal(t, 30*time.Minute, cfg.StepTimeout)
	assert.Equal(t, CheckoutStrategy{Method: DeployTag, Name: "release"}, cfg.Checkout)
	assert.Equal(t, []string{"bin/run clearsessions", "bin/run invalidate --all"}, cfg.PostDeploy)
	assert.Equal(t, filepath.Dir(path), cfg.Dir)

	require.Len(t, cfg.Processes, 2)
	assert.Equal(t, Process{
		Name:    "celery",
		Command: "celery worker --app=shop --logfile=/srv/shop-staging/shared/log/celery.log",
	}, cfg.Processes[0])
	assert.Equal(t, "web", cfg.Processes[1].Name)
	assert.Equal(t, "gunicorn --settings=shop.settings --workers=3 "+
		"--error-logfile=/srv/shop-staging/shared/log/error.log "+
		"--pid=/srv/shop-staging/shared/run/gunicorn.pid "+
		"--bind=unix:/srv/shop-staging/shared/run/gunicorn.sock "+
		"shop.wsgi:application", cfg.Processes[1].Command)

	assert.Equal(t, []Schedule{{
		Name:    "sessions",
		Spec:    "@daily",
		Command: "/srv/shop-staging/bin/run clearsessions",
	}}, cfg.Schedules)

	var logDir Directory
	for _, d := range cfg.Directories {
		if d.Path == "shared/log" {
			logDir = d
		}
	}
	assert.Equal(t, Directory{Path: "shared/log", Mode: 0o770, Owner: "deploy:www-data"}, logDir)
}

func TestLoadMissingEnvironmentSection(t *testing.T) {
	path := writeConfig(t, "shop.cfg", projectCfg+"\n[ALL_ENVIRONMENTS]\nserver_list = web9\n")
	cfg, err := Load(Options{Env: "production", Path: path})
	require.NoError(t, err)
	assert.Equal(t, "/home/deploy", cfg.Root)
	assert.Equal(t, []string{"web9"}, cfg.Hosts)
	require.Len(t, cfg.Processes, 1)
	assert.Equal(t, "web", cfg.Processes[0].Name)
	assert.Empty(t, cfg.Schedules)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "shop.yaml", `
all_environments:
  app_name: shop
  repo: git@github.com:example/shop.git
  server_name: shop.example.com
  user: deploy
environments:
  production:
    settings:
      server_list: app1
      keep_releases: 3
      skip_syncdb: true
    processes:
      web: ""
`)
	cfg, err := Load(Options{Project: "shop", Env: "production", Path: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"app1"}, cfg.Hosts)
	assert.Equal(t, 3, cfg.KeepReleases)
	assert.True(t, cfg.SkipSyncdb)
	assert.Equal(t, "gunicorn --settings=shop.settings --error-logfile=/home/deploy/shared/log/error.log "+
		"--pid=/home/deploy/shared/run/gunicorn.pid --bind=unix:/home/deploy/shared/run/gunicorn.sock "+
		"shop.wsgi:application", cfg.Processes[0].Command)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, "shop.cfg", projectCfg)
	cfg, err := Load(Options{
		Env:       "staging",
		Path:      path,
		Overrides: map[string]string{"root": "/opt/{app_name}", "server_list": "localhost"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/opt/shop", cfg.Root)
	assert.Equal(t, []string{"localhost"}, cfg.Hosts)
	assert.Equal(t, "celery worker --app=shop --logfile=/opt/shop/shared/log/celery.log", cfg.Processes[0].Command)
}

func TestLoadNoEnvironmentSelected(t *testing.T) {
	_, err := Load(Options{Project: "shop"})
	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "no environment selected")
}

func TestLoadFindsFileInDeployConfigs(t *testing.T) {
	path := writeConfig(t, "shop.cfg", projectCfg)
	t.Setenv("DEPLOY_CONFIGS", filepath.Dir(path))
	cfg, err := Load(Options{Project: "shop", Env: "staging"})
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.AppName)
}

var buildErrorTests = []struct {
	testName string
	env      map[string]string
	wantErr  string
}{{
	testName: "MissingRequiredKey",
	env:      map[string]string{"repo": ""},
	wantErr:  "configuration error: repo must not be empty",
}, {
	testName: "InvalidStrategy",
	env:      map[string]string{"checkout_strategy": "deploy_latest:main"},
	wantErr:  `configuration error: invalid deployment strategy "deploy_latest"`,
}, {
	testName: "UnknownInitSystem",
	env:      map[string]string{"init_system": "runit"},
	wantErr:  `configuration error: unknown init_system "runit"`,
}, {
	testName: "RelativeRoot",
	env:      map[string]string{"root": "srv/shop"},
	wantErr:  `configuration error: root "srv/shop" must be an absolute path`,
}, {
	testName: "InjectedServerName",
	env:      map[string]string{"server_name": "shop.example.com; rm -rf /"},
	wantErr:  `configuration error: server_name .* contains invalid characters`,
}, {
	testName: "BadPort",
	env:      map[string]string{"port": "ssh"},
	wantErr:  `configuration error: port: "ssh" is not an integer`,
}, {
	testName: "ZeroKeep",
	env:      map[string]string{"keep_releases": "0"},
	wantErr:  `configuration error: keep_releases must be at least 1, got 0`,
}}

func TestBuildErrors(t *testing.T) {
	for _, test := range buildErrorTests {
		t.Run(test.testName, func(t *testing.T) {
			src := &Sources{
				Global: map[string]string{
					"app_name":    "shop",
					"repo":        "git@example.com:shop.git",
					"server_name": "shop.example.com",
					"server_list": "web1",
					"user":        "deploy",
				},
				Env: test.env,
			}
			_, err := Build("shop", "staging", src)
			require.Error(t, err)
			assert.Regexp(t, "^"+test.wantErr, err.Error())
			var ce *ConfigurationError
			assert.True(t, errors.As(err, &ce))
		})
	}
}

func TestBuildInvalidCron(t *testing.T) {
	src := &Sources{
		Global: map[string]string{
			"app_name":    "shop",
			"repo":        "git@example.com:shop.git",
			"server_name": "shop.example.com",
			"server_list": "web1",
			"user":        "deploy",
		},
		Cron: map[string]ScheduleSource{"bad": {Schedule: "every tuesday", Command: "x"}},
	}
	_, err := Build("shop", "staging", src)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `cron entry "bad"`)
}

func TestConfigPaths(t *testing.T) {
	cfg := &Config{Root: "/srv/shop", AppName: "shop", EnvName: "staging"}
	assert.Equal(t, "/srv/shop/shared/config", cfg.RootPath("shared", "config"))
	assert.Equal(t, "/srv/shop/releases/20240101000000/manifest.cfg", cfg.RootPath("releases/20240101000000", "manifest.cfg"))
	assert.Equal(t, "/srv/shop/shared/system/bin/pip", cfg.VirtualenvPath("bin", "pip"))
	assert.Equal(t, "shop-web", cfg.ServiceName("web"))
	assert.Equal(t, "shop-staging", cfg.SiteName())
}
