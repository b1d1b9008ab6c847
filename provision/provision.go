// Package provision prepares a host to receive releases: directory
// layout, virtual environment, init-system units, web server and cron
// configuration.
//
// Every step may be run again safely.
package provision

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/stuartcarnie/djdeploy/config"
	"github.com/stuartcarnie/djdeploy/remote"
)

// distPackageGlobs maps the names accepted in dist_packages_list to the
// entries linked from the system site directory. Unknown names are used
// as globs themselves.
var distPackageGlobs = map[string][]string{
	"psycopg2": {"psycopg2", "psycopg2-*.egg-info"},
	"lxml":     {"lxml", "lxml-*.egg-info"},
	"imaging":  {"PIL", "PIL.pth"},
	"mysqldb":  {"MySQLdb", "MySQL_python-*.egg-info", "_mysql*"},
}

// Provisioner runs provisioning steps for one environment.
type Provisioner struct {
	Config *config.Config
	Exec   remote.Executor
}

// New returns a Provisioner.
func New(cfg *config.Config, exec remote.Executor) *Provisioner {
	return &Provisioner{Config: cfg, Exec: exec}
}

func (p *Provisioner) run(ctx context.Context, host string, cmd remote.Command, opts ...remote.RunOption) (remote.Result, error) {
	return p.Exec.Run(ctx, host, cmd, opts...)
}

// exists reports whether test succeeds on host.
func (p *Provisioner) exists(ctx context.Context, host string, test remote.Command, opts ...remote.RunOption) (bool, error) {
	res, err := p.run(ctx, host, test, append(opts, remote.WarnOnly(), remote.Quiet())...)
	if err != nil {
		return false, err
	}
	return res.Succeeded(), nil
}

// Provision runs every step needed before a release can be deployed.
func (p *Provisioner) Provision(ctx context.Context, host string) error {
	steps := []struct {
		name string
		fn   func(context.Context, string) error
	}{
		{"create directories", p.CreateDirectories},
		{"ensure virtualenv", func(ctx context.Context, host string) error {
			return p.EnsureVirtualenv(ctx, host, false)
		}},
		{"write init configs", p.WriteInitConfigs},
		{"write nginx configs", p.WriteNginxConfigs},
		{"write binstub", p.WriteBinstub},
		{"write crontab", p.WriteCrontab},
	}
	for _, s := range steps {
		if err := s.fn(ctx, host); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	if p.Config.CanSudo && p.Config.CopyUpstartConfig {
		if err := p.InstallInitConfigs(ctx, host); err != nil {
			return fmt.Errorf("install init configs: %w", err)
		}
	}
	return nil
}

// CreateDirectories creates the directory layout under the root and
// applies its modes and owners.
func (p *Provisioner) CreateDirectories(ctx context.Context, host string) error {
	cfg := p.Config
	dirs := []string{cfg.Root}
	for _, d := range cfg.Directories {
		dirs = append(dirs, cfg.RootPath(d.Path))
	}
	if _, err := p.run(ctx, host, remote.Cmd("mkdir", "-p").Arg(dirs...)); err != nil {
		return err
	}
	for _, d := range cfg.Directories {
		if d.Mode != 0 {
			mode := strconv.FormatUint(uint64(d.Mode.Perm()), 8)
			if _, err := p.run(ctx, host, remote.Cmd("chmod", mode, cfg.RootPath(d.Path))); err != nil {
				return err
			}
		}
		if d.Owner != "" {
			if _, err := p.run(ctx, host, remote.Cmd("chown", d.Owner, cfg.RootPath(d.Path))); err != nil {
				return err
			}
		}
	}
	return nil
}

// EnsureVirtualenv creates the virtual environment unless it already
// exists. With recreate set an existing one is removed first. A new
// environment gets the system packages linked in.
func (p *Provisioner) EnsureVirtualenv(ctx context.Context, host string, recreate bool) error {
	cfg := p.Config
	venv := cfg.VirtualenvPath()
	ok, err := p.exists(ctx, host, remote.Test("-d", cfg.VirtualenvPath("bin")))
	if err != nil {
		return err
	}
	if ok && !recreate {
		return nil
	}
	if ok {
		zap.L().Info("Removing virtualenv", zap.String("host", host), zap.String("path", venv))
		if _, err := p.run(ctx, host, remote.Cmd("rm", "-rf", venv)); err != nil {
			return err
		}
	}
	cmd := remote.Cmd("virtualenv", "--python=python"+cfg.PythonVersion)
	if cfg.SitePackages {
		cmd = cmd.Arg("--system-site-packages")
	}
	if _, err := p.run(ctx, host, cmd.Arg(venv)); err != nil {
		return err
	}
	return p.LinkDistPackages(ctx, host)
}

// LinkDistPackages links selected system Python packages into the
// virtual environment. Failure is logged, not returned.
func (p *Provisioner) LinkDistPackages(ctx context.Context, host string) error {
	cfg := p.Config
	if len(cfg.DistPackages) == 0 {
		return nil
	}
	py := "python" + cfg.PythonVersion
	cmd := remote.Cmd("find", path.Join("/usr/lib", py, "dist-packages"), "-maxdepth", "1", "(")
	for i, name := range cfg.DistPackages {
		globs, ok := distPackageGlobs[name]
		if !ok {
			globs = []string{name}
		}
		for j, g := range globs {
			if i > 0 || j > 0 {
				cmd = cmd.Arg("-o")
			}
			cmd = cmd.Arg("-name", g)
		}
	}
	site := cfg.VirtualenvPath("lib", py, "site-packages")
	cmd = cmd.Arg(")", "-exec", "ln", "-sf", "{}", site, ";")
	_, err := p.run(ctx, host, cmd, remote.WarnOnly())
	return err
}

// WriteInitConfigs writes one unit per process into shared/init.
func (p *Provisioner) WriteInitConfigs(ctx context.Context, host string) error {
	files, err := InitConfigs(p.Config)
	if err != nil {
		return err
	}
	return p.writeFiles(ctx, host, files...)
}

// WriteNginxConfigs writes the web server site files into shared/config.
func (p *Provisioner) WriteNginxConfigs(ctx context.Context, host string) error {
	files, err := NginxConfigs(p.Config)
	if err != nil {
		return err
	}
	return p.writeFiles(ctx, host, files...)
}

// WriteBinstub writes bin/run.
func (p *Provisioner) WriteBinstub(ctx context.Context, host string) error {
	f, err := Binstub(p.Config)
	if err != nil {
		return err
	}
	return p.writeFiles(ctx, host, f)
}

// WriteCrontab writes and installs the deploy user's crontab. Nothing is
// installed when no schedules are configured, leaving any existing
// crontab alone.
func (p *Provisioner) WriteCrontab(ctx context.Context, host string) error {
	if len(p.Config.Schedules) == 0 {
		return nil
	}
	f, err := Crontab(p.Config)
	if err != nil {
		return err
	}
	if err := p.writeFiles(ctx, host, f); err != nil {
		return err
	}
	_, err = p.run(ctx, host, remote.Cmd("crontab", f.Path))
	return err
}

// InstallInitConfigs copies the generated units into the system init
// directory.
func (p *Provisioner) InstallInitConfigs(ctx context.Context, host string, opts ...remote.RunOption) error {
	cfg := p.Config
	cp := remote.Cmd("/bin/cp").Glob(cfg.RootPath("shared", "init"), cfg.AppName+"-*").Arg(InitDir(cfg) + "/")
	if _, err := p.run(ctx, host, cp, append(opts, remote.Sudo())...); err != nil {
		return err
	}
	if cfg.InitSystem == config.InitSystemd {
		_, err := p.run(ctx, host, remote.Cmd("/bin/systemctl", "daemon-reload"), append(opts, remote.Sudo())...)
		return err
	}
	return nil
}

// sshConfigEntry disables strict host key checking for host.
func sshConfigEntry(host string) string {
	return "Host " + host + "\n    StrictHostKeyChecking no"
}

// ConfigureSSHTrust lets the deploy user fetch from the configured code
// hosts without an interactive host key prompt.
func (p *Provisioner) ConfigureSSHTrust(ctx context.Context, host string) error {
	if len(p.Config.SSHTrustHosts) == 0 {
		return nil
	}
	if _, err := p.run(ctx, host, remote.Raw(`mkdir -p "$HOME/.ssh" && chmod 700 "$HOME/.ssh" && touch "$HOME/.ssh/config"`)); err != nil {
		return err
	}
	for _, h := range p.Config.SSHTrustHosts {
		ok, err := p.exists(ctx, host, remote.Raw(`grep -qxF `+shellescape.Quote("Host "+h)+` "$HOME/.ssh/config"`))
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		cmd := remote.Raw(`printf '%s\n' ` + shellescape.Quote(sshConfigEntry(h)) + ` >> "$HOME/.ssh/config"`)
		if _, err := p.run(ctx, host, cmd); err != nil {
			return err
		}
	}
	return nil
}

// Check verifies the host has what a deployment needs. All problems are
// reported together.
func (p *Provisioner) Check(ctx context.Context, host string) error {
	var result *multierror.Error
	for _, name := range p.Config.RequiredCommands {
		ok, err := p.exists(ctx, host, remote.Cmd("command", "-v", name))
		if err != nil {
			return err
		}
		if !ok {
			result = multierror.Append(result, fmt.Errorf("%s: missing %q executable", host, name))
		}
	}
	ok, err := p.inWebGroup(ctx, host)
	if err != nil {
		return err
	}
	if !ok {
		result = multierror.Append(result, fmt.Errorf("%s: user %q is not in the %q group", host, p.Config.User, p.Config.WebGroup))
	}
	return result.ErrorOrNil()
}

func (p *Provisioner) inWebGroup(ctx context.Context, host string, opts ...remote.RunOption) (bool, error) {
	res, err := p.run(ctx, host, remote.Cmd("id", "-nG", p.Config.User), append(opts, remote.WarnOnly(), remote.Quiet())...)
	if err != nil || !res.Succeeded() {
		return false, err
	}
	for _, g := range strings.Fields(res.Stdout) {
		if g == p.Config.WebGroup {
			return true, nil
		}
	}
	return false, nil
}

// Purge removes the whole application tree.
func (p *Provisioner) Purge(ctx context.Context, host string) error {
	cfg := p.Config
	targets := []string{"current", "shared"}
	for _, d := range cfg.Directories {
		targets = append(targets, d.Path)
	}
	_, err := p.run(ctx, host, remote.Cmd("rm", "-rf").Arg(targets...), remote.Dir(cfg.Root))
	return err
}

// SecretsPath is where the environment's secrets are read from locally.
func SecretsPath(cfg *config.Config) string {
	return path.Join("config", "secrets", cfg.AppName, cfg.EnvName+".cfg")
}

// PutSecrets uploads the local secrets file to shared/secrets/environ.cfg,
// readable only by the deploy user.
func (p *Provisioner) PutSecrets(ctx context.Context, host, local string) error {
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	return p.Exec.Upload(ctx, host, bytes.NewReader(data), p.Config.RootPath("shared", "secrets", "environ.cfg"), 0o600)
}

// GrantWebGroup adds the deploy user to the web server group, connecting
// as admin.
func (p *Provisioner) GrantWebGroup(ctx context.Context, host, admin string) error {
	ok, err := p.inWebGroup(ctx, host, remote.LoginAs(admin))
	if err != nil || ok {
		return err
	}
	_, err = p.run(ctx, host, remote.Cmd("usermod", "-a", "-G", p.Config.WebGroup, p.Config.User),
		remote.LoginAs(admin), remote.Sudo())
	return err
}

// AppendSudoers grants the deploy user control of its services,
// connecting as admin.
func (p *Provisioner) AppendSudoers(ctx context.Context, host, admin string) error {
	lines, err := SudoersLines(p.Config)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := p.run(ctx, host, remote.AppendLine("/etc/sudoers", l), remote.LoginAs(admin), remote.Sudo()); err != nil {
			return err
		}
	}
	return nil
}

// writeFiles uploads files whose content differs from what is on host.
func (p *Provisioner) writeFiles(ctx context.Context, host string, files ...File) error {
	for _, f := range files {
		sum := sha256.Sum256(f.Data)
		res, err := p.run(ctx, host, remote.Cmd("sha256sum", f.Path), remote.WarnOnly(), remote.Quiet())
		if err != nil {
			return err
		}
		if res.Succeeded() && strings.HasPrefix(res.Stdout, hex.EncodeToString(sum[:])+" ") {
			continue
		}
		if err := p.Exec.Upload(ctx, host, bytes.NewReader(f.Data), f.Path, os.FileMode(f.Mode)); err != nil {
			return fmt.Errorf("cannot write %s: %w", f.Path, err)
		}
	}
	return nil
}
