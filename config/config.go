package config

import (
	"errors"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// Init systems for which process units can be generated.
const (
	InitUpstart = "upstart"
	InitSystemd = "systemd"
)

// Options selects the environment to load.
type Options struct {
	Project string
	Env     string
	// Path overrides the configuration file lookup.
	Path string
	// Overrides replace values read from the file.
	Overrides map[string]string
}

// Config is the fully resolved, immutable configuration of one
// environment of one project.
type Config struct {
	Project           string
	EnvName           string
	AppName           string
	User              string
	Root              string
	Hosts             []string
	Port              int
	Repo              string
	ServerName        string
	PythonVersion     string
	SitePackages      bool
	SkipSyncdb        bool
	CanSudo           bool
	CopyUpstartConfig bool
	Workers           string
	Checkout          CheckoutStrategy
	KeepReleases      int
	StepTimeout       time.Duration
	InitSystem        string
	WebGroup          string
	SSHTrustHosts     []string
	DistPackages      []string
	RequiredCommands  []string
	PostDeploy        []string
	// MigrationStatus is the management command listing migrations.
	MigrationStatus string
	Processes       []Process
	Schedules       []Schedule
	Directories     []Directory

	// Values holds the resolved key/value table the fields were read
	// from, for templates that need arbitrary keys.
	Values Values

	// Dir is the directory holding the configuration file; secrets are
	// read relative to it.
	Dir string
}

// Defaults returns the default table, consulted only for absent keys.
func Defaults() map[string]string {
	return map[string]string{
		"user":                     currentUser(),
		"root":                     "/home/{user}",
		"skip_syncdb":              "false",
		"python_version":           "2.7",
		"site_packages":            "false",
		"copy_upstart_config":      "true",
		"can_sudo":                 "false",
		"workers":                  "",
		"checkout_strategy":        "deploy_branch:origin/master",
		"port":                     "22",
		"keep_releases":            "5",
		"step_timeout":             "30m",
		"init_system":              InitUpstart,
		"web_group":                "www-data",
		"ssh_trust_hosts_list":     "github.com",
		"dist_packages_list":       "psycopg2, lxml, imaging, mysqldb",
		"required_commands_list":   "virtualenv, git",
		"post_deploy_list":         "",
		"migration_status_command": "migrate --list",
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// Load finds, reads and resolves the configuration selected by opts.
func Load(opts Options) (*Config, error) {
	if opts.Env == "" || (opts.Project == "" && opts.Path == "") {
		return nil, configErrorf("no environment selected, pass --project and --env first")
	}
	file := opts.Path
	if file == "" {
		var err error
		if file, err = FindFile(opts.Project); err != nil {
			return nil, err
		}
	}
	src, err := ReadSources(file, opts.Env)
	if err != nil {
		return nil, err
	}
	src.Overrides = opts.Overrides
	project := opts.Project
	if project == "" {
		project = trimExt(filepath.Base(file))
	}
	cfg, err := Build(project, opts.Env, src)
	if err != nil {
		return nil, err
	}
	cfg.Dir = filepath.Dir(file)
	return cfg, nil
}

// Build layers src over the defaults, resolves interpolation and reads
// the typed fields.
func Build(project, env string, src *Sources) (*Config, error) {
	table := Layer(Defaults(), src.Global, src.Env, src.Overrides, map[string]string{"env_name": env})
	v, err := table.Resolve()
	if err != nil {
		return nil, wrapConfig(err)
	}
	b := builder{v: v}
	cfg := &Config{
		Project:           project,
		EnvName:           env,
		AppName:           b.required("app_name"),
		User:              b.required("user"),
		Root:              b.required("root"),
		Hosts:             b.list("server_list"),
		Port:              b.int("port"),
		Repo:              b.required("repo"),
		ServerName:        b.required("server_name"),
		PythonVersion:     b.required("python_version"),
		SitePackages:      b.bool("site_packages"),
		SkipSyncdb:        b.bool("skip_syncdb"),
		CanSudo:           b.bool("can_sudo"),
		CopyUpstartConfig: b.bool("copy_upstart_config"),
		Workers:           b.str("workers"),
		KeepReleases:      b.int("keep_releases"),
		StepTimeout:       b.duration("step_timeout"),
		InitSystem:        b.required("init_system"),
		WebGroup:          b.required("web_group"),
		SSHTrustHosts:     b.list("ssh_trust_hosts_list"),
		DistPackages:      b.list("dist_packages_list"),
		RequiredCommands:  b.list("required_commands_list"),
		PostDeploy:        b.list("post_deploy_list"),
		MigrationStatus:   b.required("migration_status_command"),
		Values:            v,
	}
	if b.err != nil {
		return nil, wrapConfig(b.err)
	}
	if len(cfg.Hosts) == 0 {
		return nil, configErrorf("server_list is empty")
	}
	if !path.IsAbs(cfg.Root) {
		return nil, configErrorf("root %q must be an absolute path", cfg.Root)
	}
	if !serverNameRE.MatchString(cfg.ServerName) {
		return nil, configErrorf("server_name %q contains invalid characters", cfg.ServerName)
	}
	if cfg.KeepReleases < 1 {
		return nil, configErrorf("keep_releases must be at least 1, got %d", cfg.KeepReleases)
	}
	switch cfg.InitSystem {
	case InitUpstart, InitSystemd:
	default:
		return nil, configErrorf("unknown init_system %q", cfg.InitSystem)
	}
	if cfg.Checkout, err = ParseCheckoutStrategy(b.str("checkout_strategy")); err != nil {
		return nil, err
	}
	if cfg.Processes, err = resolveProcesses(v, src.Processes); err != nil {
		return nil, wrapConfig(err)
	}
	if cfg.Schedules, err = resolveSchedules(v, src.Cron); err != nil {
		return nil, wrapConfig(err)
	}
	if cfg.Directories, err = resolveLayout(v); err != nil {
		return nil, wrapConfig(err)
	}
	return cfg, nil
}

// serverNameRE permits nginx server_name values: host names, wildcards
// and space separated lists of them.
var serverNameRE = regexp.MustCompile(`^[A-Za-z0-9*~.\-_ ]+$`)

// wrapConfig makes sure every error leaving Build is a
// *ConfigurationError, keeping any *LookupError reachable with errors.As.
func wrapConfig(err error) error {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return err
	}
	return &ConfigurationError{Err: err}
}

// builder reads typed fields, remembering the first error.
type builder struct {
	v   Values
	err error
}

func (b *builder) str(key string) string {
	if b.err != nil {
		return ""
	}
	s, err := b.v.Get(key)
	if err != nil {
		b.err = err
	}
	return s
}

func (b *builder) required(key string) string {
	s := b.str(key)
	if b.err == nil && s == "" {
		b.err = configErrorf("%s must not be empty", key)
	}
	return s
}

func (b *builder) list(key string) []string {
	if b.err != nil {
		return nil
	}
	l, err := b.v.List(key)
	if err != nil {
		b.err = err
	}
	return l
}

func (b *builder) bool(key string) bool {
	if b.err != nil {
		return false
	}
	v, err := b.v.Bool(key)
	if err != nil {
		b.err = err
	}
	return v
}

func (b *builder) int(key string) int {
	s := b.str(key)
	if b.err != nil {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		b.err = configErrorf("%s: %q is not an integer", key, s)
	}
	return n
}

func (b *builder) duration(key string) time.Duration {
	s := b.str(key)
	if b.err != nil {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		b.err = configErrorf("%s: %v", key, err)
	}
	return d
}

// RootPath joins parts onto the application root. Parts may themselves
// contain slashes.
func (c *Config) RootPath(parts ...string) string {
	return joinPath(append([]string{c.Root}, parts...)...)
}

// VirtualenvPath is the location of the application's virtual environment.
func (c *Config) VirtualenvPath(parts ...string) string {
	return c.RootPath(append([]string{"shared", "system"}, parts...)...)
}

// ServiceName returns the init-system unit name of a process.
func (c *Config) ServiceName(process string) string {
	return c.AppName + "-" + process
}

// SiteName returns the base name of the generated web server configs.
func (c *Config) SiteName() string {
	return c.AppName + "-" + c.EnvName
}

func joinPath(parts ...string) string {
	return path.Join(parts...)
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
