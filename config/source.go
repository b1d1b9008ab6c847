package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// globalSection is applied to every environment.
const globalSection = "ALL_ENVIRONMENTS"

// Sources holds the raw tables read from a project configuration file for
// one environment.
type Sources struct {
	Global map[string]string
	// Env is nil when the file has no section for the environment.
	Env       map[string]string
	Processes map[string]string
	Cron      map[string]ScheduleSource
	// Overrides take precedence over every section of the file.
	Overrides map[string]string
}

// ParseINI reads the sections for env from a ConfigParser style file:
//
//	[ALL_ENVIRONMENTS]
//	app_name = shop
//	[staging]
//	server_list = web1, web2
//	[staging:processes]
//	web =
//	[staging:cron]
//	sessions.schedule = @daily
//	sessions.command = clearsessions
func ParseINI(data []byte, env string) (*Sources, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:            true,
		IgnoreInlineComment:        true,
		AllowPythonMultilineValues: true,
	}, data)
	if err != nil {
		return nil, configErrorf("cannot parse configuration: %v", err)
	}
	src := &Sources{
		Global:    map[string]string{},
		Processes: map[string]string{},
		Cron:      map[string]ScheduleSource{},
	}
	if sec, err := f.GetSection(globalSection); err == nil {
		src.Global = sec.KeysHash()
	}
	if sec, err := f.GetSection(env); err == nil {
		src.Env = sec.KeysHash()
	}
	if sec, err := f.GetSection(env + ":processes"); err == nil {
		src.Processes = sec.KeysHash()
	}
	if sec, err := f.GetSection(env + ":cron"); err == nil {
		for _, k := range sec.Keys() {
			i := strings.LastIndexByte(k.Name(), '.')
			if i <= 0 {
				return nil, configErrorf("cron key %q must be <name>.schedule or <name>.command", k.Name())
			}
			name, field := k.Name()[:i], k.Name()[i+1:]
			s := src.Cron[name]
			switch field {
			case "schedule":
				s.Schedule = k.Value()
			case "command":
				s.Command = k.Value()
			default:
				return nil, configErrorf("unknown cron field %q for %q", field, name)
			}
			src.Cron[name] = s
		}
	}
	return src, nil
}

type yamlEnvironment struct {
	Settings  map[string]string         `yaml:"settings"`
	Processes map[string]string         `yaml:"processes"`
	Cron      map[string]ScheduleSource `yaml:"cron"`
}

type yamlFile struct {
	AllEnvironments map[string]string           `yaml:"all_environments"`
	Environments    map[string]*yamlEnvironment `yaml:"environments"`
}

// ParseYAML reads the same information as ParseINI from a YAML document:
//
//	all_environments:
//	  app_name: shop
//	environments:
//	  staging:
//	    settings: {server_list: "web1, web2"}
//	    processes: {web: ""}
func ParseYAML(data []byte, env string) (*Sources, error) {
	var f yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, configErrorf("cannot parse configuration: %v", err)
	}
	src := &Sources{
		Global:    f.AllEnvironments,
		Processes: map[string]string{},
		Cron:      map[string]ScheduleSource{},
	}
	if src.Global == nil {
		src.Global = map[string]string{}
	}
	if e := f.Environments[env]; e != nil {
		src.Env = e.Settings
		if src.Env == nil {
			src.Env = map[string]string{}
		}
		if e.Processes != nil {
			src.Processes = e.Processes
		}
		if e.Cron != nil {
			src.Cron = e.Cron
		}
	}
	return src, nil
}

// ReadSources reads the configuration file at path, choosing the format
// from its extension.
func ReadSources(path, env string) (*Sources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data, env)
	default:
		return ParseINI(data, env)
	}
}

var configExtensions = []string{".cfg", ".yaml", ".yml"}

// FindFile locates the configuration file for project, looking in
// $DEPLOY_CONFIGS (default deploy_config) and then ~/.deploy_config.
func FindFile(project string) (string, error) {
	dirs := []string{os.Getenv("DEPLOY_CONFIGS")}
	if dirs[0] == "" {
		dirs[0] = "deploy_config"
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".deploy_config"))
	}
	for _, dir := range dirs {
		for _, ext := range configExtensions {
			path := filepath.Join(dir, project+ext)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}
	return "", configErrorf("no config file found for project %q (looked in %s)", project, strings.Join(dirs, ", "))
}
