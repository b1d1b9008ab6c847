package config

import (
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

// defaultProcesses holds the command templates used when an environment
// defines no processes, or leaves a known process's command blank.
var defaultProcesses = map[string]string{
	"web": "gunicorn " +
		"--settings={app_name}.settings {workers}" +
		"--error-logfile={shared}/log/error.log " +
		"--pid={shared}/run/gunicorn.pid " +
		"--bind=unix:{shared}/run/gunicorn.sock " +
		"{app_name}.wsgi:application",
}

// Process is a long-running service of the application. Each one gets an
// init-system unit named <app>-<name>.
type Process struct {
	Name string
	// Command is the fully expanded command line.
	Command string
}

// Schedule is a management command run periodically from cron.
type Schedule struct {
	Name string
	// Spec is a standard five field cron spec or a descriptor like @daily.
	Spec    string
	Command string
}

// ScheduleSource is a schedule as it appears in a configuration file.
type ScheduleSource struct {
	Schedule string `yaml:"schedule"`
	Command  string `yaml:"command"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronSchedule parses the schedule spec.
func (s *Schedule) CronSchedule() (cron.Schedule, error) {
	return cronParser.Parse(s.Spec)
}

func resolveProcesses(v Values, sources map[string]string) ([]Process, error) {
	workers, err := v.Get("workers")
	if err != nil {
		return nil, err
	}
	if workers = strings.TrimSpace(workers); workers != "" {
		workers = "--workers=" + workers + " "
	}
	root, err := v.Get("root")
	if err != nil {
		return nil, err
	}
	scope := v.With(map[string]string{
		"workers": workers,
		"shared":  joinPath(root, "shared"),
	})

	templates := sources
	if len(templates) == 0 {
		templates = defaultProcesses
	}
	procs := make([]Process, 0, len(templates))
	for name, tmpl := range templates {
		if strings.TrimSpace(tmpl) == "" {
			def, ok := defaultProcesses[name]
			if !ok {
				return nil, configErrorf("process %q has no command", name)
			}
			tmpl = def
		}
		cmd, err := scope.Expand(tmpl)
		if err != nil {
			return nil, err
		}
		procs = append(procs, Process{Name: name, Command: cmd})
	}
	sort.Slice(procs, func(i, j int) bool {
		return procs[i].Name < procs[j].Name
	})
	return procs, nil
}

func resolveSchedules(v Values, sources map[string]ScheduleSource) ([]Schedule, error) {
	scheds := make([]Schedule, 0, len(sources))
	for name, src := range sources {
		if src.Schedule == "" || src.Command == "" {
			return nil, configErrorf("cron entry %q needs both a schedule and a command", name)
		}
		cmd, err := v.Expand(src.Command)
		if err != nil {
			return nil, err
		}
		s := Schedule{Name: name, Spec: strings.TrimSpace(src.Schedule), Command: cmd}
		if _, err := s.CronSchedule(); err != nil {
			return nil, configErrorf("cron entry %q: %v", name, err)
		}
		scheds = append(scheds, s)
	}
	sort.Slice(scheds, func(i, j int) bool {
		return scheds[i].Name < scheds[j].Name
	})
	return scheds, nil
}
