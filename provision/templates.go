package provision

import (
	"bytes"
	"embed"
	"path"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/stuartcarnie/djdeploy/config"
)

//go:embed templates
var content embed.FS

var templates = func() *template.Template {
	t, err := template.ParseFS(content, "templates/*.tmpl")
	if err != nil {
		zap.L().Fatal("Failed to load embedded templates.", zap.Error(err))
	}
	return t
}()

// File is a rendered configuration file.
type File struct {
	// Path is absolute on the target host.
	Path string
	Mode uint32
	Data []byte
}

func render(name string, data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// runner is the prefix that loads the environment secrets before running
// a command.
func runner(cfg *config.Config) string {
	return cfg.VirtualenvPath("bin", "envrun") + " " + cfg.RootPath("shared", "secrets", "environ.cfg")
}

type unitData struct {
	EnvName     string
	Description string
	User        string
	Group       string
	Current     string
	Exec        string
}

// InitConfigs renders one init-system unit per process into shared/init.
func InitConfigs(cfg *config.Config) ([]File, error) {
	tmpl, ext := "upstart.conf.tmpl", ".conf"
	if cfg.InitSystem == config.InitSystemd {
		tmpl, ext = "systemd.service.tmpl", ".service"
	}
	files := make([]File, 0, len(cfg.Processes))
	for _, p := range cfg.Processes {
		data, err := render(tmpl, unitData{
			EnvName:     cfg.EnvName,
			Description: cfg.AppName + " " + p.Name,
			User:        cfg.User,
			Group:       cfg.User,
			Current:     cfg.RootPath("current"),
			Exec:        runner(cfg) + " " + p.Command,
		})
		if err != nil {
			return nil, err
		}
		files = append(files, File{
			Path: cfg.RootPath("shared", "init", cfg.ServiceName(p.Name)+ext),
			Mode: 0o644,
			Data: data,
		})
	}
	return files, nil
}

type siteData struct {
	EnvName    string
	SiteName   string
	ServerName string
	Upstream   string
	Shared     string
	Current    string
}

// NginxConfigs renders the HTTP and HTTPS site configurations into
// shared/config.
func NginxConfigs(cfg *config.Config) ([]File, error) {
	d := siteData{
		EnvName:    cfg.EnvName,
		SiteName:   cfg.SiteName(),
		ServerName: cfg.ServerName,
		Upstream:   cfg.AppName + "_" + cfg.EnvName,
		Shared:     cfg.RootPath("shared"),
		Current:    cfg.RootPath("current"),
	}
	var files []File
	for _, f := range []struct{ tmpl, name string }{
		{"nginx.conf.tmpl", cfg.SiteName()},
		{"nginx_ssl.conf.tmpl", cfg.SiteName() + "-ssl"},
	} {
		data, err := render(f.tmpl, d)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Path: cfg.RootPath("shared", "config", f.name), Mode: 0o644, Data: data})
	}
	return files, nil
}

// Binstub renders bin/run, which runs django-admin.py for the current
// release with the secrets loaded.
func Binstub(cfg *config.Config) (File, error) {
	data, err := render("run.sh.tmpl", struct {
		EnvName string
		AppName string
		Current string
		Runner  string
	}{
		EnvName: cfg.EnvName,
		AppName: cfg.AppName,
		Current: cfg.RootPath("current"),
		Runner:  runner(cfg) + " " + cfg.VirtualenvPath("bin", "django-admin.py"),
	})
	if err != nil {
		return File{}, err
	}
	return File{Path: cfg.RootPath("bin", "run"), Mode: 0o755, Data: data}, nil
}

// Crontab renders the scheduled commands into shared/config/crontab.
func Crontab(cfg *config.Config) (File, error) {
	data, err := render("crontab.tmpl", struct {
		EnvName   string
		Prefix    string
		Schedules []config.Schedule
	}{
		EnvName:   cfg.EnvName,
		Prefix:    runner(cfg) + " ",
		Schedules: cfg.Schedules,
	})
	if err != nil {
		return File{}, err
	}
	return File{Path: cfg.RootPath("shared", "config", "crontab"), Mode: 0o644, Data: data}, nil
}

// InitDir is the directory the init system reads units from.
func InitDir(cfg *config.Config) string {
	if cfg.InitSystem == config.InitSystemd {
		return "/etc/systemd/system"
	}
	return "/etc/init"
}

// ControlCommand returns the privileged command that applies verb
// (start, stop or restart) to the named service.
func ControlCommand(cfg *config.Config, verb, service string) []string {
	if cfg.InitSystem == config.InitSystemd {
		return []string{"/bin/systemctl", verb, service}
	}
	return []string{path.Join("/sbin", verb), service}
}

// SudoersLines renders the sudoers entries that let the deploy user
// control its own services without a password.
func SudoersLines(cfg *config.Config) ([]string, error) {
	pattern := cfg.AppName + "-*"
	var cmds []string
	for _, verb := range []string{"start", "stop", "restart"} {
		cmds = append(cmds, strings.Join(ControlCommand(cfg, verb, pattern), " "))
	}
	if cfg.InitSystem == config.InitSystemd {
		cmds = append(cmds, "/bin/systemctl daemon-reload")
	}
	cmds = append(cmds, "/bin/cp "+cfg.RootPath("shared", "init")+"/"+pattern+" "+InitDir(cfg)+"/")

	data, err := render("sudoers.tmpl", struct {
		User     string
		Commands []string
	}{cfg.User, cmds})
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, l := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		lines = append(lines, string(l))
	}
	return lines, nil
}
