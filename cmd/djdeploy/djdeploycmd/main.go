// Package djdeploycmd implements the djdeploy command line.
package djdeploycmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/stuartcarnie/djdeploy"
	"github.com/stuartcarnie/djdeploy/config"
	"github.com/stuartcarnie/djdeploy/logger"
	"github.com/stuartcarnie/djdeploy/remote"
)

// transcriptBackups is the number of rotated transcript files kept.
const transcriptBackups = 3

type App struct {
	Project    string
	Env        string
	Config     string
	Set        []string
	Local      bool
	Verbose    bool
	Transcript string
	KeyFile    string
	Insecure   bool

	au aurora.Aurora
}

var (
	app = &App{}

	// LogLevel is the level of the global logger; --verbose lowers it to
	// debug.
	LogLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	rootCmd = cobra.Command{
		Use:           "djdeploy",
		Short:         "Deploy Django applications",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if app.Verbose {
				LogLevel.SetLevel(zapcore.DebugLevel)
			}
			app.au = aurora.NewAurora(colorEnabled(os.Stdout))
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&app.Project, "project", "p", "", "Project name, used to find <project>.cfg")
	flags.StringVarP(&app.Env, "env", "e", "", "Environment to act on")
	flags.StringVarP(&app.Config, "config", "c", "", "Configuration file, instead of searching $DEPLOY_CONFIGS")
	flags.StringArrayVar(&app.Set, "set", nil, "Override a configuration value (key=value)")
	flags.BoolVar(&app.Local, "local", false, "Run commands on this machine instead of over SSH")
	flags.BoolVarP(&app.Verbose, "verbose", "v", false, "Log debug messages and echo remote commands")
	flags.StringVar(&app.Transcript, "transcript", "", "Append a transcript of remote commands to this file")
	flags.StringVar(&app.KeyFile, "identity", "", "SSH private key (default ~/.ssh/id_rsa)")
	flags.BoolVar(&app.Insecure, "insecure-ignore-host-key", false, "Do not check SSH host keys")

	rootCmd.AddCommand(&setupCmd)
	rootCmd.AddCommand(&deployCmd)
	rootCmd.AddCommand(&rollbackCmd)
	rootCmd.AddCommand(&releasesCmd)
	rootCmd.AddCommand(&infoCmd)
	rootCmd.AddCommand(&pruneCmd)
	rootCmd.AddCommand(&checkCmd)
	rootCmd.AddCommand(controlCmd("start", "Start the application processes"))
	rootCmd.AddCommand(controlCmd("stop", "Stop the application processes"))
	rootCmd.AddCommand(controlCmd("restart", "Restart the application processes"))
	rootCmd.AddCommand(&recreateVirtualenvCmd)
	rootCmd.AddCommand(&purgeCmd)
	rootCmd.AddCommand(&putSecretsCmd)
	rootCmd.AddCommand(&configureServerCmd)
	rootCmd.AddCommand(&unlockCmd)
	rootCmd.AddCommand(&runCmd)
	rootCmd.AddCommand(&configCmd)
}

// Main runs the command line and returns the process exit code.
func Main() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func colorEnabled(f *os.File) bool {
	return os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(f.Fd()))
}

// load reads the configuration selected by the flags.
func (a *App) load() (*config.Config, error) {
	overrides := make(map[string]string)
	for _, kv := range a.Set {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, &config.ConfigurationError{Err: fmt.Errorf("--set %q is not of the form key=value", kv)}
		}
		overrides[strings.TrimSpace(k)] = v
	}
	return config.Load(config.Options{
		Project:   a.Project,
		Env:       a.Env,
		Path:      a.Config,
		Overrides: overrides,
	})
}

// deployer returns a Deployer for the selected environment. The returned
// function releases its connections and transcript.
func (a *App) deployer() (*djdeploy.Deployer, func(), error) {
	cfg, err := a.load()
	if err != nil {
		return nil, nil, err
	}
	var dests []string
	if a.Transcript != "" {
		dests = append(dests, a.Transcript)
	}
	if a.Verbose {
		dests = append(dests, "/dev/stderr")
	}
	transcript, err := logger.NewLogger(strings.Join(dests, ","), logger.DefaultMaxBytes, transcriptBackups)
	if err != nil {
		return nil, nil, err
	}

	var (
		exec    remote.Executor
		closeFn = func() { transcript.Close() }
	)
	if a.Local {
		exec = remote.NewLocal(transcript)
	} else {
		s, err := remote.NewSSH(remote.SSHOptions{
			User:                  cfg.User,
			Port:                  cfg.Port,
			KeyFile:               a.KeyFile,
			InsecureIgnoreHostKey: a.Insecure,
		}, transcript)
		if err != nil {
			transcript.Close()
			return nil, nil, err
		}
		exec = s
		closeFn = func() {
			if err := s.Close(); err != nil {
				zap.L().Debug("Error closing SSH connections", zap.Error(err))
			}
			transcript.Close()
		}
	}
	zap.L().Debug("Loaded configuration",
		zap.String("project", cfg.Project),
		zap.String("env", cfg.EnvName),
		zap.Strings("hosts", cfg.Hosts))
	return djdeploy.New(cfg, exec), closeFn, nil
}

// withDeployer runs fn with a Deployer, closing it afterwards.
func withDeployer(fn func(d *djdeploy.Deployer) error) error {
	d, closeFn, err := app.deployer()
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(d)
}

func (a *App) printf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
