// Package cli provides the summon command-line interface
package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/poltergeist/summon/internal/engine"
	"github.com/poltergeist/summon/pkg/config"
	"github.com/poltergeist/summon/pkg/logger"
	"github.com/poltergeist/summon/pkg/notifier"
	"github.com/poltergeist/summon/pkg/resolver"
)

// CLI encapsulates the command-line interface. Every instance owns its
// flags and viper store, so several can run in one process.
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	viper    *viper.Viper
	settings *config.Settings
	logger   logger.Logger
	output   io.Writer
	errorOut io.Writer

	// interrupts overrides os/signal delivery in tests
	interrupts <-chan os.Signal
	notifyOpts []notifier.Option
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(config *Config) *CLI {
	if config == nil {
		config = NewConfig()
	}

	cli := &CLI{
		config:   config,
		output:   os.Stdout,
		errorOut: os.Stderr,
	}

	cli.setupCommands()
	return cli
}

// NewCLIWithOutput creates a CLI with custom output writers (for testing)
func NewCLIWithOutput(config *Config, output, errorOut io.Writer) *CLI {
	cli := NewCLI(config)
	cli.output = output
	cli.errorOut = errorOut
	cli.rootCmd.SetOut(output)
	cli.rootCmd.SetErr(errorOut)
	return cli
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "summon",
		Short: "Run the project's build command and stream its output",
		Long: `summon finds the build command configured for a project in .summon.json or
.summon.yml, runs it and streams its output as it arrives.

Press Ctrl-C once to ask the build to stop and twice to kill it.`,

		SilenceUsage:      true,
		PersistentPreRunE: c.initializeConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("summon v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newRunCmd())
	c.rootCmd.AddCommand(c.newListCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.config.ConfigFile, "config", "", "settings file (default: summon.{json,yaml} in the first root)")
	flags.StringArrayVar(&c.config.ProjectRoots, "root", c.config.ProjectRoots, "project directory, repeat to search several")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", c.config.Verbosity, "log level (debug, info, warn, error)")
	flags.BoolVar(&c.config.Restart, "restart", false, "restart a running build on trigger instead of ignoring it")
	flags.BoolVar(&c.config.Notify, "notify", false, "send desktop notifications when builds finish")
	flags.BoolVar(&c.config.Watch, "watch", false, "rebuild when configuration files change")
}

// flagBindings maps settings keys to the flags overriding them
var flagBindings = map[string]string{
	config.KeyRestartOnTrigger:     "restart",
	config.KeyNotificationsEnabled: "notify",
	config.KeyLoggingLevel:         "verbosity",
}

func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	c.viper = viper.New()
	for key, name := range flagBindings {
		if err := c.viper.BindPFlag(key, c.rootCmd.PersistentFlags().Lookup(name)); err != nil {
			return err
		}
	}

	settings, used, err := config.Load(c.viper, c.config.settingsRoot(), c.config.ConfigFile)
	if err != nil {
		return err
	}
	c.settings = settings

	if c.errorOut == os.Stderr {
		c.logger = logger.CreateLogger(settings.Logging.File, settings.Logging.Level)
	} else {
		c.logger = logger.CreateLoggerWithOutput(settings.Logging.File, settings.Logging.Level, c.errorOut)
	}

	if used != "" {
		c.logger.Debug("Using settings file", logger.WithField("file", used))
	}
	return nil
}

// newController wires a controller for the configured project roots
func (c *CLI) newController() (*engine.Controller, error) {
	dirs, err := c.config.projectDirs()
	if err != nil {
		return nil, err
	}

	deps := engine.NewDependencyFactory(c.logger).
		WithResolverOptions(resolver.Options{HomeDir: c.settings.HomeDir}).
		CreateDefaults()

	return engine.New(engine.Options{
		ProjectDirs:      dirs,
		RestartOnTrigger: c.settings.RestartOnTrigger,
		TickInterval:     c.settings.TickInterval,
		StopGracePeriod:  c.settings.StopGracePeriod,
	}, c.logger, deps), nil
}

// ExitCode maps an Execute error to a process exit status. A failed
// build exits with the build's own code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *engine.ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	if errors.Is(err, engine.ErrUserStopped) {
		return 128 + int(syscall.SIGINT)
	}
	return 1
}

// ExecuteWithVersion runs the CLI on os.Args
func ExecuteWithVersion(version string) error {
	config := NewConfig()
	config.Version = version
	cli := NewCLI(config)
	return cli.Execute(os.Args[1:])
}
