package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/poltergeist/summon/internal/engine"
	"github.com/poltergeist/summon/pkg/config"
	"github.com/poltergeist/summon/pkg/logger"
	"github.com/poltergeist/summon/pkg/notifier"
	"github.com/poltergeist/summon/pkg/resolver"
)

func (c *CLI) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [target]",
		Short: "Run a build and stream its output",
		Long: `Run the default build target, or the named one, and stream its output to stdout.

The first Ctrl-C asks the build to stop. A second Ctrl-C kills it. With --watch
summon keeps running and rebuilds whenever a configuration file changes; Ctrl-C
while idle exits.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) > 0 {
				target = args[0]
			}
			return c.runBuild(cmd.Context(), target)
		},
	}
}

func (c *CLI) runBuild(ctx context.Context, target string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctrl, err := c.newController()
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if target != "" {
		if err := ctrl.SelectTarget(target); err != nil {
			return err
		}
	}

	detach := ctrl.Sink().Attach(func(chunk []byte) {
		_, _ = c.output.Write(chunk)
	})
	defer detach()

	n := notifier.New(notifier.Config{
		Enabled:   c.settings.Notifications.Enabled,
		OnRefresh: c.settings.Notifications.OnRefresh,
		Sound:     c.settings.Notifications.Enabled,
	}, c.logger.WithTarget("notifier"), c.notifyOpts...)
	// Close delivers queued events, so the notifier sees the final state
	ctrl.Subscribe(func(e engine.Event) {
		switch e.Type {
		case engine.EventStateChanged:
			n.NotifyResult(e.Result)
		case engine.EventTargetsRefreshed:
			n.NotifyTargetsRefreshed(len(e.Targets))
		}
	})

	interrupts := c.interrupts
	if interrupts == nil {
		sigs := make(chan os.Signal, 2)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)
		interrupts = sigs
	}

	var changes <-chan struct{}
	if c.config.Watch {
		ch, stop, err := c.watchConfiguration()
		if err != nil {
			return err
		}
		defer stop()
		changes = ch
	}

	// start triggers a build and reports its outcome on the returned channel
	start := func() <-chan error {
		ctrl.Trigger(ctx)
		done := make(chan error, 1)
		go func() {
			_, err := ctrl.Wait(ctx)
			done <- err
		}()
		return done
	}

	pending := start()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig := <-interrupts:
			if pending == nil {
				return nil
			}
			c.logger.Warn("Stopping build", logger.WithField("signal", sig.String()))
			ctrl.Stop()

		case err := <-pending:
			if !c.config.Watch {
				return err
			}
			pending = nil
			c.logger.Info("Waiting for configuration changes")

		case <-changes:
			c.logger.Info("Configuration changed")
			if pending == nil || c.settings.RestartOnTrigger {
				pending = start()
			} else {
				ctrl.Trigger(ctx)
			}
		}
	}
}

// watchConfiguration signals on the returned channel whenever a target
// configuration file in a project root or the home directory changes
func (c *CLI) watchConfiguration() (<-chan struct{}, func(), error) {
	dirs, err := c.config.projectDirs()
	if err != nil {
		return nil, nil, err
	}
	if c.settings.HomeDir != "" {
		dirs = append(dirs, c.settings.HomeDir)
	}

	changes := make(chan struct{}, 1)
	w := config.NewWatcher(dirs, resolver.ConfigFileNames, c.logger.WithTarget("watcher"))
	w.AddCallback(func(event config.ChangeEvent) {
		c.logger.Debug("Configuration files changed", logger.WithField("paths", event.Paths))
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	if err := w.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to watch configuration: %w", err)
	}
	return changes, func() { _ = w.Stop() }, nil
}
