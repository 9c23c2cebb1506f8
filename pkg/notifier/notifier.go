// Package notifier sends desktop notifications for finished builds
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/poltergeist/summon/pkg/logger"
	"github.com/poltergeist/summon/pkg/types"
)

// BuildNotifier handles build notifications
type BuildNotifier struct {
	enabled   bool
	onRefresh bool
	sound     bool
	logger    logger.Logger
	send      SendFunc
	beep      func() error
}

// Config represents notification configuration
type Config struct {
	Enabled bool
	// OnRefresh also notifies when the target list changes
	OnRefresh bool
	// Sound beeps on failures
	Sound bool
}

// SendFunc delivers one notification
type SendFunc func(title, message string) error

// Option configures a BuildNotifier
type Option func(*BuildNotifier)

// WithSendFunc replaces the desktop notification backend
func WithSendFunc(fn SendFunc) Option {
	return func(n *BuildNotifier) {
		n.send = fn
	}
}

// WithBeepFunc replaces the failure sound backend
func WithBeepFunc(fn func() error) Option {
	return func(n *BuildNotifier) {
		n.beep = fn
	}
}

// New creates a new build notifier
func New(config Config, log logger.Logger, opts ...Option) *BuildNotifier {
	if log == nil {
		log = logger.NewNopLogger()
	}
	n := &BuildNotifier{
		enabled:   config.Enabled,
		onRefresh: config.OnRefresh,
		sound:     config.Sound,
		logger:    log,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		beep: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyResult notifies about a finished session. Non-terminal results are ignored.
func (n *BuildNotifier) NotifyResult(r types.Result) {
	switch r.State {
	case types.BuildStateSuccess:
		n.NotifyBuildSuccess(r.TargetName, r.Elapsed)
	case types.BuildStateError:
		n.NotifyBuildFailure(r.TargetName, r.Message)
	case types.BuildStateStopped:
		n.NotifyBuildStopped(r.TargetName, r.Elapsed)
	}
}

// NotifyBuildSuccess notifies that a build succeeded
func (n *BuildNotifier) NotifyBuildSuccess(target string, duration time.Duration) {
	if !n.enabled {
		return
	}
	n.sendNotification("✅ Build Succeeded", fmt.Sprintf("%s built in %s", target, formatDuration(duration)), false)
}

// NotifyBuildFailure notifies that a build failed
func (n *BuildNotifier) NotifyBuildFailure(target string, reason string) {
	if !n.enabled {
		return
	}
	if target == "" {
		target = "build"
	}
	n.sendNotification("❌ Build Failed", fmt.Sprintf("%s: %s", target, reason), n.sound)
}

// NotifyBuildStopped notifies that a build was stopped by the user
func (n *BuildNotifier) NotifyBuildStopped(target string, duration time.Duration) {
	if !n.enabled {
		return
	}
	n.sendNotification("⏹ Build Stopped", fmt.Sprintf("%s stopped after %s", target, formatDuration(duration)), false)
}

// NotifyTargetsRefreshed notifies that the target list was re-resolved
func (n *BuildNotifier) NotifyTargetsRefreshed(count int) {
	if !n.enabled || !n.onRefresh {
		return
	}
	n.sendNotification("🔮 Targets Refreshed", fmt.Sprintf("%d build targets available", count), false)
}

func (n *BuildNotifier) sendNotification(title, message string, sound bool) {
	if err := n.send(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
		// Fallback to the log
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}
	if sound {
		if err := n.beep(); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err))
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
