package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	summonctx "github.com/poltergeist/summon/pkg/context"
	"github.com/poltergeist/summon/pkg/logger"
	"github.com/poltergeist/summon/pkg/resolver"
	"github.com/poltergeist/summon/pkg/sink"
	"github.com/poltergeist/summon/pkg/types"
)

// DefaultTickInterval is the elapsed_tick period when Options leaves it unset
const DefaultTickInterval = 100 * time.Millisecond

// Options configures a Controller
type Options struct {
	// ProjectDirs are handed to the resolver on every refresh
	ProjectDirs []string
	// RestartOnTrigger kills a running build and starts a new one on Trigger.
	// When false, Trigger while running is ignored.
	RestartOnTrigger bool
	TickInterval     time.Duration
	// StopGracePeriod force-kills a build that ignores the first Stop.
	// Zero leaves escalation to a second Stop call.
	StopGracePeriod time.Duration
}

// Controller owns the single active build session. All methods are safe
// for concurrent use.
type Controller struct {
	opts     Options
	logger   logger.Logger
	resolver TargetResolver
	runner   ProcessRunner
	sink     *sink.Buffer
	events   *eventBus

	mu       sync.Mutex
	targets  []types.BuildTarget
	resolved bool
	selected string
	session  *session
	closed   bool
}

// New creates a controller. Missing dependencies are filled in by a
// DependencyFactory.
func New(opts Options, log logger.Logger, deps Dependencies) *Controller {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	deps = NewDependencyFactory(log).CreateWithOverrides(deps)

	return &Controller{
		opts:     opts,
		logger:   log,
		resolver: deps.Resolver,
		runner:   deps.Runner,
		sink:     deps.Sink,
		events:   newEventBus(log),
	}
}

// Trigger starts a build and returns without waiting for it. While a build
// is running it is a no-op unless RestartOnTrigger is set. Targets are
// re-resolved first; a resolution or spawn failure ends the session in
// the error state with a message written to the sink.
func (c *Controller) Trigger(ctx context.Context) types.Result {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		r := c.snapshotLocked()
		r.Message = ErrClosed.Error()
		return r
	}

	if s := c.session; s != nil && s.running() {
		if !c.opts.RestartOnTrigger {
			s.logger.Debug("Build already running, trigger ignored")
			return c.snapshotLocked()
		}
		c.discardLocked(s)
	}

	c.sink.Clear()

	sessCtx, id := summonctx.NewSessionContext(ctx, "")
	s := newSession(sessCtx, id, c.logger)
	c.session = s

	target, err := c.resolveTargetLocked(sessCtx)
	if err != nil {
		c.failLocked(s, err)
		return c.snapshotLocked()
	}

	s.target = target
	s.ctx = summonctx.WithTarget(sessCtx, target.Name)
	s.logger = logger.WithContext(s.ctx, c.logger)
	s.startedAt = time.Now()
	s.state = types.BuildStateRunning

	proc, err := c.runner.Run(target,
		func(chunk []byte) { c.onOutput(s, chunk) },
		func(code int) { c.onExit(s, code) })
	if err != nil {
		c.failLocked(s, err)
		return c.snapshotLocked()
	}
	s.proc = proc

	s.logger.Info("Build started",
		logger.WithField("command", target.Cmd),
		logger.WithField("cwd", target.Cwd))
	c.publishStateLocked(s)

	s.tickStop = make(chan struct{})
	go c.runTicker(s, s.tickStop)

	return c.snapshotLocked()
}

// Stop asks the running build to terminate. The first call sends an
// interrupt the process may ignore; a second call kills it. Stop is a
// no-op when nothing runs or when the process has already exited.
func (c *Controller) Stop() types.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil || !s.running() || s.proc == nil {
		return c.snapshotLocked()
	}
	if s.proc.Exited() {
		s.logger.Debug("Stop ignored, process already exited")
		return c.snapshotLocked()
	}

	if !s.stopRequested {
		s.stopRequested = true
		s.stopRequestedAt = time.Now()
		s.logger.Info("Stopping build")
		if err := s.proc.Kill(true); err != nil {
			s.logger.Warn("Failed to interrupt build", logger.WithField("error", err))
		}
		if c.opts.StopGracePeriod > 0 {
			s.graceTimer = time.AfterFunc(c.opts.StopGracePeriod, func() { c.escalate(s) })
		}
		return c.snapshotLocked()
	}

	s.logger.Info("Force killing build",
		logger.WithField("since_stop_ms", time.Since(s.stopRequestedAt).Milliseconds()))
	if err := s.proc.Kill(false); err != nil {
		s.logger.Warn("Failed to kill build", logger.WithField("error", err))
	}
	return c.snapshotLocked()
}

// SelectTarget remembers name as the target for subsequent triggers.
// Postponed targets run only once selected.
func (c *Controller) SelectTarget(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if !c.resolved {
		if _, err := c.refreshLocked(context.Background()); err != nil && len(c.targets) == 0 {
			return err
		}
	}
	if _, ok := findTarget(c.targets, name); !ok {
		return fmt.Errorf("%w: %q", ErrTargetNotFound, name)
	}

	c.selected = name
	c.logger.Debug("Target selected", logger.WithField("target", name))
	return nil
}

// RefreshTargets re-resolves the project directories and returns the targets
func (c *Controller) RefreshTargets(ctx context.Context) ([]types.BuildTarget, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	targets, err := c.refreshLocked(ctx)
	return cloneTargets(targets), err
}

// Targets returns the targets from the last refresh
func (c *Controller) Targets() []types.BuildTarget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneTargets(c.targets)
}

// State returns the current build state
func (c *Controller) State() types.BuildState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return types.BuildStateIdle
	}
	return c.session.state
}

// Elapsed returns the running duration, or the frozen duration of the last session
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return 0
	}
	return c.session.elapsedAt(time.Now())
}

// TargetName returns the target of the current session, or the one the
// next trigger would run.
func (c *Controller) TargetName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetNameLocked()
}

// Snapshot returns the observable state of the current session
func (c *Controller) Snapshot() types.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until the current session ends or ctx is done. The error is
// ctx.Err() on cancellation, otherwise the session outcome: nil on success,
// ErrUserStopped, an *ExitError, a *runner.SpawnError or a resolution error.
func (c *Controller) Wait(ctx context.Context) (types.Result, error) {
	c.mu.Lock()
	s := c.session
	if s == nil {
		r := c.snapshotLocked()
		c.mu.Unlock()
		return r, nil
	}
	done := s.done
	c.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == s {
		return c.snapshotLocked(), s.err
	}
	return s.result(s.outputLength), s.err
}

// Subscribe registers fn for all future events. The returned function unsubscribes.
func (c *Controller) Subscribe(fn Subscriber) (unsubscribe func()) {
	return c.events.subscribe(fn)
}

// Sink returns the output buffer builds stream into. Observers attached to
// it run while the controller is locked and must not call back into it;
// use Subscribe for that.
func (c *Controller) Sink() *sink.Buffer {
	return c.sink
}

// Close kills a running build and stops event delivery after the queued
// events have been handed out. It must not be called from a subscriber.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if s := c.session; s != nil && s.running() && s.proc != nil {
		s.logger.Debug("Killing build on close")
		if err := s.proc.Kill(false); err != nil {
			s.logger.Warn("Failed to kill build", logger.WithField("error", err))
		}
	}
	c.mu.Unlock()

	c.events.close()
}

func (c *Controller) onOutput(s *session, chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != s || !s.running() {
		return
	}
	s.outputLength += len(chunk)
	c.sink.Append(chunk)
	c.events.publish(Event{
		Type:      EventOutputReceived,
		SessionID: s.id,
		Data:      chunk,
	})
}

func (c *Controller) onExit(s *session, code int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != s || !s.running() {
		return
	}
	s.exitCode = code

	switch {
	case s.stopRequested:
		s.finish(types.BuildStateStopped, ErrUserStopped, time.Now())
		s.logger.Info("Build stopped", logger.WithField("code", code))
	case code == 0:
		s.finish(types.BuildStateSuccess, nil, time.Now())
		s.logger.Success("Build succeeded", logger.WithField("elapsed", s.elapsed))
	default:
		s.finish(types.BuildStateError, &ExitError{Code: code}, time.Now())
		s.logger.Error("Build failed", logger.WithField("code", code))
	}

	c.publishTickLocked(s)
	c.publishStateLocked(s)
}

func (c *Controller) escalate(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != s || !s.running() || s.proc == nil || s.proc.Exited() {
		return
	}
	s.logger.Warn("Build ignored stop, force killing",
		logger.WithField("grace_period", c.opts.StopGracePeriod))
	if err := s.proc.Kill(false); err != nil {
		s.logger.Warn("Failed to kill build", logger.WithField("error", err))
	}
}

func (c *Controller) runTicker(s *session, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.session == s && s.running() {
				c.publishTickLocked(s)
			}
			c.mu.Unlock()
		}
	}
}

// discardLocked force-kills a running session that is being replaced.
// Its late output and exit notification are dropped.
func (c *Controller) discardLocked(s *session) {
	s.logger.Info("Restarting build")
	if s.proc != nil {
		if err := s.proc.Kill(false); err != nil {
			s.logger.Warn("Failed to kill build", logger.WithField("error", err))
		}
	}
	s.stopRequested = true
	s.finish(types.BuildStateStopped, ErrUserStopped, time.Now())
	c.publishStateLocked(s)
}

func (c *Controller) failLocked(s *session, err error) {
	s.message = err.Error()
	s.finish(types.BuildStateError, err, time.Now())
	s.logger.Error("Build could not start", logger.WithField("error", err))

	c.sink.Append([]byte(fmt.Sprintf("Build failed: %s\n", s.message)))
	c.publishStateLocked(s)
}

func (c *Controller) resolveTargetLocked(ctx context.Context) (types.BuildTarget, error) {
	targets, err := c.refreshLocked(ctx)
	if err != nil && len(targets) == 0 {
		return types.BuildTarget{}, err
	}

	if c.selected != "" {
		t, ok := findTarget(targets, c.selected)
		if !ok {
			return types.BuildTarget{}, fmt.Errorf("%w: %q", ErrTargetNotFound, c.selected)
		}
		return t, nil
	}
	for _, t := range targets {
		if !t.IsPostponed() {
			return t.Clone(), nil
		}
	}
	return types.BuildTarget{}, ErrNoDefaultTarget
}

func (c *Controller) refreshLocked(ctx context.Context) ([]types.BuildTarget, error) {
	res, err := c.resolver.Resolve(ctx, c.opts.ProjectDirs)
	c.resolved = true

	if res == nil {
		c.targets = nil
		return nil, err
	}
	c.targets = res.Targets
	if err == nil {
		err = res.Err()
	}
	if err != nil && !errors.Is(err, resolver.ErrConfigurationNotFound) {
		c.logger.Warn("Some build configuration was skipped", logger.WithField("error", err))
	}

	names := make([]string, len(c.targets))
	for i, t := range c.targets {
		names[i] = t.Name
	}
	c.events.publish(Event{Type: EventTargetsRefreshed, Targets: names})
	return c.targets, err
}

func (c *Controller) publishStateLocked(s *session) {
	c.events.publish(Event{
		Type:      EventStateChanged,
		SessionID: s.id,
		State:     s.state,
		Result:    s.result(c.sink.Len()),
	})
}

func (c *Controller) publishTickLocked(s *session) {
	elapsed := s.elapsedAt(time.Now())
	s.lastTick = elapsed
	c.events.publish(Event{
		Type:      EventElapsedTick,
		SessionID: s.id,
		Elapsed:   elapsed,
	})
}

func (c *Controller) snapshotLocked() types.Result {
	if c.session == nil {
		return types.Result{
			State:      types.BuildStateIdle,
			TargetName: c.targetNameLocked(),
			ExitCode:   -1,
		}
	}
	return c.session.result(c.sink.Len())
}

func (c *Controller) targetNameLocked() string {
	if c.session != nil && c.session.target.Name != "" {
		return c.session.target.Name
	}
	if c.selected != "" {
		return c.selected
	}
	for _, t := range c.targets {
		if !t.IsPostponed() {
			return t.Name
		}
	}
	return ""
}

func findTarget(targets []types.BuildTarget, name string) (types.BuildTarget, bool) {
	for _, t := range targets {
		if t.Name == name {
			return t.Clone(), true
		}
	}
	return types.BuildTarget{}, false
}

func cloneTargets(targets []types.BuildTarget) []types.BuildTarget {
	if targets == nil {
		return nil
	}
	out := make([]types.BuildTarget, len(targets))
	for i, t := range targets {
		out[i] = t.Clone()
	}
	return out
}
