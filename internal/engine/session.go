package engine

import (
	"context"
	"time"

	"github.com/poltergeist/summon/pkg/logger"
	"github.com/poltergeist/summon/pkg/runner"
	"github.com/poltergeist/summon/pkg/types"
)

// session is one trigger-to-terminal-state lifecycle. All fields are
// guarded by the controller mutex.
type session struct {
	id     string
	ctx    context.Context
	logger logger.Logger
	target types.BuildTarget

	state types.BuildState
	// proc is non-nil only while running
	proc runner.Process

	startedAt time.Time
	// elapsed is frozen when the session ends
	elapsed  time.Duration
	lastTick time.Duration

	outputLength int

	stopRequested   bool
	stopRequestedAt time.Time
	graceTimer      *time.Timer

	exitCode int
	err      error
	message  string

	tickStop chan struct{}
	done     chan struct{}
}

func newSession(ctx context.Context, id string, log logger.Logger) *session {
	return &session{
		id:       id,
		ctx:      ctx,
		logger:   logger.WithContext(ctx, log),
		state:    types.BuildStateIdle,
		exitCode: -1,
		done:     make(chan struct{}),
	}
}

func (s *session) running() bool {
	return s.state == types.BuildStateRunning
}

// elapsedAt never decreases: a running session reads the monotonic clock,
// an ended one returns the frozen value.
func (s *session) elapsedAt(now time.Time) time.Duration {
	if !s.running() {
		return s.elapsed
	}
	d := now.Sub(s.startedAt)
	if d < s.lastTick {
		d = s.lastTick
	}
	return d
}

// finish moves the session into a terminal state, freezes the timer and releases the handle
func (s *session) finish(state types.BuildState, err error, now time.Time) {
	if s.running() {
		s.elapsed = s.elapsedAt(now)
	}
	s.state = state
	s.err = err
	if err != nil && s.message == "" {
		s.message = err.Error()
	}
	s.proc = nil

	if s.tickStop != nil {
		close(s.tickStop)
		s.tickStop = nil
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	close(s.done)
}

func (s *session) result(outputLength int) types.Result {
	return types.Result{
		SessionID:    s.id,
		State:        s.state,
		TargetName:   s.target.Name,
		ExitCode:     s.exitCode,
		Kind:         kindOf(s.err),
		Message:      s.message,
		Elapsed:      s.elapsedAt(time.Now()),
		OutputLength: outputLength,
		StartedAt:    s.startedAt,
	}
}
