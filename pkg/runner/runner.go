// Package runner spawns build commands and streams their raw output
package runner

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/poltergeist/summon/pkg/logger"
	"github.com/poltergeist/summon/pkg/types"
)

// DefaultWaitDelay bounds how long exit reporting waits for output pipes
// that a backgrounded grandchild keeps open after the command itself exited.
const DefaultWaitDelay = 2 * time.Second

// DataFunc receives output chunks in arrival order. The slice is owned by the callee.
type DataFunc func(chunk []byte)

// ExitFunc receives the exit code once per spawn. -1 means the process was
// terminated by a signal or its status is unknown.
type ExitFunc func(code int)

// Process is a handle on a spawned build command
type Process interface {
	// Kill interrupts the process group when graceful is true and forcibly
	// terminates it otherwise. Safe to call repeatedly and after exit.
	Kill(graceful bool) error
	// Exited reports whether the process has terminated.
	Exited() bool
	PID() int
	// Done is closed after the exit callback has returned.
	Done() <-chan struct{}
}

// SpawnError reports a command that could not be started
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Runner starts build targets as child processes
type Runner struct {
	logger    logger.Logger
	waitDelay time.Duration
	shell     []string
}

// Option configures a Runner
type Option func(*Runner)

// WithWaitDelay overrides DefaultWaitDelay
func WithWaitDelay(d time.Duration) Option {
	return func(r *Runner) {
		r.waitDelay = d
	}
}

// WithShell overrides the shell used for targets with the shell flag set.
// The command string is appended as the final argument.
func WithShell(shell ...string) Option {
	return func(r *Runner) {
		if len(shell) > 0 {
			r.shell = shell
		}
	}
}

// New creates a runner
func New(log logger.Logger, opts ...Option) *Runner {
	if log == nil {
		log = logger.NewNopLogger()
	}
	r := &Runner{
		logger:    log,
		waitDelay: DefaultWaitDelay,
		shell:     defaultShell(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run spawns the target. Output from stdout and stderr is delivered to onData
// as soon as it is read, without waiting for a line break. onExit is called
// exactly once after the last chunk has been delivered.
func (r *Runner) Run(target types.BuildTarget, onData DataFunc, onExit ExitFunc) (Process, error) {
	cmd := r.createCommand(target)
	display := commandLine(target)

	h := &Handle{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	// The same writer for both streams makes exec share one pipe, so the
	// kernel's write order is the order chunks arrive in.
	out := &chunkWriter{fn: onData}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		r.logger.Debug("Failed to spawn process",
			logger.WithField("command", display),
			logger.WithField("error", err))
		return nil, &SpawnError{Command: display, Err: err}
	}

	h.pid = cmd.Process.Pid
	r.logger.Debug("Spawned process",
		logger.WithField("command", display),
		logger.WithField("pid", h.pid),
		logger.WithField("shell", target.Shell))

	go func() {
		err := cmd.Wait()
		code := exitCode(cmd, err)
		if err != nil && errors.Is(err, exec.ErrWaitDelay) {
			r.logger.Warn("Output pipes still open after exit, detached",
				logger.WithField("pid", h.pid))
		}

		h.markExited()
		r.logger.Debug("Process exited",
			logger.WithField("pid", h.pid),
			logger.WithField("code", code))

		if onExit != nil {
			onExit(code)
		}
		close(h.done)
	}()

	return h, nil
}

func (r *Runner) createCommand(target types.BuildTarget) *exec.Cmd {
	var cmd *exec.Cmd
	if target.Shell {
		line := target.Cmd
		if len(target.Args) > 0 {
			line += " " + strings.Join(target.Args, " ")
		}
		args := append(append([]string(nil), r.shell[1:]...), line)
		cmd = exec.Command(r.shell[0], args...) //nolint:gosec // user configured build command
	} else {
		cmd = exec.Command(target.Cmd, target.Args...) //nolint:gosec // user configured build command
	}

	cmd.Dir = target.Cwd
	cmd.Env = resolveEnvironment(os.Environ(), target.Env)
	cmd.WaitDelay = r.waitDelay
	configureProcAttr(cmd)

	return cmd
}

// Handle implements Process for an exec.Cmd
type Handle struct {
	cmd    *exec.Cmd
	pid    int
	mu     sync.Mutex
	exited bool
	done   chan struct{}
}

// Kill sends an interrupt (graceful) or kill signal to the process group
func (h *Handle) Kill(graceful bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.exited || h.cmd.Process == nil {
		return nil
	}
	if err := signalProcess(h.cmd.Process, graceful); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("failed to signal process %d: %w", h.pid, err)
	}
	return nil
}

// Exited reports whether the process has terminated
func (h *Handle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// PID returns the operating system process ID
func (h *Handle) PID() int {
	return h.pid
}

// Done is closed after the exit callback returned
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) markExited() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exited = true
}

type chunkWriter struct {
	fn DataFunc
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if w.fn != nil && len(p) > 0 {
		chunk := make([]byte, len(p))
		copy(chunk, p)
		w.fn(chunk)
	}
	return len(p), nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err == nil {
		return 0
	}
	return -1
}

// resolveEnvironment overlays the target environment on the inherited one.
// Target keys win; the result is sorted for reproducible spawns.
func resolveEnvironment(base []string, overlay map[string]string) []string {
	envMap := make(map[string]string, len(base)+len(overlay))
	for _, entry := range base {
		k, v, ok := strings.Cut(entry, "=")
		if ok {
			envMap[k] = v
		}
	}
	for k, v := range overlay {
		envMap[k] = v
	}

	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

func commandLine(target types.BuildTarget) string {
	if len(target.Args) == 0 {
		return target.Cmd
	}
	return target.Cmd + " " + strings.Join(target.Args, " ")
}
