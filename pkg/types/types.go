// Package types provides core types for summon build targets and sessions
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// BuildState represents the lifecycle state of a build session
type BuildState string

const (
	BuildStateIdle    BuildState = "idle"
	BuildStateRunning BuildState = "running"
	BuildStateSuccess BuildState = "success"
	BuildStateError   BuildState = "error"
	BuildStateStopped BuildState = "stopped"
)

// IsTerminal reports whether the state ends a session
func (s BuildState) IsTerminal() bool {
	switch s {
	case BuildStateSuccess, BuildStateError, BuildStateStopped:
		return true
	default:
		return false
	}
}

// ErrorKind classifies why a session ended the way it did
type ErrorKind string

const (
	ErrorKindNone                   ErrorKind = ""
	ErrorKindConfigurationNotFound  ErrorKind = "configuration_not_found"
	ErrorKindConfigurationMalformed ErrorKind = "configuration_malformed"
	ErrorKindTargetNotFound         ErrorKind = "target_not_found"
	ErrorKindSpawnFailure           ErrorKind = "spawn_failure"
	ErrorKindNonZeroExit            ErrorKind = "non_zero_exit"
	ErrorKindUserStopped            ErrorKind = "user_stopped"
)

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLogLevel accepts a level name in any case
func ParseLogLevel(s string) (LogLevel, error) {
	switch level := LogLevel(strings.ToLower(strings.TrimSpace(s))); level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return level, nil
	}
	return "", fmt.Errorf("unknown log level %q, want debug, info, warn or error", s)
}

// TargetConfig is one entry of a project build configuration file.
// Nested Targets inherit unset fields from their parent.
type TargetConfig struct {
	Name     string                  `json:"name,omitempty" yaml:"name,omitempty"`
	Cmd      string                  `json:"cmd" yaml:"cmd"`
	Args     []string                `json:"args,omitempty" yaml:"args,omitempty"`
	Cwd      string                  `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Sh       *bool                   `json:"sh,omitempty" yaml:"sh,omitempty"`
	Env      map[string]string       `json:"env,omitempty" yaml:"env,omitempty"`
	EnvFile  string                  `json:"envFile,omitempty" yaml:"envFile,omitempty"`
	Postpone bool                    `json:"postpone,omitempty" yaml:"postpone,omitempty"`
	Targets  map[string]TargetConfig `json:"targets,omitempty" yaml:"targets,omitempty"`
}

// UseShell returns whether cmd must be interpreted by a shell. Defaults to true.
func (c *TargetConfig) UseShell() bool {
	return c.Sh == nil || *c.Sh
}

// TargetNames returns the nested target names in a stable order
func (c *TargetConfig) TargetNames() []string {
	names := make([]string, 0, len(c.Targets))
	for name := range c.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseTargetConfig unmarshals a target configuration from JSON
func ParseTargetConfig(data []byte) (*TargetConfig, error) {
	var cfg TargetConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse target config: %w", err)
	}
	return &cfg, nil
}

// BuildTarget is a resolved, ready-to-run build command.
// Treat it as immutable; use Clone before handing it to other goroutines that may keep it.
type BuildTarget struct {
	Name          string            `json:"name"`
	Cmd           string            `json:"cmd"`
	Args          []string          `json:"args,omitempty"`
	Cwd           string            `json:"cwd"`
	Env           map[string]string `json:"env,omitempty"`
	Shell         bool              `json:"sh"`
	PostponedName string            `json:"postponedName,omitempty"`
	Source        string            `json:"source,omitempty"`
}

// IsPostponed reports whether the target needs an explicit selection before it runs
func (t BuildTarget) IsPostponed() bool {
	return t.PostponedName != ""
}

// Clone returns a deep copy of the target
func (t BuildTarget) Clone() BuildTarget {
	out := t
	if t.Args != nil {
		out.Args = append([]string(nil), t.Args...)
	}
	if t.Env != nil {
		out.Env = make(map[string]string, len(t.Env))
		for k, v := range t.Env {
			out.Env[k] = v
		}
	}
	return out
}

// Result describes the observable outcome of a session at a point in time.
// ExitCode is -1 until a process has exited, and stays -1 for sessions that
// never spawned one or whose process was killed by a signal.
type Result struct {
	SessionID    string        `json:"sessionId,omitempty"`
	State        BuildState    `json:"state"`
	TargetName   string        `json:"targetName,omitempty"`
	ExitCode     int           `json:"exitCode"`
	Kind         ErrorKind     `json:"kind,omitempty"`
	Message      string        `json:"message,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	OutputLength int           `json:"outputLength"`
	StartedAt    time.Time     `json:"startedAt,omitempty"`
}

// Succeeded reports whether the session finished with exit code zero
func (r Result) Succeeded() bool {
	return r.State == BuildStateSuccess
}
