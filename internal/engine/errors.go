package engine

import (
	"errors"
	"fmt"

	"github.com/poltergeist/summon/pkg/resolver"
	"github.com/poltergeist/summon/pkg/runner"
	"github.com/poltergeist/summon/pkg/types"
)

var (
	// ErrNonZeroExit marks a build whose command exited with a non-zero code
	ErrNonZeroExit = errors.New("build exited with non-zero code")
	// ErrUserStopped marks a build ended by Stop. It is not a failure.
	ErrUserStopped = errors.New("build stopped by user")
	// ErrTargetNotFound is returned for an unknown target name
	ErrTargetNotFound = errors.New("target not found")
	// ErrNoDefaultTarget is returned when every resolved target is postponed
	ErrNoDefaultTarget = errors.New("no default target: all targets require explicit selection")
	// ErrClosed is returned by operations on a closed controller
	ErrClosed = errors.New("controller closed")
)

// ExitError carries the exit code of a failed build
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%v: %d", ErrNonZeroExit, e.Code)
}

func (e *ExitError) Unwrap() error {
	return ErrNonZeroExit
}

// kindOf classifies a session error
func kindOf(err error) types.ErrorKind {
	var spawnErr *runner.SpawnError
	var malformed *resolver.ConfigurationMalformedError
	switch {
	case err == nil:
		return types.ErrorKindNone
	case errors.Is(err, ErrUserStopped):
		return types.ErrorKindUserStopped
	case errors.Is(err, ErrNonZeroExit):
		return types.ErrorKindNonZeroExit
	case errors.As(err, &spawnErr):
		return types.ErrorKindSpawnFailure
	case errors.Is(err, ErrTargetNotFound):
		return types.ErrorKindTargetNotFound
	case errors.Is(err, resolver.ErrConfigurationNotFound), errors.Is(err, ErrNoDefaultTarget):
		return types.ErrorKindConfigurationNotFound
	case errors.As(err, &malformed):
		return types.ErrorKindConfigurationMalformed
	default:
		return types.ErrorKindConfigurationNotFound
	}
}
