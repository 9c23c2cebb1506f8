package resolver

import (
	"errors"
	"fmt"
)

// ErrConfigurationNotFound is returned when no project directory yields a runnable target
var ErrConfigurationNotFound = errors.New("no build configuration found")

// ConfigurationMalformedError reports a configuration file that could not be used.
// Resolution of other files continues.
type ConfigurationMalformedError struct {
	Path string
	Err  error
}

func (e *ConfigurationMalformedError) Error() string {
	return fmt.Sprintf("malformed build configuration %s: %v", e.Path, e.Err)
}

func (e *ConfigurationMalformedError) Unwrap() error {
	return e.Err
}

// errMissingCmd marks a target entry without a command
var errMissingCmd = errors.New("cmd is required")
