// Package validation checks resolved build targets before they run
package validation

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/poltergeist/summon/pkg/types"
)

// TargetValidator validates build targets
type TargetValidator struct {
	lookPath func(string) (string, error)
}

// NewTargetValidator creates a new target validator
func NewTargetValidator() *TargetValidator {
	return &TargetValidator{
		lookPath: exec.LookPath,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Target  string
	Field   string
	Message string
	Level   ValidationLevel
}

// ValidationLevel represents error severity
type ValidationLevel string

const (
	ValidationLevelError   ValidationLevel = "error"
	ValidationLevelWarning ValidationLevel = "warning"
	ValidationLevelInfo    ValidationLevel = "info"
)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s.%s: %s", e.Level, e.Target, e.Field, e.Message)
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// AddError adds an error to the validation result
func (r *ValidationResult) AddError(target, field, message string, level ValidationLevel) {
	r.Errors = append(r.Errors, ValidationError{
		Target:  target,
		Field:   field,
		Message: message,
		Level:   level,
	})
	if level == ValidationLevelError {
		r.Valid = false
	}
}

// Validate validates a target
func (v *TargetValidator) Validate(target types.BuildTarget) *ValidationResult {
	result := &ValidationResult{Valid: true}

	v.validateBasicFields(target, result)
	v.validateWorkingDirectory(target, result)
	v.validateEnvironment(target, result)
	v.validateExecutable(target, result)

	return result
}

// ValidateMultiple validates multiple targets
func (v *TargetValidator) ValidateMultiple(targets []types.BuildTarget) *ValidationResult {
	result := &ValidationResult{Valid: true}

	names := make(map[string]bool)
	runnable := false

	for _, target := range targets {
		if names[target.Name] {
			result.AddError(target.Name, "name", "duplicate target name", ValidationLevelError)
		}
		names[target.Name] = true
		if !target.IsPostponed() {
			runnable = true
		}

		targetResult := v.Validate(target)
		result.Errors = append(result.Errors, targetResult.Errors...)
		if !targetResult.Valid {
			result.Valid = false
		}
	}

	if len(targets) > 0 && !runnable {
		result.AddError("config", "postpone", "every target is postponed, a name must be selected to run", ValidationLevelInfo)
	}

	return result
}

func (v *TargetValidator) validateBasicFields(target types.BuildTarget, result *ValidationResult) {
	if target.Name == "" {
		result.AddError("", "name", "target name is required", ValidationLevelError)
	}
	if strings.TrimSpace(target.Cmd) == "" {
		result.AddError(target.Name, "cmd", "command is required", ValidationLevelError)
	}
}

func (v *TargetValidator) validateWorkingDirectory(target types.BuildTarget, result *ValidationResult) {
	if target.Cwd == "" {
		return
	}
	if !filepath.IsAbs(target.Cwd) {
		result.AddError(target.Name, "cwd", fmt.Sprintf("working directory is not absolute: %s", target.Cwd), ValidationLevelWarning)
	}

	info, err := os.Stat(target.Cwd)
	switch {
	case os.IsNotExist(err):
		result.AddError(target.Name, "cwd", fmt.Sprintf("working directory does not exist: %s", target.Cwd), ValidationLevelError)
	case err != nil:
		result.AddError(target.Name, "cwd", err.Error(), ValidationLevelError)
	case !info.IsDir():
		result.AddError(target.Name, "cwd", fmt.Sprintf("working directory is not a directory: %s", target.Cwd), ValidationLevelError)
	}
}

func (v *TargetValidator) validateEnvironment(target types.BuildTarget, result *ValidationResult) {
	for key := range target.Env {
		if key == "" || strings.ContainsAny(key, "=\x00") {
			result.AddError(target.Name, "env", fmt.Sprintf("invalid variable name %q", key), ValidationLevelError)
		}
	}
}

// validateExecutable looks up commands that run without a shell. Shell
// commands are only known to be valid once the shell parses them.
func (v *TargetValidator) validateExecutable(target types.BuildTarget, result *ValidationResult) {
	if target.Shell || strings.TrimSpace(target.Cmd) == "" {
		return
	}

	cmd := target.Cmd
	if strings.ContainsRune(cmd, filepath.Separator) && !filepath.IsAbs(cmd) && target.Cwd != "" {
		cmd = filepath.Join(target.Cwd, cmd)
	}
	if _, err := v.lookPath(cmd); err != nil {
		result.AddError(target.Name, "cmd", fmt.Sprintf("executable not found: %s", target.Cmd), ValidationLevelWarning)
	}
}
