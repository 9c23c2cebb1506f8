package engine

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"github.com/poltergeist/summon/pkg/resolver"
	"github.com/poltergeist/summon/pkg/runner"
	"github.com/poltergeist/summon/pkg/types"
)

// TargetResolver discovers build targets. Implemented by *resolver.Resolver;
// tests substitute fixed target lists.
type TargetResolver interface {
	Resolve(ctx context.Context, projectDirs []string) (*resolver.Resolution, error)
}

// ProcessRunner spawns build targets. Implemented by *runner.Runner; tests
// substitute a scripted fake to drive exit and stop races deterministically.
type ProcessRunner interface {
	Run(target types.BuildTarget, onData runner.DataFunc, onExit runner.ExitFunc) (runner.Process, error)
}

var (
	_ TargetResolver = (*resolver.Resolver)(nil)
	_ ProcessRunner  = (*runner.Runner)(nil)
)
