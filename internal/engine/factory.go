package engine

import (
	"github.com/poltergeist/summon/pkg/logger"
	"github.com/poltergeist/summon/pkg/resolver"
	"github.com/poltergeist/summon/pkg/runner"
	"github.com/poltergeist/summon/pkg/sink"
)

// Dependencies are the collaborators a Controller drives
type Dependencies struct {
	Resolver TargetResolver
	Runner   ProcessRunner
	Sink     *sink.Buffer
}

// DependencyFactory creates default implementations of dependencies
type DependencyFactory struct {
	logger       logger.Logger
	resolverOpts resolver.Options
	runnerOpts   []runner.Option
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(log logger.Logger) *DependencyFactory {
	return &DependencyFactory{logger: log}
}

// WithResolverOptions sets the options of the default resolver
func (f *DependencyFactory) WithResolverOptions(opts resolver.Options) *DependencyFactory {
	f.resolverOpts = opts
	return f
}

// WithRunnerOptions sets the options of the default runner
func (f *DependencyFactory) WithRunnerOptions(opts ...runner.Option) *DependencyFactory {
	f.runnerOpts = opts
	return f
}

// CreateDefaults creates all default dependencies
func (f *DependencyFactory) CreateDefaults() Dependencies {
	return Dependencies{
		Resolver: f.createResolver(),
		Runner:   f.createRunner(),
		Sink:     sink.New(),
	}
}

// CreateWithOverrides fills the nil fields of overrides with defaults
func (f *DependencyFactory) CreateWithOverrides(overrides Dependencies) Dependencies {
	deps := overrides
	if deps.Resolver == nil {
		deps.Resolver = f.createResolver()
	}
	if deps.Runner == nil {
		deps.Runner = f.createRunner()
	}
	if deps.Sink == nil {
		deps.Sink = sink.New()
	}
	return deps
}

func (f *DependencyFactory) createResolver() TargetResolver {
	return resolver.New(f.logger.WithTarget("resolver"), f.resolverOpts)
}

func (f *DependencyFactory) createRunner() ProcessRunner {
	return runner.New(f.logger.WithTarget("runner"), f.runnerOpts...)
}
