// Package resolver discovers build targets from project configuration files
package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/poltergeist/summon/internal/syncutil"
	"github.com/poltergeist/summon/pkg/logger"
	"github.com/poltergeist/summon/pkg/types"
)

// Options configures where the resolver looks for configuration
type Options struct {
	// HomeDir is scanned after all project directories. Empty disables the fallback.
	HomeDir string
	// FileNames overrides ConfigFileNames
	FileNames []string
}

// Resolution is the outcome of a resolve pass
type Resolution struct {
	Targets []types.BuildTarget
	// Files lists configuration files that produced at least one target
	Files []string
	// Errors holds one *ConfigurationMalformedError per rejected file
	Errors []error
}

// Find returns the target with the given name
func (r *Resolution) Find(name string) (types.BuildTarget, bool) {
	for _, t := range r.Targets {
		if t.Name == name {
			return t.Clone(), true
		}
	}
	return types.BuildTarget{}, false
}

// Err joins the per-file errors, nil when every file was usable
func (r *Resolution) Err() error {
	return errors.Join(r.Errors...)
}

// Resolver scans project directories for build configuration. It never
// writes to the filesystem.
type Resolver struct {
	logger logger.Logger
	opts   Options
}

// New creates a resolver
func New(log logger.Logger, opts Options) *Resolver {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if len(opts.FileNames) == 0 {
		opts.FileNames = ConfigFileNames
	}
	return &Resolver{logger: log, opts: opts}
}

type scanLocation struct {
	dir        string
	projectDir string
}

type scanResult struct {
	targets []types.BuildTarget
	files   []string
	errs    []error
}

// Resolve returns every target declared in the project directories, followed
// by those declared in the home directory. Malformed files are reported in
// Resolution.Errors and skipped. When no target remains the error wraps
// ErrConfigurationNotFound together with the per-file errors; the partial
// resolution is still returned.
func (r *Resolver) Resolve(ctx context.Context, projectDirs []string) (*Resolution, error) {
	locations, err := r.locations(projectDirs)
	if err != nil {
		return nil, err
	}

	results := make([]scanResult, len(locations))
	g, gctx := syncutil.NewSafeGroup(ctx, r.logger)
	for i, loc := range locations {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = r.scan(loc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to resolve targets: %w", err)
	}

	res := &Resolution{}
	for _, sr := range results {
		res.Targets = append(res.Targets, sr.targets...)
		res.Files = append(res.Files, sr.files...)
		res.Errors = append(res.Errors, sr.errs...)
	}
	uniquifyNames(res.Targets)

	if len(res.Targets) == 0 {
		return res, errors.Join(append([]error{ErrConfigurationNotFound}, res.Errors...)...)
	}

	r.logger.Debug("Resolved build targets",
		logger.WithField("targets", len(res.Targets)),
		logger.WithField("files", len(res.Files)),
		logger.WithField("errors", len(res.Errors)))
	return res, nil
}

func (r *Resolver) locations(projectDirs []string) ([]scanLocation, error) {
	if len(projectDirs) == 0 {
		return nil, fmt.Errorf("%w: no project directory given", ErrConfigurationNotFound)
	}

	locations := make([]scanLocation, 0, len(projectDirs)+1)
	seen := make(map[string]bool, len(projectDirs))
	for _, dir := range projectDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("invalid project directory %q: %w", dir, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		locations = append(locations, scanLocation{dir: abs, projectDir: abs})
	}

	if r.opts.HomeDir != "" {
		home, err := filepath.Abs(r.opts.HomeDir)
		if err == nil && !seen[home] {
			locations = append(locations, scanLocation{dir: home, projectDir: locations[0].projectDir})
		}
	}
	return locations, nil
}

func (r *Resolver) scan(loc scanLocation) scanResult {
	var out scanResult

	branch, err := repoBranch(loc.projectDir)
	if err != nil {
		r.logger.Debug("Could not read repository branch",
			logger.WithField("dir", loc.projectDir),
			logger.WithField("error", err))
	}
	ph := newPlaceholders(loc.projectDir, branch)

	for _, name := range r.opts.FileNames {
		path := filepath.Join(loc.dir, name)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}

		targets, err := r.loadTargets(path, loc.projectDir, ph)
		if err != nil {
			r.logger.Warn("Skipping malformed build configuration",
				logger.WithField("path", path),
				logger.WithField("error", err))
			out.errs = append(out.errs, &ConfigurationMalformedError{Path: path, Err: err})
			continue
		}

		r.logger.Debug("Loaded build configuration",
			logger.WithField("path", path),
			logger.WithField("targets", len(targets)))
		out.targets = append(out.targets, targets...)
		out.files = append(out.files, path)
	}
	return out
}

func (r *Resolver) loadTargets(path, projectDir string, ph placeholders) ([]types.BuildTarget, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	e := &expander{path: path, projectDir: projectDir, ph: ph}
	defaultName := fmt.Sprintf("%s (%s)", filepath.Base(path), filepath.Base(projectDir))
	return e.expand(cfg, defaultName, scope{cwd: projectDir, shell: true})
}

// scope holds the values nested targets inherit from their parent
type scope struct {
	cwd   string
	shell bool
	env   map[string]string
}

type expander struct {
	path       string
	projectDir string
	ph         placeholders
}

func (e *expander) expand(cfg *types.TargetConfig, defaultName string, parent scope) ([]types.BuildTarget, error) {
	if cfg.Cmd == "" && len(cfg.Targets) == 0 {
		return nil, errMissingCmd
	}

	own, err := e.scopeFor(cfg, parent)
	if err != nil {
		return nil, err
	}

	var targets []types.BuildTarget
	if cfg.Cmd != "" {
		name := cfg.Name
		if name == "" {
			name = defaultName
		}
		t := types.BuildTarget{
			Name:   name,
			Cmd:    e.ph.expand(cfg.Cmd),
			Args:   e.ph.expandAll(cfg.Args),
			Cwd:    own.cwd,
			Env:    copyEnv(own.env),
			Shell:  own.shell,
			Source: e.path,
		}
		if cfg.Postpone {
			t.PostponedName = name
		}
		targets = append(targets, t)
	}

	for _, key := range cfg.TargetNames() {
		child := cfg.Targets[key]
		nested, err := e.expand(&child, key, own)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", key, err)
		}
		targets = append(targets, nested...)
	}
	return targets, nil
}

func (e *expander) scopeFor(cfg *types.TargetConfig, parent scope) (scope, error) {
	s := scope{cwd: parent.cwd, shell: parent.shell}

	if cfg.Cwd != "" {
		cwd := e.ph.expand(cfg.Cwd)
		if !filepath.IsAbs(cwd) {
			cwd = filepath.Join(e.projectDir, cwd)
		}
		s.cwd = filepath.Clean(cwd)
	}
	if cfg.Sh != nil {
		s.shell = *cfg.Sh
	}

	env := copyEnv(parent.env)
	if cfg.EnvFile != "" {
		path := e.ph.expand(cfg.EnvFile)
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.cwd, path)
		}
		values, err := godotenv.Read(path)
		if err != nil {
			return scope{}, fmt.Errorf("failed to read envFile %s: %w", path, err)
		}
		env = mergeEnv(env, values, nil)
	}
	s.env = mergeEnv(env, cfg.Env, e.ph.expand)
	return s, nil
}

func mergeEnv(base, overlay map[string]string, expand func(string) string) map[string]string {
	if len(overlay) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]string, len(overlay))
	}
	for k, v := range overlay {
		if expand != nil {
			v = expand(v)
		}
		base[k] = v
	}
	return base
}

func copyEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// uniquifyNames suffixes repeated names with " #2", " #3" in order of appearance
func uniquifyNames(targets []types.BuildTarget) {
	taken := make(map[string]bool, len(targets))
	for _, t := range targets {
		taken[t.Name] = false
	}
	for i := range targets {
		name := targets[i].Name
		if !taken[name] {
			taken[name] = true
			continue
		}
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s #%d", name, n)
			if _, exists := taken[candidate]; !exists {
				taken[candidate] = true
				targets[i].Name = candidate
				if targets[i].PostponedName != "" {
					targets[i].PostponedName = candidate
				}
				break
			}
		}
	}
}
