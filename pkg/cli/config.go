package cli

import (
	"path/filepath"
)

// Config holds the command-line options of one CLI instance
type Config struct {
	ConfigFile string
	// ProjectRoots are searched for target configuration in order
	ProjectRoots []string
	Verbosity    string
	Version      string

	Restart bool
	Notify  bool
	Watch   bool
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		ProjectRoots: []string{"."},
		Verbosity:    "info",
		Version:      "dev",
	}
}

// settingsRoot is the directory searched for the summon settings file
func (c *Config) settingsRoot() string {
	if len(c.ProjectRoots) == 0 {
		return "."
	}
	return c.ProjectRoots[0]
}

// projectDirs returns the roots as absolute paths
func (c *Config) projectDirs() ([]string, error) {
	roots := c.ProjectRoots
	if len(roots) == 0 {
		roots = []string{"."}
	}
	dirs := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, abs)
	}
	return dirs, nil
}
