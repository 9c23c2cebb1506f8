package resolver

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/poltergeist/summon/pkg/types"
)

// ConfigFileNames lists the recognized configuration files in lookup order
var ConfigFileNames = []string{".summon.json", ".summon.yml", ".summon.yaml"}

// loadFile reads a target configuration, trying JSON first and YAML second
func loadFile(path string) (*types.TargetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg types.TargetConfig
	jsonErr := json.Unmarshal(data, &cfg)
	if jsonErr == nil {
		return &cfg, nil
	}

	cfg = types.TargetConfig{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse as JSON (%v) or YAML: %w", jsonErr, err)
	}
	return &cfg, nil
}
