package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of an agent roster.
type File struct {
	Agents []Descriptor `yaml:"agents"`
}

// LoadFile reads a YAML roster and builds a registry from it.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agents %s: %w", path, err)
	}
	reg, err := NewRegistry(f.Agents)
	if err != nil {
		return nil, fmt.Errorf("load agents %s: %w", path, err)
	}
	return reg, nil
}
