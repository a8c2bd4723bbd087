package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileCatalog is the on-disk YAML shape: a single document with a
// top-level offenses list.
type fileCatalog struct {
	Offenses []Offense `yaml:"offenses"`
}

// LoadFile reads an offense catalog override from a YAML file.
// The file replaces the builtin catalog wholesale — entries are not merged.
// Loaded once at startup and cached by the caller; no hot reload.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file %s: %w", path, err)
	}

	var raw fileCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing catalog file %s: %w", path, err)
	}

	c, err := New(raw.Offenses)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}
	return c, nil
}

// Load returns the catalog from path, or the builtin catalog when path
// is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}
