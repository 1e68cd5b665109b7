package registry

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrManifest reports an unreadable manifest or one naming unknown tools.
var ErrManifest = errors.New("registry: invalid tool manifest")

// Manifest selects which catalog entries a deployment runs.
//
//	tools:
//	  enabled: [whoami, git_status]
//	  disabled: [resource_list]
//
// An empty enabled list enables everything not disabled.
type Manifest struct {
	Tools struct {
		Enabled  []string `yaml:"enabled"`
		Disabled []string `yaml:"disabled"`
	} `yaml:"tools"`
}

// LoadManifest reads a manifest from a YAML file.
func LoadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}
	return ParseManifest(b)
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(b []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}
	return &m, nil
}

// Allows reports whether the named tool should be loaded.
func (m *Manifest) Allows(name string) bool {
	if slices.Contains(m.Tools.Disabled, name) {
		return false
	}
	return len(m.Tools.Enabled) == 0 || slices.Contains(m.Tools.Enabled, name)
}

func (m *Manifest) check(known map[string]struct{}) error {
	var unknown []string
	for _, name := range slices.Concat(m.Tools.Enabled, m.Tools.Disabled) {
		if _, ok := known[name]; !ok && !slices.Contains(unknown, name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: unknown tools: %s", ErrManifest, strings.Join(unknown, ", "))
	}
	return nil
}
