package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RegistryFile is the on-disk layout of the layer registry.
type RegistryFile struct {
	Groups []LayerGroup  `json:"groups" yaml:"groups"`
	View   *ViewDefaults `json:"view,omitempty" yaml:"view,omitempty"`
}

// Registry is the static group → layer configuration.
// It is safe for concurrent use because it is never mutated after construction.
type Registry struct {
	groups []LayerGroup
	view   ViewDefaults
}

// NewRegistry validates groups and builds a registry.
// Layers without an ID get one derived from their name.
func NewRegistry(groups []LayerGroup) (*Registry, error) {
	seen := make(map[string]bool)
	out := make([]LayerGroup, len(groups))
	for gi, g := range groups {
		if g.ID == "" {
			g.ID = generateID(g.Name)
		}
		layers := make([]LayerDescriptor, len(g.Layers))
		for li, l := range g.Layers {
			if l.ID == "" {
				l.ID = generateID(l.Name)
			}
			if l.ID == "" {
				return nil, fmt.Errorf("%w: group %q layer %d has no id or name", ErrInvalidRegistry, g.ID, li)
			}
			if seen[l.ID] {
				return nil, fmt.Errorf("%w: duplicate layer id %q", ErrInvalidRegistry, l.ID)
			}
			seen[l.ID] = true
			if l.Name == "" {
				l.Name = l.ID
			}
			l.Group = g.ID
			layers[li] = l
		}
		g.Layers = layers
		out[gi] = g
	}
	return &Registry{groups: out, view: DefaultViewDefaults()}, nil
}

// LoadRegistry reads a registry file. YAML is assumed unless the file has a
// .json extension. A missing file yields an empty registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewRegistry(nil)
		}
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	return ParseRegistry(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

// ParseRegistry decodes registry bytes as YAML, or JSON when asJSON is set.
func ParseRegistry(data []byte, asJSON bool) (*Registry, error) {
	var file RegistryFile
	var err error
	if asJSON {
		err = json.Unmarshal(data, &file)
	} else {
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegistry, err)
	}

	reg, err := NewRegistry(file.Groups)
	if err != nil {
		return nil, err
	}
	if file.View != nil {
		reg.view = reg.view.merge(*file.View)
	}
	return reg, nil
}

// Groups returns the registry groups in declaration order.
func (r *Registry) Groups() []LayerGroup {
	out := make([]LayerGroup, len(r.groups))
	copy(out, r.groups)
	return out
}

// Group returns a group by id.
func (r *Registry) Group(id string) (LayerGroup, bool) {
	for _, g := range r.groups {
		if g.ID == id {
			return g, true
		}
	}
	return LayerGroup{}, false
}

// Find searches groups in order and returns the first layer with the id.
func (r *Registry) Find(id string) (LayerDescriptor, bool) {
	for _, g := range r.groups {
		for _, l := range g.Layers {
			if l.ID == id {
				return l, true
			}
		}
	}
	return LayerDescriptor{}, false
}

// Layers flattens all groups into a single ordered slice.
func (r *Registry) Layers() []LayerDescriptor {
	var out []LayerDescriptor
	for _, g := range r.groups {
		out = append(out, g.Layers...)
	}
	return out
}

// ViewDefaults returns the initial view state declared in the registry file.
func (r *Registry) ViewDefaults() ViewDefaults {
	return r.view
}

// generateID creates a URL-safe ID from a name.
func generateID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.ReplaceAll(id, " ", "_")
	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
