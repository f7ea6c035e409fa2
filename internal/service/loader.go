package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joeblew999/plat-gridmap/internal/sources"
)

// Loader produces the payload of a layer.
type Loader interface {
	Load(ctx context.Context, layer LayerDescriptor) (Payload, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, layer LayerDescriptor) (Payload, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, layer LayerDescriptor) (Payload, error) {
	return f(ctx, layer)
}

// DrawTransform derives a drawable representation from processed data.
type DrawTransform interface {
	Transform(processed any) (any, error)
}

// Loaders is the set of implementations bound to one layer.
// JSON takes precedence over GeoJSON when both are set.
type Loaders struct {
	JSON      Loader
	GeoJSON   Loader
	Transform DrawTransform
}

// HasLoader reports whether either loader is set.
func (l Loaders) HasLoader() bool {
	return l.JSON != nil || l.GeoJSON != nil
}

// LoaderTable maps layer ids to their loaders.
type LoaderTable map[string]Loaders

// Get returns the loaders for a layer; the zero value if none are bound.
func (t LoaderTable) Get(id string) Loaders {
	return t[id]
}

// LoaderDeps are the resources loader implementations may need.
type LoaderDeps struct {
	Sources sources.Store
	DB      *sql.DB
}

// BuildLoaderTable resolves each layer's source specs to loader
// implementations, using the source kind as the variant tag.
func BuildLoaderTable(reg *Registry, deps LoaderDeps) (LoaderTable, error) {
	table := make(LoaderTable)
	for _, l := range reg.Layers() {
		var ls Loaders
		if l.JSON != nil {
			switch l.JSON.Kind {
			case SourceFile, "":
				ls.JSON = &JSONFileLoader{Sources: deps.Sources, Spec: *l.JSON}
			case SourceSQL:
				ls.JSON = &SQLLoader{DB: deps.DB, Spec: *l.JSON}
			default:
				return nil, fmt.Errorf("%w: layer %q: unknown json source kind %q", ErrInvalidRegistry, l.ID, l.JSON.Kind)
			}
		}
		if l.GeoJSON != nil {
			switch l.GeoJSON.Kind {
			case SourceFile, "":
				ls.GeoJSON = &GeoJSONFileLoader{Sources: deps.Sources, Spec: *l.GeoJSON, Zoom: gridZoom(l)}
			case SourcePMTiles:
				ls.GeoJSON = &PMTilesLoader{Sources: deps.Sources, Spec: *l.GeoJSON}
			default:
				return nil, fmt.Errorf("%w: layer %q: unknown geojson source kind %q", ErrInvalidRegistry, l.ID, l.GeoJSON.Kind)
			}
		}
		if l.Transform != nil {
			t, err := NewDrawTransform(*l.Transform)
			if err != nil {
				return nil, fmt.Errorf("layer %q: %w", l.ID, err)
			}
			ls.Transform = t
		}
		if ls.HasLoader() || ls.Transform != nil {
			table[l.ID] = ls
		}
	}
	return table, nil
}

func gridZoom(l LayerDescriptor) int {
	if l.Transform != nil && l.Transform.Kind == TransformGrid && l.Transform.Zoom > 0 {
		return l.Transform.Zoom
	}
	return defaultGridZoom
}
