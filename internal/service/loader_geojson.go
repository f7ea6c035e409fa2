package service

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/plat-gridmap/internal/sources"
)

// GeoJSONFileLoader reads a GeoJSON FeatureCollection and derives grid
// variants from the feature centroids.
type GeoJSONFileLoader struct {
	Sources sources.Store
	Spec    SourceSpec
	Zoom    int
}

// Load implements Loader.
func (l *GeoJSONFileLoader) Load(ctx context.Context, layer LayerDescriptor) (Payload, error) {
	data, obj, err := readSource(ctx, l.Sources, l.Spec.Path)
	if err != nil {
		return Payload{}, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return Payload{}, fmt.Errorf("parsing geojson: %w", err)
	}

	var (
		samples []sample
		rows    = make([]map[string]any, 0, len(fc.Features))
		bound   orb.Bound
		first   = true
		geoms   = map[string]int{}
	)
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		geoms[f.Geometry.GeoJSONType()]++

		b := f.Geometry.Bound()
		if first {
			bound, first = b, false
		} else {
			bound = bound.Union(b)
		}

		centroid, _ := planar.CentroidArea(f.Geometry)
		value := 1.0
		if l.Spec.ValueField != "" {
			if v, ok := toFloat(f.Properties[l.Spec.ValueField]); ok {
				value = v
			}
		}
		samples = append(samples, sample{point: centroid, value: value})

		row := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			row[k] = v
		}
		rows = append(rows, row)
	}

	zoom := l.Zoom
	if zoom == 0 {
		zoom = defaultGridZoom
	}
	base, high, low := gridVariants(samples, zoom)

	dash := summarize(rows, l.Spec.ValueField)
	dash.Count = len(fc.Features)
	dash.Geometries = geoms
	if !first {
		dash.Bounds = []float64{bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat()}
	}

	return Payload{
		GeoJSONData:   fc,
		GridData:      base,
		GridDataHigh:  high,
		GridDataLow:   low,
		DataTableData: tableOf(rows),
		DashboardData: dash,
		LayerInfoData: objectInfo(l.Sources, obj),
	}, nil
}
