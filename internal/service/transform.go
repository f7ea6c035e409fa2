package service

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
)

// NewDrawTransform builds the transform named by spec.
func NewDrawTransform(spec TransformSpec) (DrawTransform, error) {
	lon, lat := fieldOr(spec.LonField, "lon"), fieldOr(spec.LatField, "lat")
	switch spec.Kind {
	case TransformPoints:
		return PointsTransform{LonField: lon, LatField: lat}, nil
	case TransformGrid:
		zoom := spec.Zoom
		if zoom == 0 {
			zoom = defaultGridZoom
		}
		return GridTransform{Zoom: zoom, LonField: lon, LatField: lat, ValueField: spec.ValueField}, nil
	}
	return nil, fmt.Errorf("%w: unknown transform kind %q", ErrInvalidRegistry, spec.Kind)
}

// PointsTransform turns records with coordinates into a point collection.
type PointsTransform struct {
	LonField string
	LatField string
}

// Transform implements DrawTransform.
func (t PointsTransform) Transform(processed any) (any, error) {
	records, err := asRecords(processed)
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	for _, r := range records {
		p, ok := recordPoint(r, t.LonField, t.LatField)
		if !ok {
			continue
		}
		f := geojson.NewFeature(p)
		for k, v := range r {
			if k == t.LonField || k == t.LatField {
				continue
			}
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	return fc, nil
}

// GridTransform buckets records into tile polygons.
type GridTransform struct {
	Zoom       int
	LonField   string
	LatField   string
	ValueField string
}

// Transform implements DrawTransform.
func (t GridTransform) Transform(processed any) (any, error) {
	records, err := asRecords(processed)
	if err != nil {
		return nil, err
	}
	var samples []sample
	for _, r := range records {
		p, ok := recordPoint(r, t.LonField, t.LatField)
		if !ok {
			continue
		}
		value := 1.0
		if t.ValueField != "" {
			if v, ok := toFloat(r[t.ValueField]); ok {
				value = v
			}
		}
		samples = append(samples, sample{point: p, value: value})
	}

	grid := buildGrid(samples, t.Zoom)
	fc := geojson.NewFeatureCollection()
	for _, c := range grid.Cells {
		tile := maptile.New(c.X, c.Y, maptile.Zoom(c.Z))
		f := geojson.NewFeature(tile.Bound().ToPolygon())
		f.Properties["z"] = c.Z
		f.Properties["x"] = c.X
		f.Properties["y"] = c.Y
		f.Properties["count"] = c.Count
		f.Properties["sum"] = c.Sum
		fc.Append(f)
	}
	return fc, nil
}

func asRecords(processed any) ([]map[string]any, error) {
	switch v := processed.(type) {
	case []map[string]any:
		return v, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("processed data item is %T, want object", item)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("processed data is %T, want a record list", processed)
}

func recordPoint(r map[string]any, lonField, latField string) (orb.Point, bool) {
	lon, ok := toFloat(r[lonField])
	if !ok {
		return orb.Point{}, false
	}
	lat, ok := toFloat(r[latField])
	if !ok {
		return orb.Point{}, false
	}
	return orb.Point{lon, lat}, true
}

func fieldOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
