package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"

	"github.com/joeblew999/plat-gridmap/internal/sources"
)

// JSONFileLoader reads a JSON document from the source store.
type JSONFileLoader struct {
	Sources sources.Store
	Spec    SourceSpec
}

// Load implements Loader.
func (l *JSONFileLoader) Load(ctx context.Context, layer LayerDescriptor) (Payload, error) {
	data, obj, err := readSource(ctx, l.Sources, l.Spec.Path)
	if err != nil {
		return Payload{}, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Payload{}, fmt.Errorf("parsing %s: %w", l.Spec.Path, err)
	}

	records := toRecords(doc)
	return Payload{
		JSONData:          doc,
		ProcessedJSONData: records,
		DataTableData:     tableOf(records),
		DashboardData:     summarize(records, l.Spec.ValueField),
		LayerInfoData:     objectInfo(l.Sources, obj),
	}, nil
}

// Dashboard is the summary shown on a layer's dashboard tab.
type Dashboard struct {
	Count      int            `json:"count"`
	ValueField string         `json:"valueField,omitempty"`
	Min        *float64       `json:"min,omitempty"`
	Max        *float64       `json:"max,omitempty"`
	Mean       *float64       `json:"mean,omitempty"`
	Columns    []string       `json:"columns,omitempty"`
	Bounds     []float64      `json:"bounds,omitempty"`
	Geometries map[string]int `json:"geometries,omitempty"`
}

// LayerInfo describes where a layer's data came from. Kind is the source
// store kind ("file" or "s3").
type LayerInfo struct {
	File string `json:"file"`
	Kind string `json:"kind"`
	Size string `json:"size"`
}

// toRecords normalises a decoded JSON document into a list of records.
// Arrays of objects are used as-is, objects holding a "data" or "records"
// array are unwrapped, and a lone object becomes a single record.
func toRecords(doc any) []map[string]any {
	switch v := doc.(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		for _, key := range []string{"data", "records"} {
			if inner, ok := v[key].([]any); ok {
				return toRecords(inner)
			}
		}
		return []map[string]any{v}
	}
	return []map[string]any{}
}

func tableOf(records []map[string]any) Table {
	seen := map[string]bool{}
	for _, r := range records {
		for k := range r {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return Table{Columns: cols, Rows: records}
}

func summarize(records []map[string]any, field string) Dashboard {
	d := Dashboard{Count: len(records), ValueField: field}
	if field == "" {
		return d
	}
	var sum float64
	var n int
	for _, r := range records {
		v, ok := toFloat(r[field])
		if !ok {
			continue
		}
		if d.Min == nil || v < *d.Min {
			d.Min = ptr(v)
		}
		if d.Max == nil || v > *d.Max {
			d.Max = ptr(v)
		}
		sum += v
		n++
	}
	if n > 0 {
		d.Mean = ptr(sum / float64(n))
	}
	return d
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// readSource reads a whole source object.
func readSource(ctx context.Context, store sources.Store, name string) ([]byte, sources.Object, error) {
	if store == nil {
		return nil, sources.Object{}, fmt.Errorf("no source store configured")
	}
	return sources.ReadAll(ctx, store, name)
}

func objectInfo(store sources.Store, obj sources.Object) LayerInfo {
	return LayerInfo{File: path.Base(obj.Name), Kind: store.Kind(), Size: formatSize(obj.Size)}
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
