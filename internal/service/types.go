// Package service contains the layer registry, state store and load
// controller behind the plat-gridmap viewer.
package service

import (
	"errors"
	"time"
)

var (
	// ErrLayerNotFound is returned when a layer id is not in the registry.
	ErrLayerNotFound = errors.New("layer not found")
	// ErrNoLoader is returned when a load is requested for a layer without loaders.
	ErrNoLoader = errors.New("no loader configured")
	// ErrInvalidRegistry is returned for malformed registry files.
	ErrInvalidRegistry = errors.New("invalid registry")
	// ErrUnknownSlot is returned when a payload slot name is not recognised.
	ErrUnknownSlot = errors.New("unknown payload slot")
	// ErrInvalidViewState is returned when a view-state write is rejected.
	ErrInvalidViewState = errors.New("invalid view state")
)

// Source kinds. The kind selects the loader implementation for a layer.
const (
	SourceFile    = "file"
	SourceSQL     = "sql"
	SourcePMTiles = "pmtiles"
)

// Transform kinds.
const (
	TransformPoints = "points"
	TransformGrid   = "grid"
)

// LayerDescriptor is the static description of a map layer.
// Descriptors are read once at startup and never mutated.
type LayerDescriptor struct {
	ID          string         `json:"id" yaml:"id" doc:"Unique layer identifier" example:"pm25"`
	Name        string         `json:"name" yaml:"name" doc:"Display name" example:"PM2.5"`
	Group       string         `json:"group" yaml:"-" doc:"Owning group id" example:"air"`
	Visible     bool           `json:"visible" yaml:"visible" doc:"Initial visibility"`
	Color       string         `json:"color,omitempty" yaml:"color,omitempty" doc:"Color tag" example:"red"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty" doc:"Free text description"`
	JSON        *SourceSpec    `json:"json,omitempty" yaml:"json,omitempty" doc:"JSON loader source"`
	GeoJSON     *SourceSpec    `json:"geojson,omitempty" yaml:"geojson,omitempty" doc:"GeoJSON loader source"`
	Transform   *TransformSpec `json:"transform,omitempty" yaml:"transform,omitempty" doc:"Draw transform"`
}

// SourceSpec configures where a loader reads its data from.
type SourceSpec struct {
	Kind       string `json:"kind" yaml:"kind" enum:"file,sql,pmtiles" doc:"Source kind"`
	Path       string `json:"path,omitempty" yaml:"path,omitempty" doc:"File name relative to the sources directory"`
	Query      string `json:"query,omitempty" yaml:"query,omitempty" doc:"SQL query for sql sources"`
	ValueField string `json:"valueField,omitempty" yaml:"valueField,omitempty" doc:"Property summed into grid cells and dashboards"`
	LonField   string `json:"lonField,omitempty" yaml:"lonField,omitempty" doc:"Longitude field name"`
	LatField   string `json:"latField,omitempty" yaml:"latField,omitempty" doc:"Latitude field name"`
}

// TransformSpec configures the post-processing draw transform.
type TransformSpec struct {
	Kind       string `json:"kind" yaml:"kind" enum:"points,grid" doc:"Transform kind"`
	Zoom       int    `json:"zoom,omitempty" yaml:"zoom,omitempty" minimum:"0" maximum:"22" doc:"Grid zoom level"`
	LonField   string `json:"lonField,omitempty" yaml:"lonField,omitempty"`
	LatField   string `json:"latField,omitempty" yaml:"latField,omitempty"`
	ValueField string `json:"valueField,omitempty" yaml:"valueField,omitempty"`
}

// LayerGroup is an ordered set of layers shown together.
type LayerGroup struct {
	ID     string            `json:"id" yaml:"id"`
	Name   string            `json:"name" yaml:"name"`
	Layers []LayerDescriptor `json:"layers" yaml:"layers"`
}

// Payload holds the data slots a loader fills.
type Payload struct {
	JSONData          any `json:"jsonData,omitempty"`
	ProcessedJSONData any `json:"processedJsonData,omitempty"`
	GeoJSONData       any `json:"geojsonData,omitempty"`
	GridData          any `json:"gridData,omitempty"`
	GridDataHigh      any `json:"gridDataHigh,omitempty"`
	GridDataLow       any `json:"gridDataLow,omitempty"`
	DrawData          any `json:"drawData,omitempty"`
	DataTableData     any `json:"dataTableData,omitempty"`
	DashboardData     any `json:"dashboardData,omitempty"`
	LayerInfoData     any `json:"layerInfoData,omitempty"`
}

// Slot returns a payload slot by its JSON name.
func (p Payload) Slot(name string) (any, error) {
	switch name {
	case "jsonData":
		return p.JSONData, nil
	case "processedJsonData":
		return p.ProcessedJSONData, nil
	case "geojsonData":
		return p.GeoJSONData, nil
	case "gridData":
		return p.GridData, nil
	case "gridDataHigh":
		return p.GridDataHigh, nil
	case "gridDataLow":
		return p.GridDataLow, nil
	case "drawData":
		return p.DrawData, nil
	case "dataTableData":
		return p.DataTableData, nil
	case "dashboardData":
		return p.DashboardData, nil
	case "layerInfoData":
		return p.LayerInfoData, nil
	}
	return nil, ErrUnknownSlot
}

// LayerState is the runtime record kept for a layer.
type LayerState struct {
	Visible   bool      `json:"visible"`
	Loading   bool      `json:"isLoading"`
	Loaded    bool      `json:"isLoaded"`
	Payload   Payload   `json:"payload"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LayerStateUpdate is a partial write into a LayerState.
// Nil fields are left untouched; a non-nil Payload replaces every slot.
type LayerStateUpdate struct {
	Visible *bool
	Loading *bool
	Loaded  *bool
	Payload *Payload
}

// LayerView joins a descriptor with its current state.
type LayerView struct {
	LayerDescriptor
	State LayerState `json:"state"`
}

// Table is a column/row representation used for data tables.
type Table struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func ptr[T any](v T) *T { return &v }
