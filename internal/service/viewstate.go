package service

import (
	"fmt"
	"maps"
	"math"
	"sync"

	"github.com/paulmach/orb"
)

// MapView is the map camera: center (lon, lat) and zoom.
type MapView struct {
	Center orb.Point `json:"center" yaml:"center" doc:"Map center as [lon, lat]"`
	Zoom   float64   `json:"zoom" yaml:"zoom" minimum:"0" maximum:"22" doc:"Zoom level"`
}

// Size is a pixel dimension pair.
type Size struct {
	Width  int `json:"width" yaml:"width" minimum:"0"`
	Height int `json:"height" yaml:"height" minimum:"0"`
}

// ViewDefaults seeds a ViewState. Nil or missing entries keep built-in defaults.
type ViewDefaults struct {
	Center     *orb.Point         `json:"center,omitempty" yaml:"center,omitempty"`
	Zoom       *float64           `json:"zoom,omitempty" yaml:"zoom,omitempty"`
	Dimensions map[string]Size    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Toggles    map[string]bool    `json:"toggles,omitempty" yaml:"toggles,omitempty"`
	Numbers    map[string]float64 `json:"numbers,omitempty" yaml:"numbers,omitempty"`
}

// DefaultViewDefaults returns the built-in view state.
func DefaultViewDefaults() ViewDefaults {
	return ViewDefaults{
		Center: &orb.Point{0, 20},
		Zoom:   ptr(2.0),
		Dimensions: map[string]Size{
			"map":     {Width: 1024, Height: 768},
			"sidebar": {Width: 320, Height: 768},
			"table":   {Width: 1024, Height: 240},
		},
		Toggles: map[string]bool{
			"showLegend": true,
			"showGrid":   false,
		},
		Numbers: map[string]float64{
			"threshold":  0,
			"multiplier": 1,
			"exponent":   1,
		},
	}
}

func (d ViewDefaults) merge(o ViewDefaults) ViewDefaults {
	out := ViewDefaults{
		Center:     d.Center,
		Zoom:       d.Zoom,
		Dimensions: maps.Clone(d.Dimensions),
		Toggles:    maps.Clone(d.Toggles),
		Numbers:    maps.Clone(d.Numbers),
	}
	if o.Center != nil {
		out.Center = o.Center
	}
	if o.Zoom != nil {
		out.Zoom = o.Zoom
	}
	if out.Dimensions == nil {
		out.Dimensions = map[string]Size{}
	}
	if out.Toggles == nil {
		out.Toggles = map[string]bool{}
	}
	if out.Numbers == nil {
		out.Numbers = map[string]float64{}
	}
	maps.Copy(out.Dimensions, o.Dimensions)
	maps.Copy(out.Toggles, o.Toggles)
	maps.Copy(out.Numbers, o.Numbers)
	return out
}

// ViewSnapshot is a copy of every view-state cell.
type ViewSnapshot struct {
	Map        MapView            `json:"map"`
	Dimensions map[string]Size    `json:"dimensions"`
	Toggles    map[string]bool    `json:"toggles"`
	Numbers    map[string]float64 `json:"numbers"`
}

// ViewState holds independent UI view-state cells. There are no invariants
// between cells; each one is read and written on its own.
type ViewState struct {
	mu      sync.RWMutex
	mapView MapView
	dims    map[string]Size
	toggles map[string]bool
	numbers map[string]float64
	bus     *EventBus
}

// NewViewState creates a view state seeded from defaults. bus may be nil.
func NewViewState(defaults ViewDefaults, bus *EventBus) *ViewState {
	d := DefaultViewDefaults().merge(defaults)
	return &ViewState{
		mapView: MapView{Center: *d.Center, Zoom: *d.Zoom},
		dims:    d.Dimensions,
		toggles: d.Toggles,
		numbers: d.Numbers,
		bus:     bus,
	}
}

// MapView returns the current map camera.
func (v *ViewState) MapView() MapView {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.mapView
}

// SetMapView sets center and zoom.
func (v *ViewState) SetMapView(center orb.Point, zoom float64) error {
	lon, lat := center.Lon(), center.Lat()
	if math.IsNaN(lon) || math.IsNaN(lat) || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: center %v out of range", ErrInvalidViewState, center)
	}
	if zoom < 0 || zoom > 22 || math.IsNaN(zoom) {
		return fmt.Errorf("%w: zoom %v out of range", ErrInvalidViewState, zoom)
	}
	v.mu.Lock()
	v.mapView = MapView{Center: center, Zoom: zoom}
	v.mu.Unlock()
	v.publish("map")
	return nil
}

// Dimensions returns a named pixel dimension pair.
func (v *ViewState) Dimensions(name string) (Size, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.dims[name]
	return s, ok
}

// AllDimensions returns a copy of every dimension pair.
func (v *ViewState) AllDimensions() map[string]Size {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return maps.Clone(v.dims)
}

// SetDimensions stores a named pixel dimension pair.
func (v *ViewState) SetDimensions(name string, size Size) error {
	if name == "" {
		return fmt.Errorf("%w: empty dimension name", ErrInvalidViewState)
	}
	if size.Width < 0 || size.Height < 0 {
		return fmt.Errorf("%w: negative size %dx%d", ErrInvalidViewState, size.Width, size.Height)
	}
	v.mu.Lock()
	v.dims[name] = size
	v.mu.Unlock()
	v.publish("dimensions/" + name)
	return nil
}

// Toggle returns a named display toggle. Unknown toggles are off.
func (v *ViewState) Toggle(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.toggles[name]
}

// SetToggle stores a named display toggle.
func (v *ViewState) SetToggle(name string, on bool) error {
	if name == "" {
		return fmt.Errorf("%w: empty toggle name", ErrInvalidViewState)
	}
	v.mu.Lock()
	v.toggles[name] = on
	v.mu.Unlock()
	v.publish("toggles/" + name)
	return nil
}

// FlipToggle inverts a named display toggle and returns the new value.
func (v *ViewState) FlipToggle(name string) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("%w: empty toggle name", ErrInvalidViewState)
	}
	v.mu.Lock()
	on := !v.toggles[name]
	v.toggles[name] = on
	v.mu.Unlock()
	v.publish("toggles/" + name)
	return on, nil
}

// Number returns a named numeric value (threshold, multiplier, exponent...).
func (v *ViewState) Number(name string) (float64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n, ok := v.numbers[name]
	return n, ok
}

// SetNumber stores a named numeric value. NaN and infinities are rejected.
func (v *ViewState) SetNumber(name string, value float64) error {
	if name == "" {
		return fmt.Errorf("%w: empty number name", ErrInvalidViewState)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %s must be finite", ErrInvalidViewState, name)
	}
	v.mu.Lock()
	v.numbers[name] = value
	v.mu.Unlock()
	v.publish("numbers/" + name)
	return nil
}

// Snapshot copies every cell.
func (v *ViewState) Snapshot() ViewSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return ViewSnapshot{
		Map:        v.mapView,
		Dimensions: maps.Clone(v.dims),
		Toggles:    maps.Clone(v.toggles),
		Numbers:    maps.Clone(v.numbers),
	}
}

func (v *ViewState) publish(id string) {
	if v.bus == nil {
		return
	}
	v.bus.Publish(Event{Resource: ResourceView, Action: ActionUpdated, ID: id})
}
