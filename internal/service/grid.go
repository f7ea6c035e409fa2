package service

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	defaultGridZoom = 8
	maxGridZoom     = 22
	maxMercatorLat  = 85.05112878
)

// GridCell is one web-mercator tile with aggregated values.
type GridCell struct {
	Z     uint32  `json:"z"`
	X     uint32  `json:"x"`
	Y     uint32  `json:"y"`
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
}

// Grid is a set of cells at one zoom level, ordered by x then y.
type Grid struct {
	Zoom  int        `json:"zoom"`
	Cells []GridCell `json:"cells"`
}

// sample is a located value to be gridded.
type sample struct {
	point orb.Point
	value float64
}

// buildGrid buckets samples into tiles at zoom.
func buildGrid(samples []sample, zoom int) Grid {
	zoom = clampZoom(zoom)
	cells := make(map[maptile.Tile]*GridCell)
	for _, s := range samples {
		t := tileAt(s.point, zoom)
		c, ok := cells[t]
		if !ok {
			c = &GridCell{Z: uint32(t.Z), X: t.X, Y: t.Y}
			cells[t] = c
		}
		c.Count++
		c.Sum += s.value
	}

	out := make([]GridCell, 0, len(cells))
	for _, c := range cells {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return Grid{Zoom: zoom, Cells: out}
}

// gridVariants returns the base grid and its finer and coarser neighbours.
func gridVariants(samples []sample, zoom int) (base, high, low Grid) {
	return buildGrid(samples, zoom), buildGrid(samples, zoom+2), buildGrid(samples, zoom-2)
}

// tileAt returns the tile containing p. Latitudes beyond the mercator
// limit are clamped.
func tileAt(p orb.Point, zoom int) maptile.Tile {
	lat := p.Lat()
	if lat > maxMercatorLat {
		lat = maxMercatorLat
	} else if lat < -maxMercatorLat {
		lat = -maxMercatorLat
	}
	lon := p.Lon()
	if lon >= 180 {
		lon = 179.9999999
	} else if lon < -180 {
		lon = -180
	}
	return maptile.At(orb.Point{lon, lat}, maptile.Zoom(zoom))
}

func clampZoom(z int) int {
	if z < 0 {
		return 0
	}
	if z > maxGridZoom {
		return maxGridZoom
	}
	return z
}
