package service

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-gridmap/internal/pmtiles"
	"github.com/joeblew999/plat-gridmap/internal/sources"
)

// PMTilesLoader describes a tile-backed layer from its PMTiles header.
// The tiles themselves are fetched by the map, from /tiles/ for local
// sources or from the bucket directly.
type PMTilesLoader struct {
	Sources sources.Store
	Spec    SourceSpec
}

// TileInfo is the layer info of a PMTiles-backed layer.
type TileInfo struct {
	LayerInfo
	MinZoom     uint8      `json:"minZoom"`
	MaxZoom     uint8      `json:"maxZoom"`
	Bounds      [4]float64 `json:"bounds"`
	Center      [2]float64 `json:"center"`
	CenterZoom  uint8      `json:"centerZoom"`
	TileType    string     `json:"tileType"`
	Compression string     `json:"compression"`
	Tiles       uint64     `json:"tiles"`
}

// Load implements Loader.
func (l *PMTilesLoader) Load(ctx context.Context, layer LayerDescriptor) (Payload, error) {
	if l.Sources == nil {
		return Payload{}, fmt.Errorf("no source store configured")
	}
	obj, err := l.Sources.Open(ctx, l.Spec.Path)
	if err != nil {
		return Payload{}, err
	}
	defer obj.Body.Close()

	h, err := pmtiles.ReadHeader(obj.Body)
	if err != nil {
		return Payload{}, fmt.Errorf("reading pmtiles header of %s: %w", obj.Name, err)
	}

	b := h.Bounds()
	bound := orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}
	outline := geojson.NewFeature(bound.ToPolygon())
	outline.Properties["layer"] = layer.ID
	fc := geojson.NewFeatureCollection().Append(outline)

	return Payload{
		GeoJSONData: fc,
		LayerInfoData: TileInfo{
			LayerInfo:   objectInfo(l.Sources, obj),
			MinZoom:     h.MinZoom,
			MaxZoom:     h.MaxZoom,
			Bounds:      b,
			Center:      h.Center(),
			CenterZoom:  h.CenterZoom,
			TileType:    h.TileType.String(),
			Compression: h.TileCompression.String(),
			Tiles:       h.AddressedTilesCount,
		},
	}, nil
}
