// Package pmtiles reads PMTiles v3 archive headers.
//
// Only the fixed 127-byte header is decoded: it carries the zoom range,
// bounds, center and tile encoding a layer needs to describe itself.
// Directory and tile access are left to the browser, which fetches tiles
// through HTTP range requests against /tiles/.
//
// Format: https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md
package pmtiles

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// Compression is the compression algorithm applied to individual tiles.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
	Brotli             Compression = 3
	Zstd               Compression = 4
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Zstd:
		return "zstd"
	}
	return "unknown"
}

// TileType is the format of individual tile contents.
type TileType uint8

const (
	UnknownTileType TileType = 0
	Mvt             TileType = 1
	Png             TileType = 2
	Jpeg            TileType = 3
	Webp            TileType = 4
	Avif            TileType = 5
)

func (t TileType) String() string {
	switch t {
	case Mvt:
		return "mvt"
	case Png:
		return "png"
	case Jpeg:
		return "jpeg"
	case Webp:
		return "webp"
	case Avif:
		return "avif"
	}
	return "unknown"
}

// HeaderV3LenBytes is the fixed-size binary header.
const HeaderV3LenBytes = 127

var (
	// ErrShortHeader is returned when fewer than HeaderV3LenBytes are available.
	ErrShortHeader = errors.New("buffer too small for header")
	// ErrBadMagic is returned when the archive does not start with "PMTiles".
	ErrBadMagic = errors.New("magic number not detected")
)

// HeaderV3 is a binary header for PMTiles v3. Field order and sizes match
// the on-disk layout after the 7-byte magic, so it is encoded directly.
type HeaderV3 struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// Bounds returns min lon, min lat, max lon, max lat in degrees.
func (h HeaderV3) Bounds() [4]float64 {
	return [4]float64{e7(h.MinLonE7), e7(h.MinLatE7), e7(h.MaxLonE7), e7(h.MaxLatE7)}
}

// Center returns the center lon, lat in degrees.
func (h HeaderV3) Center() [2]float64 {
	return [2]float64{e7(h.CenterLonE7), e7(h.CenterLatE7)}
}

func e7(v int32) float64 { return float64(v) / 1e7 }

// ReadHeader reads and decodes the header at the start of r.
func ReadHeader(r io.Reader) (HeaderV3, error) {
	b := make([]byte, HeaderV3LenBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return HeaderV3{}, ErrShortHeader
		}
		return HeaderV3{}, err
	}
	return DeserializeHeader(b)
}

const magic = "PMTiles"

// SerializeHeader encodes a header. The version byte is always 3.
func SerializeHeader(header HeaderV3) []byte {
	header.SpecVersion = 3
	var buf bytes.Buffer
	buf.Grow(HeaderV3LenBytes)
	buf.WriteString(magic)
	// Fixed-size struct into a bytes.Buffer: cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, header)
	return buf.Bytes()
}

// DeserializeHeader decodes the first HeaderV3LenBytes of d.
func DeserializeHeader(d []byte) (HeaderV3, error) {
	var h HeaderV3
	if len(d) < HeaderV3LenBytes {
		return h, ErrShortHeader
	}
	if string(d[:len(magic)]) != magic {
		return h, ErrBadMagic
	}
	if err := binary.Read(bytes.NewReader(d[len(magic):HeaderV3LenBytes]), binary.LittleEndian, &h); err != nil {
		return HeaderV3{}, err
	}
	return h, nil
}
