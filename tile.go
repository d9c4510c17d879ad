package pinindex

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxLOD is the finest level of detail tracked by the index.
const MaxLOD = 21

// MaxLatitude is the web mercator latitude limit. Locations beyond it snap to
// the edge row of tiles.
const MaxLatitude = 85.05112877980659

// TileID identifies one tile of the web mercator pyramid at a level of detail
// in [1, MaxLOD].
type TileID struct {
	tile maptile.Tile
}

// TileFromLocation returns the tile containing the location at the given level
// of detail.
func TileFromLocation(c GeoCoordinates, lod int) TileID {
	mustValidLOD(lod)

	lon := clamp(c.Lon, -180, 180)
	lat := clamp(c.Lat, -MaxLatitude, MaxLatitude)
	t := maptile.At(orb.Point{lon, lat}, maptile.Zoom(lod))

	// the east and south edges belong to the last column and row
	last := uint32(1)<<uint(lod) - 1
	if t.X > last {
		t.X = last
	}
	if t.Y > last {
		t.Y = last
	}
	return TileID{tile: t}
}

// NewTileID returns the tile at column x and row y of the given level of detail.
func NewTileID(x, y uint32, lod int) TileID {
	mustValidLOD(lod)
	t := maptile.New(x, y, maptile.Zoom(lod))
	if !t.Valid() {
		panic(fmt.Sprintf("tile %d/%d is outside level of detail %d", x, y, lod))
	}
	return TileID{tile: t}
}

// LevelOfDetail returns the level of detail the tile belongs to.
func (t TileID) LevelOfDetail() int {
	return int(t.tile.Z)
}

// Key returns the tile quadkey. It is unique within a level of detail.
func (t TileID) Key() uint64 {
	return t.tile.Quadkey()
}

// Parent returns the tile one level coarser that contains t.
func (t TileID) Parent() TileID {
	lod := t.LevelOfDetail()
	if lod <= 1 {
		panic(fmt.Sprintf("tile %s has no parent within the index", t))
	}
	return TileID{tile: t.tile.Parent()}
}

// Children returns the four tiles one level finer that partition t.
func (t TileID) Children() [4]TileID {
	mustValidLOD(t.LevelOfDetail() + 1)

	x, y := t.tile.X<<1, t.tile.Y<<1
	z := t.tile.Z + 1
	return [4]TileID{
		{tile: maptile.New(x, y, z)},
		{tile: maptile.New(x+1, y, z)},
		{tile: maptile.New(x, y+1, z)},
		{tile: maptile.New(x+1, y+1, z)},
	}
}

// Bound returns the geographic extent of the tile.
func (t TileID) Bound() orb.Bound {
	return t.tile.Bound()
}

// extent is the bound of the locations bucketed into t. Locations beyond the
// mercator limits are clamped onto the edge rows and columns, so those extend
// to infinity.
func (t TileID) extent() orb.Bound {
	b := t.Bound()
	last := uint32(1)<<uint(t.tile.Z) - 1

	if t.tile.X == 0 {
		b.Min[0] = math.Inf(-1)
	}
	if t.tile.X == last {
		b.Max[0] = math.Inf(1)
	}
	// rows grow southward
	if t.tile.Y == 0 {
		b.Max[1] = math.Inf(1)
	}
	if t.tile.Y == last {
		b.Min[1] = math.Inf(-1)
	}
	return b
}

// Tile returns the underlying XYZ tile.
func (t TileID) Tile() maptile.Tile {
	return t.tile
}

func (t TileID) String() string {
	return fmt.Sprintf("%d/%d/%d", t.tile.Z, t.tile.X, t.tile.Y)
}

// TilesCovering returns the tiles at lod that may hold locations inside the
// region.
func TilesCovering(r Region, lod int) []TileID {
	var tiles []TileID
	forEachTileCovering(r, lod, func(t TileID) {
		tiles = append(tiles, t)
	})
	return tiles
}

func forEachTileCovering(r Region, lod int, fn func(TileID)) {
	minX, minY, maxX, maxY := coveringRange(r, lod)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			t := TileID{tile: maptile.New(x, y, maptile.Zoom(lod))}
			if r.IntersectsBound(t.extent()) {
				fn(t)
			}
		}
	}
}

// coveringSize is the number of candidate tiles forEachTileCovering visits.
func coveringSize(r Region, lod int) uint64 {
	minX, minY, maxX, maxY := coveringRange(r, lod)
	return uint64(maxX-minX+1) * uint64(maxY-minY+1)
}

func coveringRange(r Region, lod int) (minX, minY, maxX, maxY uint32) {
	b := r.Bound()

	// tile rows grow southward
	nw := TileFromLocation(GeoCoordinates{Lon: b.Min.Lon(), Lat: b.Max.Lat()}, lod)
	se := TileFromLocation(GeoCoordinates{Lon: b.Max.Lon(), Lat: b.Min.Lat()}, lod)
	return nw.tile.X, nw.tile.Y, se.tile.X, se.tile.Y
}

func mustValidLOD(lod int) {
	if lod < 1 || lod > MaxLOD {
		panic(fmt.Sprintf("level of detail %d is outside [1, %d]", lod, MaxLOD))
	}
}

// clampLOD rounds a continuous level of detail to the nearest tracked level.
func clampLOD(lod float64) int {
	if math.IsNaN(lod) {
		return 1
	}
	l := math.Round(lod)
	if l < 1 {
		return 1
	}
	if l > MaxLOD {
		return MaxLOD
	}
	return int(l)
}
