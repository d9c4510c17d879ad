package pinindex

import (
	"slices"
)

// tileData aggregates the pins under one tile.
//
// members is nil iff the tile is clustered. leaf only exists at MaxLOD and
// always holds every pin of the tile, so a clustered leaf can be restored.
type tileData struct {
	tile       TileID
	pointCount int
	sumLat     float64
	sumLon     float64
	members    []GeoPoint
	leaf       []GeoPoint

	// created lazily by the first query that shows the cluster
	representative ClusterPoint
}

func newTileData(t TileID) *tileData {
	return &tileData{
		tile:    t,
		members: make([]GeoPoint, 0, 1),
	}
}

func (t *tileData) clustered() bool {
	return t.members == nil
}

func (t *tileData) add(c GeoCoordinates) {
	t.pointCount++
	t.sumLat += c.Lat
	t.sumLon += c.Lon
}

func (t *tileData) sub(c GeoCoordinates) {
	t.pointCount--
	t.sumLat -= c.Lat
	t.sumLon -= c.Lon
}

func (t *tileData) centroid() GeoCoordinates {
	if t.pointCount == 0 {
		return GeoCoordinates{}
	}
	n := float64(t.pointCount)
	return GeoCoordinates{
		Lon: t.sumLon / n,
		Lat: t.sumLat / n,
	}
}

func (t *tileData) destroyRepresentative() {
	if t.representative == nil {
		return
	}
	destroyRepresentative(t.representative)
	t.representative = nil
}

// removePoint deletes p from list, keeping the order of the others.
func removePoint(list []GeoPoint, p GeoPoint) ([]GeoPoint, bool) {
	i := slices.Index(list, p)
	if i < 0 {
		return list, false
	}
	return slices.Delete(list, i, i+1), true
}

// TileInfo is a snapshot of one tile record.
type TileInfo struct {
	ID         TileID
	PointCount int
	Centroid   GeoCoordinates
	Clustered  bool

	// nil when clustered
	Members []GeoPoint

	// nil until a query showed the cluster
	Representative ClusterPoint
}

func (t *tileData) info() TileInfo {
	var members []GeoPoint
	if !t.clustered() {
		members = slices.Clone(t.members)
	}
	return TileInfo{
		ID:             t.tile,
		PointCount:     t.pointCount,
		Centroid:       t.centroid(),
		Clustered:      t.clustered(),
		Members:        members,
		Representative: t.representative,
	}
}
