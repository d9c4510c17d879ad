package pinindex

import (
	"github.com/google/uuid"
)

// ClusterPoint is the representative shown in place of the pins of a
// clustered tile. The index sets its coordinates and number of points on every
// query that emits it.
type ClusterPoint interface {
	GeoPoint

	SetCoordinates(GeoCoordinates)

	SetNumberOfPoints(int)
	NumberOfPoints() int

	// Zoom returns the level of detail of the tile the cluster stands for.
	Zoom() int
}

// ClusterFactory creates a representative for a tile that just became visible
// as a cluster at the given level of detail.
type ClusterFactory func(lod int) ClusterPoint

// Destroyer is implemented by representatives holding resources. Destroy is
// called once the owning tile leaves the clustered state or the index is torn
// down.
type Destroyer interface {
	Destroy()
}

// Struct that implements clustered points
type clusterPoint struct {
	id        uuid.UUID
	coords    GeoCoordinates
	zoom      int
	numPoints int
	destroyed bool
}

// NewClusterPoint is the default ClusterFactory. Each representative gets a
// random ID.
func NewClusterPoint(lod int) ClusterPoint {
	return &clusterPoint{
		id:   uuid.New(),
		zoom: lod,
	}
}

func (cp *clusterPoint) ID() uuid.UUID {
	return cp.id
}

func (cp *clusterPoint) GetCoordinates() GeoCoordinates {
	return cp.coords
}

func (cp *clusterPoint) SetCoordinates(c GeoCoordinates) {
	cp.coords = c
}

func (cp *clusterPoint) SetNumberOfPoints(n int) {
	cp.numPoints = n
}

func (cp *clusterPoint) NumberOfPoints() int {
	return cp.numPoints
}

func (cp *clusterPoint) Zoom() int {
	return cp.zoom
}

func (cp *clusterPoint) Destroy() {
	cp.destroyed = true
}

// Destroyed reports whether the index released the representative.
func (cp *clusterPoint) Destroyed() bool {
	return cp.destroyed
}

// ClusterID returns the ID of a representative created by NewClusterPoint,
// and uuid.Nil for any other implementation.
func ClusterID(c ClusterPoint) uuid.UUID {
	if cp, ok := c.(interface{ ID() uuid.UUID }); ok {
		return cp.ID()
	}
	return uuid.Nil
}

func destroyRepresentative(c ClusterPoint) {
	if d, ok := c.(Destroyer); ok {
		d.Destroy()
	}
}
