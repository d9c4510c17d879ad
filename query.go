package pinindex

import (
	"time"
)

// QueryResult holds what a viewport shows at one level of detail.
type QueryResult struct {
	Points   []GeoPoint
	Clusters []ClusterPoint
}

// Query returns the pins and clusters visible in r at lod. The level of
// detail is rounded and clamped to [1, MaxLOD]. Representatives of clustered
// tiles are created with factory on first use, or NewClusterPoint when
// factory is nil, and are updated with the current centroid and count.
func (s *SpatialIndex) Query(r Region, lod float64, factory ClusterFactory) QueryResult {
	start := time.Now()
	defer func() {
		instrumentQuery(r, time.Since(start).Seconds())
	}()

	if factory == nil {
		factory = NewClusterPoint
	}

	l := clampLOD(lod)
	q := query{
		index:   s,
		region:  r,
		lod:     l,
		factory: factory,
	}

	level := s.level(l)
	if len(level) == 0 {
		return q.result
	}

	// a wide viewport at a fine level covers far more tiles than are stored
	if coveringSize(r, l) > uint64(len(level)) {
		for _, td := range level {
			if r.IntersectsBound(td.tile.extent()) {
				q.emit(td)
			}
		}
		return q.result
	}

	forEachTileCovering(r, l, func(t TileID) {
		if td, ok := level[t.Key()]; ok {
			q.emit(td)
		}
	})
	return q.result
}

type query struct {
	index   *SpatialIndex
	region  Region
	lod     int
	factory ClusterFactory
	result  QueryResult
}

func (q *query) emit(td *tileData) {
	inside := q.region.ContainsBound(td.tile.extent())

	if td.clustered() {
		centroid := td.centroid()
		if !inside && !q.region.Intersects(centroid) {
			return
		}

		if td.representative == nil {
			td.representative = q.factory(q.lod)
		}
		td.representative.SetCoordinates(centroid)
		td.representative.SetNumberOfPoints(td.pointCount)
		q.result.Clusters = append(q.result.Clusters, td.representative)
		return
	}

	if inside {
		q.result.Points = append(q.result.Points, td.members...)
		return
	}

	for _, p := range td.members {
		if q.region.Intersects(q.index.pins[p]) {
			q.result.Points = append(q.result.Points, p)
		}
	}
}
