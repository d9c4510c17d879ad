// Package pinindex implements an incremental, multi-resolution spatial index
// over map pins with per-tile clustering.
//
// Every pin is bucketed into its tile at MaxLOD and into every ancestor tile
// down to level 1. Each tile record keeps a count and coordinate sums, so
// inserts and removes cost O(MaxLOD) and a viewport query only walks the
// tiles in view. A tile holding more pins than the cluster threshold is
// clustered: it drops its member list and is shown as a single
// representative at the centroid of its pins.
//
// The index is not safe for concurrent use.
package pinindex

import (
	"fmt"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// SpatialIndex holds one tile map per level of detail, indexed by lod-1.
type SpatialIndex struct {
	levels            [MaxLOD]map[uint64]*tileData
	clusteringEnabled bool
	clusterThreshold  int

	// registration table: the location each pin was bucketed with
	pins map[GeoPoint]GeoCoordinates
}

// NewSpatialIndex creates an empty index. A threshold below
// MinClusterThreshold is rejected.
func NewSpatialIndex(clusteringEnabled bool, clusterThreshold int) (*SpatialIndex, error) {
	if clusterThreshold < MinClusterThreshold {
		return nil, errors.New("cluster threshold is too small").
			WithType(ErrTypeInvalidClusterThreshold).
			WithTag("threshold", clusterThreshold).
			WithTag("min", MinClusterThreshold)
	}

	s := &SpatialIndex{
		clusteringEnabled: clusteringEnabled,
		clusterThreshold:  clusterThreshold,
		pins:              make(map[GeoPoint]GeoCoordinates),
	}
	for i := range s.levels {
		s.levels[i] = make(map[uint64]*tileData)
	}
	return s, nil
}

func (s *SpatialIndex) ClusteringEnabled() bool {
	return s.clusteringEnabled
}

func (s *SpatialIndex) ClusterThreshold() int {
	return s.clusterThreshold
}

// Len returns the number of indexed pins.
func (s *SpatialIndex) Len() int {
	return len(s.pins)
}

// Contains reports whether p is indexed.
func (s *SpatialIndex) Contains(p GeoPoint) bool {
	_, ok := s.pins[p]
	return ok
}

// Insert buckets p at its current location. Pins implementing
// LocationNotifier get re-bucketed automatically when they move. Locations
// with NaN or infinite coordinates are rejected.
func (s *SpatialIndex) Insert(p GeoPoint) error {
	if _, ok := s.pins[p]; ok {
		return errors.New("pin is already indexed").
			WithType(ErrTypePinAlreadyIndexed).
			WithTag("location", p.GetCoordinates())
	}
	if loc := p.GetCoordinates(); !validLocation(loc) {
		return invalidLocation(loc)
	}

	s.insert(p)
	if n, ok := p.(LocationNotifier); ok {
		n.Subscribe(s)
	}
	return nil
}

// Remove unbuckets p from the location it was inserted with. It returns false
// when p is not indexed.
func (s *SpatialIndex) Remove(p GeoPoint) bool {
	loc, ok := s.pins[p]
	if !ok {
		return false
	}
	return s.RemoveAt(p, loc)
}

// RemoveAt unbuckets p from the tiles of loc instead of its registered
// location.
func (s *SpatialIndex) RemoveAt(p GeoPoint, loc GeoCoordinates) bool {
	if _, ok := s.pins[p]; !ok {
		return false
	}

	s.remove(p, loc)
	if n, ok := p.(LocationNotifier); ok {
		n.Unsubscribe(s)
	}
	return true
}

// LocationChanged re-buckets p after it moved away from old. It is a remove
// from old followed by an insert at the current location. A pin moved to an
// invalid location is dropped from the index.
func (s *SpatialIndex) LocationChanged(p GeoPoint, old GeoCoordinates) {
	if _, ok := s.pins[p]; !ok {
		logs.WithTag("old", old).
			WithTag("new", p.GetCoordinates()).
			Warn(errors.New("location change of a pin that is not indexed").
				WithType(ErrTypePinNotIndexed))
		return
	}

	if loc := p.GetCoordinates(); !validLocation(loc) {
		s.RemoveAt(p, old)
		logs.WithTag("old", old).
			Warn(errors.New("dropping pin moved to an invalid location").
				Wrap(invalidLocation(loc)))
		return
	}

	s.remove(p, old)
	s.insert(p)
}

func validLocation(c GeoCoordinates) bool {
	for _, v := range [2]float64{c.Lon, c.Lat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func invalidLocation(c GeoCoordinates) error {
	return errors.New("location is not finite").
		WithType(ErrTypeInvalidLocation).
		WithTag("location", fmt.Sprintf("%g,%g", c.Lon, c.Lat))
}

func (s *SpatialIndex) insert(p GeoPoint) {
	loc := p.GetCoordinates()
	s.pins[p] = loc
	indexedPins.Inc()

	for t := TileFromLocation(loc, MaxLOD); ; t = t.Parent() {
		s.insertIntoTile(t, p, loc)
		if t.LevelOfDetail() == 1 {
			break
		}
	}
}

func (s *SpatialIndex) insertIntoTile(t TileID, p GeoPoint, loc GeoCoordinates) {
	level := s.level(t.LevelOfDetail())

	td, ok := level[t.Key()]
	if !ok {
		td = newTileData(t)
		level[t.Key()] = td
		tileRecords.Inc()
	}

	td.add(loc)
	if t.LevelOfDetail() == MaxLOD {
		td.leaf = append(td.leaf, p)
	}

	if td.clustered() {
		return
	}

	if s.shouldCluster(td.pointCount) {
		// the pins stay reachable from the finer levels
		td.members = nil
		instrumentClustered()
		logs.WithTag("tile", t.String()).
			WithTag("count", td.pointCount).
			Debug("tile clustered")
		return
	}
	td.members = append(td.members, p)
}

func (s *SpatialIndex) remove(p GeoPoint, loc GeoCoordinates) {
	if registered, ok := s.pins[p]; ok && registered != loc {
		logs.WithTag("registered", registered).
			WithTag("location", loc).
			Debug("removing pin with a location override")
	}
	delete(s.pins, p)
	indexedPins.Dec()

	// finest first, so an ancestor leaving the clustered state gathers from
	// already updated descendants
	for t := TileFromLocation(loc, MaxLOD); ; t = t.Parent() {
		s.removeFromTile(t, p, loc)
		if t.LevelOfDetail() == 1 {
			break
		}
	}
}

func (s *SpatialIndex) removeFromTile(t TileID, p GeoPoint, loc GeoCoordinates) {
	level := s.level(t.LevelOfDetail())

	td, ok := level[t.Key()]
	if !ok {
		inconsistent("removing pin from a missing tile record", t, nil)
		return
	}

	td.sub(loc)
	if t.LevelOfDetail() == MaxLOD {
		var found bool
		if td.leaf, found = removePoint(td.leaf, p); !found {
			inconsistent("pin missing from its leaf tile", t, nil)
		}
	}

	wasClustered := td.clustered()
	if !wasClustered {
		var found bool
		if td.members, found = removePoint(td.members, p); !found {
			inconsistent("pin missing from tile members", t, nil)
		}
	}

	if td.pointCount <= 0 {
		if td.pointCount < 0 {
			inconsistent("negative tile point count", t, map[string]any{"count": td.pointCount})
		}

		td.destroyRepresentative()
		delete(level, t.Key())
		tileRecords.Dec()
		return
	}

	if wasClustered && !s.shouldCluster(td.pointCount) {
		s.uncluster(td)
	}
}

// uncluster rebuilds the member list of a clustered tile from its subtree and
// releases its representative.
func (s *SpatialIndex) uncluster(td *tileData) {
	members := s.gather(td.tile)

	if len(members) > s.clusterThreshold {
		inconsistent("gathered more pins than the cluster threshold", td.tile, map[string]any{
			"gathered":  len(members),
			"threshold": s.clusterThreshold,
		})
	}
	if len(members) != td.pointCount {
		inconsistent("gathered pins do not match the tile count", td.tile, map[string]any{
			"gathered": len(members),
			"count":    td.pointCount,
		})
	}

	if members == nil {
		members = make([]GeoPoint, 0, 1)
	}
	td.members = members
	td.destroyRepresentative()

	instrumentUnclustered()
	logs.WithTag("tile", td.tile.String()).
		WithTag("count", td.pointCount).
		Debug("tile unclustered")
}

// gather collects every pin below t with a breadth-first walk. Unclustered
// descendants contribute their member list without being expanded further.
func (s *SpatialIndex) gather(t TileID) []GeoPoint {
	if t.LevelOfDetail() == MaxLOD {
		if td, ok := s.level(MaxLOD)[t.Key()]; ok {
			return append([]GeoPoint(nil), td.leaf...)
		}
		return nil
	}

	var points []GeoPoint
	queue := make([]TileID, 0, 4*MaxLOD)
	for _, c := range t.Children() {
		queue = append(queue, c)
	}

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]

		td, ok := s.level(c.LevelOfDetail())[c.Key()]
		if !ok {
			continue
		}

		switch {
		case !td.clustered():
			points = append(points, td.members...)

		case c.LevelOfDetail() == MaxLOD:
			points = append(points, td.leaf...)

		default:
			for _, gc := range c.Children() {
				queue = append(queue, gc)
			}
		}
	}
	return points
}

func (s *SpatialIndex) shouldCluster(count int) bool {
	return s.clusteringEnabled && count > s.clusterThreshold
}

func (s *SpatialIndex) level(lod int) map[uint64]*tileData {
	mustValidLOD(lod)
	return s.levels[lod-1]
}

// Tile returns a snapshot of the record of t, if any pin is bucketed there.
func (s *SpatialIndex) Tile(t TileID) (TileInfo, bool) {
	td, ok := s.level(t.LevelOfDetail())[t.Key()]
	if !ok {
		return TileInfo{}, false
	}
	return td.info(), true
}

// Pins returns the indexed pins with the location they are bucketed at.
func (s *SpatialIndex) Pins() map[GeoPoint]GeoCoordinates {
	pins := make(map[GeoPoint]GeoCoordinates, len(s.pins))
	for p, loc := range s.pins {
		pins[p] = loc
	}
	return pins
}

// LevelStats summarizes the tile records of one level of detail.
type LevelStats struct {
	LOD            int
	Tiles          int
	ClusteredTiles int
	Points         int
}

// Stats returns one entry per level of detail, coarsest first.
func (s *SpatialIndex) Stats() []LevelStats {
	stats := make([]LevelStats, MaxLOD)
	for i, level := range s.levels {
		st := LevelStats{LOD: i + 1, Tiles: len(level)}
		for _, td := range level {
			st.Points += td.pointCount
			if td.clustered() {
				st.ClusteredTiles++
			}
		}
		stats[i] = st
	}
	return stats
}

// DestroyClusterRepresentatives releases every representative created by
// queries. Clustered tiles get a new one on the next query that shows them.
func (s *SpatialIndex) DestroyClusterRepresentatives() {
	for _, level := range s.levels {
		for _, td := range level {
			td.destroyRepresentative()
		}
	}
}

// Close releases the representatives, unsubscribes from every pin and empties
// the index.
func (s *SpatialIndex) Close() {
	s.DestroyClusterRepresentatives()

	for p := range s.pins {
		if n, ok := p.(LocationNotifier); ok {
			n.Unsubscribe(s)
		}
	}
	indexedPins.Sub(float64(len(s.pins)))
	s.pins = make(map[GeoPoint]GeoCoordinates)

	for i, level := range s.levels {
		tileRecords.Sub(float64(len(level)))
		s.levels[i] = make(map[uint64]*tileData)
	}
}
