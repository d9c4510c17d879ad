package pinindex

import (
	"math"
	"math/rand"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// requireConsistent recomputes every tile record from the registration table.
func requireConsistent(t *testing.T, s *SpatialIndex) {
	t.Helper()

	for lod := 1; lod <= MaxLOD; lod++ {
		expected := make(map[uint64][]GeoPoint)
		for p, loc := range s.pins {
			k := TileFromLocation(loc, lod).Key()
			expected[k] = append(expected[k], p)
		}

		level := s.level(lod)
		require.Len(t, level, len(expected), "lod %d", lod)

		for k, pins := range expected {
			td, ok := level[k]
			require.True(t, ok, "lod %d is missing a tile", lod)
			require.Equal(t, len(pins), td.pointCount, "lod %d tile %s", lod, td.tile)

			var lat, lon float64
			for _, p := range pins {
				lat += s.pins[p].Lat
				lon += s.pins[p].Lon
			}
			n := float64(len(pins))
			require.InDelta(t, lat/n, td.centroid().Lat, 1e-9)
			require.InDelta(t, lon/n, td.centroid().Lon, 1e-9)

			clustered := s.clusteringEnabled && len(pins) > s.clusterThreshold
			require.Equal(t, clustered, td.clustered(), "lod %d tile %s", lod, td.tile)
			if !clustered {
				requireSamePins(t, pins, td.members)
				require.Nil(t, td.representative)
			}
			if lod == MaxLOD {
				requireSamePins(t, pins, td.leaf)
			}
		}
	}
}

// requireSamePins compares pins by identity, ignoring order.
func requireSamePins(t *testing.T, expected, actual []GeoPoint) {
	t.Helper()

	require.Len(t, actual, len(expected))
	set := make(map[GeoPoint]int, len(expected))
	for _, p := range expected {
		set[p]++
	}
	for _, p := range actual {
		require.Positive(t, set[p], "unexpected pin %v", p.GetCoordinates())
		set[p]--
	}
}

func newTestIndex(t *testing.T, clustering bool, threshold int) *SpatialIndex {
	s, err := NewSpatialIndex(clustering, threshold)
	require.NoError(t, err)
	return s
}

func TestNewSpatialIndex(t *testing.T) {
	t.Run("threshold below minimum is rejected", func(t *testing.T) {
		s, err := NewSpatialIndex(true, 1)
		require.Error(t, err)
		require.Nil(t, s)
		require.True(t, errors.IsType(err, ErrTypeInvalidClusterThreshold))
	})

	t.Run("minimum threshold", func(t *testing.T) {
		s, err := NewSpatialIndex(true, MinClusterThreshold)
		require.NoError(t, err)
		require.Equal(t, MinClusterThreshold, s.ClusterThreshold())
		require.True(t, s.ClusteringEnabled())
		require.Zero(t, s.Len())
	})
}

func TestSpatialIndexInsert(t *testing.T) {
	s := newTestIndex(t, true, 5)
	c := tileCenter(540, 360, 10)
	p := pinAt(c.Lon, c.Lat)

	require.NoError(t, s.Insert(p))
	require.True(t, s.Contains(p))
	require.Equal(t, 1, s.Len())

	for lod := 1; lod <= MaxLOD; lod++ {
		info, ok := s.Tile(TileFromLocation(c, lod))
		require.True(t, ok)
		require.Equal(t, 1, info.PointCount)
		require.False(t, info.Clustered)
		require.Equal(t, []GeoPoint{p}, info.Members)
		require.Equal(t, c, info.Centroid)
	}

	err := s.Insert(p)
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypePinAlreadyIndexed))
	requireConsistent(t, s)
}

func TestSpatialIndexRoundTrip(t *testing.T) {
	s := newTestIndex(t, true, 3)
	rng := rand.New(rand.NewSource(42))

	pins := make([]GeoPoint, 200)
	for i := range pins {
		pins[i] = pinAt(10+rng.Float64()*0.5, 45+rng.Float64()*0.5)
		require.NoError(t, s.Insert(pins[i]))
	}
	requireConsistent(t, s)

	for _, p := range pins {
		require.True(t, s.Remove(p))
	}
	require.Zero(t, s.Len())
	for _, st := range s.Stats() {
		require.Zero(t, st.Tiles, "lod %d", st.LOD)
		require.Zero(t, st.Points, "lod %d", st.LOD)
	}

	require.False(t, s.Remove(pins[0]))
}

func TestSpatialIndexRandomOperations(t *testing.T) {
	s := newTestIndex(t, true, 3)
	rng := rand.New(rand.NewSource(7))

	// coarse grid so that pins collide down to the finest level
	randomLocation := func() GeoCoordinates {
		return GeoCoordinates{
			Lon: 10 + float64(rng.Intn(20))*0.001,
			Lat: 45 + float64(rng.Intn(20))*0.001,
		}
	}

	pool := make([]*MapPin, 60)
	for i := range pool {
		pool[i] = NewMapPin("pin", randomLocation())
	}

	for i := 0; i < 400; i++ {
		p := pool[rng.Intn(len(pool))]

		switch {
		case !s.Contains(p):
			require.NoError(t, s.Insert(p))
		case rng.Intn(2) == 0:
			p.SetLocation(randomLocation())
		default:
			require.True(t, s.Remove(p))
		}

		requireConsistent(t, s)
		require.Equal(t, s.Len(), s.Stats()[0].Points)
	}
}

func TestSpatialIndexClusterThresholdBoundary(t *testing.T) {
	s := newTestIndex(t, true, 5)
	tile := NewTileID(540, 360, 10)
	pins := pinsAround(tileCenter(540, 360, 10), 6)

	for _, p := range pins[:5] {
		require.NoError(t, s.Insert(p))
	}
	info, _ := s.Tile(tile)
	require.Equal(t, 5, info.PointCount)
	require.False(t, info.Clustered)
	requireSamePins(t, pins[:5], info.Members)

	require.NoError(t, s.Insert(pins[5]))
	info, _ = s.Tile(tile)
	require.Equal(t, 6, info.PointCount)
	require.True(t, info.Clustered)
	require.Nil(t, info.Members)

	res := s.Query(Box{Extent: tile.Bound()}, 10, nil)
	require.Empty(t, res.Points)
	require.Len(t, res.Clusters, 1)
	require.Equal(t, 6, res.Clusters[0].NumberOfPoints())
	representative := res.Clusters[0].(*clusterPoint)

	require.True(t, s.Remove(pins[5]))
	info, _ = s.Tile(tile)
	require.Equal(t, 5, info.PointCount)
	require.False(t, info.Clustered)
	require.Nil(t, info.Representative)
	require.True(t, representative.Destroyed())
	requireSamePins(t, pins[:5], info.Members)
	requireConsistent(t, s)
}

func TestSpatialIndexClusteredLeaf(t *testing.T) {
	s := newTestIndex(t, true, 5)
	c := GeoCoordinates{Lon: 2.2945, Lat: 48.8584}

	pins := make([]GeoPoint, 6)
	for i := range pins {
		pins[i] = pinAt(c.Lon, c.Lat)
		require.NoError(t, s.Insert(pins[i]))
	}

	leaf, _ := s.Tile(TileFromLocation(c, MaxLOD))
	require.True(t, leaf.Clustered)

	require.True(t, s.Remove(pins[2]))
	leaf, _ = s.Tile(TileFromLocation(c, MaxLOD))
	require.False(t, leaf.Clustered)
	requireSamePins(t, []GeoPoint{pins[0], pins[1], pins[3], pins[4], pins[5]}, leaf.Members)
	requireConsistent(t, s)
}

func TestSpatialIndexLocationChanged(t *testing.T) {
	a := NewTileID(540, 360, 10)
	b := NewTileID(542, 360, 10)

	t.Run("explicit notification", func(t *testing.T) {
		s := newTestIndex(t, true, 5)
		for _, p := range pinsAround(tileCenter(540, 360, 10), 3) {
			require.NoError(t, s.Insert(p))
		}

		c := tileCenter(540, 360, 10)
		p := pinAt(c.Lon, c.Lat)
		require.NoError(t, s.Insert(p))

		old := p.GetCoordinates()
		dst := tileCenter(542, 360, 10)
		p.Lon, p.Lat = dst.Lon, dst.Lat
		s.LocationChanged(p, old)

		infoA, _ := s.Tile(a)
		infoB, _ := s.Tile(b)
		require.Equal(t, 3, infoA.PointCount)
		require.Equal(t, 1, infoB.PointCount)
		require.Equal(t, []GeoPoint{p}, infoB.Members)
		require.Equal(t, 4, s.Stats()[0].Points)
		require.Equal(t, dst, s.Pins()[p])
		requireConsistent(t, s)
	})

	t.Run("subscribed pin", func(t *testing.T) {
		s := newTestIndex(t, true, 5)
		p := NewMapPin("moving", tileCenter(540, 360, 10))
		require.NoError(t, s.Insert(p))

		p.SetLocation(tileCenter(542, 360, 10))
		_, ok := s.Tile(a)
		require.False(t, ok)
		infoB, _ := s.Tile(b)
		require.Equal(t, 1, infoB.PointCount)
		requireConsistent(t, s)

		require.True(t, s.Remove(p))
		require.Empty(t, p.observers)
	})

	t.Run("pin not indexed", func(t *testing.T) {
		s := newTestIndex(t, true, 5)
		s.LocationChanged(pinAt(0, 0), GeoCoordinates{Lon: 1, Lat: 1})
		require.Zero(t, s.Len())
	})
}

// A pin oscillating across the boundary of a tile holding exactly the
// threshold toggles the cluster state on every move.
func TestSpatialIndexBoundaryFlicker(t *testing.T) {
	s := newTestIndex(t, true, 5)
	tile := NewTileID(540, 360, 10)
	for _, p := range pinsAround(tileCenter(540, 360, 10), 5) {
		require.NoError(t, s.Insert(p))
	}

	inside := tileCenter(540, 360, 10)
	outside := tileCenter(542, 360, 10)
	p := NewMapPin("oscillating", outside)
	require.NoError(t, s.Insert(p))

	for i := 0; i < 4; i++ {
		p.SetLocation(inside)
		info, _ := s.Tile(tile)
		require.True(t, info.Clustered)

		p.SetLocation(outside)
		info, _ = s.Tile(tile)
		require.False(t, info.Clustered)
		require.Len(t, info.Members, 5)
	}
	requireConsistent(t, s)
}

func TestSpatialIndexClusteringDisabled(t *testing.T) {
	s := newTestIndex(t, false, 2)
	tile := NewTileID(540, 360, 10)
	pins := pinsAround(tileCenter(540, 360, 10), 10)
	for _, p := range pins {
		require.NoError(t, s.Insert(p))
	}

	info, _ := s.Tile(tile)
	require.False(t, info.Clustered)
	requireSamePins(t, pins, info.Members)
	for _, st := range s.Stats() {
		require.Zero(t, st.ClusteredTiles)
	}
	requireConsistent(t, s)
}

func TestSpatialIndexInconsistentRemove(t *testing.T) {
	elsewhere := GeoCoordinates{Lon: -70, Lat: -30}

	t.Run("debug panics", func(t *testing.T) {
		s := newTestIndex(t, true, 5)
		p := pinAt(10, 45)
		require.NoError(t, s.Insert(p))
		require.Panics(t, func() { s.RemoveAt(p, elsewhere) })
	})

	t.Run("release tolerates", func(t *testing.T) {
		Debug = false
		defer func() { Debug = true }()

		s := newTestIndex(t, true, 5)
		p := pinAt(10, 45)
		require.NoError(t, s.Insert(p))
		require.NotPanics(t, func() { s.RemoveAt(p, elsewhere) })
		require.False(t, s.Contains(p))
	})
}

func TestSpatialIndexInconsistentGather(t *testing.T) {
	// six pins cluster the level 10 tile and its ancestors. Two extra members
	// planted in a level 11 child make the next uncluster gather too many.
	corrupt := func(t *testing.T) (*SpatialIndex, GeoPoint) {
		s := newTestIndex(t, true, 5)
		pins := pinsAround(tileCenter(540, 360, 10), 6)
		for _, p := range pins {
			require.NoError(t, s.Insert(p))
		}

		child := s.level(11)[TileFromLocation(pins[0].GetCoordinates(), 11).Key()]
		require.False(t, child.clustered())
		child.members = append(child.members, pinAt(0, 0), pinAt(0, 1))
		return s, pins[5]
	}

	t.Run("debug panics", func(t *testing.T) {
		s, p := corrupt(t)

		defer func() {
			err, ok := recover().(error)
			require.True(t, ok)
			require.True(t, errors.IsType(err, ErrTypeInconsistentAggregate))
		}()
		s.Remove(p)
		t.Fatal("uncluster did not panic")
	})

	t.Run("release counts", func(t *testing.T) {
		Debug = false
		defer func() { Debug = true }()

		s, p := corrupt(t)
		before := testutil.ToFloat64(invariantViolations)
		require.NotPanics(t, func() { s.Remove(p) })

		// levels 10 to 1 uncluster, each gathering seven pins for a count of five
		require.Equal(t, float64(2*10), testutil.ToFloat64(invariantViolations)-before)
	})
}

func TestSpatialIndexInvalidLocation(t *testing.T) {
	s := newTestIndex(t, true, 5)

	for _, c := range []GeoCoordinates{
		{Lon: math.NaN(), Lat: 0},
		{Lon: 0, Lat: math.Inf(1)},
		{Lon: math.Inf(-1), Lat: math.NaN()},
	} {
		err := s.Insert(pinAt(c.Lon, c.Lat))
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidLocation))
	}
	require.Zero(t, s.Len())

	t.Run("moving to an invalid location drops the pin", func(t *testing.T) {
		stays := NewMapPin("stays", GeoCoordinates{Lon: 10, Lat: 45})
		moved := NewMapPin("moved", GeoCoordinates{Lon: 10.001, Lat: 45})
		require.NoError(t, s.Insert(stays))
		require.NoError(t, s.Insert(moved))

		moved.SetLocation(GeoCoordinates{Lon: math.NaN(), Lat: 45})
		require.False(t, s.Contains(moved))
		require.Empty(t, moved.observers)
		require.Equal(t, 1, s.Len())
		requireConsistent(t, s)

		info, ok := s.Tile(TileFromLocation(stays.GetCoordinates(), 1))
		require.True(t, ok)
		require.InDelta(t, stays.GetCoordinates().Lon, info.Centroid.Lon, 1e-9)
		require.InDelta(t, stays.GetCoordinates().Lat, info.Centroid.Lat, 1e-9)
	})
}

func TestSpatialIndexClose(t *testing.T) {
	s := newTestIndex(t, true, 2)
	center := tileCenter(540, 360, 10)

	var notifiers []*MapPin
	for i := 0; i < 4; i++ {
		p := NewMapPin("pin", GeoCoordinates{Lon: center.Lon + float64(i)*0.01, Lat: center.Lat})
		notifiers = append(notifiers, p)
		require.NoError(t, s.Insert(p))
	}

	res := s.Query(Box{Extent: NewTileID(540, 360, 10).Bound()}, 10, nil)
	require.Len(t, res.Clusters, 1)
	representative := res.Clusters[0].(*clusterPoint)

	s.Close()
	require.True(t, representative.Destroyed())
	require.Zero(t, s.Len())
	for _, p := range notifiers {
		require.Empty(t, p.observers)
	}
	for _, st := range s.Stats() {
		require.Zero(t, st.Tiles)
	}
}
