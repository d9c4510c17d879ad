package pinstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	pinindex "gopinindex"
)

func newTestStore(t *testing.T) (*Store, *pinindex.Layer) {
	layer, err := pinindex.NewLayer(pinindex.Options{
		ClusteringEnabled: true,
		ClusterThreshold:  5,
	})
	require.NoError(t, err)
	return New(layer), layer
}

func TestStore(t *testing.T) {
	s, layer := newTestStore(t)

	r, err := s.Add("tower", pinindex.GeoCoordinates{Lon: 2.2945, Lat: 48.8584})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, r.ID)
	require.Equal(t, 1, s.Len())
	require.Equal(t, 1, layer.Len())

	got, ok := s.Get(r.ID)
	require.True(t, ok)
	require.Equal(t, r, got)

	t.Run("moving a pin re-buckets it", func(t *testing.T) {
		dst := pinindex.GeoCoordinates{Lon: -74.0445, Lat: 40.6892}
		moved, err := s.Move(r.ID, dst)
		require.NoError(t, err)
		require.Equal(t, dst, moved.Coordinates())

		res := layer.Query(pinindex.Circle{Center: dst, Radius: 0.01}, 15)
		require.Len(t, res.Points, 1)

		id, ok := s.ID(res.Points[0])
		require.True(t, ok)
		require.Equal(t, r.ID, id)
	})

	t.Run("put replaces a pin with the same id", func(t *testing.T) {
		require.NoError(t, s.Put(Record{ID: r.ID, Name: "statue", Lon: 1, Lat: 1}))
		require.Equal(t, 1, layer.Len())

		got, _ := s.Get(r.ID)
		require.Equal(t, "statue", got.Name)
	})

	t.Run("unknown pin", func(t *testing.T) {
		_, err := s.Move(uuid.New(), pinindex.GeoCoordinates{})
		require.True(t, errors.IsType(err, ErrTypePinNotFound))

		err = s.Delete(uuid.New())
		require.True(t, errors.IsType(err, ErrTypePinNotFound))

		_, ok := s.ID(&pinindex.SimplePoint{})
		require.False(t, ok)
	})

	require.NoError(t, s.Delete(r.ID))
	require.Zero(t, s.Len())
	require.Zero(t, layer.Len())
}

func TestStoreSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pins.zst")

	s, _ := newTestStore(t)
	for i := 0; i < 20; i++ {
		_, err := s.Add("pin", pinindex.GeoCoordinates{Lon: float64(i), Lat: float64(i) / 2})
		require.NoError(t, err)
	}
	require.NoError(t, s.Save(path))

	loaded, layer := newTestStore(t)
	require.NoError(t, loaded.Load(path))
	require.Equal(t, s.Records(), loaded.Records())
	require.Equal(t, 20, layer.Len())

	t.Run("saving twice replaces the snapshot", func(t *testing.T) {
		require.NoError(t, loaded.Delete(loaded.Records()[0].ID))
		require.NoError(t, loaded.Save(path))

		again, _ := newTestStore(t)
		require.NoError(t, again.Load(path))
		require.Equal(t, 19, again.Len())

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		require.Len(t, entries, 1)
	})

	t.Run("missing snapshot", func(t *testing.T) {
		empty, _ := newTestStore(t)
		require.NoError(t, empty.Load(filepath.Join(t.TempDir(), "missing.zst")))
		require.Zero(t, empty.Len())
	})

	t.Run("corrupted snapshot", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.zst")
		require.NoError(t, os.WriteFile(bad, []byte("not zstd"), 0o644))

		empty, _ := newTestStore(t)
		err := empty.Load(bad)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeSnapshot))
	})
}
