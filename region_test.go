package pinindex

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func TestBox(t *testing.T) {
	box := NewBox(10, 0, 10, 0)
	require.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, box.Bound())

	require.True(t, box.Intersects(GeoCoordinates{Lon: 5, Lat: 5}))
	require.True(t, box.Intersects(GeoCoordinates{Lon: 10, Lat: 0}))
	require.False(t, box.Intersects(GeoCoordinates{Lon: 10.1, Lat: 5}))

	require.True(t, box.ContainsBound(orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{2, 2}}))
	require.False(t, box.ContainsBound(orb.Bound{Min: orb.Point{9, 9}, Max: orb.Point{11, 11}}))

	require.True(t, box.IntersectsBound(orb.Bound{Min: orb.Point{9, 9}, Max: orb.Point{11, 11}}))
	require.False(t, box.IntersectsBound(orb.Bound{Min: orb.Point{11, 11}, Max: orb.Point{12, 12}}))

	// edges given in any order
	require.Equal(t, box, NewBox(0, 10, 0, 10))
}

func TestCircle(t *testing.T) {
	circle := Circle{Center: GeoCoordinates{Lon: 0, Lat: 0}, Radius: 1}
	require.Equal(t, orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}}, circle.Bound())

	require.True(t, circle.Intersects(GeoCoordinates{Lon: 0.5, Lat: 0.5}))
	require.True(t, circle.Intersects(GeoCoordinates{Lon: 1, Lat: 0}))
	require.False(t, circle.Intersects(GeoCoordinates{Lon: 0.8, Lat: 0.8}))

	require.True(t, circle.ContainsBound(orb.Bound{Min: orb.Point{-0.5, -0.5}, Max: orb.Point{0.5, 0.5}}))
	require.False(t, circle.ContainsBound(orb.Bound{Min: orb.Point{-0.9, -0.9}, Max: orb.Point{0.9, 0.9}}))

	// the corner of the bounding box is outside of the circle
	require.False(t, circle.IntersectsBound(orb.Bound{Min: orb.Point{0.8, 0.8}, Max: orb.Point{2, 2}}))
	require.True(t, circle.IntersectsBound(orb.Bound{Min: orb.Point{0.5, -2}, Max: orb.Point{2, 2}}))
	require.True(t, circle.IntersectsBound(orb.Bound{Min: orb.Point{-5, -5}, Max: orb.Point{5, 5}}))
}
