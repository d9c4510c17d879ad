package pinindex

import (
	"github.com/paulmach/orb"
)

// GeoCoordinates is a position on the Earth in degrees.
type GeoCoordinates struct {
	Lon float64
	Lat float64
}

// Point returns the coordinates as an orb point (lon, lat).
func (g GeoCoordinates) Point() orb.Point {
	return orb.Point{g.Lon, g.Lat}
}

// CoordinatesFromPoint is the inverse of GeoCoordinates.Point.
func CoordinatesFromPoint(p orb.Point) GeoCoordinates {
	return GeoCoordinates{Lon: p.Lon(), Lat: p.Lat()}
}

// GeoPoint is implemented by everything the index can hold.
// The index compares points by interface equality, so implementations should
// be pointer types when two pins can share coordinates.
type GeoPoint interface {
	GetCoordinates() GeoCoordinates
}

type SimplePoint struct {
	Lon, Lat float64
}

func (sp *SimplePoint) GetCoordinates() GeoCoordinates {
	return GeoCoordinates{sp.Lon, sp.Lat}
}
