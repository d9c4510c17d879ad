package pinindex

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Region is a viewport shape the index can be queried with.
type Region interface {
	// Bound returns the axis-aligned box enclosing the region. It drives the
	// tile covering.
	Bound() orb.Bound

	// ContainsBound reports whether b lies entirely inside the region.
	ContainsBound(b orb.Bound) bool

	// IntersectsBound reports whether b overlaps the region at all.
	IntersectsBound(b orb.Bound) bool

	// Intersects reports whether the location lies inside the region.
	Intersects(c GeoCoordinates) bool
}

// Box is a rectangular viewport. Edges are inclusive.
type Box struct {
	Extent orb.Bound
}

// NewBox returns the box spanning the given edges in degrees.
func NewBox(north, south, east, west float64) Box {
	return Box{Extent: orb.Bound{
		Min: orb.Point{math.Min(west, east), math.Min(north, south)},
		Max: orb.Point{math.Max(west, east), math.Max(north, south)},
	}}
}

func (b Box) Bound() orb.Bound {
	return b.Extent
}

func (b Box) ContainsBound(o orb.Bound) bool {
	return b.Extent.Contains(o.Min) && b.Extent.Contains(o.Max)
}

func (b Box) IntersectsBound(o orb.Bound) bool {
	return b.Extent.Intersects(o)
}

func (b Box) Intersects(c GeoCoordinates) bool {
	return b.Extent.Contains(c.Point())
}

// Circle is a circular viewport. The radius is planar, in degrees, measured
// in the lon/lat plane.
type Circle struct {
	Center GeoCoordinates
	Radius float64
}

func (c Circle) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{c.Center.Lon - c.Radius, c.Center.Lat - c.Radius},
		Max: orb.Point{c.Center.Lon + c.Radius, c.Center.Lat + c.Radius},
	}
}

func (c Circle) ContainsBound(b orb.Bound) bool {
	corners := [4]orb.Point{
		b.Min,
		b.Max,
		{b.Min.Lon(), b.Max.Lat()},
		{b.Max.Lon(), b.Min.Lat()},
	}
	for _, p := range corners {
		if !c.containsPoint(p) {
			return false
		}
	}
	return true
}

func (c Circle) IntersectsBound(b orb.Bound) bool {
	closest := orb.Point{
		clamp(c.Center.Lon, b.Min.Lon(), b.Max.Lon()),
		clamp(c.Center.Lat, b.Min.Lat(), b.Max.Lat()),
	}
	return c.containsPoint(closest)
}

func (c Circle) Intersects(p GeoCoordinates) bool {
	return c.containsPoint(p.Point())
}

func (c Circle) containsPoint(p orb.Point) bool {
	return planar.Distance(c.Center.Point(), p) <= c.Radius
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
