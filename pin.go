package pinindex

import (
	"slices"
)

// LocationObserver receives location changes of the pins it subscribed to.
type LocationObserver interface {
	LocationChanged(p GeoPoint, old GeoCoordinates)
}

// LocationNotifier is implemented by pins that announce their own moves. The
// index subscribes to them on insert and unsubscribes on remove. Pins that
// do not implement it must be moved with SpatialIndex.LocationChanged.
type LocationNotifier interface {
	GeoPoint
	Subscribe(o LocationObserver)
	Unsubscribe(o LocationObserver)
}

// MapPin is a named, movable pin.
type MapPin struct {
	Name string

	coords    GeoCoordinates
	observers []LocationObserver
}

func NewMapPin(name string, c GeoCoordinates) *MapPin {
	return &MapPin{
		Name:   name,
		coords: c,
	}
}

func (p *MapPin) GetCoordinates() GeoCoordinates {
	return p.coords
}

// SetLocation moves the pin and notifies the observers when the location
// actually changed.
func (p *MapPin) SetLocation(c GeoCoordinates) {
	old := p.coords
	if old == c {
		return
	}
	p.coords = c

	for _, o := range slices.Clone(p.observers) {
		o.LocationChanged(p, old)
	}
}

func (p *MapPin) Subscribe(o LocationObserver) {
	if slices.Contains(p.observers, o) {
		return
	}
	p.observers = append(p.observers, o)
}

func (p *MapPin) Unsubscribe(o LocationObserver) {
	if i := slices.Index(p.observers, o); i >= 0 {
		p.observers = slices.Delete(p.observers, i, i+1)
	}
}
