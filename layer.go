package pinindex

import (
	"slices"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// Options configures a Layer.
type Options struct {
	ClusteringEnabled bool
	ClusterThreshold  int

	// ClusterFactory creates cluster representatives. NewClusterPoint is
	// used when nil.
	ClusterFactory ClusterFactory
}

// Layer is a pin collection kept in sync with its spatial index. Changing the
// clustering settings rebuilds the index from scratch since the threshold
// decides retroactively which tiles are clustered.
type Layer struct {
	options Options
	pins    []GeoPoint
	index   *SpatialIndex
}

// NewLayer creates an empty layer. A threshold below MinClusterThreshold is
// rejected.
func NewLayer(o Options) (*Layer, error) {
	if o.ClusterFactory == nil {
		o.ClusterFactory = NewClusterPoint
	}

	index, err := NewSpatialIndex(o.ClusteringEnabled, o.ClusterThreshold)
	if err != nil {
		return nil, err
	}

	return &Layer{
		options: o,
		index:   index,
	}, nil
}

func (l *Layer) Options() Options {
	return l.options
}

// Index exposes the underlying index for inspection.
func (l *Layer) Index() *SpatialIndex {
	return l.index
}

func (l *Layer) Len() int {
	return len(l.pins)
}

// Pins returns the pins in insertion order.
func (l *Layer) Pins() []GeoPoint {
	return slices.Clone(l.pins)
}

func (l *Layer) Contains(p GeoPoint) bool {
	return l.index.Contains(p)
}

// Add appends p to the layer.
func (l *Layer) Add(p GeoPoint) error {
	if err := l.index.Insert(p); err != nil {
		return err
	}
	l.pins = append(l.pins, p)
	return nil
}

// Remove deletes p from the layer. It returns false when p is not part of it.
func (l *Layer) Remove(p GeoPoint) bool {
	if !l.index.Remove(p) {
		return false
	}
	l.pins, _ = removePoint(l.pins, p)
	return true
}

// Clear removes every pin.
func (l *Layer) Clear() {
	l.index.Close()
	l.pins = nil
}

// Move notifies the layer that p, which does not announce its own moves,
// left old.
func (l *Layer) Move(p GeoPoint, old GeoCoordinates) {
	l.index.LocationChanged(p, old)
}

// SetClusteringEnabled toggles clustering and rebuilds the index.
func (l *Layer) SetClusteringEnabled(enabled bool) {
	if enabled == l.options.ClusteringEnabled {
		return
	}
	l.options.ClusteringEnabled = enabled
	l.rebuild()
}

// SetClusterThreshold sets the threshold, raised to MinClusterThreshold when
// smaller, and rebuilds the index.
func (l *Layer) SetClusterThreshold(threshold int) {
	if threshold < MinClusterThreshold {
		threshold = MinClusterThreshold
	}
	if threshold == l.options.ClusterThreshold {
		return
	}
	l.options.ClusterThreshold = threshold
	l.rebuild()
}

func (l *Layer) rebuild() {
	l.index.Close()

	// settings are validated by the setters
	index, _ := NewSpatialIndex(l.options.ClusteringEnabled, l.options.ClusterThreshold)
	for _, p := range l.pins {
		if err := index.Insert(p); err != nil {
			logs.Warn(errors.New("reinserting pin failed").Wrap(err))
		}
	}
	l.index = index

	logs.WithTag("pins", len(l.pins)).
		WithTag("clustering", l.options.ClusteringEnabled).
		WithTag("threshold", l.options.ClusterThreshold).
		Info("pin layer rebuilt")
}

// Query returns what r shows at lod.
func (l *Layer) Query(r Region, lod float64) QueryResult {
	return l.index.Query(r, lod, l.options.ClusterFactory)
}

// Close releases the index and its cluster representatives.
func (l *Layer) Close() {
	l.index.Close()
}

// FrameDiff is the change in visible pins and clusters between two frames.
type FrameDiff struct {
	ShownPins      []GeoPoint
	HiddenPins     []GeoPoint
	ShownClusters  []ClusterPoint
	HiddenClusters []ClusterPoint

	// Clusters that stayed visible. Their location and size may have changed.
	UpdatedClusters []ClusterPoint
}

// Empty reports whether nothing changed.
func (d FrameDiff) Empty() bool {
	return len(d.ShownPins) == 0 &&
		len(d.HiddenPins) == 0 &&
		len(d.ShownClusters) == 0 &&
		len(d.HiddenClusters) == 0
}

// FrameTracker remembers what one viewer displays and turns each query result
// into the instantiate/destroy work of the next frame.
type FrameTracker struct {
	pins     map[GeoPoint]struct{}
	clusters map[ClusterPoint]struct{}
}

func NewFrameTracker() *FrameTracker {
	return &FrameTracker{
		pins:     make(map[GeoPoint]struct{}),
		clusters: make(map[ClusterPoint]struct{}),
	}
}

// Update records res as the current frame and returns the difference with the
// previous one.
func (f *FrameTracker) Update(res QueryResult) FrameDiff {
	var diff FrameDiff

	pins := make(map[GeoPoint]struct{}, len(res.Points))
	for _, p := range res.Points {
		pins[p] = struct{}{}
		if _, ok := f.pins[p]; !ok {
			diff.ShownPins = append(diff.ShownPins, p)
		}
	}
	for p := range f.pins {
		if _, ok := pins[p]; !ok {
			diff.HiddenPins = append(diff.HiddenPins, p)
		}
	}

	clusters := make(map[ClusterPoint]struct{}, len(res.Clusters))
	for _, c := range res.Clusters {
		clusters[c] = struct{}{}
		if _, ok := f.clusters[c]; ok {
			diff.UpdatedClusters = append(diff.UpdatedClusters, c)
		} else {
			diff.ShownClusters = append(diff.ShownClusters, c)
		}
	}
	for c := range f.clusters {
		if _, ok := clusters[c]; !ok {
			diff.HiddenClusters = append(diff.HiddenClusters, c)
		}
	}

	f.pins = pins
	f.clusters = clusters
	return diff
}

// Visible returns what the last frame showed.
func (f *FrameTracker) Visible() QueryResult {
	var res QueryResult
	for p := range f.pins {
		res.Points = append(res.Points, p)
	}
	for c := range f.clusters {
		res.Clusters = append(res.Clusters, c)
	}
	return res
}

// Reset forgets the previous frame.
func (f *FrameTracker) Reset() {
	clear(f.pins)
	clear(f.clusters)
}
