package pinindex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	transitionLabel = "transition"
	shapeLabel      = "shape"
)

var (
	indexedPins = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pinindex_indexed_pins",
		Help: "The number of pins held by spatial indexes.",
	})

	tileRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pinindex_tile_records",
		Help: "The number of tile records across all levels of detail.",
	})

	clusterTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinindex_cluster_transitions_total",
		Help: "The number of tiles entering or leaving the clustered state.",
	}, []string{transitionLabel})

	invariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinindex_invariant_violations_total",
		Help: "The number of inconsistent aggregates detected and tolerated.",
	})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pinindex_query_duration_seconds",
		Help:    "The duration of viewport queries.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{shapeLabel})
)

func instrumentClustered() {
	clusterTransitions.
		With(prometheus.Labels{transitionLabel: "clustered"}).
		Inc()
}

func instrumentUnclustered() {
	clusterTransitions.
		With(prometheus.Labels{transitionLabel: "unclustered"}).
		Inc()
}

func instrumentQuery(r Region, seconds float64) {
	queryDuration.
		With(prometheus.Labels{shapeLabel: regionShape(r)}).
		Observe(seconds)
}

func regionShape(r Region) string {
	switch r.(type) {
	case Box, *Box:
		return "box"
	case Circle, *Circle:
		return "circle"
	default:
		return "custom"
	}
}
