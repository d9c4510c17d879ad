package pinindex

// Error types, checked with errors.IsType.
const (
	ErrTypeInvalidClusterThreshold = "invalid-cluster-threshold"
	ErrTypePinAlreadyIndexed       = "pin-already-indexed"
	ErrTypePinNotIndexed           = "pin-not-indexed"
	ErrTypeInvalidLocation         = "invalid-location"
	ErrTypeInconsistentAggregate   = "inconsistent-aggregate"
)

// MinClusterThreshold is the smallest accepted cluster threshold.
const MinClusterThreshold = 2
