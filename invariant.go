package pinindex

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// Debug makes inconsistent aggregates panic instead of being logged and
// tolerated. Tests turn it on.
var Debug = false

// inconsistent reports a broken aggregate. Outside of Debug the index keeps
// going with the records it has.
func inconsistent(msg string, tile TileID, details map[string]any) {
	err := errors.New(msg).
		WithType(ErrTypeInconsistentAggregate).
		WithTag("tile", tile.String()).
		WithTag("details", details)

	invariantViolations.Inc()
	if Debug {
		panic(err)
	}
	logs.Warn(err)
}
