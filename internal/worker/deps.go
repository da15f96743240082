package worker

import (
	"launchpad/internal/dispatch"
	"launchpad/internal/feed"
	"launchpad/internal/pkg/logger"
)

// Deps is everything Run needs. Relay is nil when the consumer reads the
// store's change log directly. Sweeper is optional.
type Deps struct {
	Source   feed.Source
	Relay    *feed.Relay
	Sweeper  *dispatch.Sweeper
	Handler  feed.Handler
	Consumer feed.ConsumerOptions
	Log      *logger.Logger
}
