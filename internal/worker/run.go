// Package worker runs the dispatcher side of launchpad: the change-feed
// consumer, the relay that feeds it when a Redis stream sits in between,
// the ledger sweeper, and the wiring that builds them from configuration.
package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"launchpad/internal/feed"
	"launchpad/internal/pkg/logger"
)

// Run consumes the change feed until ctx is canceled. A failure of the
// relay or the consumer stops both.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	g, gctx := errgroup.WithContext(ctx)

	if d.Relay != nil {
		g.Go(func() error {
			return d.Relay.Run(gctx)
		})
	}

	if d.Sweeper != nil {
		g.Go(func() error {
			return d.Sweeper.Run(gctx)
		})
	}

	consumer := feed.NewConsumer(d.Source, d.Handler, d.Consumer, log)
	g.Go(func() error {
		return consumer.Run(gctx)
	})

	start := time.Now()
	log.Info("dispatcher running", "relay", d.Relay != nil, "sweeper", d.Sweeper != nil)

	err := g.Wait()
	log.Info("dispatcher stopped", "uptime_s", int64(time.Since(start).Seconds()))
	return err
}
