package dispatch

import (
	"context"
	"time"

	"launchpad/internal/pkg/logger"
)

const sweepBatch = 100

// Sweeper finishes launches whose dispatcher stopped between claiming an
// item and recording the outcome. Such entries stay dispatched and every
// redelivery of their event sees them in flight, so nothing else would
// ever launch them.
type Sweeper struct {
	d        *Dispatcher
	interval time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// NewSweeper scans the ledger every interval (default: the dispatcher's
// lease) and relaunches claims older than the lease.
func NewSweeper(d *Dispatcher, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = d.opts.Lease
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Sweeper{d: d, interval: interval, now: time.Now, log: log.WithComponent("sweeper")}
}

// Run sweeps until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("sweeper started", "interval", s.interval.String(), "lease", s.d.opts.Lease.String())
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil
		case <-t.C:
		}
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("ledger sweep failed")
		}
	}
}

// SweepOnce relaunches one page of expired claims and returns how many
// workers it launched. A failed launch is recorded in the ledger like any
// other and does not stop the sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	stale, err := s.d.ledger.StaleClaims(ctx, s.now().Add(-s.d.opts.Lease), sweepBatch)
	if err != nil {
		return 0, err
	}

	launched := 0
	for _, l := range stale {
		if ctx.Err() != nil {
			return launched, ctx.Err()
		}
		ictx := logger.ContextWithItemID(ctx, l.ItemID)
		s.log.FromContext(ictx).Warn("expired launch claim, relaunching",
			"claimed_at", l.ClaimedAt,
			"attempts", l.Attempts,
		)
		ok, err := s.d.launchItem(ictx, l.ItemID)
		if err != nil {
			s.log.FromContext(ictx).WithError(err).Error("relaunch failed")
			continue
		}
		if ok {
			launched++
		}
	}
	return launched, nil
}
