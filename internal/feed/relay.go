package feed

import (
	"context"
	"time"

	"launchpad/internal/pkg/logger"
	"launchpad/internal/ports"
)

// RelayOffset is the change-log consumer name the relay commits under.
const RelayOffset = "relay"

// Relay copies the record store's change log onto a stream transport. It
// commits its change-log offset only after every change in the batch was
// published, so a crash republishes rather than drops.
type Relay struct {
	log   ports.ChangeLog
	pub   Publisher
	batch int
	poll  time.Duration
	lg    *logger.Logger
}

func NewRelay(log ports.ChangeLog, pub Publisher, batch int, poll time.Duration, lg *logger.Logger) *Relay {
	if batch <= 0 {
		batch = 100
	}
	if poll <= 0 {
		poll = time.Second
	}
	if lg == nil {
		lg = logger.Discard()
	}
	return &Relay{log: log, pub: pub, batch: batch, poll: poll, lg: lg.WithComponent("relay")}
}

// Run relays changes until ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	r.lg.Info("relay started", "poll", r.poll.String())
	for {
		n, err := r.RelayOnce(ctx)
		if ctx.Err() != nil {
			r.lg.Info("relay stopped")
			return nil
		}
		if err != nil {
			r.lg.Error("relay pass failed", "error", err.Error())
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			r.lg.Info("relay stopped")
			return nil
		case <-time.After(r.poll):
		}
	}
}

// RelayOnce publishes one batch of pending changes and returns how many
// were published.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	offset, err := r.log.Offset(ctx, RelayOffset)
	if err != nil {
		return 0, err
	}
	changes, err := r.log.ChangesSince(ctx, offset, r.batch)
	if err != nil {
		return 0, err
	}

	published := 0
	var last int64
	for _, c := range changes {
		ev := FromChange(c)
		id, err := r.pub.Publish(ctx, ev)
		if err != nil {
			if last > 0 {
				if cerr := r.log.CommitOffset(ctx, RelayOffset, last); cerr != nil {
					r.lg.Error("commit relay offset failed", "error", cerr.Error())
				}
			}
			return published, err
		}
		r.lg.Debug("change relayed", "seq", c.Seq, "entry_id", id, "item_id", c.ItemID, "kind", string(c.Kind))
		last = c.Seq
		published++
	}

	if last > 0 {
		if err := r.log.CommitOffset(ctx, RelayOffset, last); err != nil {
			return published, err
		}
	}
	return published, nil
}
