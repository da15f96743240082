// Package dispatch turns change-feed batches into worker launches. Every
// created record with a payload gets exactly one accepted worker, guarded
// by the dispatch ledger against redelivery and concurrent dispatchers.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"launchpad/internal/config"
	"launchpad/internal/feed"
	"launchpad/internal/launch"
	"launchpad/internal/models"
	"launchpad/internal/pkg/errors"
	"launchpad/internal/pkg/logger"
	"launchpad/internal/ports"
)

// Launcher starts the worker for one item.
type Launcher interface {
	Launch(ctx context.Context, itemID string) (launch.Handle, error)
}

type Options struct {
	// Policy is config.BatchPolicyEach or config.BatchPolicyFirstMatch.
	Policy string
	// Concurrency bounds how many item groups of a batch run at once.
	Concurrency int
	// Lease is how long a dispatched claim blocks other dispatchers.
	Lease time.Duration
}

type Dispatcher struct {
	ledger   ports.Ledger
	launcher Launcher
	opts     Options
	log      *logger.Logger
}

var _ feed.Handler = (*Dispatcher)(nil)

func New(ledger ports.Ledger, launcher Launcher, opts Options, log *logger.Logger) *Dispatcher {
	if opts.Policy == "" {
		opts.Policy = config.BatchPolicyEach
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{ledger: ledger, launcher: launcher, opts: opts, log: log.WithComponent("dispatcher")}
}

// Handle dispatches a batch and reports per-event failures. A panic fails
// the whole batch.
func (d *Dispatcher) Handle(ctx context.Context, events []feed.Event) (res feed.BatchResult) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("dispatch panic recovered",
				"panic", p,
				"stack", string(debug.Stack()),
				"events", len(events),
			)
			res = feed.BatchResult{Err: errors.Internalf("dispatch panic: %v", p)}
		}
	}()

	if d.opts.Policy == config.BatchPolicyFirstMatch {
		return d.firstMatch(ctx, events)
	}
	return d.each(ctx, events)
}

// each dispatches every matching record. Records of one item run in feed
// order; once one fails the rest of that item's records are held back so
// they are retried after it.
func (d *Dispatcher) each(ctx context.Context, events []feed.Event) feed.BatchResult {
	var (
		mu  sync.Mutex
		res feed.BatchResult
	)
	fail := func(ev feed.Event, err error) {
		mu.Lock()
		res.Failures = append(res.Failures, feed.Failure{EventID: ev.EventID, Err: err})
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for _, group := range groupByItem(events) {
		g.Go(func() error {
			for i, ev := range group {
				err := d.dispatchOne(ctx, ev)
				if err == nil {
					continue
				}
				fail(ev, err)
				for _, held := range group[i+1:] {
					fail(held, errors.Conflict("held behind failed event "+ev.EventID))
				}
				return nil
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// firstMatch dispatches only the first matching record. Matching records
// after it are reported as permanent failures so they reach the
// dead-letter sink.
func (d *Dispatcher) firstMatch(ctx context.Context, events []feed.Event) feed.BatchResult {
	var res feed.BatchResult
	matched := false
	for _, ev := range events {
		if !matches(ev) {
			d.skip(ctx, ev)
			continue
		}
		if matched {
			res.Failures = append(res.Failures, feed.Failure{
				EventID: ev.EventID,
				Err:     errors.Dispatch("skipped by first_match batch policy"),
			})
			continue
		}
		matched = true
		if err := d.dispatchOne(ctx, ev); err != nil {
			res.Failures = append(res.Failures, feed.Failure{EventID: ev.EventID, Err: err})
		}
	}
	return res
}

// matches reports whether ev is a created record carrying a payload.
func matches(ev feed.Event) bool {
	if !ev.Created() {
		return false
	}
	item, ok := ev.NewItem()
	return ok && item.HasPayload()
}

func (d *Dispatcher) skip(ctx context.Context, ev feed.Event) {
	d.log.FromContext(ctx).Debug("event ignored",
		"event_id", ev.EventID,
		"event_name", ev.EventName,
		"item_id", ev.ItemID(),
	)
}

func (d *Dispatcher) dispatchOne(ctx context.Context, ev feed.Event) error {
	if !matches(ev) {
		d.skip(ctx, ev)
		return nil
	}

	itemID := ev.ItemID()
	if itemID == "" {
		return errors.Dispatch("missing id").WithField("event_id", ev.EventID)
	}
	if !models.ValidItemID(itemID) {
		return errors.Dispatch(fmt.Sprintf("invalid item id %q", itemID)).WithField("event_id", ev.EventID)
	}

	ctx = logger.ContextWithEventID(logger.ContextWithItemID(ctx, itemID), ev.EventID)
	_, err := d.launchItem(ctx, itemID)
	return err
}

// launchItem claims itemID in the ledger and launches its worker. It
// reports whether this call launched one. An entry claimed by another
// dispatcher is left to it; if that dispatcher dies, the claim's lease
// runs out and the Sweeper takes it over.
func (d *Dispatcher) launchItem(ctx context.Context, itemID string) (bool, error) {
	log := d.log.FromContext(ctx)

	claim, err := d.ledger.Claim(ctx, itemID, launch.IdempotencyKey(itemID), d.opts.Lease)
	if err != nil {
		return false, errors.Wrap(err, "dispatch.claim", "claim launch")
	}

	switch claim.Outcome {
	case ports.ClaimAlreadyLaunched:
		log.Info("worker already launched, skipping",
			"state", string(claim.Launch.State),
			"instance_id", claim.Launch.InstanceID,
		)
		return false, nil
	case ports.ClaimInFlight:
		log.Info("launch in flight elsewhere, skipping",
			"claimed_at", claim.Launch.ClaimedAt,
			"lease_expires_at", claim.Launch.ClaimedAt.Add(d.opts.Lease),
		)
		return false, nil
	}

	start := time.Now()
	h, err := d.launcher.Launch(ctx, itemID)
	if err != nil {
		if merr := d.ledger.MarkFailed(ctx, itemID, err.Error()); merr != nil {
			d.log.LogError(ctx, "record launch failure", merr)
		}
		log.WithError(err).WithFields(errors.GetFields(err)).Warn("launch failed",
			"attempt", claim.Launch.Attempts,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return false, err
	}

	if err := d.ledger.MarkProvisioned(ctx, itemID, h.Provider, h.InstanceID); err != nil {
		d.log.LogError(ctx, "record provisioned launch", err, "instance_id", h.InstanceID)
	}

	log.Info("work item dispatched",
		"provider", h.Provider,
		"instance_id", h.InstanceID,
		"attempt", claim.Launch.Attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return true, nil
}

// groupByItem splits events into per-item groups, keeping feed order inside
// each group and the order of first appearance across groups.
func groupByItem(events []feed.Event) [][]feed.Event {
	index := make(map[string]int)
	var groups [][]feed.Event
	for _, ev := range events {
		id := ev.ItemID()
		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], ev)
	}
	return groups
}
