package feed

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"launchpad/internal/pkg/errors"
	"launchpad/internal/pkg/logger"
)

// Failure reports one event the handler could not process.
type Failure struct {
	EventID string
	Err     error
}

// BatchResult is the outcome of handling a batch. Err fails the whole
// batch; otherwise only the events listed in Failures failed.
type BatchResult struct {
	Failures []Failure
	Err      error
}

// OK reports whether every event in the batch succeeded.
func (r BatchResult) OK() bool {
	return r.Err == nil && len(r.Failures) == 0
}

type Handler interface {
	Handle(ctx context.Context, events []Event) BatchResult
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, events []Event) BatchResult

func (f HandlerFunc) Handle(ctx context.Context, events []Event) BatchResult {
	return f(ctx, events)
}

type ConsumerOptions struct {
	BatchSize int
	// RetryAttempts is how many times a failed event is handed to the
	// handler again before it is dead-lettered.
	RetryAttempts int
	// BisectOnError splits a batch that failed as a whole and retries the
	// halves separately.
	BisectOnError bool
	RetryBackoff  time.Duration
	// ErrorBackoff is the pause after the source itself fails.
	ErrorBackoff time.Duration
}

// Consumer reads batches from a Source, hands them to a Handler and
// acknowledges them once every event either succeeded or was
// dead-lettered.
type Consumer struct {
	src  Source
	h    Handler
	opts ConsumerOptions
	log  *logger.Logger
}

func NewConsumer(src Source, h Handler, opts ConsumerOptions, log *logger.Logger) *Consumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Consumer{src: src, h: h, opts: opts, log: log.WithComponent("consumer")}
}

// Run consumes until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consumer started",
		"batch_size", c.opts.BatchSize,
		"retry_attempts", c.opts.RetryAttempts,
		"bisect_on_error", c.opts.BisectOnError,
	)

	for {
		if ctx.Err() != nil {
			c.log.Info("consumer stopped")
			return nil
		}

		events, err := c.src.Read(ctx, c.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error("feed read failed", "error", err.Error())
			sleep(ctx, c.opts.ErrorBackoff)
			continue
		}
		if len(events) == 0 {
			continue
		}

		if err := c.ProcessBatch(ctx, events); err != nil && ctx.Err() == nil {
			c.log.Error("batch left unacknowledged", "events", len(events), "error", err.Error())
			sleep(ctx, c.opts.ErrorBackoff)
		}
	}
}

// ProcessBatch settles one batch and acknowledges it. Events over the
// delivery limit are dead-lettered without being handled. An error means
// the batch was not acknowledged and the source will deliver it again.
func (c *Consumer) ProcessBatch(ctx context.Context, events []Event) error {
	start := time.Now()
	maxDeliveries := c.opts.RetryAttempts + 1

	live := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Deliveries > maxDeliveries {
			reason := fmt.Sprintf("delivered %d times, limit is %d", ev.Deliveries, maxDeliveries)
			if err := c.deadLetter(ctx, ev, reason, ev.Deliveries); err != nil {
				return err
			}
			continue
		}
		live = append(live, ev)
	}

	if len(live) > 0 {
		if err := c.settle(ctx, live, 0); err != nil {
			return err
		}
	}

	if err := c.src.Ack(ctx, events...); err != nil {
		return fmt.Errorf("ack batch: %w", err)
	}

	c.log.Debug("batch settled",
		"events", len(events),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// settle runs events through the handler, retrying failures until they
// succeed or are dead-lettered. attempt counts the retries already spent.
func (c *Consumer) settle(ctx context.Context, events []Event, attempt int) error {
	res := c.invoke(ctx, events)
	if err := ctx.Err(); err != nil {
		return err
	}

	if res.Err != nil {
		if !errors.IsRetryable(res.Err) || attempt >= c.opts.RetryAttempts {
			for _, ev := range events {
				if err := c.deadLetter(ctx, ev, res.Err.Error(), attempt+1); err != nil {
					return err
				}
			}
			return nil
		}

		c.log.Warn("batch failed, retrying",
			"events", len(events),
			"attempt", attempt+1,
			"error", res.Err.Error(),
		)
		if !sleep(ctx, c.backoff(attempt)) {
			return ctx.Err()
		}

		if c.opts.BisectOnError && len(events) > 1 {
			mid := len(events) / 2
			if err := c.settle(ctx, events[:mid], attempt+1); err != nil {
				return err
			}
			return c.settle(ctx, events[mid:], attempt+1)
		}
		return c.settle(ctx, events, attempt+1)
	}

	if len(res.Failures) == 0 {
		return nil
	}

	failed := make(map[string]error, len(res.Failures))
	for _, f := range res.Failures {
		failed[f.EventID] = f.Err
	}

	var retry []Event
	for _, ev := range events {
		ferr, ok := failed[ev.EventID]
		if !ok {
			continue
		}
		if !errors.IsRetryable(ferr) || attempt >= c.opts.RetryAttempts {
			if err := c.deadLetter(ctx, ev, ferr.Error(), attempt+1); err != nil {
				return err
			}
			continue
		}
		c.log.Warn("event failed, retrying",
			"event_id", ev.EventID,
			"item_id", ev.ItemID(),
			"attempt", attempt+1,
			"error", ferr.Error(),
		)
		retry = append(retry, ev)
	}

	if len(retry) == 0 {
		return nil
	}
	if !sleep(ctx, c.backoff(attempt)) {
		return ctx.Err()
	}
	return c.settle(ctx, retry, attempt+1)
}

// invoke calls the handler and turns a panic into a batch failure.
func (c *Consumer) invoke(ctx context.Context, events []Event) (res BatchResult) {
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("handler panic recovered",
				"panic", p,
				"stack", string(debug.Stack()),
				"events", len(events),
			)
			res = BatchResult{Err: errors.Internalf("handler panic: %v", p)}
		}
	}()
	return c.h.Handle(ctx, events)
}

func (c *Consumer) deadLetter(ctx context.Context, ev Event, reason string, attempts int) error {
	c.log.Error("work item left unprocessed",
		"item_id", ev.ItemID(),
		"event_id", ev.EventID,
		"reason", reason,
		"attempts", attempts,
	)
	if err := c.src.DeadLetter(ctx, ev, reason, attempts); err != nil {
		return fmt.Errorf("dead-letter event %s: %w", ev.EventID, err)
	}
	return nil
}

func (c *Consumer) backoff(attempt int) time.Duration {
	return c.opts.RetryBackoff * time.Duration(1<<attempt)
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
