package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"launchpad/internal/pkg/errors"
	"launchpad/internal/pkg/logger"
)

const (
	fieldEvent    = "event"
	fieldReason   = "reason"
	fieldAttempts = "attempts"
	fieldItemID   = "item_id"
	fieldAt       = "at"
)

type RedisStreamOptions struct {
	Stream   string
	Group    string
	Consumer string
	// Block bounds how long Read waits for new entries.
	Block time.Duration
	// MaxLen trims the stream approximately on append. Zero disables trimming.
	MaxLen int64
	// ReclaimInterval is how often Read first takes over entries left
	// pending by crashed consumers; entries idle for ReclaimMinIdle qualify.
	ReclaimInterval time.Duration
	ReclaimMinIdle  time.Duration
}

// RedisStream is a Source and Publisher over a Redis stream consumed by a
// consumer group. Dead letters go to the "<stream>:dead" stream.
type RedisStream struct {
	rdb  *redis.Client
	opts RedisStreamOptions
	log  *logger.Logger

	mu          sync.Mutex
	lastReclaim time.Time
}

func NewRedisStream(rdb *redis.Client, opts RedisStreamOptions, log *logger.Logger) *RedisStream {
	if opts.Block <= 0 {
		opts.Block = 2 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &RedisStream{rdb: rdb, opts: opts, log: log.WithComponent("redis_stream")}
}

// DeadStream is the name of the dead-letter stream.
func (s *RedisStream) DeadStream() string {
	return s.opts.Stream + ":dead"
}

// EnsureGroup creates the consumer group, and the stream if needed, so that
// it starts from the beginning of the stream.
func (s *RedisStream) EnsureGroup(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.opts.Stream, s.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (s *RedisStream) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "feed.ping", "redis unavailable")
	}
	return nil
}

// Publish appends ev with XADD and returns the entry id.
func (s *RedisStream) Publish(ctx context.Context, ev Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.opts.Stream,
		Values: map[string]any{fieldEvent: data},
	}
	if s.opts.MaxLen > 0 {
		args.MaxLen = s.opts.MaxLen
		args.Approx = true
	}

	id, err := s.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("redis publish failed: %w", err)
	}
	return id, nil
}

func (s *RedisStream) Read(ctx context.Context, max int) ([]Event, error) {
	if s.reclaimDue() {
		events, err := s.reclaim(ctx, max)
		if err != nil {
			s.log.Warn("reclaim failed", "error", err.Error())
		} else if len(events) > 0 {
			return events, nil
		}
	}

	streams, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.opts.Group,
		Consumer: s.opts.Consumer,
		Streams:  []string{s.opts.Stream, ">"},
		Count:    int64(max),
		Block:    s.opts.Block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("redis read failed: %w", err)
	}

	var events []Event
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if ev, ok := s.decode(ctx, msg, 1); ok {
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

func (s *RedisStream) reclaimDue() bool {
	if s.opts.ReclaimInterval <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastReclaim) < s.opts.ReclaimInterval {
		return false
	}
	s.lastReclaim = time.Now()
	return true
}

// reclaim takes over entries pending longer than ReclaimMinIdle with
// XAUTOCLAIM and reports how often each has been delivered.
func (s *RedisStream) reclaim(ctx context.Context, max int) ([]Event, error) {
	msgs, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.opts.Stream,
		Group:    s.opts.Group,
		Consumer: s.opts.Consumer,
		MinIdle:  s.opts.ReclaimMinIdle,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	pending, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   s.opts.Stream,
		Group:    s.opts.Group,
		Start:    msgs[0].ID,
		End:      msgs[len(msgs)-1].ID,
		Count:    int64(len(msgs)),
		Consumer: s.opts.Consumer,
	}).Result()
	if err != nil {
		return nil, err
	}
	deliveries := make(map[string]int, len(pending))
	for _, p := range pending {
		deliveries[p.ID] = int(p.RetryCount)
	}

	events := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		n := deliveries[msg.ID]
		if n == 0 {
			n = 2
		}
		if ev, ok := s.decode(ctx, msg, n); ok {
			events = append(events, ev)
		}
	}
	s.log.Info("reclaimed stale entries", "count", len(events))
	return events, nil
}

// decode parses a stream entry. Entries that cannot be parsed are moved to
// the dead-letter stream and acknowledged so they do not block the group.
func (s *RedisStream) decode(ctx context.Context, msg redis.XMessage, deliveries int) (Event, bool) {
	raw, _ := msg.Values[fieldEvent].(string)

	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil || raw == "" {
		reason := "entry has no event field"
		if err != nil {
			reason = "malformed event: " + err.Error()
		}
		s.log.Error("dropping unreadable stream entry", "entry_id", msg.ID, "reason", reason)
		if err := s.deadLetter(ctx, msg.ID, raw, "", reason, deliveries); err != nil {
			s.log.Error("dead-letter write failed", "entry_id", msg.ID, "error", err.Error())
			return Event{}, false
		}
		_ = s.rdb.XAck(ctx, s.opts.Stream, s.opts.Group, msg.ID).Err()
		return Event{}, false
	}

	ev.Receipt = msg.ID
	ev.Deliveries = deliveries
	return ev, true
}

func (s *RedisStream) Ack(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.Receipt)
	}
	return s.rdb.XAck(ctx, s.opts.Stream, s.opts.Group, ids...).Err()
}

func (s *RedisStream) DeadLetter(ctx context.Context, ev Event, reason string, attempts int) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.deadLetter(ctx, ev.EventID, string(data), ev.ItemID(), reason, attempts)
}

func (s *RedisStream) deadLetter(ctx context.Context, eventID, raw, itemID, reason string, attempts int) error {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.DeadStream(),
		Values: map[string]any{
			"event_id":    eventID,
			fieldEvent:    raw,
			fieldItemID:   itemID,
			fieldReason:   reason,
			fieldAttempts: attempts,
			fieldAt:       time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}
