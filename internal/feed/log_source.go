package feed

import (
	"context"
	"strconv"
	"sync"
	"time"

	"launchpad/internal/models"
	"launchpad/internal/ports"
)

// LogSource reads events straight from the record store's change log. The
// consumer's position is a durable offset committed on Ack, so events read
// but not acknowledged are read again. Delivery counts live in memory and
// start over when the process restarts.
type LogSource struct {
	log      ports.ChangeLog
	consumer string
	poll     time.Duration

	mu         sync.Mutex
	deliveries map[int64]int
}

func NewLogSource(log ports.ChangeLog, consumer string, poll time.Duration) *LogSource {
	if poll <= 0 {
		poll = time.Second
	}
	return &LogSource{log: log, consumer: consumer, poll: poll, deliveries: make(map[int64]int)}
}

func (s *LogSource) Read(ctx context.Context, max int) ([]Event, error) {
	offset, err := s.log.Offset(ctx, s.consumer)
	if err != nil {
		return nil, err
	}
	changes, err := s.log.ChangesSince(ctx, offset, max)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.poll):
		}
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]Event, 0, len(changes))
	for _, c := range changes {
		ev := FromChange(c)
		s.deliveries[c.Seq]++
		ev.Deliveries = s.deliveries[c.Seq]
		events = append(events, ev)
	}
	return events, nil
}

func (s *LogSource) Ack(ctx context.Context, events ...Event) error {
	var last int64
	for _, ev := range events {
		seq, err := strconv.ParseInt(ev.Receipt, 10, 64)
		if err != nil {
			continue
		}
		if seq > last {
			last = seq
		}
	}
	if last == 0 {
		return nil
	}
	if err := s.log.CommitOffset(ctx, s.consumer, last); err != nil {
		return err
	}

	s.mu.Lock()
	for seq := range s.deliveries {
		if seq <= last {
			delete(s.deliveries, seq)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *LogSource) DeadLetter(ctx context.Context, ev Event, reason string, attempts int) error {
	return s.log.RecordDeadLetter(ctx, models.DeadLetter{
		EventID:  ev.EventID,
		ItemID:   ev.ItemID(),
		Reason:   reason,
		Attempts: attempts,
		At:       time.Now().UTC(),
	})
}
