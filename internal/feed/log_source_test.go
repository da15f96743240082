package feed

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/internal/models"
	"launchpad/internal/repositories/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLogSourceRedeliversUntilAcked(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	src := NewLogSource(store, "dispatcher", 10*time.Millisecond)

	_, err := store.Put(ctx, models.WorkItem{ID: "job-1", InputText: "hello"})
	require.NoError(t, err)
	_, err = store.Put(ctx, models.WorkItem{ID: "job-2", InputFilePath: "s3://in/job-2.txt"})
	require.NoError(t, err)

	first, err := src.Read(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "job-1", first[0].ItemID())
	assert.True(t, first[0].Created())

	again, err := src.Read(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].EventID, again[0].EventID, "unacknowledged events are read again")
	assert.Equal(t, 1, first[0].Deliveries)
	assert.Equal(t, 2, again[0].Deliveries)

	require.NoError(t, src.Ack(ctx, first...))

	next, err := src.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "job-2", next[0].ItemID())
	assert.Equal(t, 1, next[0].Deliveries)
	item, ok := next[0].NewItem()
	require.True(t, ok)
	assert.Equal(t, "s3://in/job-2.txt", item.InputFilePath)

	require.NoError(t, src.Ack(ctx, next...))
	empty, err := src.Read(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLogSourceOverDeliveredEventIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	src := NewLogSource(store, "dispatcher", 10*time.Millisecond)

	_, err := store.Put(ctx, models.WorkItem{ID: "job-1", InputText: "hello"})
	require.NoError(t, err)

	var events []Event
	for i := 0; i < 3; i++ {
		events, err = src.Read(ctx, 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
	}
	require.Equal(t, 3, events[0].Deliveries)

	handled := 0
	h := HandlerFunc(func(context.Context, []Event) BatchResult {
		handled++
		return BatchResult{}
	})
	c := NewConsumer(src, h, ConsumerOptions{RetryAttempts: 1}, nil)
	require.NoError(t, c.ProcessBatch(ctx, events))

	assert.Zero(t, handled)
	dls, err := store.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Contains(t, dls[0].Reason, "delivered 3 times")

	empty, err := src.Read(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLogSourceDeadLetter(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	src := NewLogSource(store, "dispatcher", 10*time.Millisecond)

	_, err := store.Put(ctx, models.WorkItem{ID: "job-1", InputText: "hello"})
	require.NoError(t, err)
	events, err := src.Read(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, src.DeadLetter(ctx, events[0], "provisioning returned no instances", 3))

	dls, err := store.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, "job-1", dls[0].ItemID)
	assert.Equal(t, events[0].EventID, dls[0].EventID)
	assert.Equal(t, 3, dls[0].Attempts)
}

func TestLogSourceReadHonorsCancel(t *testing.T) {
	store := newStore(t)
	src := NewLogSource(store, "dispatcher", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Read(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

type memPublisher struct {
	events []Event
	failAt int
}

func (p *memPublisher) Publish(ctx context.Context, ev Event) (string, error) {
	if p.failAt > 0 && len(p.events)+1 == p.failAt {
		return "", assert.AnError
	}
	p.events = append(p.events, ev)
	return ev.EventID + "-0", nil
}

func TestRelayPublishesAndCommits(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		_, err := store.Put(ctx, models.WorkItem{ID: id, InputText: "hello"})
		require.NoError(t, err)
	}

	pub := &memPublisher{failAt: 3}
	relay := NewRelay(store, pub, 10, time.Millisecond, nil)

	n, err := relay.RelayOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, n)

	offset, err := store.Offset(ctx, RelayOffset)
	require.NoError(t, err)
	assert.Equal(t, int64(2), offset, "published changes stay committed after a failure")

	pub.failAt = 0
	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, pub.events, 3)
	assert.Equal(t, "job-3", pub.events[2].ItemID())
	assert.Equal(t, EventInsert, pub.events[2].EventName)

	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
