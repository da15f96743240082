package dispatch

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchpad/internal/feed"
	"launchpad/internal/launch"
	"launchpad/internal/models"
	"launchpad/internal/ports/mocks"
)

func TestInFlightClaimIsLeftToItsHolder(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	_, err := ledger.Claim(ctx, "job-1", launch.IdempotencyKey("job-1"), time.Minute)
	require.NoError(t, err)

	l := &fakeLauncher{}
	d := New(ledger, l, Options{Lease: time.Minute}, nil)
	res := d.Handle(ctx, []feed.Event{created(1, models.WorkItem{ID: "job-1", InputText: "hello"})})

	assert.True(t, res.OK())
	assert.Empty(t, l.launched())
	rec, err := ledger.GetLaunch(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.LaunchDispatched, rec.State)
}

func TestSweeperRelaunchesExpiredClaims(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	for _, id := range []string{"job-1", "job-2"} {
		_, err := ledger.Claim(ctx, id, launch.IdempotencyKey(id), time.Minute)
		require.NoError(t, err)
	}

	l := &fakeLauncher{}
	s := NewSweeper(New(ledger, l, Options{Lease: time.Minute}, nil), time.Minute, nil)

	n, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "claims inside their lease are left alone")
	assert.Empty(t, l.launched())

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n, err = s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "the ledger itself still sees the lease as live")

	expired := NewSweeper(New(ledger, l, Options{Lease: time.Millisecond}, nil), time.Minute, nil)
	time.Sleep(10 * time.Millisecond)
	n, err = expired.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, l.launched())

	rec, err := ledger.GetLaunch(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.LaunchProvisioned, rec.State)
	assert.Equal(t, 2, rec.Attempts)

	n, err = expired.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeperRecordsFailedRelaunch(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	_, err := ledger.Claim(ctx, "job-1", launch.IdempotencyKey("job-1"), time.Minute)
	require.NoError(t, err)

	l := &fakeLauncher{fail: map[string]error{"job-1": noInstances()}}
	s := NewSweeper(New(ledger, l, Options{Lease: time.Millisecond}, nil), time.Minute, nil)
	time.Sleep(10 * time.Millisecond)

	n, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	rec, err := ledger.GetLaunch(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.LaunchProvisionFailed, rec.State)
}

func TestSweeperLedgerError(t *testing.T) {
	ctrl := gomock.NewController(t)
	ledger := mocks.NewMockLedger(ctrl)
	ledger.EXPECT().StaleClaims(gomock.Any(), gomock.Any(), sweepBatch).
		Return(nil, stderrors.New("connection reset"))

	_, err := NewSweeper(New(ledger, &fakeLauncher{}, Options{}, nil), 0, nil).SweepOnce(context.Background())
	assert.Error(t, err)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSweeper(New(newLedger(t), &fakeLauncher{}, Options{}, nil), 5*time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
