package ports

import (
	"context"
	"time"

	"launchpad/internal/models"
)

// RecordStore is the durable table of work items. Every mutation appends a
// change to the store's change log in the same transaction.
type RecordStore interface {
	// Put writes or overwrites the item and reports whether it was created
	// or updated.
	Put(ctx context.Context, item models.WorkItem) (models.ChangeKind, error)
	Get(ctx context.Context, id string) (*models.WorkItem, error)
	List(ctx context.Context, limit int) ([]models.WorkItem, error)
	// Delete removes the item. A missing item is a NotFound error.
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// ChangeLog is the ordered feed of record store mutations together with
// durable per-consumer read offsets.
type ChangeLog interface {
	ChangesSince(ctx context.Context, afterSeq int64, limit int) ([]models.Change, error)
	Offset(ctx context.Context, consumer string) (int64, error)
	CommitOffset(ctx context.Context, consumer string, seq int64) error
	RecordDeadLetter(ctx context.Context, dl models.DeadLetter) error
	DeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error)
}

type ClaimOutcome int

const (
	// ClaimAcquired means the caller owns the launch and must provision.
	ClaimAcquired ClaimOutcome = iota
	// ClaimAlreadyLaunched means a worker was already accepted for the item.
	ClaimAlreadyLaunched
	// ClaimInFlight means another dispatcher holds an unexpired claim.
	ClaimInFlight
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimAcquired:
		return "acquired"
	case ClaimAlreadyLaunched:
		return "already_launched"
	case ClaimInFlight:
		return "in_flight"
	}
	return "unknown"
}

type Claim struct {
	Outcome ClaimOutcome
	Launch  models.Launch
}

// Ledger records one launch per item and turns at-least-once feed delivery
// into at most one accepted worker.
type Ledger interface {
	// Claim inserts a dispatched entry, or takes over a failed entry or a
	// dispatched entry whose lease has expired.
	Claim(ctx context.Context, itemID, idempotencyKey string, lease time.Duration) (Claim, error)
	MarkProvisioned(ctx context.Context, itemID, provider, instanceID string) error
	MarkFailed(ctx context.Context, itemID, reason string) error
	// Transition applies a worker-reported state. Moves the state machine
	// does not allow return a Conflict error.
	Transition(ctx context.Context, itemID string, to models.LaunchState, exitCode *int) (*models.Launch, error)
	GetLaunch(ctx context.Context, itemID string) (*models.Launch, error)
	// StaleClaims lists dispatched entries claimed at or before
	// claimedBefore, oldest first. Their dispatcher stopped before recording
	// an outcome.
	StaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]models.Launch, error)
}

// Store is everything a storage driver provides.
type Store interface {
	RecordStore
	ChangeLog
	Ledger
	Close() error
}
