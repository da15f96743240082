package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"launchpad/internal/models"
	"launchpad/internal/pkg/errors"
	"launchpad/internal/ports"
)

const launchColumns = `item_id, state, attempts, instance_id, provider, idempotency_key, last_error, exit_code, claimed_at, updated_at`

func scanLaunch(row pgx.Row) (*models.Launch, error) {
	var (
		l     models.Launch
		state string
	)
	if err := row.Scan(&l.ItemID, &state, &l.Attempts, &l.InstanceID, &l.Provider, &l.IdempotencyKey,
		&l.LastError, &l.ExitCode, &l.ClaimedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.State = models.LaunchState(state)
	l.ClaimedAt = l.ClaimedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}

func (s *Store) Claim(ctx context.Context, itemID, idempotencyKey string, lease time.Duration) (ports.Claim, error) {
	now := s.now().UTC()

	launch, err := scanLaunch(s.db.QueryRow(ctx, `
		INSERT INTO launches (item_id, state, attempts, idempotency_key, claimed_at, updated_at)
		VALUES ($1, 'dispatched', 1, $2, $3, $3)
		ON CONFLICT (item_id) DO UPDATE SET
			state = 'dispatched',
			attempts = launches.attempts + 1,
			idempotency_key = EXCLUDED.idempotency_key,
			claimed_at = EXCLUDED.claimed_at,
			updated_at = EXCLUDED.updated_at
		WHERE launches.state = 'provision_failed'
		   OR (launches.state = 'dispatched' AND launches.claimed_at <= $4)
		RETURNING `+launchColumns,
		itemID, idempotencyKey, now, now.Add(-lease)))
	if err == nil {
		return ports.Claim{Outcome: ports.ClaimAcquired, Launch: *launch}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ports.Claim{}, unavailable(err, "ledger.claim")
	}

	existing, err := s.GetLaunch(ctx, itemID)
	if err != nil {
		return ports.Claim{}, err
	}
	if existing.State.Launched() {
		return ports.Claim{Outcome: ports.ClaimAlreadyLaunched, Launch: *existing}, nil
	}
	return ports.Claim{Outcome: ports.ClaimInFlight, Launch: *existing}, nil
}

func (s *Store) MarkProvisioned(ctx context.Context, itemID, provider, instanceID string) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE launches SET
			state = CASE WHEN state = 'dispatched' THEN 'provisioned' ELSE state END,
			provider = $2,
			instance_id = $3,
			last_error = '',
			updated_at = now()
		WHERE item_id = $1 AND state <> 'provision_failed'`,
		itemID, provider, instanceID)
	if err != nil {
		return unavailable(err, "ledger.mark_provisioned")
	}
	if cmd.RowsAffected() == 0 {
		return notTransitionable(itemID, "ledger.mark_provisioned")
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, itemID, reason string) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE launches SET state = 'provision_failed', last_error = $2, updated_at = now()
		WHERE item_id = $1 AND state = 'dispatched'`,
		itemID, reason)
	if err != nil {
		return unavailable(err, "ledger.mark_failed")
	}
	if cmd.RowsAffected() == 0 {
		return notTransitionable(itemID, "ledger.mark_failed")
	}
	return nil
}

func notTransitionable(itemID, op string) error {
	return errors.Conflict(fmt.Sprintf("launch for %s is not in a state that allows %s", itemID, op)).
		WithField("item_id", itemID)
}

func (s *Store) Transition(ctx context.Context, itemID string, to models.LaunchState, exitCode *int) (*models.Launch, error) {
	const op = "ledger.transition"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, unavailable(err, op)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanLaunch(tx.QueryRow(ctx, `SELECT `+launchColumns+` FROM launches WHERE item_id = $1 FOR UPDATE`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("launch", itemID)
	}
	if err != nil {
		return nil, unavailable(err, op)
	}

	if current.State == to {
		return current, nil
	}
	if !current.State.CanTransition(to) {
		return nil, errors.Conflict(fmt.Sprintf("launch %s cannot move from %s to %s", itemID, current.State, to)).
			WithField("item_id", itemID)
	}

	var code *int
	lastError := current.LastError
	if to == models.LaunchTerminated && exitCode != nil {
		code = exitCode
		if *exitCode != 0 {
			lastError = fmt.Sprintf("worker exited with code %d", *exitCode)
		}
	}

	updated, err := scanLaunch(tx.QueryRow(ctx, `
		UPDATE launches SET state = $2, exit_code = $3, last_error = $4, updated_at = now()
		WHERE item_id = $1
		RETURNING `+launchColumns,
		itemID, string(to), code, lastError))
	if err != nil {
		return nil, unavailable(err, op)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable(err, op)
	}
	return updated, nil
}

func (s *Store) GetLaunch(ctx context.Context, itemID string) (*models.Launch, error) {
	l, err := scanLaunch(s.db.QueryRow(ctx, `SELECT `+launchColumns+` FROM launches WHERE item_id = $1`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("launch", itemID)
	}
	if err != nil {
		return nil, unavailable(err, "ledger.get")
	}
	return l, nil
}

func (s *Store) StaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]models.Launch, error) {
	const op = "ledger.stale_claims"
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+launchColumns+` FROM launches
		WHERE state = 'dispatched' AND claimed_at <= $1
		ORDER BY claimed_at
		LIMIT $2`, claimedBefore.UTC(), limit)
	if err != nil {
		return nil, unavailable(err, op)
	}
	defer rows.Close()

	var out []models.Launch
	for rows.Next() {
		l, err := scanLaunch(rows)
		if err != nil {
			return nil, unavailable(err, op)
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, op)
	}
	return out, nil
}
