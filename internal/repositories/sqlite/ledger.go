package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"launchpad/internal/models"
	"launchpad/internal/pkg/errors"
	"launchpad/internal/ports"
)

const launchColumns = `item_id, state, attempts, instance_id, provider, idempotency_key, last_error, exit_code, claimed_at, updated_at`

func scanLaunch(row rowScanner) (*models.Launch, error) {
	var (
		l                    models.Launch
		state                string
		exitCode             sql.NullInt64
		claimedMs, updatedMs int64
	)
	if err := row.Scan(&l.ItemID, &state, &l.Attempts, &l.InstanceID, &l.Provider, &l.IdempotencyKey,
		&l.LastError, &exitCode, &claimedMs, &updatedMs); err != nil {
		return nil, err
	}
	l.State = models.LaunchState(state)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		l.ExitCode = &code
	}
	l.ClaimedAt = time.UnixMilli(claimedMs).UTC()
	l.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &l, nil
}

func (s *Store) Claim(ctx context.Context, itemID, idempotencyKey string, lease time.Duration) (ports.Claim, error) {
	const op = "ledger.claim"
	now := s.now()

	launch, err := scanLaunch(s.db.QueryRowContext(ctx, `
		INSERT INTO launches (item_id, state, attempts, idempotency_key, claimed_at, updated_at)
		VALUES (?, 'dispatched', 1, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			state = 'dispatched',
			attempts = launches.attempts + 1,
			idempotency_key = excluded.idempotency_key,
			claimed_at = excluded.claimed_at,
			updated_at = excluded.updated_at
		WHERE launches.state = 'provision_failed'
		   OR (launches.state = 'dispatched' AND launches.claimed_at <= ?)
		RETURNING `+launchColumns,
		itemID, idempotencyKey, now.UnixMilli(), now.UnixMilli(), now.Add(-lease).UnixMilli()))
	if err == nil {
		return ports.Claim{Outcome: ports.ClaimAcquired, Launch: *launch}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ports.Claim{}, unavailable(err, op)
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
	// The worker may already have called back, in which case only the
	// instance details are filled in.
	res, err := s.db.ExecContext(ctx, `
		UPDATE launches SET
			state = CASE WHEN state = 'dispatched' THEN 'provisioned' ELSE state END,
			provider = ?,
			instance_id = ?,
			last_error = '',
			updated_at = ?
		WHERE item_id = ? AND state <> 'provision_failed'`,
		provider, instanceID, s.now().UnixMilli(), itemID)
	return checkUpdate(res, err, "ledger.mark_provisioned", itemID)
}

func (s *Store) MarkFailed(ctx context.Context, itemID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE launches SET state = 'provision_failed', last_error = ?, updated_at = ?
		WHERE item_id = ? AND state = 'dispatched'`,
		reason, s.now().UnixMilli(), itemID)
	return checkUpdate(res, err, "ledger.mark_failed", itemID)
}

func checkUpdate(res sql.Result, err error, op, itemID string) error {
	if err != nil {
		return unavailable(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err, op)
	}
	if n == 0 {
		return errors.Conflict(fmt.Sprintf("launch for %s is not in a state that allows %s", itemID, op)).
			WithField("item_id", itemID)
	}
	return nil
}

func (s *Store) Transition(ctx context.Context, itemID string, to models.LaunchState, exitCode *int) (*models.Launch, error) {
	const op = "ledger.transition"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err, op)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanLaunch(tx.QueryRowContext(ctx, `SELECT `+launchColumns+` FROM launches WHERE item_id = ?`, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("launch", itemID)
	}
	if err != nil {
		return nil, unavailable(err, op)
	}

	// Repeated callbacks for the state already recorded are accepted as is.
	if current.State == to {
		return current, nil
	}
	if !current.State.CanTransition(to) {
		return nil, errors.Conflict(fmt.Sprintf("launch %s cannot move from %s to %s", itemID, current.State, to)).
			WithField("item_id", itemID)
	}

	var (
		code      sql.NullInt64
		lastError = current.LastError
	)
	if to == models.LaunchTerminated && exitCode != nil {
		code = sql.NullInt64{Int64: int64(*exitCode), Valid: true}
		if *exitCode != 0 {
			lastError = fmt.Sprintf("worker exited with code %d", *exitCode)
		}
	}

	updated, err := scanLaunch(tx.QueryRowContext(ctx, `
		UPDATE launches SET state = ?, exit_code = ?, last_error = ?, updated_at = ?
		WHERE item_id = ?
		RETURNING `+launchColumns,
		string(to), code, lastError, s.now().UnixMilli(), itemID))
	if err != nil {
		return nil, unavailable(err, op)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(err, op)
	}
	return updated, nil
}

func (s *Store) GetLaunch(ctx context.Context, itemID string) (*models.Launch, error) {
	l, err := scanLaunch(s.db.QueryRowContext(ctx, `SELECT `+launchColumns+` FROM launches WHERE item_id = ?`, itemID))
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+launchColumns+` FROM launches
		WHERE state = 'dispatched' AND claimed_at <= ?
		ORDER BY claimed_at
		LIMIT ?`, claimedBefore.UnixMilli(), limit)
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
