// Package postgres is the production record store driver, backed by a
// pgxpool connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"launchpad/internal/httpkit"
	"launchpad/internal/models"
	"launchpad/internal/pkg/errors"
	"launchpad/internal/ports"
)

// changeLogLock serializes change-log appends so that sequence numbers
// become visible in commit order and a reader never skips a row.
const changeLogLock int64 = 0x6c61756e6368

type Store struct {
	db  *pgxpool.Pool
	now func() time.Time
}

var _ ports.Store = (*Store)(nil)

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects, pings and migrates.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool), nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return unavailable(err, "records.ping")
	}
	return nil
}

func unavailable(err error, op string) error {
	switch {
	case httpkit.IsUndefinedTable(err):
		return errors.WrapWithCode(err, errors.CodeFailedPrecond, op, "record store schema is missing")
	case httpkit.IsUniqueViolation(err):
		return errors.WrapWithCode(err, errors.CodeConflict, op, "record already exists")
	}
	e := errors.Unavailable("record store")
	e.Op = op
	e.Err = err
	if httpkit.IsTransient(err) {
		e = e.WithField("transient", true)
	}
	return e
}

const itemColumns = `id, input_text, input_file_path, created_at, updated_at`

func scanItem(row pgx.Row) (*models.WorkItem, error) {
	var item models.WorkItem
	if err := row.Scan(&item.ID, &item.InputText, &item.InputFilePath, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

// withChangeTx runs fn in a transaction that holds the change-log lock.
func (s *Store) withChangeTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, changeLogLock); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Put(ctx context.Context, item models.WorkItem) (models.ChangeKind, error) {
	const op = "records.put"
	if !models.ValidItemID(item.ID) {
		return "", errors.ValidationField("id", models.ItemIDRule).WithField("op", op)
	}
	var kind models.ChangeKind

	err := s.withChangeTx(ctx, func(tx pgx.Tx) error {
		old, err := scanItem(tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = $1 FOR UPDATE`, item.ID))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		stored, err := scanItem(tx.QueryRow(ctx, `
			INSERT INTO work_items (id, input_text, input_file_path, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (id) DO UPDATE SET
				input_text = EXCLUDED.input_text,
				input_file_path = EXCLUDED.input_file_path,
				updated_at = EXCLUDED.updated_at
			RETURNING `+itemColumns,
			item.ID, item.InputText, item.InputFilePath, s.now().UTC()))
		if err != nil {
			return err
		}

		kind = models.ChangeCreated
		if old != nil {
			kind = models.ChangeUpdated
		}
		return insertChange(ctx, tx, kind, item.ID, stored, old)
	})
	if err != nil {
		return "", unavailable(err, op)
	}
	return kind, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.WorkItem, error) {
	item, err := scanItem(s.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("work item", id)
	}
	if err != nil {
		return nil, unavailable(err, "records.get")
	}
	return item, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]models.WorkItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+itemColumns+`
		FROM work_items
		ORDER BY created_at DESC, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, unavailable(err, "records.list")
	}
	defer rows.Close()

	out := []models.WorkItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, unavailable(err, "records.list")
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "records.list")
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	const op = "records.delete"

	err := s.withChangeTx(ctx, func(tx pgx.Tx) error {
		old, err := scanItem(tx.QueryRow(ctx, `DELETE FROM work_items WHERE id = $1 RETURNING `+itemColumns, id))
		if err != nil {
			return err
		}
		return insertChange(ctx, tx, models.ChangeDeleted, id, nil, old)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("work item", id)
	}
	if err != nil {
		return unavailable(err, op)
	}
	return nil
}

func insertChange(ctx context.Context, tx pgx.Tx, kind models.ChangeKind, itemID string, newImage, oldImage *models.WorkItem) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO work_item_changes (kind, item_id, new_image, old_image)
		VALUES ($1, $2, $3, $4)`,
		string(kind), itemID, newImage, oldImage)
	return err
}

func (s *Store) ChangesSince(ctx context.Context, afterSeq int64, limit int) ([]models.Change, error) {
	rows, err := s.db.Query(ctx, `
		SELECT seq, kind, item_id, new_image, old_image, at
		FROM work_item_changes
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2`, afterSeq, limit)
	if err != nil {
		return nil, unavailable(err, "changelog.read")
	}
	defer rows.Close()

	var out []models.Change
	for rows.Next() {
		var (
			c                  models.Change
			kind               string
			newImage, oldImage []byte
		)
		if err := rows.Scan(&c.Seq, &kind, &c.ItemID, &newImage, &oldImage, &c.At); err != nil {
			return nil, unavailable(err, "changelog.read")
		}
		c.Kind = models.ChangeKind(kind)
		c.At = c.At.UTC()
		if c.NewImage, err = decodeImage(newImage); err != nil {
			return nil, errors.Wrapf(err, "changelog.read", "decode new image of change %d", c.Seq)
		}
		if c.OldImage, err = decodeImage(oldImage); err != nil {
			return nil, errors.Wrapf(err, "changelog.read", "decode old image of change %d", c.Seq)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "changelog.read")
	}
	return out, nil
}

func decodeImage(raw []byte) (*models.WorkItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var item models.WorkItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) Offset(ctx context.Context, consumer string) (int64, error) {
	var seq int64
	err := s.db.QueryRow(ctx, `SELECT seq FROM feed_offsets WHERE consumer = $1`, consumer).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable(err, "changelog.offset")
	}
	return seq, nil
}

// CommitOffset never moves an offset backwards.
func (s *Store) CommitOffset(ctx context.Context, consumer string, seq int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feed_offsets (consumer, seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (consumer) DO UPDATE SET
			seq = GREATEST(feed_offsets.seq, EXCLUDED.seq),
			updated_at = EXCLUDED.updated_at`,
		consumer, seq)
	if err != nil {
		return unavailable(err, "changelog.commit_offset")
	}
	return nil
}

func (s *Store) RecordDeadLetter(ctx context.Context, dl models.DeadLetter) error {
	at := dl.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO dead_letters (event_id, item_id, reason, attempts, at)
		VALUES ($1, $2, $3, $4, $5)`,
		dl.EventID, dl.ItemID, dl.Reason, dl.Attempts, at)
	if err != nil {
		return unavailable(err, "changelog.dead_letter")
	}
	return nil
}

func (s *Store) DeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	rows, err := s.db.Query(ctx, `
		SELECT event_id, item_id, reason, attempts, at
		FROM dead_letters
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, unavailable(err, "changelog.dead_letters")
	}
	defer rows.Close()

	out := []models.DeadLetter{}
	for rows.Next() {
		var dl models.DeadLetter
		if err := rows.Scan(&dl.EventID, &dl.ItemID, &dl.Reason, &dl.Attempts, &dl.At); err != nil {
			return nil, unavailable(err, "changelog.dead_letters")
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}
