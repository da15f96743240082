// Package sqlite is the embedded record store driver. It keeps work items,
// their change log, feed offsets, dead letters and the launch ledger in one
// SQLite file, with timestamps stored as unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"launchpad/internal/models"
	"launchpad/internal/pkg/errors"
	"launchpad/internal/ports"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ ports.Store = (*Store)(nil)

// Open opens (and creates if needed) the SQLite database at path and
// ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps change-log sequence order equal to commit order.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := bootstrap(pctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(err, "records.ping")
	}
	return nil
}

func unavailable(err error, op string) error {
	e := errors.Unavailable("record store")
	e.Op = op
	e.Err = err
	return e
}

func (s *Store) Put(ctx context.Context, item models.WorkItem) (models.ChangeKind, error) {
	const op = "records.put"
	if !models.ValidItemID(item.ID) {
		return "", errors.ValidationField("id", models.ItemIDRule).WithField("op", op)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", unavailable(err, op)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := scanItem(tx.QueryRowContext(ctx, `
		SELECT id, input_text, input_file_path, created_at, updated_at
		FROM work_items WHERE id = ?`, item.ID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", unavailable(err, op)
	}

	now := s.now().UTC()
	kind := models.ChangeCreated
	item.CreatedAt, item.UpdatedAt = now, now
	if old != nil {
		kind = models.ChangeUpdated
		item.CreatedAt = old.CreatedAt
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO work_items (id, input_text, input_file_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			input_text = excluded.input_text,
			input_file_path = excluded.input_file_path,
			updated_at = excluded.updated_at`,
		item.ID, item.InputText, item.InputFilePath, item.CreatedAt.UnixMilli(), item.UpdatedAt.UnixMilli(),
	); err != nil {
		return "", unavailable(err, op)
	}

	if err := insertChange(ctx, tx, kind, item.ID, &item, old, now); err != nil {
		return "", unavailable(err, op)
	}
	if err := tx.Commit(); err != nil {
		return "", unavailable(err, op)
	}
	return kind, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.WorkItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT id, input_text, input_file_path, created_at, updated_at
		FROM work_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("work item", id)
	}
	if err != nil {
		return nil, unavailable(err, "records.get")
	}
	return item, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]models.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, input_text, input_file_path, created_at, updated_at
		FROM work_items
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err, op)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := scanItem(tx.QueryRowContext(ctx, `
		SELECT id, input_text, input_file_path, created_at, updated_at
		FROM work_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NotFound("work item", id)
	}
	if err != nil {
		return unavailable(err, op)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM work_items WHERE id = ?`, id); err != nil {
		return unavailable(err, op)
	}
	if err := insertChange(ctx, tx, models.ChangeDeleted, id, nil, old, s.now().UTC()); err != nil {
		return unavailable(err, op)
	}
	if err := tx.Commit(); err != nil {
		return unavailable(err, op)
	}
	return nil
}

func insertChange(ctx context.Context, tx *sql.Tx, kind models.ChangeKind, itemID string, newImage, oldImage *models.WorkItem, at time.Time) error {
	newJSON, err := encodeImage(newImage)
	if err != nil {
		return err
	}
	oldJSON, err := encodeImage(oldImage)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_item_changes (kind, item_id, new_image, old_image, at)
		VALUES (?, ?, ?, ?, ?)`,
		string(kind), itemID, newJSON, oldJSON, at.UnixMilli())
	return err
}

func (s *Store) ChangesSince(ctx context.Context, afterSeq int64, limit int) ([]models.Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, item_id, new_image, old_image, at
		FROM work_item_changes
		WHERE seq > ?
		ORDER BY seq
		LIMIT ?`, afterSeq, limit)
	if err != nil {
		return nil, unavailable(err, "changelog.read")
	}
	defer rows.Close()

	var out []models.Change
	for rows.Next() {
		var (
			c                  models.Change
			kind               string
			newImage, oldImage sql.NullString
			atMs               int64
		)
		if err := rows.Scan(&c.Seq, &kind, &c.ItemID, &newImage, &oldImage, &atMs); err != nil {
			return nil, unavailable(err, "changelog.read")
		}
		c.Kind = models.ChangeKind(kind)
		c.At = time.UnixMilli(atMs).UTC()
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

func (s *Store) Offset(ctx context.Context, consumer string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM feed_offsets WHERE consumer = ?`, consumer).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable(err, "changelog.offset")
	}
	return seq, nil
}

// CommitOffset never moves an offset backwards.
func (s *Store) CommitOffset(ctx context.Context, consumer string, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feed_offsets (consumer, seq, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(consumer) DO UPDATE SET
			seq = MAX(feed_offsets.seq, excluded.seq),
			updated_at = excluded.updated_at`,
		consumer, seq, s.now().UnixMilli())
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (event_id, item_id, reason, attempts, at)
		VALUES (?, ?, ?, ?, ?)`,
		dl.EventID, dl.ItemID, dl.Reason, dl.Attempts, at.UnixMilli())
	if err != nil {
		return unavailable(err, "changelog.dead_letter")
	}
	return nil
}

func (s *Store) DeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, item_id, reason, attempts, at
		FROM dead_letters
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable(err, "changelog.dead_letters")
	}
	defer rows.Close()

	out := []models.DeadLetter{}
	for rows.Next() {
		var (
			dl   models.DeadLetter
			atMs int64
		)
		if err := rows.Scan(&dl.EventID, &dl.ItemID, &dl.Reason, &dl.Attempts, &atMs); err != nil {
			return nil, unavailable(err, "changelog.dead_letters")
		}
		dl.At = time.UnixMilli(atMs).UTC()
		out = append(out, dl)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.WorkItem, error) {
	var (
		item                 models.WorkItem
		createdMs, updatedMs int64
	)
	if err := row.Scan(&item.ID, &item.InputText, &item.InputFilePath, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	item.CreatedAt = time.UnixMilli(createdMs).UTC()
	item.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &item, nil
}

func encodeImage(item *models.WorkItem) (sql.NullString, error) {
	if item == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(item)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeImage(raw sql.NullString) (*models.WorkItem, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var item models.WorkItem
	if err := json.Unmarshal([]byte(raw.String), &item); err != nil {
		return nil, err
	}
	return &item, nil
}
