package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"launchq/internal/models"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS download_queue (
  id TEXT PRIMARY KEY,
  display INTEGER NOT NULL DEFAULT 1,
  priority INTEGER NOT NULL DEFAULT 0,
  title TEXT NOT NULL,
  icon TEXT,
  profile_id TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  completed_at INTEGER,
  content_type TEXT NOT NULL,
  metadata TEXT NOT NULL,
  state TEXT NOT NULL,
  error_message TEXT
);
CREATE INDEX IF NOT EXISTS download_queue_state ON download_queue (state, priority, created_at);
CREATE TABLE IF NOT EXISTS profile_content (
  profile_id TEXT NOT NULL,
  project_id TEXT NOT NULL,
  version_id TEXT NOT NULL,
  hash TEXT NOT NULL DEFAULT '',
  filename TEXT NOT NULL,
  content_type TEXT NOT NULL,
  size INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (profile_id, project_id)
);
CREATE TABLE IF NOT EXISTS profiles (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  game_version TEXT NOT NULL,
  loader TEXT NOT NULL,
  loader_version TEXT,
  game_dir TEXT
);
`

const itemColumns = `id, display, priority, title, icon, profile_id, created_at, completed_at, content_type, metadata, state, error_message`

type Storage struct {
	db *sql.DB
}

func New(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, os.ModePerm); err != nil {
		return nil, err
	}
	return Open(filepath.Join(dataDir, "launchq.db"))
}

func Open(path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error { return s.db.Close() }

func (s *Storage) InsertItem(ctx context.Context, item models.QueueItem) error {
	meta, err := models.EncodeMetadata(item.Type, item.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO download_queue (`+itemColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.Display,
		item.Priority,
		item.Title,
		nullString(item.Icon),
		item.ProfileID,
		item.CreatedAt.UnixMilli(),
		nullTime(item.CompletedAt),
		string(item.Type),
		string(meta),
		string(item.State),
		nullString(item.Error),
	)
	return err
}

func (s *Storage) GetItem(ctx context.Context, id string) (models.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM download_queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QueueItem{}, ErrNotFound
	}
	return item, err
}

// ListItems returns the items in the given state in display order.
func (s *Storage) ListItems(ctx context.Context, state models.State) ([]models.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM download_queue WHERE state = ? ORDER BY priority ASC, created_at ASC`,
		string(state),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.QueueItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// SetState moves an item to state. Terminal states record the completion
// time; priority and creation fields are never rewritten.
func (s *Storage) SetState(ctx context.Context, id string, state models.State, errMsg string) error {
	var completed any
	if state.Terminal() {
		completed = time.Now().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE download_queue
         SET state = ?,
             completed_at = ?,
             error_message = ?
         WHERE id = ?`,
		string(state),
		completed,
		nullString(errMsg),
		id,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// UpdateMetadata rewrites the payload of an item.
func (s *Storage) UpdateMetadata(ctx context.Context, id string, t models.ContentType, m models.Metadata) error {
	meta, err := models.EncodeMetadata(t, m)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE download_queue SET metadata = ? WHERE id = ?`, string(meta), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Storage) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM download_queue WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Storage) ClearState(ctx context.Context, state models.State) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM download_queue WHERE state = ?`, string(state))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (models.QueueItem, error) {
	var (
		item                   models.QueueItem
		icon, errMsg           sql.NullString
		completedMs            sql.NullInt64
		createdMs              int64
		typeStr, stateStr, raw string
	)
	if err := row.Scan(&item.ID, &item.Display, &item.Priority, &item.Title, &icon, &item.ProfileID,
		&createdMs, &completedMs, &typeStr, &raw, &stateStr, &errMsg); err != nil {
		return models.QueueItem{}, err
	}

	ct, err := models.ParseContentType(typeStr)
	if err != nil {
		return models.QueueItem{}, fmt.Errorf("queue item %s: %w", item.ID, err)
	}
	st, err := models.ParseState(stateStr)
	if err != nil {
		return models.QueueItem{}, fmt.Errorf("queue item %s: %w", item.ID, err)
	}
	meta, err := models.DecodeMetadata(ct, []byte(raw))
	if err != nil {
		return models.QueueItem{}, fmt.Errorf("queue item %s: %w", item.ID, err)
	}

	item.Type = ct
	item.State = st
	item.Metadata = meta
	item.CreatedAt = time.UnixMilli(createdMs)
	if completedMs.Valid {
		t := time.UnixMilli(completedMs.Int64)
		item.CompletedAt = &t
	}
	item.Icon = icon.String
	item.Error = errMsg.String
	return item, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UnixMilli()
}
