package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/organism/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	entropy *rand.Rand
	now     func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "create db dir", goerr.V("dir", dir))
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, goerr.Wrap(err, "open db", goerr.V("path", dbPath))
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     func() time.Time { return time.Now().UTC() },
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "migrate")
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id               TEXT PRIMARY KEY,
		type             TEXT NOT NULL,
		key              TEXT NOT NULL,
		payload          TEXT NOT NULL,
		tags             TEXT,
		stored_at        TEXT NOT NULL,
		last_accessed_at TEXT,
		access_count     INTEGER NOT NULL DEFAULT 0,
		promoted         INTEGER NOT NULL DEFAULT 0,
		protected        INTEGER NOT NULL DEFAULT 0,
		archived_at      TEXT,
		deleted_at       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_entries_type_key ON entries(type, key);
	CREATE INDEX IF NOT EXISTS idx_entries_stored ON entries(stored_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_deleted ON entries(deleted_at);
	CREATE INDEX IF NOT EXISTS idx_entries_archived ON entries(archived_at);

	CREATE TABLE IF NOT EXISTS entry_links (
		from_id    TEXT NOT NULL REFERENCES entries(id),
		to_id      TEXT NOT NULL REFERENCES entries(id),
		rel        TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, rel)
	);
	CREATE INDEX IF NOT EXISTS idx_links_to ON entry_links(to_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

const entryColumns = `id, type, key, payload, tags, stored_at, last_accessed_at,
	access_count, promoted, protected, archived_at`

func (s *SQLiteStore) Put(ctx context.Context, p PutParams) (*model.LongTermEntry, error) {
	if err := validatePut(p); err != nil {
		return nil, err
	}
	now := s.now()

	var tagsJSON *string
	if len(p.Tags) > 0 {
		b, _ := json.Marshal(p.Tags)
		t := string(b)
		tagsJSON = &t
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	// Replace the live entry for type+key, keeping its id and counters.
	existing, err := scanEntry(tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries
		 WHERE type = ? AND key = ? AND deleted_at IS NULL LIMIT 1`, p.Type, p.Key))
	switch {
	case err == nil:
		promoted := existing.Promoted || p.Promoted
		protected := existing.Protected || p.Protected
		_, err = tx.ExecContext(ctx,
			`UPDATE entries SET payload = ?, tags = ?, stored_at = ?, promoted = ?, protected = ?, archived_at = NULL
			 WHERE id = ?`,
			p.Payload, tagsJSON, now.Format(timeFormat), promoted, protected, existing.ID)
		if err != nil {
			return nil, goerr.Wrap(err, "update entry", goerr.V("id", existing.ID))
		}
		if err := tx.Commit(); err != nil {
			return nil, goerr.Wrap(err, "commit")
		}
		existing.Payload = p.Payload
		existing.Tags = p.Tags
		existing.StoredAt = now
		existing.Promoted = promoted
		existing.Protected = protected
		existing.ArchivedAt = nil
		return &existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, goerr.Wrap(err, "lookup entry", goerr.V("type", p.Type), goerr.V("key", p.Key))
	}

	id := s.newID()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (id, type, key, payload, tags, stored_at, access_count, promoted, protected)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, p.Type, p.Key, p.Payload, tagsJSON, now.Format(timeFormat), p.Promoted, p.Protected)
	if err != nil {
		return nil, goerr.Wrap(err, "insert entry")
	}
	if err := tx.Commit(); err != nil {
		return nil, goerr.Wrap(err, "commit")
	}

	return &model.LongTermEntry{
		ID:        id,
		Type:      p.Type,
		Key:       p.Key,
		Payload:   p.Payload,
		Tags:      p.Tags,
		StoredAt:  now,
		Promoted:  p.Promoted,
		Protected: p.Protected,
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.LongTermEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ? AND deleted_at IS NULL`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(ErrNotFound, "get entry", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "get entry", goerr.V("id", id))
	}
	return s.touch(ctx, e)
}

func (s *SQLiteStore) Find(ctx context.Context, typ, key string) (*model.LongTermEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE type = ? AND key = ? AND deleted_at IS NULL LIMIT 1`, typ, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(ErrNotFound, "find entry", goerr.V("type", typ), goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "find entry", goerr.V("type", typ), goerr.V("key", key))
	}
	return s.touch(ctx, e)
}

// touch records an access. Reading an archived entry revives it.
func (s *SQLiteStore) touch(ctx context.Context, e model.LongTermEntry) (*model.LongTermEntry, error) {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE entries SET access_count = access_count + 1, last_accessed_at = ?, archived_at = NULL WHERE id = ?`,
		now.Format(timeFormat), e.ID)
	if err != nil {
		return nil, goerr.Wrap(err, "record access", goerr.V("id", e.ID))
	}
	e.AccessCount++
	e.LastAccessedAt = &now
	e.ArchivedAt = nil
	return &e, nil
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.LongTermEntry, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"deleted_at IS NULL"}
	var args []any
	if !p.IncludeArchived {
		where = append(where, "archived_at IS NULL")
	}
	if p.Type != "" {
		where = append(where, "type = ?")
		args = append(args, p.Type)
	}
	if p.PromotedOnly {
		where = append(where, "promoted = 1")
	}
	for _, tag := range p.Tags {
		where = append(where, "tags LIKE ?")
		args = append(args, "%\""+tag+"\"%")
	}
	args = append(args, limit)

	return s.query(ctx, `SELECT `+entryColumns+` FROM entries
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY stored_at DESC, rowid DESC LIMIT ?`, args...)
}

func (s *SQLiteStore) Rm(ctx context.Context, p RmParams) error {
	var protected bool
	err := s.db.QueryRowContext(ctx,
		`SELECT protected FROM entries WHERE id = ? AND deleted_at IS NULL`, p.ID).Scan(&protected)
	if errors.Is(err, sql.ErrNoRows) {
		return goerr.Wrap(ErrNotFound, "rm entry", goerr.V("id", p.ID))
	}
	if err != nil {
		return goerr.Wrap(err, "rm entry", goerr.V("id", p.ID))
	}
	if protected {
		return goerr.Wrap(ErrProtected, "rm entry", goerr.V("id", p.ID))
	}

	if p.Hard {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM entry_links WHERE from_id = ? OR to_id = ?`, p.ID, p.ID); err != nil {
			return goerr.Wrap(err, "delete links", goerr.V("id", p.ID))
		}
		_, err = s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, p.ID)
		return err
	}

	_, err = s.db.ExecContext(ctx, `UPDATE entries SET deleted_at = ? WHERE id = ?`,
		s.now().Format(timeFormat), p.ID)
	return err
}

func (s *SQLiteStore) ArchiveUnused(ctx context.Context, cutoff time.Time) (int, error) {
	c := cutoff.UTC().Format(timeFormat)
	res, err := s.db.ExecContext(ctx,
		`UPDATE entries SET archived_at = ?
		 WHERE deleted_at IS NULL AND archived_at IS NULL AND protected = 0
		   AND COALESCE(last_accessed_at, stored_at) < ?`,
		s.now().Format(timeFormat), c)
	if err != nil {
		return 0, goerr.Wrap(err, "archive unused", goerr.V("cutoff", c))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]model.LongTermEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "query entries")
	}
	defer rows.Close()

	var entries []model.LongTermEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "scan entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (model.LongTermEntry, error) {
	var e model.LongTermEntry
	var tagsJSON, lastAccessed, archivedAt sql.NullString
	var storedAt string

	err := row.Scan(
		&e.ID, &e.Type, &e.Key, &e.Payload, &tagsJSON, &storedAt, &lastAccessed,
		&e.AccessCount, &e.Promoted, &e.Protected, &archivedAt,
	)
	if err != nil {
		return e, err
	}

	e.StoredAt, _ = time.Parse(timeFormat, storedAt)
	if lastAccessed.Valid {
		t, _ := time.Parse(timeFormat, lastAccessed.String)
		e.LastAccessedAt = &t
	}
	if archivedAt.Valid {
		t, _ := time.Parse(timeFormat, archivedAt.String)
		e.ArchivedAt = &t
	}
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &e.Tags)
	}

	return e, nil
}
