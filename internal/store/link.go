package store

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// LinkParams holds parameters for creating/removing a link between entries.
type LinkParams struct {
	FromID string
	ToID   string
	Rel    string // relates_to | contradicts | derived_from | refines
	Remove bool
}

// Link represents a relation between two entries.
type Link struct {
	FromID    string `json:"from_id"`
	ToID      string `json:"to_id"`
	Rel       string `json:"rel"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Relations accepted by Link.
const (
	RelRelatesTo   = "relates_to"
	RelContradicts = "contradicts"
	RelDerivedFrom = "derived_from"
	RelRefines     = "refines"
)

var validRels = map[string]bool{
	RelRelatesTo:   true,
	RelContradicts: true,
	RelDerivedFrom: true,
	RelRefines:     true,
}

func validateLink(p LinkParams) error {
	if !validRels[p.Rel] {
		return goerr.New("invalid relation (valid: relates_to, contradicts, derived_from, refines)", goerr.V("rel", p.Rel))
	}
	if p.FromID == "" || p.ToID == "" {
		return goerr.New("link requires both ends", goerr.V("from", p.FromID), goerr.V("to", p.ToID))
	}
	return nil
}

func (s *SQLiteStore) Link(ctx context.Context, p LinkParams) (*Link, error) {
	if err := validateLink(p); err != nil {
		return nil, err
	}
	for _, id := range []string{p.FromID, p.ToID} {
		if err := s.exists(ctx, id); err != nil {
			return nil, err
		}
	}

	if p.Remove {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM entry_links WHERE from_id = ? AND to_id = ? AND rel = ?`,
			p.FromID, p.ToID, p.Rel)
		if err != nil {
			return nil, goerr.Wrap(err, "remove link")
		}
		return &Link{FromID: p.FromID, ToID: p.ToID, Rel: p.Rel}, nil
	}

	now := s.now().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entry_links (from_id, to_id, rel, created_at) VALUES (?, ?, ?, ?)`,
		p.FromID, p.ToID, p.Rel, now)
	if err != nil {
		return nil, goerr.Wrap(err, "insert link")
	}

	return &Link{FromID: p.FromID, ToID: p.ToID, Rel: p.Rel, CreatedAt: now}, nil
}

func (s *SQLiteStore) Links(ctx context.Context, id string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, rel, created_at FROM entry_links
		 WHERE from_id = ? OR to_id = ? ORDER BY created_at, rel`, id, id)
	if err != nil {
		return nil, goerr.Wrap(err, "query links", goerr.V("id", id))
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.FromID, &l.ToID, &l.Rel, &l.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "scan link")
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *SQLiteStore) exists(ctx context.Context, id string) error {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE id = ? AND deleted_at IS NULL`, id).Scan(&n); err != nil {
		return goerr.Wrap(err, "check entry", goerr.V("id", id))
	}
	if n == 0 {
		return goerr.Wrap(ErrNotFound, "resolve entry", goerr.V("id", id))
	}
	return nil
}
