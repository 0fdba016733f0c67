package store

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/organism/internal/model"
)

// SearchParams holds parameters for searching entries.
type SearchParams struct {
	Query string
	Type  string
	Limit int
}

// Search finds live, unarchived entries whose key or payload contains the
// query substring, newest first.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]model.LongTermEntry, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	pattern := "%" + strings.ToLower(p.Query) + "%"
	where := []string{"deleted_at IS NULL", "archived_at IS NULL", "(LOWER(payload) LIKE ? OR LOWER(key) LIKE ?)"}
	args := []any{pattern, pattern}
	if p.Type != "" {
		where = append(where, "type = ?")
		args = append(args, p.Type)
	}
	args = append(args, limit)

	entries, err := s.query(ctx, `SELECT `+entryColumns+` FROM entries
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY stored_at DESC, rowid DESC LIMIT ?`, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "search entries", goerr.V("query", p.Query))
	}
	return entries, nil
}
