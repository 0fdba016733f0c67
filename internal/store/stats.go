package store

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
)

// Stats holds Long-Term Memory statistics.
type Stats struct {
	DBPath          string      `json:"db_path,omitempty"`
	DBSizeBytes     int64       `json:"db_size_bytes,omitempty"`
	TotalEntries    int         `json:"total_entries"`
	LiveEntries     int         `json:"live_entries"`
	ArchivedEntries int         `json:"archived_entries"`
	PromotedEntries int         `json:"promoted_entries"`
	ProtectedCount  int         `json:"protected_entries"`
	Links           int         `json:"links"`
	Types           []TypeStats `json:"types"`
}

// TypeStats holds per-type counts.
type TypeStats struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	counts := []struct {
		dst *int
		sql string
	}{
		{&st.TotalEntries, `SELECT COUNT(*) FROM entries`},
		{&st.LiveEntries, `SELECT COUNT(*) FROM entries WHERE deleted_at IS NULL AND archived_at IS NULL`},
		{&st.ArchivedEntries, `SELECT COUNT(*) FROM entries WHERE deleted_at IS NULL AND archived_at IS NOT NULL`},
		{&st.PromotedEntries, `SELECT COUNT(*) FROM entries WHERE deleted_at IS NULL AND promoted = 1`},
		{&st.ProtectedCount, `SELECT COUNT(*) FROM entries WHERE deleted_at IS NULL AND protected = 1`},
		{&st.Links, `SELECT COUNT(*) FROM entry_links`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.sql).Scan(c.dst); err != nil {
			return nil, goerr.Wrap(err, "count entries")
		}
	}

	types, err := s.ListTypes(ctx)
	if err != nil {
		return st, err
	}
	st.Types = types
	return st, nil
}

func (s *SQLiteStore) ListTypes(ctx context.Context) ([]TypeStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) AS cnt
		FROM entries WHERE deleted_at IS NULL
		GROUP BY type ORDER BY cnt DESC, type`)
	if err != nil {
		return nil, goerr.Wrap(err, "list types")
	}
	defer rows.Close()

	var out []TypeStats
	for rows.Next() {
		var ts TypeStats
		if err := rows.Scan(&ts.Type, &ts.Count); err != nil {
			return nil, goerr.Wrap(err, "scan type")
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}
