package store

import (
	"context"

	"github.com/rcliao/organism/internal/model"
)

// ExportAll returns all non-deleted entries, archived ones included,
// optionally filtered by type.
func (s *SQLiteStore) ExportAll(ctx context.Context, typ string) ([]model.LongTermEntry, error) {
	if typ != "" {
		return s.query(ctx, `SELECT `+entryColumns+` FROM entries
			WHERE deleted_at IS NULL AND type = ? ORDER BY type, key`, typ)
	}
	return s.query(ctx, `SELECT `+entryColumns+` FROM entries
		WHERE deleted_at IS NULL ORDER BY type, key`)
}

func (s *SQLiteStore) Import(ctx context.Context, entries []model.LongTermEntry) (int, error) {
	return importEntries(ctx, s, entries)
}

// importEntries re-puts exported entries. Access counters restart.
func importEntries(ctx context.Context, s Store, entries []model.LongTermEntry) (int, error) {
	imported := 0
	for _, e := range entries {
		_, err := s.Put(ctx, PutParams{
			Type:      e.Type,
			Key:       e.Key,
			Payload:   e.Payload,
			Tags:      e.Tags,
			Promoted:  e.Promoted,
			Protected: e.Protected,
		})
		if err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
