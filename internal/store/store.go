// Package store provides the Long-Term Memory tier: a Store interface with a
// SQLite implementation and an in-memory implementation.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/organism/internal/model"
)

var (
	// ErrNotFound is returned when no live entry matches a lookup.
	ErrNotFound = errors.New("entry not found")
	// ErrProtected is returned when removing a protected entry.
	ErrProtected = errors.New("entry is protected")
)

// timeFormat is fixed width so stored timestamps compare lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// PutParams holds parameters for storing an entry. An existing live entry
// with the same type and key is replaced in place.
type PutParams struct {
	Type      string
	Key       string
	Payload   string
	Tags      []string
	Promoted  bool
	Protected bool
}

// ListParams holds parameters for listing entries.
type ListParams struct {
	Type            string
	Tags            []string
	Limit           int
	IncludeArchived bool
	PromotedOnly    bool
}

// RmParams holds parameters for deleting an entry.
type RmParams struct {
	ID   string
	Hard bool
}

func validatePut(p PutParams) error {
	if strings.TrimSpace(p.Type) == "" {
		return goerr.New("entry type is required")
	}
	if strings.TrimSpace(p.Key) == "" {
		return goerr.New("entry key is required", goerr.V("type", p.Type))
	}
	return nil
}

// Store defines the Long-Term Memory interface.
type Store interface {
	// Put stores or replaces an entry and returns it.
	Put(ctx context.Context, p PutParams) (*model.LongTermEntry, error)

	// Get retrieves an entry by id and records the access.
	Get(ctx context.Context, id string) (*model.LongTermEntry, error)

	// Find retrieves the live entry for a type and key and records the access.
	Find(ctx context.Context, typ, key string) (*model.LongTermEntry, error)

	// List lists live entries matching the given filters, newest first.
	List(ctx context.Context, p ListParams) ([]model.LongTermEntry, error)

	// Search finds live entries whose key or payload contains the query.
	// It does not count as an access.
	Search(ctx context.Context, p SearchParams) ([]model.LongTermEntry, error)

	// Recall assembles the most relevant entries for a query within a budget.
	Recall(ctx context.Context, p RecallParams) (*RecallResult, error)

	// Rm deletes an entry. Protected entries cannot be removed.
	Rm(ctx context.Context, p RmParams) error

	// Link creates or removes a relation between two entries.
	Link(ctx context.Context, p LinkParams) (*Link, error)

	// Links returns all relations touching an entry.
	Links(ctx context.Context, id string) ([]Link, error)

	// ArchiveUnused archives entries not accessed since the cutoff unless
	// they are protected. It returns the number archived.
	ArchiveUnused(ctx context.Context, cutoff time.Time) (int, error)

	// Stats summarises the tier.
	Stats(ctx context.Context) (*Stats, error)

	// ListTypes returns per-type counts.
	ListTypes(ctx context.Context) ([]TypeStats, error)

	// ExportAll returns every live entry, optionally filtered by type.
	ExportAll(ctx context.Context, typ string) ([]model.LongTermEntry, error)

	// Import stores entries from an export.
	Import(ctx context.Context, entries []model.LongTermEntry) (int, error)

	// Close closes the store.
	Close() error
}
