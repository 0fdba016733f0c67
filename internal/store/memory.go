package store

import (
	"context"
	"math/rand"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"

	"github.com/rcliao/organism/internal/model"
)

// MemoryStore implements Store in process memory. It is used by tests and
// by sessions that must not touch disk.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	links   map[Link]bool
	seq     int64
	entropy *rand.Rand
	now     func() time.Time
}

type memEntry struct {
	entry   model.LongTermEntry
	seq     int64
	deleted bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		links:   make(map[Link]bool),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the store's clock. Intended for tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) live(typ, key string) *memEntry {
	for _, e := range m.entries {
		if !e.deleted && e.entry.Type == typ && e.entry.Key == key {
			return e
		}
	}
	return nil
}

func (m *MemoryStore) Put(_ context.Context, p PutParams) (*model.LongTermEntry, error) {
	if err := validatePut(p); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.seq++
	if e := m.live(p.Type, p.Key); e != nil {
		e.entry.Payload = p.Payload
		e.entry.Tags = slices.Clone(p.Tags)
		e.entry.StoredAt = now
		e.entry.Promoted = e.entry.Promoted || p.Promoted
		e.entry.Protected = e.entry.Protected || p.Protected
		e.entry.ArchivedAt = nil
		e.seq = m.seq
		out := cloneEntry(e.entry)
		return &out, nil
	}

	e := &memEntry{
		seq: m.seq,
		entry: model.LongTermEntry{
			ID:        ulid.MustNew(ulid.Timestamp(now), m.entropy).String(),
			Type:      p.Type,
			Key:       p.Key,
			Payload:   p.Payload,
			Tags:      slices.Clone(p.Tags),
			StoredAt:  now,
			Promoted:  p.Promoted,
			Protected: p.Protected,
		},
	}
	m.entries[e.entry.ID] = e
	out := cloneEntry(e.entry)
	return &out, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*model.LongTermEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || e.deleted {
		return nil, goerr.Wrap(ErrNotFound, "get entry", goerr.V("id", id))
	}
	return m.touch(e), nil
}

func (m *MemoryStore) Find(_ context.Context, typ, key string) (*model.LongTermEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(typ, key)
	if e == nil {
		return nil, goerr.Wrap(ErrNotFound, "find entry", goerr.V("type", typ), goerr.V("key", key))
	}
	return m.touch(e), nil
}

func (m *MemoryStore) touch(e *memEntry) *model.LongTermEntry {
	now := m.now()
	e.entry.AccessCount++
	e.entry.LastAccessedAt = &now
	e.entry.ArchivedAt = nil
	out := cloneEntry(e.entry)
	return &out
}

// sorted returns live entries matching keep, newest first.
func (m *MemoryStore) sorted(keep func(model.LongTermEntry) bool) []model.LongTermEntry {
	var picked []*memEntry
	for _, e := range m.entries {
		if !e.deleted && keep(e.entry) {
			picked = append(picked, e)
		}
	}
	sort.Slice(picked, func(i, j int) bool {
		if !picked[i].entry.StoredAt.Equal(picked[j].entry.StoredAt) {
			return picked[i].entry.StoredAt.After(picked[j].entry.StoredAt)
		}
		return picked[i].seq > picked[j].seq
	})
	out := make([]model.LongTermEntry, 0, len(picked))
	for _, e := range picked {
		out = append(out, cloneEntry(e.entry))
	}
	return out
}

func limitEntries(entries []model.LongTermEntry, limit int) []model.LongTermEntry {
	if limit <= 0 {
		limit = 20
	}
	if len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

func (m *MemoryStore) List(_ context.Context, p ListParams) ([]model.LongTermEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.sorted(func(e model.LongTermEntry) bool {
		if !p.IncludeArchived && e.Archived() {
			return false
		}
		if p.Type != "" && e.Type != p.Type {
			return false
		}
		if p.PromotedOnly && !e.Promoted {
			return false
		}
		for _, tag := range p.Tags {
			if !slices.Contains(e.Tags, tag) {
				return false
			}
		}
		return true
	})
	return limitEntries(entries, p.Limit), nil
}

func (m *MemoryStore) Search(_ context.Context, p SearchParams) ([]model.LongTermEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := strings.ToLower(p.Query)
	entries := m.sorted(func(e model.LongTermEntry) bool {
		if e.Archived() || (p.Type != "" && e.Type != p.Type) {
			return false
		}
		return strings.Contains(strings.ToLower(e.Payload), q) || strings.Contains(strings.ToLower(e.Key), q)
	})
	return limitEntries(entries, p.Limit), nil
}

func (m *MemoryStore) Recall(ctx context.Context, p RecallParams) (*RecallResult, error) {
	return recall(ctx, m, p, m.now())
}

func (m *MemoryStore) Rm(_ context.Context, p RmParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[p.ID]
	if !ok || e.deleted {
		return goerr.Wrap(ErrNotFound, "rm entry", goerr.V("id", p.ID))
	}
	if e.entry.Protected {
		return goerr.Wrap(ErrProtected, "rm entry", goerr.V("id", p.ID))
	}
	if !p.Hard {
		e.deleted = true
		return nil
	}
	delete(m.entries, p.ID)
	for l := range m.links {
		if l.FromID == p.ID || l.ToID == p.ID {
			delete(m.links, l)
		}
	}
	return nil
}

func (m *MemoryStore) Link(_ context.Context, p LinkParams) (*Link, error) {
	if err := validateLink(p); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range []string{p.FromID, p.ToID} {
		if e, ok := m.entries[id]; !ok || e.deleted {
			return nil, goerr.Wrap(ErrNotFound, "resolve entry", goerr.V("id", id))
		}
	}
	key := Link{FromID: p.FromID, ToID: p.ToID, Rel: p.Rel}
	if p.Remove {
		for l := range m.links {
			if l.FromID == p.FromID && l.ToID == p.ToID && l.Rel == p.Rel {
				delete(m.links, l)
			}
		}
		return &key, nil
	}
	for l := range m.links {
		if l.FromID == p.FromID && l.ToID == p.ToID && l.Rel == p.Rel {
			out := l
			return &out, nil
		}
	}
	key.CreatedAt = m.now().Format(time.RFC3339)
	m.links[key] = true
	return &key, nil
}

func (m *MemoryStore) Links(_ context.Context, id string) ([]Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Link
	for l := range m.links {
		if l.FromID == id || l.ToID == id {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		if out[i].Rel != out[j].Rel {
			return out[i].Rel < out[j].Rel
		}
		return out[i].FromID+out[i].ToID < out[j].FromID+out[j].ToID
	})
	return out, nil
}

func (m *MemoryStore) ArchiveUnused(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for _, e := range m.entries {
		if e.deleted || e.entry.Protected || e.entry.Archived() {
			continue
		}
		last := e.entry.StoredAt
		if e.entry.LastAccessedAt != nil {
			last = *e.entry.LastAccessedAt
		}
		if last.Before(cutoff) {
			archivedAt := now
			e.entry.ArchivedAt = &archivedAt
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	st := &Stats{TotalEntries: len(m.entries), Links: len(m.links)}
	for _, e := range m.entries {
		if e.deleted {
			continue
		}
		if e.entry.Archived() {
			st.ArchivedEntries++
		} else {
			st.LiveEntries++
		}
		if e.entry.Promoted {
			st.PromotedEntries++
		}
		if e.entry.Protected {
			st.ProtectedCount++
		}
	}
	m.mu.RUnlock()

	types, err := m.ListTypes(ctx)
	if err != nil {
		return nil, err
	}
	st.Types = types
	return st, nil
}

func (m *MemoryStore) ListTypes(_ context.Context) ([]TypeStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range m.entries {
		if !e.deleted {
			counts[e.entry.Type]++
		}
	}
	out := make([]TypeStats, 0, len(counts))
	for t, c := range counts {
		out = append(out, TypeStats{Type: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func (m *MemoryStore) ExportAll(_ context.Context, typ string) ([]model.LongTermEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.LongTermEntry
	for _, e := range m.entries {
		if !e.deleted && (typ == "" || e.entry.Type == typ) {
			out = append(out, cloneEntry(e.entry))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (m *MemoryStore) Import(ctx context.Context, entries []model.LongTermEntry) (int, error) {
	return importEntries(ctx, m, entries)
}

func (m *MemoryStore) Close() error { return nil }

func cloneEntry(e model.LongTermEntry) model.LongTermEntry {
	e.Tags = slices.Clone(e.Tags)
	if e.LastAccessedAt != nil {
		t := *e.LastAccessedAt
		e.LastAccessedAt = &t
	}
	if e.ArchivedAt != nil {
		t := *e.ArchivedAt
		e.ArchivedAt = &t
	}
	return e
}
