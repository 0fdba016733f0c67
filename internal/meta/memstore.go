package meta

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/rcliao/organism/internal/model"
)

// MemoryStore is an in-memory StateStore for tests and ephemeral sessions.
// State is stored encoded so callers never share maps with it.
type MemoryStore struct {
	mu     sync.Mutex
	runs   []model.RunRecord
	state  []byte
	drafts map[string]model.PlaybookDraft
	active map[string]model.ActivePlaybook
}

var _ StateStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drafts: make(map[string]model.PlaybookDraft),
		active: make(map[string]model.ActivePlaybook),
	}
}

func (m *MemoryStore) AppendRun(_ context.Context, rec model.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Steps = slices.Clone(rec.Steps)
	m.runs = append(m.runs, rec)
	return nil
}

func (m *MemoryStore) RecentRuns(_ context.Context, n int) ([]model.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := m.runs
	if n > 0 && len(runs) > n {
		runs = runs[len(runs)-n:]
	}
	return append([]model.RunRecord{}, runs...), nil
}

func (m *MemoryStore) LoadState(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return NewState(), nil
	}
	return decodeState(m.state)
}

func (m *MemoryStore) SaveState(_ context.Context, s *State) error {
	data, err := encodeState(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = data
	return nil
}

// StateBytes returns the encoded state as last saved.
func (m *MemoryStore) StateBytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.state)
}

func (m *MemoryStore) SaveDraft(_ context.Context, d model.PlaybookDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drafts[d.ID]; !ok {
		m.drafts[d.ID] = d
	}
	return nil
}

func (m *MemoryStore) ListDrafts(_ context.Context) ([]model.PlaybookDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PlaybookDraft, 0, len(m.drafts))
	for _, d := range m.drafts {
		out = append(out, d)
	}
	sortDrafts(out)
	return out, nil
}

func (m *MemoryStore) LoadActive(_ context.Context) ([]model.ActivePlaybook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ActivePlaybook, 0, len(m.active))
	for _, p := range m.active {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveActive(_ context.Context, p model.ActivePlaybook) error {
	if err := ValidateActive(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[p.ID] = p
	return nil
}
