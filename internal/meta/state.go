package meta

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/organism/internal/model"
)

// ErrDraftNotFound is returned when promoting an unknown draft.
var ErrDraftNotFound = errors.New("playbook draft not found")

// State is the persisted Meta-Loop state. It is rewritten whole on every
// update.
type State struct {
	LookupBias                map[string]float64         `json:"lookupBias"`
	DraftedKeys               []string                   `json:"draftedKeys"`
	ActivePlaybookUsageCounts map[string]int             `json:"activePlaybookUsageCounts"`
	FirstUsedAt               map[string]time.Time       `json:"firstUsedAt"`
	LastUsedAt                map[string]time.Time       `json:"lastUsedAt"`
	UsageHistory              map[string][]time.Time     `json:"usageHistory"`
	Steps                     map[string]model.StepStats `json:"steps"`
}

// NewState returns an empty state with every map allocated.
func NewState() *State {
	s := &State{}
	s.fill()
	return s
}

func (s *State) fill() {
	if s.LookupBias == nil {
		s.LookupBias = map[string]float64{}
	}
	if s.DraftedKeys == nil {
		s.DraftedKeys = []string{}
	}
	if s.ActivePlaybookUsageCounts == nil {
		s.ActivePlaybookUsageCounts = map[string]int{}
	}
	if s.FirstUsedAt == nil {
		s.FirstUsedAt = map[string]time.Time{}
	}
	if s.LastUsedAt == nil {
		s.LastUsedAt = map[string]time.Time{}
	}
	if s.UsageHistory == nil {
		s.UsageHistory = map[string][]time.Time{}
	}
	if s.Steps == nil {
		s.Steps = map[string]model.StepStats{}
	}
}

// Drafted reports whether a pattern key already has a draft.
func (s *State) Drafted(key string) bool {
	return slices.Contains(s.DraftedKeys, key)
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := &State{
		LookupBias:                maps.Clone(s.LookupBias),
		DraftedKeys:               slices.Clone(s.DraftedKeys),
		ActivePlaybookUsageCounts: maps.Clone(s.ActivePlaybookUsageCounts),
		FirstUsedAt:               maps.Clone(s.FirstUsedAt),
		LastUsedAt:                maps.Clone(s.LastUsedAt),
		UsageHistory:              make(map[string][]time.Time, len(s.UsageHistory)),
		Steps:                     maps.Clone(s.Steps),
	}
	for k, v := range s.UsageHistory {
		out.UsageHistory[k] = slices.Clone(v)
	}
	out.fill()
	return out
}

// StateStore persists the run log, the Meta-Loop state and playbooks.
type StateStore interface {
	// AppendRun appends one record to the run log.
	AppendRun(ctx context.Context, rec model.RunRecord) error

	// RecentRuns returns up to n of the newest records, oldest first.
	RecentRuns(ctx context.Context, n int) ([]model.RunRecord, error)

	// LoadState returns the persisted state, or an empty state if none exists.
	LoadState(ctx context.Context) (*State, error)

	// SaveState replaces the persisted state.
	SaveState(ctx context.Context, s *State) error

	// SaveDraft writes a draft once. An existing draft with the same id is kept.
	SaveDraft(ctx context.Context, d model.PlaybookDraft) error

	// ListDrafts returns all drafts ordered by creation time.
	ListDrafts(ctx context.Context) ([]model.PlaybookDraft, error)

	// LoadActive returns the valid active playbooks ordered by id.
	LoadActive(ctx context.Context) ([]model.ActivePlaybook, error)

	// SaveActive writes an active playbook. Only operators call this.
	SaveActive(ctx context.Context, p model.ActivePlaybook) error
}

// ValidateActive checks the required fields of an active playbook.
func ValidateActive(p model.ActivePlaybook) error {
	switch {
	case p.ID == "":
		return goerr.New("active playbook has no id")
	case p.Domain == "":
		return goerr.New("active playbook has no domain", goerr.V("id", p.ID))
	case p.TaskType == "":
		return goerr.New("active playbook has no taskType", goerr.V("id", p.ID))
	case p.Trigger.PatternKey == "":
		return goerr.New("active playbook has no trigger.patternKey", goerr.V("id", p.ID))
	case p.Steps == nil:
		return goerr.New("active playbook has no steps", goerr.V("id", p.ID))
	}
	return nil
}

// Activate builds an active playbook from a draft.
func Activate(d model.PlaybookDraft, at time.Time) model.ActivePlaybook {
	promoted := at
	outline := slices.Clone(d.Steps)
	return model.ActivePlaybook{
		ID:       d.ID,
		Domain:   d.Domain,
		TaskType: d.TaskType,
		Trigger: model.PlaybookTrigger{
			PatternKey:  d.PatternKey,
			Description: d.TriggerDescription,
		},
		Steps:           slices.Clone(d.Steps),
		MinSuccessCount: d.MinSuccessCount,
		ResponseHints:   model.ResponseHints{Outline: outline},
		PromotedAt:      &promoted,
	}
}

// PromoteDraft copies a draft into the active set. This is the operator
// action; nothing in the cycle calls it.
func PromoteDraft(ctx context.Context, st StateStore, id string, at time.Time) (*model.ActivePlaybook, error) {
	drafts, err := st.ListDrafts(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range drafts {
		if d.ID == id || d.PatternKey == id {
			p := Activate(d, at)
			if err := st.SaveActive(ctx, p); err != nil {
				return nil, err
			}
			return &p, nil
		}
	}
	return nil, goerr.Wrap(ErrDraftNotFound, "promote draft", goerr.V("id", id))
}

func encodeState(s *State) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

func decodeState(data []byte) (*State, error) {
	s := &State{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, goerr.Wrap(err, "decode meta state")
	}
	s.fill()
	return s, nil
}
