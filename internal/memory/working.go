package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/similarity"
	"github.com/rcliao/organism/internal/textutil"
)

// Working memory defaults.
const (
	DefaultMaxAge          = 30 * time.Minute
	DefaultReinforceWindow = 10 * time.Minute
	ReinforceUses          = 3
	MaxHistory             = 50

	// TopicSimilarity is the cosine above which two assumptions are taken
	// to be about the same topic.
	TopicSimilarity = 0.8
)

var negationWords = map[string]bool{
	"not": true, "no": true, "never": true, "false": true, "without": true,
	"cannot": true, "isn": true, "aren": true, "doesn": true, "don": true,
	"won": true, "wasn": true, "shouldn": true, "nt": true,
}

// StateValue is one belief in the state map.
type StateValue struct {
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CurrentTask is the task the session is working on.
type CurrentTask struct {
	Action    string        `json:"action"`
	Urgency   model.Urgency `json:"urgency"`
	StartedAt time.Time     `json:"startedAt"`
}

// WorkingSnapshot is a deep copy of Working Memory.
type WorkingSnapshot struct {
	State         map[string]StateValue `json:"state"`
	Assumptions   []model.Assumption    `json:"assumptions"`
	History       []model.HistoryEntry  `json:"history"`
	CurrentTask   *CurrentTask          `json:"currentTask,omitempty"`
	NewInfo       bool                  `json:"newInfo"`
	PlanUpdatedAt *time.Time            `json:"planUpdatedAt,omitempty"`
}

// Contradiction is a pair of validated assumptions on the same topic with
// opposite polarity.
type Contradiction struct {
	A          model.Assumption `json:"a"`
	B          model.Assumption `json:"b"`
	Similarity float64          `json:"similarity"`
}

// Working is the session's mutable belief state.
type Working struct {
	mu            sync.RWMutex
	state         map[string]StateValue
	assumptions   []model.Assumption
	history       []model.HistoryEntry
	current       *CurrentTask
	newInfo       bool
	planUpdatedAt *time.Time
	uses          map[string][]time.Time
	promoted      map[string]bool

	maxAge          time.Duration
	reinforceWindow time.Duration
	now             func() time.Time
}

// NewWorking creates an empty Working Memory. Non-positive durations select
// the defaults.
func NewWorking(maxAge, reinforceWindow time.Duration) *Working {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if reinforceWindow <= 0 {
		reinforceWindow = DefaultReinforceWindow
	}
	return &Working{
		state:           make(map[string]StateValue),
		uses:            make(map[string][]time.Time),
		promoted:        make(map[string]bool),
		maxAge:          maxAge,
		reinforceWindow: reinforceWindow,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock. Intended for tests.
func (w *Working) WithClock(now func() time.Time) *Working {
	w.now = now
	return w
}

// Now returns the working memory clock reading.
func (w *Working) Now() time.Time { return w.now() }

// Set records a belief. Every call counts as a use for reinforcement.
func (w *Working) Set(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.state[key] = StateValue{Value: value, UpdatedAt: now}
	w.uses[key] = append(w.uses[key], now)
}

// Get returns a belief.
func (w *Working) Get(key string) (any, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.state[key]
	return v.Value, ok
}

// State returns the current beliefs without timestamps.
func (w *Working) State() map[string]any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]any, len(w.state))
	for k, v := range w.state {
		out[k] = v.Value
	}
	return out
}

// AddAssumption appends an assumption.
func (w *Working) AddAssumption(text string, confidence float64, validated bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.assumptions = append(w.assumptions, model.Assumption{
		Text:       text,
		Confidence: confidence,
		Validated:  validated,
		Timestamp:  w.now(),
	})
}

// Assumptions returns the assumptions in insertion order.
func (w *Working) Assumptions() []model.Assumption {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.assumptions)
}

// RecordHistory appends a task execution, keeping the newest MaxHistory.
func (w *Working) RecordHistory(action, result string, completed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append(w.history, model.HistoryEntry{
		Action:    action,
		Result:    result,
		Completed: completed,
		At:        w.now(),
	})
	if over := len(w.history) - MaxHistory; over > 0 {
		w.history = slices.Clone(w.history[over:])
	}
}

// History returns the task history, oldest first.
func (w *Working) History() []model.HistoryEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.history)
}

// SetCurrentTask records the task in progress and marks the plan updated.
func (w *Working) SetCurrentTask(action string, urgency model.Urgency) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.current = &CurrentTask{Action: action, Urgency: urgency, StartedAt: now}
	w.planUpdatedAt = &now
}

// CurrentTask returns the task in progress, or nil.
func (w *Working) CurrentTask() *CurrentTask {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.current == nil {
		return nil
	}
	c := *w.current
	return &c
}

// MarkNewInfo flags that new information arrived. If no plan exists yet,
// the flag starts the staleness clock from now.
func (w *Working) MarkNewInfo() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.newInfo = true
	if w.planUpdatedAt == nil {
		now := w.now()
		w.planUpdatedAt = &now
	}
}

// TouchPlan records that the plan was revised and clears the new-info flag.
func (w *Working) TouchPlan() {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.planUpdatedAt = &now
	w.newInfo = false
}

// NewInfo reports the new-info flag and when the plan was last updated.
func (w *Working) NewInfo() (bool, *time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.planUpdatedAt == nil {
		return w.newInfo, nil
	}
	t := *w.planUpdatedAt
	return w.newInfo, &t
}

// Decay drops beliefs and assumptions older than the maximum age. It
// returns how many were dropped.
func (w *Working) Decay(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	dropped := 0
	for k, v := range w.state {
		if now.Sub(v.UpdatedAt) > w.maxAge {
			delete(w.state, k)
			dropped++
		}
	}
	kept := w.assumptions[:0]
	for _, a := range w.assumptions {
		if now.Sub(a.Timestamp) > w.maxAge {
			dropped++
			continue
		}
		kept = append(kept, a)
	}
	w.assumptions = kept

	// Use timestamps only matter inside the reinforcement window.
	for k, uses := range w.uses {
		recent := uses[:0]
		for _, at := range uses {
			if now.Sub(at) <= w.reinforceWindow {
				recent = append(recent, at)
			}
		}
		if len(recent) == 0 {
			delete(w.uses, k)
			continue
		}
		w.uses[k] = recent
	}
	for k := range w.promoted {
		if _, live := w.state[k]; !live {
			delete(w.promoted, k)
		}
	}
	return dropped
}

// Clear empties Working Memory.
func (w *Working) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = make(map[string]StateValue)
	w.assumptions = nil
	w.history = nil
	w.current = nil
	w.newInfo = false
	w.planUpdatedAt = nil
	w.uses = make(map[string][]time.Time)
	w.promoted = make(map[string]bool)
}

// Empty reports whether Working Memory holds nothing.
func (w *Working) Empty() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.state) == 0 && len(w.assumptions) == 0 && len(w.history) == 0 &&
		w.current == nil && !w.newInfo
}

// Snapshot returns a deep copy.
func (w *Working) Snapshot() WorkingSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := WorkingSnapshot{
		State:       maps.Clone(w.state),
		Assumptions: slices.Clone(w.assumptions),
		History:     slices.Clone(w.history),
		NewInfo:     w.newInfo,
	}
	if s.State == nil {
		s.State = map[string]StateValue{}
	}
	if w.current != nil {
		c := *w.current
		s.CurrentTask = &c
	}
	if w.planUpdatedAt != nil {
		t := *w.planUpdatedAt
		s.PlanUpdatedAt = &t
	}
	return s
}

// Contradictions returns validated assumption pairs that are about the same
// topic but disagree in polarity. Topic similarity is measured with emb
// after negation words are removed.
func (w *Working) Contradictions(ctx context.Context, emb similarity.Embedder) ([]Contradiction, error) {
	var validated []model.Assumption
	for _, a := range w.Assumptions() {
		if a.Validated {
			validated = append(validated, a)
		}
	}

	var out []Contradiction
	for i := 0; i < len(validated); i++ {
		for j := i + 1; j < len(validated); j++ {
			a, b := validated[i], validated[j]
			if negated(a.Text) == negated(b.Text) {
				continue
			}
			sim, err := similarity.Similar(ctx, emb, stripNegation(a.Text), stripNegation(b.Text))
			if err != nil {
				return nil, err
			}
			if sim >= TopicSimilarity {
				out = append(out, Contradiction{A: a, B: b, Similarity: sim})
			}
		}
	}
	return out, nil
}

func negated(text string) bool {
	n := 0
	for _, tok := range textutil.Tokenize(text) {
		if negationWords[tok] {
			n++
		}
	}
	return n%2 == 1
}

func stripNegation(text string) string {
	var kept []string
	for _, tok := range textutil.Tokenize(text) {
		if !negationWords[tok] && tok != "t" {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

// Reinforced returns the keys used at least ReinforceUses times within the
// reinforcement window that have not been promoted yet, sorted.
func (w *Working) Reinforced(now time.Time) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []string
	for key, uses := range w.uses {
		if w.promoted[key] {
			continue
		}
		if _, live := w.state[key]; !live {
			continue
		}
		recent := 0
		for _, at := range uses {
			if now.Sub(at) <= w.reinforceWindow {
				recent++
			}
		}
		if recent >= ReinforceUses {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// MarkPromoted stops a key from being reported by Reinforced again.
func (w *Working) MarkPromoted(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.promoted[key] = true
}
