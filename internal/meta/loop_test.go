package meta

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/organism/internal/model"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestLoop(t *testing.T, st StateStore) (*Loop, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(context.Background(), st, Options{Now: clock.Now}, nil), clock
}

func TestRecord_PromotesExactlyOneDraft(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	l, _ := newTestLoop(t, st)

	queries := []string{
		"compare recipes for brownies",
		"which brownie recipe is better",
		"brownies recipe comparison",
	}
	var drafts []*model.PlaybookDraft
	for _, q := range queries {
		res, err := l.Record(ctx, cookingRecord(q, "compare"), nil)
		require.NoError(t, err)
		if res.Draft != nil {
			drafts = append(drafts, res.Draft)
		}
	}
	require.Len(t, drafts, 1)
	d := drafts[0]
	assert.Equal(t, PatternKey(cookingRecord(queries[0], "compare")), d.PatternKey)
	assert.Equal(t, 3, d.MinSuccessCount)
	assert.Equal(t, queries, d.SampleQueries)
	assert.NotEmpty(t, d.Steps)

	res, err := l.Record(ctx, cookingRecord("compare brownie recipes", "compare"), nil)
	require.NoError(t, err)
	assert.Nil(t, res.Draft)

	listed, err := st.ListDrafts(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	s, err := st.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{d.PatternKey}, s.DraftedKeys)
}

func TestRecord_FailuresDoNotPromote(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLoop(t, NewMemoryStore())

	for i := 0; i < 2; i++ {
		_, err := l.Record(ctx, cookingRecord("compare recipes for brownies", "compare"), nil)
		require.NoError(t, err)
	}
	failed := cookingRecord("compare recipes for brownies", "compare")
	failed.Outcome.Status = model.StatusFailure
	res, err := l.Record(ctx, failed, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Draft)
}

func TestRecord_LookupBias(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLoop(t, NewMemoryStore())

	unhelpful := cookingRecord("compare recipes", "compare")
	unhelpful.Metrics.LookupUsed = true
	for i := 0; i < 20; i++ {
		_, err := l.Record(ctx, unhelpful, nil)
		require.NoError(t, err)
	}
	bias, err := l.LookupBias(ctx, "cooking", "comparison")
	require.NoError(t, err)
	assert.InDelta(t, -2.0, bias, 0.3)
	assert.GreaterOrEqual(t, bias, -2.0)

	missed := cookingRecord("compare recipes", "compare")
	missed.Outcome.Status = model.StatusFailure
	_, err = l.Record(ctx, missed, nil)
	require.NoError(t, err)
	after, err := l.LookupBias(ctx, "cooking", "compare")
	require.NoError(t, err)
	assert.Greater(t, after, bias)

	helpful := cookingRecord("compare recipes", "compare")
	helpful.Metrics.LookupUsed = true
	helpful.Metrics.LookupChanged = true
	_, err = l.Record(ctx, helpful, nil)
	require.NoError(t, err)
	unchanged, err := l.LookupBias(ctx, "cooking", "compare")
	require.NoError(t, err)
	assert.Equal(t, after, unchanged)
}

func TestMatch_UsageCounter(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	key := PatternKey(cookingRecord("compare recipes for brownies", "compare"))
	promoted := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveActive(ctx, model.ActivePlaybook{
		ID:            "brownie-compare",
		Domain:        "cooking",
		TaskType:      "compare",
		Trigger:       model.PlaybookTrigger{PatternKey: key},
		Steps:         []string{"gather_recipes", "extract_core"},
		ResponseHints: model.ResponseHints{Prefix: "Brownie comparison:", Outline: []string{"Core", "Variations"}},
		PromotedAt:    &promoted,
	}))
	l, clock := newTestLoop(t, st)

	last := 0
	for i, q := range []string{"compare recipes for brownies", "which brownie recipe is better", "brownies recipe comparison"} {
		clock.now = clock.now.Add(time.Hour)
		m, err := l.Match(ctx, cookingRecord(q, "compare"))
		require.NoError(t, err)
		require.NotNil(t, m, q)
		assert.Equal(t, "brownie-compare", m.PlaybookID)
		assert.Equal(t, "Brownie comparison:", m.Hints.Prefix)
		assert.Equal(t, []string{"Core", "Variations"}, m.Hints.Outline)
		assert.Greater(t, m.UsageCount, last)
		assert.Equal(t, i+1, m.UsageCount)
		last = m.UsageCount
	}

	m, err := l.Match(ctx, cookingRecord("how to make cookies", "howto"))
	require.NoError(t, err)
	assert.Nil(t, m)

	s, err := st.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.ActivePlaybookUsageCounts["brownie-compare"])
	assert.Len(t, s.UsageHistory["brownie-compare"], 3)
	assert.Equal(t, time.Hour, MeanInterval(s.UsageHistory["brownie-compare"]))
	assert.True(t, s.FirstUsedAt["brownie-compare"].Before(s.LastUsedAt["brownie-compare"]))
}

func TestMatch_UsageHistoryBounded(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	rec := cookingRecord("compare recipes for brownies", "compare")
	require.NoError(t, st.SaveActive(ctx, model.ActivePlaybook{
		ID: "p", Domain: "cooking", TaskType: "compare",
		Trigger: model.PlaybookTrigger{PatternKey: PatternKey(rec)}, Steps: []string{},
	}))
	l, clock := newTestLoop(t, st)

	for i := 0; i < 105; i++ {
		clock.now = clock.now.Add(time.Minute)
		_, err := l.Match(ctx, rec)
		require.NoError(t, err)
	}
	s, err := st.LoadState(ctx)
	require.NoError(t, err)
	assert.Len(t, s.UsageHistory["p"], DefaultUsageHistoryLimit)
	assert.Equal(t, 105, s.ActivePlaybookUsageCounts["p"])
}

func TestValueTracking_Hysteresis(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLoop(t, NewMemoryStore())

	noChange := []model.StepObservation{{Step: "detect_bloat", ChangedOutcome: false, ElapsedMs: 100}}
	var reducedAt int
	for i := 1; i <= 10; i++ {
		require.NoError(t, l.Observe(ctx, noChange))
		st, ok, err := l.StepStats(ctx, "detect_bloat")
		require.NoError(t, err)
		require.True(t, ok)
		if st.PriorityReduced && reducedAt == 0 {
			reducedAt = i
		}
	}
	// Value falls below 0.3 on the 4th observation and needs three in a row.
	assert.Equal(t, 6, reducedAt)

	require.NoError(t, l.Observe(ctx, []model.StepObservation{{Step: "detect_bloat", ChangedOutcome: true, ElapsedMs: 100}}))
	st, _, err := l.StepStats(ctx, "detect_bloat")
	require.NoError(t, err)
	if st.Value >= DefaultLowValue {
		assert.False(t, st.PriorityReduced)
		assert.Equal(t, 0, st.LowStreak)
	} else {
		assert.True(t, st.PriorityReduced)
	}
}

func TestValueTracking_Cost(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLoop(t, NewMemoryStore())

	require.NoError(t, l.Observe(ctx, []model.StepObservation{{Step: "s", ChangedOutcome: true, ElapsedMs: 1000}}))
	require.NoError(t, l.Observe(ctx, []model.StepObservation{{Step: "s", ChangedOutcome: true, ElapsedMs: 2000}}))
	require.NoError(t, l.Observe(ctx, []model.StepObservation{{Step: "s", Skipped: true, ElapsedMs: 99999}}))

	st, ok, err := l.StepStats(ctx, "s")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1300, st.CostMs, 0.001)
	assert.Equal(t, 1.0, st.Value)
	assert.Equal(t, 2, st.Observations)

	_, ok, err = l.StepStats(ctx, "never")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPromoteDraft(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	l, clock := newTestLoop(t, st)

	var draft *model.PlaybookDraft
	for i := 0; i < 3; i++ {
		res, err := l.Record(ctx, cookingRecord("compare recipes for brownies", "compare"), nil)
		require.NoError(t, err)
		if res.Draft != nil {
			draft = res.Draft
		}
	}
	require.NotNil(t, draft)

	p, err := PromoteDraft(ctx, st, draft.ID, clock.now)
	require.NoError(t, err)
	assert.Equal(t, draft.PatternKey, p.Trigger.PatternKey)

	_, err = PromoteDraft(ctx, st, "missing", clock.now)
	assert.True(t, errors.Is(err, ErrDraftNotFound))

	require.NoError(t, l.Reload(ctx))
	m, err := l.Match(ctx, cookingRecord("brownies recipe comparison", "compare"))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, draft.ID, m.PlaybookID)
}

type failingStore struct{ *MemoryStore }

func (failingStore) LoadState(context.Context) (*State, error) {
	return nil, errors.New("disk on fire")
}

func TestReadFailuresSurface(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLoop(t, failingStore{NewMemoryStore()})

	_, err := l.LookupBias(ctx, "cooking", "compare")
	assert.Error(t, err)
	_, _, err = l.StepStats(ctx, "x")
	assert.Error(t, err)
}

// flakySaveStore fails the first n state saves.
type flakySaveStore struct {
	*MemoryStore
	failures int
}

func (f *flakySaveStore) SaveState(ctx context.Context, s *State) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("disk full")
	}
	return f.MemoryStore.SaveState(ctx, s)
}

func TestRecord_DraftSurvivesFailedStateSave(t *testing.T) {
	ctx := context.Background()
	st := &flakySaveStore{MemoryStore: NewMemoryStore()}
	l, _ := newTestLoop(t, st)

	for _, q := range []string{"compare recipes for brownies", "which brownie recipe is better"} {
		_, err := l.Record(ctx, cookingRecord(q, "compare"), nil)
		require.NoError(t, err)
	}

	st.failures = 1
	_, err := l.Record(ctx, cookingRecord("brownies recipe comparison", "compare"), nil)
	require.Error(t, err)

	res, err := l.Record(ctx, cookingRecord("compare brownie recipes", "compare"), nil)
	require.NoError(t, err)
	assert.Nil(t, res.Draft)

	drafts, err := st.ListDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	s, err := st.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{drafts[0].PatternKey}, s.DraftedKeys)
}
