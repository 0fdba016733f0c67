package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/organism/internal/model"
)

func seedLoop(t *testing.T, st StateStore) (*Loop, *testClock) {
	t.Helper()
	ctx := context.Background()
	key := PatternKey(cookingRecord("compare recipes for brownies", "compare"))
	old := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveActive(ctx, model.ActivePlaybook{
		ID: "used", Domain: "cooking", TaskType: "compare",
		Trigger: model.PlaybookTrigger{PatternKey: key}, Steps: []string{"gather_recipes"},
		PromotedAt: &old,
	}))
	require.NoError(t, st.SaveActive(ctx, model.ActivePlaybook{
		ID: "unused", Domain: "finance", TaskType: "plan",
		Trigger: model.PlaybookTrigger{PatternKey: "finance:plan:0000000000000000"}, Steps: []string{"x"},
		PromotedAt: &old,
	}))

	l, clock := newTestLoop(t, st)
	for i := 0; i < 3; i++ {
		rec := cookingRecord("compare recipes for brownies", "compare")
		rec.Metrics.LookupUsed = true
		rec.Metrics.TimeMs = 100
		_, err := l.Record(ctx, rec, []model.StepObservation{{Step: "gather_recipes", ChangedOutcome: true, ElapsedMs: 50}})
		require.NoError(t, err)
	}
	failed := cookingRecord("plan my week", "plan")
	failed.Domain = "general"
	failed.Outcome.Status = model.StatusFailure
	_, err := l.Record(ctx, failed, nil)
	require.NoError(t, err)

	_, err = l.Match(ctx, cookingRecord("which brownie recipe is better", "compare"))
	require.NoError(t, err)
	return l, clock
}

func TestAudit_Contents(t *testing.T) {
	ctx := context.Background()
	l, _ := seedLoop(t, NewMemoryStore())

	a, err := l.Audit(ctx)
	require.NoError(t, err)

	assert.Equal(t, 200, a.Config.ScanWindow)
	assert.Equal(t, "720h0m0s", a.Config.StaleAfter)
	assert.Equal(t, []BiasEntry{{Key: "cooking:compare", Bias: -0.6775}, {Key: "general:plan", Bias: 0.25}}, a.LookupBias)

	require.Len(t, a.Active, 2)
	assert.Equal(t, "unused", a.Active[0].ID)
	assert.True(t, a.Active[0].Stale)
	assert.Equal(t, "used", a.Active[1].ID)
	assert.Equal(t, 1, a.Active[1].UsageCount)
	assert.False(t, a.Active[1].Stale)
	assert.Equal(t, []string{"unused"}, a.Stale)

	require.Len(t, a.Drafts, 1)
	assert.Equal(t, RunStats{
		Total: 4, Success: 3, Failure: 1, SuccessRate: 0.75, AvgTimeMs: 75, LookupUsed: 3,
	}, a.Runs)
	require.Len(t, a.TopPatterns, 2)
	assert.Equal(t, 3, a.TopPatterns[0].Count)
	require.Len(t, a.Steps, 1)
	assert.Equal(t, "gather_recipes", a.Steps[0].Step)
}

func TestAudit_NoSideEffects(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	l, clock := seedLoop(t, st)

	before := st.StateBytes()
	runsBefore, err := st.RecentRuns(ctx, 0)
	require.NoError(t, err)
	draftsBefore, err := st.ListDrafts(ctx)
	require.NoError(t, err)

	var first *Audit
	for i := 0; i < 5; i++ {
		clock.now = clock.now.Add(time.Second)
		a, err := l.Audit(ctx)
		require.NoError(t, err)
		if first == nil {
			first = a
			continue
		}
		// Identical apart from the timestamp.
		if diff := cmp.Diff(first, a, cmp.FilterPath(func(p cmp.Path) bool {
			return p.String() == "GeneratedAt"
		}, cmp.Ignore())); diff != "" {
			t.Errorf("audit changed between calls (-first +got):\n%s", diff)
		}
	}

	assert.True(t, bytes.Equal(before, st.StateBytes()))
	runsAfter, err := st.RecentRuns(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, runsBefore, runsAfter)
	draftsAfter, err := st.ListDrafts(ctx)
	require.NoError(t, err)
	assert.Equal(t, draftsBefore, draftsAfter)
}

func TestAudit_NoSideEffectsOnDisk(t *testing.T) {
	ctx := context.Background()
	fs := newTestFileStore(t)
	l, _ := seedLoop(t, fs)

	statePath := filepath.Join(fs.Dir(), StateFile)
	before, err := os.ReadFile(statePath)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		a, err := l.Audit(ctx)
		require.NoError(t, err)
		_, err = json.Marshal(a)
		require.NoError(t, err)
	}

	after, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	recent := now.Add(-24 * time.Hour)
	old := now.Add(-40 * 24 * time.Hour)
	after := DefaultStaleAfter

	assert.False(t, Stale(model.ActivePlaybook{PromotedAt: &old}, &recent, now, after))
	assert.True(t, Stale(model.ActivePlaybook{}, &old, now, after))
	assert.True(t, Stale(model.ActivePlaybook{PromotedAt: &old}, nil, now, after))
	assert.False(t, Stale(model.ActivePlaybook{PromotedAt: &recent}, nil, now, after))
	assert.False(t, Stale(model.ActivePlaybook{}, nil, now, after))
}
