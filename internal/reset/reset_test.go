package reset

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/organism/internal/memory"
)

func TestEvaluate_Stable(t *testing.T) {
	c := New(0, 0, nil, nil)
	wm := memory.NewWorking(0, 0)
	wm.RecordHistory("gather_recipes", "3 found", true)
	wm.RecordHistory("extract_core", "core", true)

	d := c.Evaluate(context.Background(), wm, time.Now())
	assert.Equal(t, StateStable, d.State)
	assert.False(t, d.Triggered())
}

func TestEvaluate_Contradiction(t *testing.T) {
	c := New(0, 0, nil, nil)
	wm := memory.NewWorking(0, 0)
	wm.AddAssumption("the dough is ready", 0.9, true)
	wm.AddAssumption("the dough is not ready", 0.9, true)

	d := c.Evaluate(context.Background(), wm, time.Now())
	require.True(t, d.Triggered())
	assert.Contains(t, d.Reasons[0], "contradiction")
}

func TestEvaluate_Stagnation(t *testing.T) {
	c := New(0, 0, nil, nil)

	t.Run("repeated action without completion", func(t *testing.T) {
		wm := memory.NewWorking(0, 0)
		for i := 0; i < 3; i++ {
			wm.RecordHistory("search_knowledge", string(rune('a'+i)), false)
		}
		assert.True(t, c.Evaluate(context.Background(), wm, time.Now()).Triggered())
	})

	t.Run("identical results", func(t *testing.T) {
		wm := memory.NewWorking(0, 0)
		wm.RecordHistory("a", "same", true)
		wm.RecordHistory("b", "same", true)
		wm.RecordHistory("c", "same", true)
		assert.True(t, c.Evaluate(context.Background(), wm, time.Now()).Triggered())
	})

	t.Run("progress", func(t *testing.T) {
		wm := memory.NewWorking(0, 0)
		wm.RecordHistory("search_knowledge", "1", false)
		wm.RecordHistory("search_knowledge", "2", true)
		wm.RecordHistory("search_knowledge", "3", false)
		assert.False(t, c.Evaluate(context.Background(), wm, time.Now()).Triggered())
	})
}

func TestEvaluate_IgnoredNewInfo(t *testing.T) {
	c := New(0, 0, nil, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	wm := memory.NewWorking(0, 0).WithClock(func() time.Time { return now })
	wm.MarkNewInfo()

	assert.False(t, c.Evaluate(context.Background(), wm, now.Add(3*time.Second)).Triggered())
	assert.True(t, c.Evaluate(context.Background(), wm, now.Add(6*time.Second)).Triggered())

	wm.TouchPlan()
	assert.False(t, c.Evaluate(context.Background(), wm, now.Add(10*time.Second)).Triggered())
}

func TestResetIdempotent(t *testing.T) {
	for _, n := range []int{0, 1, 25, 200} {
		wm := memory.NewWorking(0, 0)
		s := memory.NewStream(0, 0)
		for i := 0; i < n; i++ {
			wm.Set("k"+string(rune('a'+i%26)), i)
			wm.AddAssumption("belief", 0.5, i%2 == 0)
			wm.RecordHistory("step", "r", i%3 == 0)
			s.Append("cookies and brownies", nil)
		}

		for round := 0; round < 2; round++ {
			wm.Clear()
			sum := s.Collapse()
			assert.True(t, wm.Empty())
			assert.Equal(t, 0, s.Len())
			assert.Equal(t, n, sum.Count)
			assert.LessOrEqual(t, len(sum.TopTerms), 10)
		}
	}
}

func TestLearnings(t *testing.T) {
	wm := memory.NewWorking(0, 0)
	wm.AddAssumption("butter must be cold", 0.9, true)
	wm.AddAssumption("maybe use honey", 0.4, true)
	wm.AddAssumption("ovens vary", 0.9, false)
	wm.RecordHistory("gather_recipes", "ok", true)
	wm.RecordHistory("gather_recipes", "ok", true)
	wm.RecordHistory("extract_core", "failed", false)

	assert.Equal(t, []string{
		"assumption: butter must be cold",
		"completed: gather_recipes",
	}, Learnings(wm.Snapshot()))
}
