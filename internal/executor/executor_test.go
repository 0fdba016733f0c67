package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/organism/internal/budget"
	"github.com/rcliao/organism/internal/memory"
	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/store"
)

type fakePolicy struct {
	stats map[string]model.StepStats
	bias  float64
	err   error
}

func (f *fakePolicy) StepStats(_ context.Context, step string) (model.StepStats, bool, error) {
	if f.err != nil {
		return model.StepStats{}, false, f.err
	}
	st, ok := f.stats[step]
	return st, ok, nil
}

func (f *fakePolicy) LookupBias(context.Context, string, string) (float64, error) {
	return f.bias, f.err
}

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ltm := store.NewMemoryStore()
	for _, p := range []store.PutParams{
		{Type: model.EntryTypeFact, Key: "fudgy-brownies", Payload: "fudgy brownie recipe with dark chocolate and butter"},
		{Type: model.EntryTypeFact, Key: "cakey-brownies", Payload: "cakey brownie recipe with flour and baking powder"},
	} {
		_, err := ltm.Put(context.Background(), p)
		require.NoError(t, err)
	}
	return ltm
}

func recipeCycle() Cycle {
	tri := model.Triage{
		Priorities: []model.Task{
			{Action: "gather_recipes", Type: model.TaskRetrieval},
			{Action: "extract_core_ingredients", Type: model.TaskAnalysis, Dependencies: []string{"gather_recipes"}},
			{Action: "identify_variations", Type: model.TaskAnalysis, Dependencies: []string{"gather_recipes"}},
		},
	}
	a := model.Assessment{
		Urgency:    model.UrgencyLater,
		Stakes:     model.StakesLow,
		Difficulty: model.DifficultyModerate,
		Precision:  model.PrecisionFlexible,
		InputType:  model.InputRecipeCompare,
	}
	plan := budget.New(0, nil).Allocate(tri, a)
	return Cycle{
		Input:      "compare brownie recipes",
		Domain:     "cooking",
		TaskType:   "recipe_compare",
		Assessment: a,
		Triage:     tri,
		Plan:       &plan,
	}
}

func TestRun_RecipeCycle(t *testing.T) {
	wm := memory.NewWorking(0, 0)
	ex := New(Deps{Working: wm, LongTerm: seedStore(t)})
	c := recipeCycle()

	out := ex.Run(context.Background(), c)

	require.True(t, out.Success)
	assert.Equal(t, []string{"gather_recipes", "extract_core_ingredients", "identify_variations"}, out.Completed)
	assert.True(t, out.LookupUsed)
	assert.True(t, out.LookupChanged)
	require.Len(t, out.Tasks, 3)
	assert.Equal(t, 2, out.Tasks[0].Output["count"])
	assert.Contains(t, out.Tasks[1].Output["terms"], "brownie")
	assert.NotEmpty(t, out.Summary)

	assert.Len(t, out.Observations, 3)
	assert.Len(t, wm.History(), 3)
	_, ok := wm.Get("facts")
	assert.True(t, ok)

	for _, b := range c.Plan.Tasks {
		assert.NotNil(t, b.StartedAt, b.Task)
		assert.NotNil(t, b.CompletedAt, b.Task)
	}
}

func TestRun_UnmetDependencies(t *testing.T) {
	ex := New(Deps{Working: memory.NewWorking(0, 0)})
	c := Cycle{
		Input: "summarize the notes",
		Triage: model.Triage{Priorities: []model.Task{
			{Action: "write_summary", Type: model.TaskGeneration, Dependencies: []string{"extract_key_points"}},
			{Action: "acknowledge", Type: model.TaskGeneral},
		}},
	}

	out := ex.Run(context.Background(), c)

	require.Len(t, out.Tasks, 2)
	assert.True(t, out.Tasks[0].Skipped)
	assert.Contains(t, out.Tasks[0].SkipReason, "extract_key_points")
	assert.True(t, out.Tasks[1].Success)
	assert.Equal(t, []string{"acknowledge"}, out.Completed)
	assert.Len(t, out.Observations, 1)
}

func TestRun_SkipPolicy(t *testing.T) {
	lowValue := model.StepStats{Value: 0.1, CostMs: 10, PriorityReduced: true, Observations: 6}

	tests := []struct {
		name   string
		stakes model.Stakes
		stats  model.StepStats
		err    error
		skip   bool
	}{
		{"low stakes, low value", model.StakesLow, lowValue, nil, true},
		{"high stakes never skips", model.StakesHigh, lowValue, nil, false},
		{"medium stakes needs tight budget", model.StakesMedium, lowValue, nil, false},
		{"priority not reduced", model.StakesLow, model.StepStats{Value: 0.1}, nil, false},
		{"value above threshold", model.StakesLow, model.StepStats{Value: 0.5, PriorityReduced: true}, nil, false},
		{"policy error means no skip", model.StakesLow, lowValue, errors.New("disk gone"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := recipeCycle()
			c.Assessment.Stakes = tt.stakes
			plan := budget.New(0, nil).Allocate(c.Triage, c.Assessment)
			c.Plan = &plan

			pol := &fakePolicy{stats: map[string]model.StepStats{"identify_variations": tt.stats}, err: tt.err}
			ex := New(Deps{Working: memory.NewWorking(0, 0), LongTerm: seedStore(t), Policy: pol})
			out := ex.Run(context.Background(), c)

			require.Len(t, out.Tasks, 3)
			assert.Equal(t, tt.skip, out.Tasks[2].Skipped)
			assert.Contains(t, out.Completed, "identify_variations")
		})
	}
}

func TestRun_SkippedStepSatisfiesDependents(t *testing.T) {
	pol := &fakePolicy{stats: map[string]model.StepStats{
		"gather_recipes": {Value: 0.05, PriorityReduced: true},
	}}
	ex := New(Deps{Working: memory.NewWorking(0, 0), LongTerm: seedStore(t), Policy: pol})

	out := ex.Run(context.Background(), recipeCycle())

	assert.True(t, out.Tasks[0].Skipped)
	assert.False(t, out.LookupUsed)
	assert.True(t, out.Tasks[1].Success)
	assert.True(t, out.Tasks[2].Success)
}

func TestRun_RecoversPanics(t *testing.T) {
	ex := New(Deps{Working: memory.NewWorking(0, 0)})
	ex.Handle(model.TaskGeneration, func(context.Context, *Call) (Output, error) {
		panic("boom")
	})
	c := Cycle{
		Input: "write a poem",
		Triage: model.Triage{Priorities: []model.Task{
			{Action: "draft_content", Type: model.TaskGeneration},
			{Action: "acknowledge", Type: model.TaskGeneral},
		}},
	}

	out := ex.Run(context.Background(), c)

	require.Len(t, out.Tasks, 2)
	assert.False(t, out.Tasks[0].Success)
	assert.Contains(t, out.Tasks[0].Error, "boom")
	assert.True(t, out.Tasks[1].Success)
	assert.True(t, out.Success)
}

func TestRun_NegativeLookupBias(t *testing.T) {
	tests := []struct {
		stakes model.Stakes
		iters  int
	}{
		{model.StakesLow, 1},
		{model.StakesHigh, 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.stakes), func(t *testing.T) {
			c := recipeCycle()
			c.Input = "compare brownie cookie recipes"
			c.Assessment.Stakes = tt.stakes
			ex := New(Deps{
				Working:  memory.NewWorking(0, 0),
				LongTerm: seedStore(t),
				Policy:   &fakePolicy{bias: -2},
			})

			out := ex.Run(context.Background(), c)

			assert.Equal(t, tt.iters, out.Tasks[0].Iterations)
		})
	}
}

func TestRun_Exceeded(t *testing.T) {
	ex := New(Deps{Working: memory.NewWorking(0, 0)})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ex.now = func() time.Time {
		clock = clock.Add(100 * time.Millisecond)
		return clock
	}
	plan := budget.Plan{Tasks: []model.TaskBudget{{Task: "acknowledge", Type: model.TaskGeneral, MaxTimeMs: 50, MaxIterations: 1}}}
	c := Cycle{
		Input:  "hello there",
		Triage: model.Triage{Priorities: []model.Task{{Action: "acknowledge", Type: model.TaskGeneral}}},
		Plan:   &plan,
	}

	out := ex.Run(context.Background(), c)

	assert.True(t, out.Tasks[0].Success)
	assert.True(t, out.Tasks[0].Exceeded)
	assert.True(t, plan.Tasks[0].Exceeded)
	assert.Equal(t, int64(100), out.Tasks[0].ElapsedMs)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := New(Deps{Working: memory.NewWorking(0, 0)})

	out := ex.Run(ctx, Cycle{Triage: model.Triage{Priorities: []model.Task{{Action: "acknowledge", Type: model.TaskGeneral}}}})

	assert.False(t, out.Success)
	assert.True(t, out.Tasks[0].Skipped)
}
