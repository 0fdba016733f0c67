package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/organism/internal/model"
)

func triageOf(tasks ...model.Task) model.Triage {
	return model.Triage{Priorities: tasks}
}

func TestAllocate_RecipeCompare(t *testing.T) {
	g := New(0, nil)
	a := model.Assessment{
		Urgency:    model.UrgencyLater,
		Stakes:     model.StakesMedium,
		Difficulty: model.DifficultyModerate,
		Precision:  model.PrecisionFlexible,
		InputType:  model.InputRecipeCompare,
	}
	plan := g.Allocate(triageOf(
		model.Task{Action: "gather_recipes", Type: model.TaskRetrieval},
		model.Task{Action: "extract_core", Type: model.TaskAnalysis},
		model.Task{Action: "identify_variations", Type: model.TaskAnalysis},
	), a)

	assert.Equal(t, int64(45000), plan.TotalMs)
	require.Len(t, plan.Tasks, 3)
	assert.Equal(t, int64(18000), plan.Tasks[0].MaxTimeMs)
	assert.Equal(t, 5, plan.Tasks[0].MaxIterations)
	assert.Equal(t, int64(22500), plan.Tasks[1].MaxTimeMs)
	assert.Equal(t, 1, plan.Tasks[1].MaxIterations)
	assert.Equal(t, "return_partial_results", plan.Emergency.Name)
	assert.True(t, plan.Emergency.Reversible)
}

func TestAllocate_NowStrict(t *testing.T) {
	g := New(0, nil)
	a := model.Assessment{
		Urgency:    model.UrgencyNow,
		Difficulty: model.DifficultyCritical,
		Precision:  model.PrecisionStrict,
		InputType:  model.InputErrorReport,
	}
	plan := g.Allocate(triageOf(model.Task{Action: "find_similar_errors", Type: model.TaskRetrieval}), a)

	// 30000 * 0.5 * 2.0 * 0.8
	assert.Equal(t, int64(24000), plan.TotalMs)
	// 24000 / 3 * 1.2 * 0.6
	assert.Equal(t, int64(5760), plan.Tasks[0].MaxTimeMs)
	assert.Equal(t, "log_and_escalate", plan.Emergency.Name)
}

func TestAllocate_Familiar(t *testing.T) {
	g := New(0, nil)
	a := model.Assessment{
		Urgency:    model.UrgencySoon,
		Difficulty: model.DifficultyModerate,
		InputType:  model.InputQuestion,
		Familiar:   true,
	}
	plan := g.Allocate(triageOf(model.Task{Action: "answer", Type: model.TaskGeneral}), a)

	assert.Equal(t, int64(22500), plan.TotalMs)
	assert.Equal(t, int64(7500), plan.Tasks[0].MaxTimeMs)
}

func TestEmergencyFor(t *testing.T) {
	tests := map[model.InputType]string{
		model.InputRecipeCompare: "return_partial_results",
		model.InputQuestion:      "return_best_known_answer",
		model.InputCommand:       "defer_and_acknowledge",
		model.InputErrorReport:   "log_and_escalate",
		model.InputDataRequest:   "return_cached_data",
		model.InputCreative:      "return_outline_only",
		model.InputPlanning:      "return_top_priority_only",
		model.InputConversation:  "acknowledge_and_ask_clarification",
		"unknown":                "return_partial_results",
	}
	for in, want := range tests {
		got := EmergencyFor(in)
		assert.Equal(t, want, got.Name, in)
		assert.True(t, got.Reversible, in)
	}
}

func TestIterationsFor(t *testing.T) {
	assert.Equal(t, 5, IterationsFor("search_knowledge"))
	assert.Equal(t, 5, IterationsFor("find_similar_errors"))
	assert.Equal(t, 1, IterationsFor("present_answer"))
}

func TestShouldContinue(t *testing.T) {
	prev := map[string]any{"matches": 2, "query": "cookie"}
	assert.True(t, ShouldContinue(1, prev, map[string]any{"matches": 3, "query": "cookie"}))
	assert.False(t, ShouldContinue(1, prev, prev))
	assert.False(t, ShouldContinue(5, prev, map[string]any{"other": 1}))
}

func TestPlanTight(t *testing.T) {
	plan := Plan{Tasks: []model.TaskBudget{
		{Task: "small", MaxTimeMs: 1500},
		{Task: "large", MaxTimeMs: 10000},
	}}
	assert.True(t, plan.Tight("small", 0))
	assert.False(t, plan.Tight("large", 0))
	assert.True(t, plan.Tight("large", 12000))
	assert.True(t, plan.Tight("missing", 0))
}
