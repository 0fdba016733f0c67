package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/organism/internal/memory"
	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/similarity"
	"github.com/rcliao/organism/internal/store"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		input string
		value any
		sum   float64
	}{
		{"what is 12 * 4", 48.0, 16},
		{"calculate 10 + 2.5", 12.5, 12.5},
		{"9 / 3", 3.0, 12},
		{"numbers 3 and 5 and 7", nil, 15},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			out, err := compute(context.Background(), &Call{Task: model.Task{Action: "compute_result"}, Input: tt.input})
			require.NoError(t, err)
			assert.Equal(t, tt.value, out.Data["value"])
			assert.Equal(t, tt.sum, out.Data["sum"])
			assert.True(t, out.Changed)
		})
	}
}

func TestCompute_DivisionByZero(t *testing.T) {
	_, err := compute(context.Background(), &Call{Input: "what is 5 / 0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
}

func TestCompute_NoNumbers(t *testing.T) {
	out, err := compute(context.Background(), &Call{Input: "order the steps"})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Data["count"])
	assert.False(t, out.Changed)
}

func TestValidate(t *testing.T) {
	emb := similarity.NewTermEmbedder(0)

	wm := memory.NewWorking(0, 0)
	wm.AddAssumption("the oven is preheated", 0.6, false)
	out, err := validate(context.Background(), &Call{Working: wm, Embedder: emb})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Data["checked"])
	assert.True(t, out.Changed)

	wm = memory.NewWorking(0, 0)
	wm.AddAssumption("the oven is preheated", 0.9, true)
	wm.AddAssumption("the oven is not preheated", 0.9, true)
	_, err = validate(context.Background(), &Call{Working: wm, Embedder: emb})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contradictory")
}

func TestStoreNote(t *testing.T) {
	ctx := context.Background()
	ltm := store.NewMemoryStore()
	c := &Call{
		Task:     model.Task{Action: "store_result", Type: model.TaskStorage},
		Input:    "remember the bakery opens at seven",
		Domain:   "general",
		LongTerm: ltm,
		Prior:    []TaskResult{{Action: "parse_request", Success: true}},
	}

	out, err := storeNote(ctx, c)
	require.NoError(t, err)
	assert.True(t, out.Changed)

	notes, err := ltm.List(ctx, store.ListParams{Type: model.EntryTypeCycleNote})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Payload, "parse_request")
	assert.Equal(t, []string{"general"}, notes[0].Tags)
}

func TestPresent(t *testing.T) {
	out, err := present(context.Background(), &Call{Prior: []TaskResult{
		{Action: "gather_recipes", Success: true, Summary: "found 2 related entries"},
		{Action: "broken", Success: false, Summary: "ignored"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "gather_recipes: found 2 related entries", out.Summary)

	out, err = present(context.Background(), &Call{})
	require.NoError(t, err)
	assert.False(t, out.Changed)
}

func TestGenerate_UsesTopics(t *testing.T) {
	wm := memory.NewWorking(0, 0)
	wm.Set("topic:brownie", "brownie")
	out, err := generate(context.Background(), &Call{Task: model.Task{Action: "draft_content"}, Input: "write about baking", Working: wm})
	require.NoError(t, err)
	assert.Contains(t, out.Summary, "brownie")
	_, ok := wm.Get("draft:draft_content")
	assert.True(t, ok)
}
