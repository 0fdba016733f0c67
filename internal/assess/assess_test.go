package assess

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/organism/internal/memory"
	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/store"
)

func assessText(t *testing.T, a *Assessor, text string, tiers Tiers) model.Assessment {
	t.Helper()
	s := tiers.Stream
	if s == nil {
		s = memory.NewStream(0, 0)
		tiers.Stream = s
	}
	return a.Assess(context.Background(), s.Append(text, nil), tiers)
}

func TestKeywordClassifier(t *testing.T) {
	tests := []struct {
		text string
		want model.InputType
	}{
		{"Compare 3 recipes for chocolate chip cookies", model.InputRecipeCompare},
		{"which brownie recipe is better", model.InputRecipeCompare},
		{"brownies recipe comparison", model.InputRecipeCompare},
		{"The build failed with a null pointer exception", model.InputErrorReport},
		{"calculate the total of 12 and 30", model.InputComputation},
		{"what is 12 * 4", model.InputComputation},
		{"plan a birthday party", model.InputPlanning},
		{"write a poem about bread", model.InputCreative},
		{"restart the worker", model.InputCommand},
		{"list recent orders", model.InputDataRequest},
		{"how to make cookies", model.InputQuestion},
		{"is bread vegan?", model.InputQuestion},
		{"hello there", model.InputConversation},
	}
	c := KeywordClassifier{}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text))
		})
	}
}

func TestAssess_RecipeCompare(t *testing.T) {
	a := New(nil, nil)
	got := assessText(t, a, "Compare 3 recipes for chocolate chip cookies", Tiers{})

	assert.Equal(t, model.InputRecipeCompare, got.InputType)
	assert.Equal(t, model.StakesMedium, got.Stakes)
	assert.Equal(t, model.DifficultyModerate, got.Difficulty)
	assert.Equal(t, model.PrecisionFlexible, got.Precision)
	assert.Equal(t, model.UrgencyLater, got.Urgency)
	assert.Len(t, got.Reasoning, 5)
}

func TestAssess_EnumRanges(t *testing.T) {
	urgencies := map[model.Urgency]bool{model.UrgencyNow: true, model.UrgencySoon: true, model.UrgencyLater: true}
	stakes := map[model.Stakes]bool{model.StakesLow: true, model.StakesMedium: true, model.StakesHigh: true}
	difficulties := map[model.Difficulty]bool{
		model.DifficultyEasy: true, model.DifficultyModerate: true,
		model.DifficultyHard: true, model.DifficultyCritical: true,
	}
	precisions := map[model.Precision]bool{model.PrecisionStrict: true, model.PrecisionFlexible: true}

	inputs := []string{
		"", "   ", "?", "URGENT production outage, data loss!!!",
		"exactly calculate 2+2 asap", "someday maybe optimize the architecture",
		"tomorrow plan the budget review", "compare recipes", "🍪🍪🍪",
		"delete everything right now", "no rush, just chatting",
	}
	a := New(nil, nil)
	for _, in := range inputs {
		got := assessText(t, a, in, Tiers{})
		assert.True(t, urgencies[got.Urgency], "urgency %q for %q", got.Urgency, in)
		assert.True(t, stakes[got.Stakes], "stakes %q for %q", got.Stakes, in)
		assert.True(t, difficulties[got.Difficulty], "difficulty %q for %q", got.Difficulty, in)
		assert.True(t, precisions[got.Precision], "precision %q for %q", got.Precision, in)
	}
}

func TestAssess_UrgencyPrecedence(t *testing.T) {
	a := New(nil, nil)

	t.Run("explicit keyword", func(t *testing.T) {
		got := assessText(t, a, "fix this asap before the deadline", Tiers{})
		assert.Equal(t, model.UrgencyNow, got.Urgency)
	})

	t.Run("active task beats deadline", func(t *testing.T) {
		wm := memory.NewWorking(0, 0)
		wm.SetCurrentTask("migrate the billing database", model.UrgencyNow)
		got := assessText(t, a, "the database migration is due friday", Tiers{Working: wm})
		assert.Equal(t, model.UrgencyNow, got.Urgency)
	})

	t.Run("deadline", func(t *testing.T) {
		got := assessText(t, a, "the report is due friday", Tiers{})
		assert.Equal(t, model.UrgencySoon, got.Urgency)
	})

	t.Run("error report", func(t *testing.T) {
		got := assessText(t, a, "the job crashed", Tiers{})
		assert.Equal(t, model.UrgencySoon, got.Urgency)
	})

	t.Run("repeated request", func(t *testing.T) {
		s := memory.NewStream(0, 0)
		s.Append("find bread recipes", nil)
		got := assessText(t, a, "Find bread recipes", Tiers{Stream: s})
		assert.Equal(t, model.UrgencySoon, got.Urgency)
	})

	t.Run("default", func(t *testing.T) {
		got := assessText(t, a, "find bread recipes", Tiers{})
		assert.Equal(t, model.UrgencyLater, got.Urgency)
	})
}

func TestAssess_StakesDifficultyPrecision(t *testing.T) {
	a := New(nil, nil)
	tests := []struct {
		text       string
		stakes     model.Stakes
		difficulty model.Difficulty
		precision  model.Precision
	}{
		{"deploy the payment service", model.StakesHigh, model.DifficultyEasy, model.PrecisionFlexible},
		{"production outage", model.StakesHigh, model.DifficultyCritical, model.PrecisionFlexible},
		{"help me debug this", model.StakesLow, model.DifficultyHard, model.PrecisionFlexible},
		{"compute the exact average", model.StakesLow, model.DifficultyEasy, model.PrecisionStrict},
		{"hello", model.StakesLow, model.DifficultyEasy, model.PrecisionFlexible},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := assessText(t, a, tt.text, Tiers{})
			assert.Equal(t, tt.stakes, got.Stakes)
			assert.Equal(t, tt.difficulty, got.Difficulty)
			assert.Equal(t, tt.precision, got.Precision)
		})
	}
}

func TestAssess_PromotedKnowledgeMarksFamiliar(t *testing.T) {
	ctx := context.Background()
	ltm := store.NewMemoryStore()
	_, err := ltm.Put(ctx, store.PutParams{
		Type: model.EntryTypePromotedFact, Key: "topic:sourdough", Payload: "sourdough", Promoted: true,
	})
	require.NoError(t, err)

	a := New(nil, nil)
	got := assessText(t, a, "analyze my sourdough starter", Tiers{LongTerm: ltm})
	assert.True(t, got.Familiar)
	assert.Equal(t, model.DifficultyModerate, got.Difficulty)

	got = assessText(t, a, "analyze my pasta sauce", Tiers{LongTerm: ltm})
	assert.False(t, got.Familiar)

	// The lookup must not count as an access.
	e, err := ltm.Search(ctx, store.SearchParams{Query: "sourdough"})
	require.NoError(t, err)
	require.Len(t, e, 1)
	assert.Equal(t, 0, e[0].AccessCount)
}

func TestAssess_CustomClassifier(t *testing.T) {
	a := New(ClassifierFunc(func(string) model.InputType { return model.InputCreative }), nil)
	got := assessText(t, a, "anything", Tiers{})
	assert.Equal(t, model.InputCreative, got.InputType)
}
