package meta

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcliao/organism/internal/model"
)

func cookingRecord(query, taskType string) model.RunRecord {
	return model.RunRecord{
		Domain:   "cooking",
		TaskType: taskType,
		Assessment: model.BucketedAssessment{
			Urgency: model.BucketLow, Stakes: model.BucketMed, Difficulty: model.BucketMed,
		},
		Outcome: model.RunOutcome{Status: model.StatusSuccess},
		Inputs:  model.RunInputs{QuerySummary: query},
	}
}

func TestPatternKey_Deterministic(t *testing.T) {
	rec := cookingRecord("compare recipes for brownies", "compare")
	first := PatternKey(rec)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, PatternKey(rec))
	}
	assert.Regexp(t, regexp.MustCompile(`^cooking:compare:[0-9a-f]{16}$`), first)
}

func TestPatternKey_NormalizationEquivalence(t *testing.T) {
	want := PatternKey(cookingRecord("compare recipes for brownies", "compare"))
	assert.Equal(t, want, PatternKey(cookingRecord("which brownie recipe is better", "compare")))
	assert.Equal(t, want, PatternKey(cookingRecord("brownies recipe comparison", "compare")))
	assert.Equal(t, want, PatternKey(cookingRecord("Brownies recipe comparison", "comparison")))

	assert.NotEqual(t, want, PatternKey(cookingRecord("how to make cookies", "howto")))
}

func TestPatternKey_Sensitivity(t *testing.T) {
	base := cookingRecord("compare recipes for brownies", "compare")

	other := base
	other.Domain = "finance"
	assert.NotEqual(t, PatternKey(base), PatternKey(other))

	other = base
	other.Assessment.Stakes = model.BucketHigh
	assert.NotEqual(t, PatternKey(base), PatternKey(other))

	other = base
	other.Inputs.QuerySummary = "compare recipes for cookies"
	assert.NotEqual(t, PatternKey(base), PatternKey(other))
}

func TestNormalizeTaskType(t *testing.T) {
	tests := map[string]string{
		"compare":        "compare",
		"Comparison":     "compare",
		"recipe_compare": "compare",
		"how_to":         "howto",
		"tutorial":       "howto",
		"":               "general",
		"custom":         "custom",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeTaskType(in), in)
	}
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, []string{"browni", "recip"}, NormalizeQuery("Which brownie recipe is better?", "compare"))
	assert.Equal(t, []string{"better", "browni", "recip"}, NormalizeQuery("Which brownie recipe is better?", "question"))
	assert.Equal(t, []string{}, NormalizeQuery("the of and", "compare"))
}
