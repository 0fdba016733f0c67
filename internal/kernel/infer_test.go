package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcliao/organism/internal/model"
)

func TestInferDomain(t *testing.T) {
	tests := []struct {
		input string
		ctx   map[string]any
		want  string
	}{
		{"compare brownie recipes", nil, "cooking"},
		{"the api server returns 500", nil, "software"},
		{"how much tax do I owe", nil, "finance"},
		{"how much sleep do I need", nil, "health"},
		{"hello there", nil, DefaultDomain},
		{"compare brownie recipes", map[string]any{"domain": "Baking"}, "baking"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, InferDomain(tt.input, tt.ctx))
		})
	}
}

func TestInferTaskType(t *testing.T) {
	assert.Equal(t, "compare", InferTaskType("compare recipes", model.InputRecipeCompare, nil))
	assert.Equal(t, "howto", InferTaskType("how to make cookies", model.InputQuestion, nil))
	assert.Equal(t, "question", InferTaskType("what is sourdough?", model.InputQuestion, nil))
	assert.Equal(t, "troubleshoot", InferTaskType("it crashed", model.InputErrorReport, nil))
	assert.Equal(t, "general", InferTaskType("x", model.InputType("unknown"), nil))
	assert.Equal(t, "custom", InferTaskType("x", model.InputQuestion, map[string]any{"taskType": "custom"}))
}

func TestIsCorrection(t *testing.T) {
	assert.True(t, isCorrection("Actually, make it four servings"))
	assert.True(t, isCorrection("update: the oven is broken"))
	assert.False(t, isCorrection("what is the update schedule"))
}
