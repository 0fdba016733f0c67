package meta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rcliao/organism/internal/model"
)

func TestSanitize(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Sanitize(model.RunRecord{
		Domain:     "  Cooking ",
		TaskType:   "",
		Assessment: model.BucketedAssessment{Urgency: "extreme", Stakes: model.BucketHigh},
		Metrics: model.RunMetrics{
			TimeMs:        -5,
			StepCount:     5000,
			LookupChanged: true,
		},
		Outcome: model.RunOutcome{Status: "SUCCESS", UserCorrections: -1},
	}, now)

	assert.Equal(t, now, rec.Timestamp)
	assert.Equal(t, "cooking", rec.Domain)
	assert.Equal(t, "general", rec.TaskType)
	assert.Equal(t, int64(0), rec.Metrics.TimeMs)
	assert.Equal(t, 1000, rec.Metrics.StepCount)
	assert.False(t, rec.Metrics.LookupChanged)
	assert.Equal(t, model.StatusSuccess, rec.Outcome.Status)
	assert.Equal(t, 0, rec.Outcome.UserCorrections)
	assert.Equal(t, model.BucketLow, rec.Assessment.Urgency)
	assert.Equal(t, model.BucketHigh, rec.Assessment.Stakes)
	assert.Equal(t, model.BucketLow, rec.Assessment.Difficulty)

	assert.Equal(t, model.StatusFailure, Sanitize(model.RunRecord{Outcome: model.RunOutcome{Status: "weird"}}, now).Outcome.Status)
	assert.Equal(t, maxTimeMs, Sanitize(model.RunRecord{Metrics: model.RunMetrics{TimeMs: 1 << 50}}, now).Metrics.TimeMs)
}
