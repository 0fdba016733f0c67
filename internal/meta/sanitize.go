package meta

import (
	"strings"
	"time"

	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/textutil"
)

// Clamp ranges for run records.
const (
	maxTimeMs          int64 = int64(24 * time.Hour / time.Millisecond)
	maxStepCount             = 1000
	maxUserCorrections       = 100
	maxQuerySummary          = 200
)

// Sanitize clamps a record's numbers to sane ranges and normalizes its
// labels so the run log only ever holds well-formed records.
func Sanitize(rec model.RunRecord, now time.Time) model.RunRecord {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.Domain = NormalizeDomain(rec.Domain)
	rec.TaskType = strings.ToLower(strings.TrimSpace(rec.TaskType))
	if rec.TaskType == "" {
		rec.TaskType = DefaultTaskType
	}

	rec.Metrics.TimeMs = clamp(rec.Metrics.TimeMs, 0, maxTimeMs)
	rec.Metrics.StepCount = clamp(rec.Metrics.StepCount, 0, maxStepCount)
	rec.Outcome.UserCorrections = clamp(rec.Outcome.UserCorrections, 0, maxUserCorrections)
	if !rec.Metrics.LookupUsed {
		rec.Metrics.LookupChanged = false
	}

	switch strings.ToLower(strings.TrimSpace(rec.Outcome.Status)) {
	case model.StatusSuccess:
		rec.Outcome.Status = model.StatusSuccess
	case model.StatusPartial:
		rec.Outcome.Status = model.StatusPartial
	default:
		rec.Outcome.Status = model.StatusFailure
	}

	rec.Assessment = sanitizeBuckets(rec.Assessment)
	rec.Inputs.QuerySummary = textutil.Truncate(rec.Inputs.QuerySummary, maxQuerySummary)
	return rec
}

func sanitizeBuckets(b model.BucketedAssessment) model.BucketedAssessment {
	fix := func(v model.Bucket) model.Bucket {
		switch v {
		case model.BucketLow, model.BucketMed, model.BucketHigh:
			return v
		}
		return model.BucketLow
	}
	return model.BucketedAssessment{
		Urgency:    fix(b.Urgency),
		Stakes:     fix(b.Stakes),
		Difficulty: fix(b.Difficulty),
	}
}

func clamp[T int | int64 | float64](v, lo, hi T) T {
	return min(max(v, lo), hi)
}
