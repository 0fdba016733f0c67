package model

import "time"

// Outcome statuses recorded in run records.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailure = "failure"
)

// RunRecord is one completed cycle as appended to the run log.
type RunRecord struct {
	Timestamp  time.Time          `json:"timestamp"`
	SessionID  string             `json:"sessionId,omitempty"`
	Domain     string             `json:"domain"`
	TaskType   string             `json:"taskType"`
	PatternKey string             `json:"patternKey,omitempty"`
	Assessment BucketedAssessment `json:"assessment"`
	Metrics    RunMetrics         `json:"metrics"`
	Outcome    RunOutcome         `json:"outcome"`
	Inputs     RunInputs          `json:"inputs"`
	Steps      []string           `json:"steps,omitempty"`
}

// RunMetrics are the measured costs of a cycle.
type RunMetrics struct {
	TimeMs         int64 `json:"timeMs"`
	StepCount      int   `json:"stepCount"`
	LookupUsed     bool  `json:"lookupUsed"`
	LookupChanged  bool  `json:"lookupChanged"`
	ResetTriggered bool  `json:"resetTriggered"`
}

// RunOutcome is how the cycle ended.
type RunOutcome struct {
	Status          string `json:"status"`
	UserCorrections int    `json:"userCorrections"`
}

// RunInputs keeps a bounded summary of the request.
type RunInputs struct {
	QuerySummary string `json:"querySummary"`
}

// Succeeded reports whether the record counts toward pattern promotion.
func (r RunRecord) Succeeded() bool {
	return r.Outcome.Status == StatusSuccess
}

// StepObservation is what the executor learned about one step in a cycle.
type StepObservation struct {
	Step           string `json:"step"`
	ChangedOutcome bool   `json:"changedOutcome"`
	ElapsedMs      int64  `json:"elapsedMs"`
	Skipped        bool   `json:"skipped"`
}

// StepStats is the learned value and cost of one named step.
type StepStats struct {
	Value           float64 `json:"value"`
	CostMs          float64 `json:"costMs"`
	LowStreak       int     `json:"lowStreak"`
	PriorityReduced bool    `json:"priorityReduced"`
	Observations    int     `json:"observations"`
}
