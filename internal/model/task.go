package model

import "time"

// TaskType routes a task to a handler family in the executor.
type TaskType string

const (
	TaskRetrieval    TaskType = "retrieval"
	TaskAnalysis     TaskType = "analysis"
	TaskValidation   TaskType = "validation"
	TaskStorage      TaskType = "storage"
	TaskComputation  TaskType = "computation"
	TaskGeneration   TaskType = "generation"
	TaskPresentation TaskType = "presentation"
	TaskGeneral      TaskType = "general"
)

// Task is one step of a triaged plan. Dependencies name other tasks by action.
type Task struct {
	Action       string   `json:"action"`
	Type         TaskType `json:"type"`
	Score        int      `json:"score"`
	Dependencies []string `json:"dependencies"`
	Noise        bool     `json:"noise,omitempty"`
}

// Mode selects how aggressively triage prunes priorities.
type Mode string

const (
	ModePrecision Mode = "PRECISION"
	ModeHeuristic Mode = "HEURISTIC"
)

// MaxPriorities bounds Triage.Priorities.
const MaxPriorities = 3

// Triage is the ranked plan for one cycle. It is recomputed every cycle.
type Triage struct {
	Mode         Mode     `json:"mode"`
	Priorities   []Task   `json:"priorities"`
	Deferred     []Task   `json:"deferred"`
	Discarded    []Task   `json:"discarded"`
	Dependencies []string `json:"dependencies"`
}

// TaskBudget is the time and iteration allowance for one priority task.
// The executor fills in the timestamps and the exceeded flag.
type TaskBudget struct {
	Task          string     `json:"task"`
	Type          TaskType   `json:"type"`
	MaxTimeMs     int64      `json:"maxTimeMs"`
	MaxIterations int        `json:"maxIterations"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Exceeded      bool       `json:"exceeded"`
}

// EmergencyAction is a precomputed, reversible fallback.
type EmergencyAction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Reversible  bool   `json:"reversible"`
}
