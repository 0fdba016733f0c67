// Package budget converts a triaged plan into per-task time and iteration
// allowances and picks the fallback action used when they run out.
package budget

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/similarity"
)

// Governor defaults.
const (
	DefaultBudgetMs       int64 = 30000
	MaxIterations               = 5
	IterativeIterations         = 5
	MinDifference               = 0.10
	TightThresholdMs      int64 = 2000
	strictFactor                = 0.8
	familiarFactor              = 0.75
	nowTaskFactor               = 0.6
	priorityShare               = 3
)

var (
	urgencyMultiplier = map[model.Urgency]float64{
		model.UrgencyNow:   0.5,
		model.UrgencySoon:  1.0,
		model.UrgencyLater: 1.5,
	}
	difficultyMultiplier = map[model.Difficulty]float64{
		model.DifficultyEasy:     0.5,
		model.DifficultyModerate: 1.0,
		model.DifficultyHard:     1.5,
		model.DifficultyCritical: 2.0,
	}
	typeMultiplier = map[model.TaskType]float64{
		model.TaskRetrieval:    1.2,
		model.TaskAnalysis:     1.5,
		model.TaskValidation:   0.8,
		model.TaskStorage:      0.5,
		model.TaskComputation:  1.0,
		model.TaskGeneration:   1.3,
		model.TaskPresentation: 0.7,
		model.TaskGeneral:      1.0,
	}

	iterativeKeywords = []string{"search", "analyze", "compare", "find", "gather"}

	emergencyActions = map[model.InputType]model.EmergencyAction{
		model.InputRecipeCompare: {Name: "return_partial_results", Description: "Return the recipes gathered so far with whatever comparison is complete."},
		model.InputQuestion:      {Name: "return_best_known_answer", Description: "Answer from what is already known and say it may be incomplete."},
		model.InputCommand:       {Name: "defer_and_acknowledge", Description: "Acknowledge the command and defer execution."},
		model.InputErrorReport:   {Name: "log_and_escalate", Description: "Record the error and escalate it for follow-up."},
		model.InputDataRequest:   {Name: "return_cached_data", Description: "Return previously stored records."},
		model.InputCreative:      {Name: "return_outline_only", Description: "Return the outline without a polished draft."},
		model.InputPlanning:      {Name: "return_top_priority_only", Description: "Return only the first step of the plan."},
		model.InputConversation:  {Name: "acknowledge_and_ask_clarification", Description: "Acknowledge and ask a clarifying question."},
	}
	defaultEmergency = model.EmergencyAction{Name: "return_partial_results", Description: "Return whatever results are complete."}
)

// Plan is the budget for one cycle.
type Plan struct {
	TotalMs   int64                 `json:"totalMs"`
	Tasks     []model.TaskBudget    `json:"tasks"`
	Emergency model.EmergencyAction `json:"emergencyAction"`
}

// For returns the budget for a task, or nil.
func (p *Plan) For(action string) *model.TaskBudget {
	for i := range p.Tasks {
		if p.Tasks[i].Task == action {
			return &p.Tasks[i]
		}
	}
	return nil
}

// Tight reports whether a task's budget leaves no room for optional work:
// under TightThresholdMs, or below the step's estimated cost.
func (p *Plan) Tight(action string, estimatedCostMs float64) bool {
	b := p.For(action)
	if b == nil {
		return true
	}
	if b.MaxTimeMs < TightThresholdMs {
		return true
	}
	return estimatedCostMs > 0 && float64(b.MaxTimeMs) < estimatedCostMs
}

// Governor allocates budgets.
type Governor struct {
	defaultMs int64
	logger    *zap.Logger
}

// New creates a Governor. A non-positive default selects DefaultBudgetMs.
func New(defaultMs int64, logger *zap.Logger) *Governor {
	if defaultMs <= 0 {
		defaultMs = DefaultBudgetMs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{defaultMs: defaultMs, logger: logger.Named("budget")}
}

// Allocate computes budgets for the triage priorities. The emergency action
// is chosen here so a timeout never needs further computation.
func (g *Governor) Allocate(t model.Triage, a model.Assessment) Plan {
	total := float64(g.defaultMs) * mult(urgencyMultiplier, a.Urgency) * mult(difficultyMultiplier, a.Difficulty)
	if a.Precision == model.PrecisionStrict {
		total *= strictFactor
	}
	if a.Familiar {
		total *= familiarFactor
	}

	plan := Plan{
		TotalMs:   int64(math.Round(total)),
		Tasks:     make([]model.TaskBudget, 0, len(t.Priorities)),
		Emergency: EmergencyFor(a.InputType),
	}
	base := total / priorityShare
	for _, tk := range t.Priorities {
		ms := base * mult(typeMultiplier, tk.Type)
		if a.Urgency == model.UrgencyNow {
			ms *= nowTaskFactor
		}
		plan.Tasks = append(plan.Tasks, model.TaskBudget{
			Task:          tk.Action,
			Type:          tk.Type,
			MaxTimeMs:     int64(math.Round(ms)),
			MaxIterations: IterationsFor(tk.Action),
		})
	}

	g.logger.Debug("allocated",
		zap.Int64("totalMs", plan.TotalMs),
		zap.Int("tasks", len(plan.Tasks)),
		zap.String("emergency", plan.Emergency.Name))
	return plan
}

func mult[K comparable](m map[K]float64, k K) float64 {
	if v, ok := m[k]; ok {
		return v
	}
	return 1.0
}

// IterationsFor returns the iteration allowance for an action name.
func IterationsFor(action string) int {
	for _, kw := range iterativeKeywords {
		if strings.Contains(action, kw) {
			return IterativeIterations
		}
	}
	return 1
}

// EmergencyFor returns the fallback action for an input type. Every
// fallback is reversible.
func EmergencyFor(t model.InputType) model.EmergencyAction {
	e, ok := emergencyActions[t]
	if !ok {
		e = defaultEmergency
	}
	e.Reversible = true
	return e
}

// ShouldContinue is the marginal-value stopping rule for iterative loops:
// keep going while under the iteration cap and the last two results
// differ by more than MinDifference.
func ShouldContinue(iteration int, prev, cur map[string]any) bool {
	if iteration >= MaxIterations {
		return false
	}
	return similarity.FieldDifference(prev, cur) > MinDifference
}
