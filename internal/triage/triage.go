// Package triage expands an assessment into a ranked, dependency-aware plan.
package triage

import (
	"errors"
	"slices"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"github.com/rcliao/organism/internal/memory"
	"github.com/rcliao/organism/internal/model"
)

// ErrCyclicDependency is returned when the priority tasks depend on each
// other in a cycle.
var ErrCyclicDependency = errors.New("cyclic task dependency")

var (
	urgencyWeight = map[model.Urgency]int{
		model.UrgencyNow:   3,
		model.UrgencySoon:  2,
		model.UrgencyLater: 1,
	}
	stakesWeight = map[model.Stakes]int{
		model.StakesHigh:   3,
		model.StakesMedium: 2,
		model.StakesLow:    1,
	}
	difficultyPenalty = map[model.Difficulty]int{
		model.DifficultyEasy:     0,
		model.DifficultyModerate: 1,
		model.DifficultyHard:     2,
		model.DifficultyCritical: 3,
	}
	typeModifier = map[model.TaskType]int{
		model.TaskRetrieval:    3,
		model.TaskComputation:  2,
		model.TaskAnalysis:     2,
		model.TaskValidation:   1,
		model.TaskGeneration:   1,
		model.TaskStorage:      0,
		model.TaskGeneral:      0,
		model.TaskPresentation: -1,
	}

	// NoiseMarkers flag task actions that never make the plan.
	NoiseMarkers = []string{"filler", "flourish", "cosmetic", "decorative"}

	precisionTypes = map[model.TaskType]bool{
		model.TaskValidation:  true,
		model.TaskRetrieval:   true,
		model.TaskComputation: true,
	}
)

// Triager ranks template tasks for an assessment.
type Triager struct {
	templates map[model.InputType]Template
	logger    *zap.Logger
}

// New creates a Triager. Nil templates select DefaultTemplates.
func New(templates map[model.InputType]Template, logger *zap.Logger) *Triager {
	if templates == nil {
		templates = DefaultTemplates()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Triager{templates: templates, logger: logger.Named("triage")}
}

// ModeFor picks the triage mode for an assessment.
func ModeFor(a model.Assessment) model.Mode {
	if a.Precision == model.PrecisionStrict {
		return model.ModePrecision
	}
	return model.ModeHeuristic
}

// Score computes a task's priority score under an assessment.
func Score(t model.Task, a model.Assessment) int {
	score := urgencyWeight[a.Urgency] + stakesWeight[a.Stakes] + typeModifier[t.Type]
	if a.Urgency == model.UrgencyNow {
		score -= difficultyPenalty[a.Difficulty]
	}
	return score
}

// IsNoise reports whether an action name carries a noise marker.
func IsNoise(action string) bool {
	for _, m := range NoiseMarkers {
		if strings.Contains(action, m) {
			return true
		}
	}
	return false
}

// Triage builds the plan for one cycle. wm may be nil.
func (t *Triager) Triage(a model.Assessment, wm *memory.Working, mode model.Mode) (model.Triage, error) {
	tmpl, ok := t.templates[a.InputType]
	if !ok {
		tmpl = t.templates[model.InputConversation]
	}

	tasks := make([]model.Task, len(tmpl))
	for i, tk := range tmpl {
		tk.Dependencies = slices.Clone(tk.Dependencies)
		tk.Score = Score(tk, a)
		tk.Noise = IsNoise(tk.Action)
		tasks[i] = tk
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Score > tasks[j].Score })

	out := model.Triage{
		Mode:         mode,
		Priorities:   []model.Task{},
		Deferred:     []model.Task{},
		Discarded:    []model.Task{},
		Dependencies: []string{},
	}
	for _, tk := range tasks {
		switch {
		case tk.Noise || tk.Score <= 0:
			out.Discarded = append(out.Discarded, tk)
		case len(out.Priorities) < model.MaxPriorities:
			out.Priorities = append(out.Priorities, tk)
		default:
			out.Deferred = append(out.Deferred, tk)
		}
	}

	out.Priorities, out.Deferred = strip(out.Priorities, out.Deferred, a, wm, mode)

	ordered, err := order(out.Priorities)
	if err != nil {
		return out, err
	}
	out.Priorities = ordered

	for _, tk := range out.Priorities {
		for _, dep := range tk.Dependencies {
			if !slices.Contains(out.Dependencies, dep) {
				out.Dependencies = append(out.Dependencies, dep)
			}
		}
	}

	t.logger.Debug("triaged",
		zap.String("mode", string(mode)),
		zap.Int("priorities", len(out.Priorities)),
		zap.Int("deferred", len(out.Deferred)),
		zap.Int("discarded", len(out.Discarded)))
	return out, nil
}

// strip applies the mode's pruning. Stripped priorities move to the front
// of deferred and are not replaced.
func strip(priorities, deferred []model.Task, a model.Assessment, wm *memory.Working, mode model.Mode) ([]model.Task, []model.Task) {
	keep := func(tk model.Task) bool { return true }
	switch mode {
	case model.ModePrecision:
		keep = func(tk model.Task) bool { return precisionTypes[tk.Type] }
	case model.ModeHeuristic:
		if a.Stakes != model.StakesHigh && !hasUnvalidated(wm) {
			needed := requiredValidation(priorities)
			keep = func(tk model.Task) bool { return tk.Type != model.TaskValidation || needed[tk.Action] }
		}
	}

	var kept, stripped []model.Task
	for _, tk := range priorities {
		if keep(tk) {
			kept = append(kept, tk)
		} else {
			stripped = append(stripped, tk)
		}
	}
	if kept == nil {
		kept = []model.Task{}
	}
	return kept, append(stripped, deferred...)
}

// requiredValidation returns the validation priorities some other kept
// priority depends on, directly or through another required validation.
// Only validation nothing depends on is redundant.
func requiredValidation(priorities []model.Task) map[string]bool {
	validation := make(map[string]bool)
	for _, tk := range priorities {
		if tk.Type == model.TaskValidation {
			validation[tk.Action] = true
		}
	}
	needed := make(map[string]bool)
	for changed := true; changed; {
		changed = false
		for _, tk := range priorities {
			if tk.Type == model.TaskValidation && !needed[tk.Action] {
				continue
			}
			for _, dep := range tk.Dependencies {
				if validation[dep] && !needed[dep] {
					needed[dep] = true
					changed = true
				}
			}
		}
	}
	return needed
}

// hasUnvalidated reports whether there is something left for a validation
// step to check, which makes validation non-redundant.
func hasUnvalidated(wm *memory.Working) bool {
	if wm == nil {
		return false
	}
	for _, as := range wm.Assumptions() {
		if !as.Validated {
			return true
		}
	}
	return false
}

// order detects dependency cycles among tasks with a depth-first search and
// returns the tasks so that every dependency present in the set comes
// before its dependents. Otherwise the input order is preserved.
func order(tasks []model.Task) ([]model.Task, error) {
	byAction := make(map[string]model.Task, len(tasks))
	for _, tk := range tasks {
		byAction[tk.Action] = tk
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(tasks))
	var out []model.Task

	var visit func(action string, path []string) error
	visit = func(action string, path []string) error {
		switch state[action] {
		case visiting:
			return goerr.Wrap(ErrCyclicDependency, "triage",
				goerr.V("cycle", strings.Join(append(path, action), " -> ")))
		case done:
			return nil
		}
		state[action] = visiting
		tk := byAction[action]
		for _, dep := range tk.Dependencies {
			if _, ok := byAction[dep]; !ok {
				continue
			}
			if err := visit(dep, append(path, action)); err != nil {
				return err
			}
		}
		state[action] = done
		out = append(out, tk)
		return nil
	}

	for _, tk := range tasks {
		if err := visit(tk.Action, nil); err != nil {
			return nil, err
		}
	}
	if out == nil {
		out = []model.Task{}
	}
	return out, nil
}
