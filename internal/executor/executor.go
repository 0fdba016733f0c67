// Package executor runs the triaged priorities of one cycle against their
// budgets, in order, one at a time.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/organism/internal/budget"
	"github.com/rcliao/organism/internal/memory"
	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/similarity"
	"github.com/rcliao/organism/internal/store"
	"github.com/rcliao/organism/internal/textutil"
)

// LowValue is the step value below which the skip policy may drop a step.
const LowValue = 0.3

// Policy is the learned policy the executor consults. Read errors are
// treated as "no policy".
type Policy interface {
	StepStats(ctx context.Context, step string) (model.StepStats, bool, error)
	LookupBias(ctx context.Context, domain, taskType string) (float64, error)
}

// TaskResult is the outcome of one priority task.
type TaskResult struct {
	Action     string         `json:"action"`
	Type       model.TaskType `json:"type"`
	Success    bool           `json:"success"`
	Skipped    bool           `json:"skipped,omitempty"`
	SkipReason string         `json:"skipReason,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Error      string         `json:"error,omitempty"`
	ElapsedMs  int64          `json:"elapsedMs"`
	Exceeded   bool           `json:"exceeded,omitempty"`
	Iterations int            `json:"iterations,omitempty"`
	Changed    bool           `json:"changed"`
}

// Cycle is everything the executor needs for one pass.
type Cycle struct {
	Input      string
	Domain     string
	TaskType   string
	Assessment model.Assessment
	Triage     model.Triage
	Plan       *budget.Plan
}

// Outcome is the result of running a cycle.
type Outcome struct {
	Success       bool                    `json:"success"`
	Tasks         []TaskResult            `json:"tasks"`
	Completed     []string                `json:"completed"`
	Summary       string                  `json:"summary"`
	LookupUsed    bool                    `json:"lookupUsed"`
	LookupChanged bool                    `json:"lookupChanged"`
	Observations  []model.StepObservation `json:"-"`
}

// Deps are the executor's collaborators. Policy and Embedder may be nil.
type Deps struct {
	Working  *memory.Working
	LongTerm store.Store
	Policy   Policy
	Embedder similarity.Embedder
	Logger   *zap.Logger
}

// Executor dispatches tasks to handler families by task type.
type Executor struct {
	deps     Deps
	handlers map[model.TaskType]Handler
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an Executor with the default handler families.
func New(deps Deps) *Executor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Embedder == nil {
		deps.Embedder = similarity.NewTermEmbedder(0)
	}
	return &Executor{
		deps:     deps,
		handlers: DefaultHandlers(),
		logger:   deps.Logger.Named("executor"),
		now:      time.Now,
	}
}

// Handle replaces the handler for a task type.
func (e *Executor) Handle(t model.TaskType, h Handler) {
	e.handlers[t] = h
}

// Run executes the priorities in triage order. A task runs only once all
// its dependencies have completed in this cycle. Handler failures and
// panics are recorded on the task and never abort the cycle.
func (e *Executor) Run(ctx context.Context, c Cycle) *Outcome {
	out := &Outcome{Tasks: []TaskResult{}, Completed: []string{}}
	bias := e.lookupBias(ctx, c)

	for _, tk := range c.Triage.Priorities {
		if err := ctx.Err(); err != nil {
			out.Tasks = append(out.Tasks, TaskResult{
				Action: tk.Action, Type: tk.Type, Skipped: true, SkipReason: "cancelled", Error: err.Error(),
			})
			continue
		}

		if missing := unmet(tk, out.Completed); len(missing) > 0 {
			out.Tasks = append(out.Tasks, TaskResult{
				Action:     tk.Action,
				Type:       tk.Type,
				Skipped:    true,
				SkipReason: "unmet dependencies: " + strings.Join(missing, ", "),
			})
			continue
		}

		if reason, skip := e.policySkip(ctx, tk, c); skip {
			e.logger.Info("skipping low-value step", zap.String("task", tk.Action), zap.String("reason", reason))
			out.Tasks = append(out.Tasks, TaskResult{Action: tk.Action, Type: tk.Type, Skipped: true, SkipReason: reason})
			out.Completed = append(out.Completed, tk.Action)
			out.Observations = append(out.Observations, model.StepObservation{Step: tk.Action, Skipped: true})
			continue
		}

		res := e.runTask(ctx, tk, c, bias, out.Tasks)
		out.Tasks = append(out.Tasks, res)
		out.Observations = append(out.Observations, model.StepObservation{
			Step:           tk.Action,
			ChangedOutcome: res.Changed,
			ElapsedMs:      res.ElapsedMs,
		})
		if e.deps.Working != nil {
			e.deps.Working.RecordHistory(tk.Action, historyResult(res), res.Success)
		}
		if res.Success {
			out.Completed = append(out.Completed, tk.Action)
			out.Success = true
		}
		if tk.Type == model.TaskRetrieval && res.Success {
			out.LookupUsed = true
			out.LookupChanged = out.LookupChanged || res.Changed
		}
	}

	out.Summary = summarize(out.Tasks)
	return out
}

func unmet(tk model.Task, completed []string) []string {
	var missing []string
	for _, dep := range tk.Dependencies {
		if !slices.Contains(completed, dep) {
			missing = append(missing, dep)
		}
	}
	return missing
}

func (e *Executor) lookupBias(ctx context.Context, c Cycle) float64 {
	if e.deps.Policy == nil {
		return 0
	}
	bias, err := e.deps.Policy.LookupBias(ctx, c.Domain, c.TaskType)
	if err != nil {
		e.logger.Warn("lookup bias unavailable, using none", zap.Error(err))
		return 0
	}
	return bias
}

// policySkip decides whether to drop a step. It never skips under high
// stakes, and only skips steps whose priority was reduced and whose value
// is low, when the budget is tight or the stakes are low.
func (e *Executor) policySkip(ctx context.Context, tk model.Task, c Cycle) (string, bool) {
	if e.deps.Policy == nil || c.Assessment.Stakes == model.StakesHigh {
		return "", false
	}
	st, ok, err := e.deps.Policy.StepStats(ctx, tk.Action)
	if err != nil {
		e.logger.Warn("step policy unavailable, not skipping", zap.String("task", tk.Action), zap.Error(err))
		return "", false
	}
	if !ok || !st.PriorityReduced || st.Value >= LowValue {
		return "", false
	}
	tight := c.Plan == nil || c.Plan.Tight(tk.Action, st.CostMs)
	if !tight && c.Assessment.Stakes != model.StakesLow {
		return "", false
	}
	return fmt.Sprintf("low value %.2f (tight=%t, stakes=%s)", st.Value, tight, c.Assessment.Stakes), true
}

func (e *Executor) runTask(ctx context.Context, tk model.Task, c Cycle, bias float64, prior []TaskResult) (res TaskResult) {
	res = TaskResult{Action: tk.Action, Type: tk.Type}

	var b *model.TaskBudget
	if c.Plan != nil {
		b = c.Plan.For(tk.Action)
	}
	maxIter := 1
	if b != nil {
		maxIter = max(b.MaxIterations, 1)
	}

	h, ok := e.handlers[tk.Type]
	if !ok {
		h = e.handlers[model.TaskGeneral]
	}

	start := e.now()
	if b != nil {
		started := start.UTC()
		b.StartedAt = &started
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked",
				zap.String("task", tk.Action),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res.Success = false
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		end := e.now()
		res.ElapsedMs = end.Sub(start).Milliseconds()
		if b != nil {
			done := end.UTC()
			b.CompletedAt = &done
			b.Exceeded = res.ElapsedMs > b.MaxTimeMs
			res.Exceeded = b.Exceeded
		}
		if res.Exceeded {
			e.logger.Warn("task exceeded budget",
				zap.String("task", tk.Action),
				zap.Int64("elapsedMs", res.ElapsedMs),
				zap.Int64("maxTimeMs", b.MaxTimeMs))
		}
	}()

	call := &Call{
		Task:          tk,
		Input:         c.Input,
		Domain:        c.Domain,
		Assessment:    c.Assessment,
		MaxIterations: maxIter,
		LookupBias:    bias,
		Working:       e.deps.Working,
		LongTerm:      e.deps.LongTerm,
		Embedder:      e.deps.Embedder,
		Prior:         prior,
	}
	o, err := h(ctx, call)
	if err != nil {
		e.logger.Warn("task failed", zap.String("task", tk.Action), zap.Error(err))
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Output = o.Data
	res.Summary = o.Summary
	res.Changed = o.Changed
	res.Iterations = max(o.Iterations, 1)
	return res
}

func historyResult(res TaskResult) string {
	if res.Error != "" {
		return "error: " + res.Error
	}
	return res.Summary
}

// summarize prefers the last presentation output, then joins whatever the
// successful tasks produced.
func summarize(tasks []TaskResult) string {
	for i := len(tasks) - 1; i >= 0; i-- {
		if tasks[i].Type == model.TaskPresentation && tasks[i].Success && tasks[i].Summary != "" {
			return tasks[i].Summary
		}
	}
	var parts []string
	for _, t := range tasks {
		if t.Success && t.Summary != "" {
			parts = append(parts, t.Summary)
		}
	}
	return textutil.Truncate(strings.Join(parts, " "), 2000)
}
