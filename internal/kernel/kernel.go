// Package kernel runs the cycle: capture, assess, reset check, triage,
// budget, execute, remember and record.
package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rcliao/organism/internal/assess"
	"github.com/rcliao/organism/internal/budget"
	"github.com/rcliao/organism/internal/executor"
	"github.com/rcliao/organism/internal/memory"
	"github.com/rcliao/organism/internal/meta"
	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/reset"
	"github.com/rcliao/organism/internal/store"
	"github.com/rcliao/organism/internal/textutil"
	"github.com/rcliao/organism/internal/triage"
)

// ErrBusy is returned when a call gives up waiting for the kernel.
var ErrBusy = errors.New("kernel is busy")

// Learner is the Meta-Loop as the kernel sees it.
type Learner interface {
	executor.Policy
	Match(ctx context.Context, rec model.RunRecord) (*model.PlaybookMatch, error)
	Record(ctx context.Context, rec model.RunRecord, steps []model.StepObservation) (*meta.RecordResult, error)
}

var _ Learner = (*meta.Loop)(nil)

// Resetter decides whether a cycle must start over.
type Resetter interface {
	Evaluate(ctx context.Context, wm *memory.Working, now time.Time) reset.Decision
}

// Request carries the caller's context for one call. Recognised keys:
// domain, taskType, newInfo (bool), corrections (number).
type Request struct {
	Context map[string]any
}

// Result is the structured outcome of one call.
type Result struct {
	Success         bool                  `json:"success"`
	Result          string                `json:"result,omitempty"`
	Assessment      *model.Assessment     `json:"assessment,omitempty"`
	Triage          *model.Triage         `json:"triage,omitempty"`
	Budget          *budget.Plan          `json:"budget,omitempty"`
	Tasks           []executor.TaskResult `json:"tasks,omitempty"`
	ElapsedMs       int64                 `json:"elapsedMs"`
	CycleCount      int                   `json:"cycleCount"`
	SessionID       string                `json:"sessionId"`
	ResetTriggered  bool                  `json:"resetTriggered"`
	ResetSuppressed bool                  `json:"resetSuppressed,omitempty"`
	Playbook        *model.PlaybookMatch  `json:"playbook,omitempty"`
	Draft           *model.PlaybookDraft  `json:"draft,omitempty"`
	Error           string                `json:"error,omitempty"`
}

// Deps are the kernel's collaborators. Nil fields get in-memory defaults;
// a nil Meta disables learning.
type Deps struct {
	Stream   *memory.Stream
	Working  *memory.Working
	LongTerm store.Store
	Meta     Learner
	Assessor *assess.Assessor
	Triager  *triage.Triager
	Governor *budget.Governor
	Reset    Resetter
	Executor *executor.Executor
	Logger   *zap.Logger
}

// Options tune the kernel. Zero values select the defaults.
type Options struct {
	ArchiveAfter time.Duration
	ArchiveEvery time.Duration
	Now          func() time.Time
}

// Kernel defaults.
const (
	DefaultArchiveAfter = 30 * 24 * time.Hour
	DefaultArchiveEvery = time.Hour
)

// Kernel processes one request at a time.
type Kernel struct {
	deps    Deps
	opts    Options
	sem     *semaphore.Weighted
	session string
	logger  *zap.Logger

	mu          sync.Mutex
	cycles      int
	lastArchive time.Time
}

// New wires a Kernel.
func New(deps Deps, opts Options) *Kernel {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	logger := deps.Logger
	if deps.Stream == nil {
		deps.Stream = memory.NewStream(0, 0)
	}
	if deps.Working == nil {
		deps.Working = memory.NewWorking(0, 0)
	}
	if deps.LongTerm == nil {
		deps.LongTerm = store.NewMemoryStore()
	}
	if deps.Assessor == nil {
		deps.Assessor = assess.New(nil, logger)
	}
	if deps.Triager == nil {
		deps.Triager = triage.New(nil, logger)
	}
	if deps.Governor == nil {
		deps.Governor = budget.New(0, logger)
	}
	if deps.Reset == nil {
		deps.Reset = reset.New(0, 0, nil, logger)
	}
	if deps.Executor == nil {
		ed := executor.Deps{Working: deps.Working, LongTerm: deps.LongTerm, Logger: logger}
		if deps.Meta != nil {
			ed.Policy = deps.Meta
		}
		deps.Executor = executor.New(ed)
	}
	if opts.ArchiveAfter <= 0 {
		opts.ArchiveAfter = DefaultArchiveAfter
	}
	if opts.ArchiveEvery <= 0 {
		opts.ArchiveEvery = DefaultArchiveEvery
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Kernel{
		deps:    deps,
		opts:    opts,
		sem:     semaphore.NewWeighted(1),
		session: uuid.NewString(),
		logger:  logger.Named("kernel"),
	}
}

// SessionID identifies this kernel's session in results and run records.
func (k *Kernel) SessionID() string { return k.session }

// Working exposes Working Memory, mainly for inspection.
func (k *Kernel) Working() *memory.Working { return k.deps.Working }

// MarkNewInfo records that new information arrived outside a request.
func (k *Kernel) MarkNewInfo() { k.deps.Working.MarkNewInfo() }

// Process runs one request through the cycle. Calls are serialized; a call
// whose ctx ends while waiting returns ErrBusy in the result. Process never
// panics and always returns a well-formed result.
func (k *Kernel) Process(ctx context.Context, input string, req Request) (res Result) {
	start := time.Now()
	res.SessionID = k.session

	if err := k.sem.Acquire(ctx, 1); err != nil {
		res.Error = goerr.Wrap(ErrBusy, "acquire kernel", goerr.V("cause", err.Error())).Error()
		res.ElapsedMs = time.Since(start).Milliseconds()
		return res
	}
	defer k.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("cycle panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res = Result{
				Success:    false,
				Error:      fmt.Sprintf("panic: %v", r),
				SessionID:  k.session,
				CycleCount: k.cycleCount(),
			}
		}
		res.ElapsedMs = time.Since(start).Milliseconds()
	}()

	if req.Context == nil {
		req.Context = map[string]any{}
	}
	now := k.opts.Now()
	entry := k.deps.Stream.Append(input, req.Context)
	if boolFrom(req.Context, "newInfo") || isCorrection(input) {
		k.deps.Working.MarkNewInfo()
	}
	if n := k.deps.Working.Decay(now); n > 0 {
		k.logger.Debug("working memory decayed", zap.Int("dropped", n))
	}
	k.maybeArchive(ctx, now)

	if err := k.cycle(ctx, entry, req, start, false, &res); err != nil {
		k.logger.Error("cycle failed", zap.Error(err))
		res.Success = false
		res.Error = err.Error()
	}
	return res
}

func (k *Kernel) cycleCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cycles
}

func (k *Kernel) nextCycle() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cycles++
	return k.cycles
}

func (k *Kernel) cycle(ctx context.Context, entry model.StreamEntry, req Request, start time.Time, retried bool, res *Result) error {
	res.CycleCount = k.nextCycle()
	wm := k.deps.Working
	input := entry.RawInput

	a := k.deps.Assessor.Assess(ctx, entry, assess.Tiers{
		Stream:   k.deps.Stream,
		Working:  wm,
		LongTerm: k.deps.LongTerm,
	})
	res.Assessment = &a

	if d := k.deps.Reset.Evaluate(ctx, wm, k.opts.Now()); d.Triggered() {
		if !retried {
			k.logger.Info("reset triggered", zap.Strings("reasons", d.Reasons))
			k.reset(ctx, d)
			res.ResetTriggered = true
			return k.cycle(ctx, entry, req, start, true, res)
		}
		k.logger.Warn("reset condition on retried pass, continuing", zap.Strings("reasons", d.Reasons))
		res.ResetSuppressed = true
	}

	tri, err := k.deps.Triager.Triage(a, wm, triage.ModeFor(a))
	if err != nil {
		return goerr.Wrap(err, "triage", goerr.V("inputType", a.InputType))
	}
	res.Triage = &tri

	plan := k.deps.Governor.Allocate(tri, a)
	res.Budget = &plan

	current := string(a.InputType)
	if len(tri.Priorities) > 0 {
		current = tri.Priorities[0].Action
	}
	wm.SetCurrentTask(current, a.Urgency)
	wm.TouchPlan()

	domain := InferDomain(input, req.Context)
	taskType := InferTaskType(input, a.InputType, req.Context)
	rec := model.RunRecord{
		SessionID:  k.session,
		Domain:     domain,
		TaskType:   taskType,
		Assessment: a.Buckets(),
		Inputs:     model.RunInputs{QuerySummary: input},
	}

	var match *model.PlaybookMatch
	if k.deps.Meta != nil {
		match, err = k.deps.Meta.Match(ctx, rec)
		if err != nil {
			k.logger.Warn("playbook match failed", zap.Error(err))
			match = nil
		}
	}
	res.Playbook = match

	out := k.deps.Executor.Run(ctx, executor.Cycle{
		Input:      input,
		Domain:     domain,
		TaskType:   taskType,
		Assessment: a,
		Triage:     tri,
		Plan:       &plan,
	})
	res.Tasks = out.Tasks
	res.Success = out.Success
	res.Result = compose(out.Summary, match)

	k.remember(ctx, a, domain, input)

	if k.deps.Meta != nil {
		rec.Timestamp = k.opts.Now()
		rec.Metrics = model.RunMetrics{
			TimeMs:         time.Since(start).Milliseconds(),
			StepCount:      len(out.Tasks),
			LookupUsed:     out.LookupUsed,
			LookupChanged:  out.LookupChanged,
			ResetTriggered: res.ResetTriggered,
		}
		corrections := intFrom(req.Context, "corrections")
		if corrections == 0 && isCorrection(input) {
			corrections = 1
		}
		rec.Outcome = model.RunOutcome{Status: status(out), UserCorrections: corrections}
		rec.Steps = out.Completed
		rr, err := k.deps.Meta.Record(ctx, rec, out.Observations)
		if err != nil {
			k.logger.Warn("recording run failed", zap.Error(err))
		} else if rr != nil {
			res.Draft = rr.Draft
		}
	}

	k.logger.Info("cycle complete",
		zap.Int("cycle", res.CycleCount),
		zap.String("inputType", string(a.InputType)),
		zap.Bool("success", res.Success),
		zap.Int("tasks", len(out.Tasks)))
	return nil
}

func status(out *executor.Outcome) string {
	if !out.Success {
		return model.StatusFailure
	}
	for _, t := range out.Tasks {
		if !t.Success && !t.Skipped {
			return model.StatusPartial
		}
	}
	return model.StatusSuccess
}

// compose applies playbook hints to the executor's summary.
func compose(summary string, match *model.PlaybookMatch) string {
	if match == nil {
		return summary
	}
	var b strings.Builder
	if match.Hints.Prefix != "" {
		b.WriteString(match.Hints.Prefix)
		b.WriteString(" ")
	}
	b.WriteString(summary)
	if len(match.Hints.Outline) > 0 {
		b.WriteString("\nOutline: ")
		b.WriteString(strings.Join(match.Hints.Outline, " > "))
	}
	return b.String()
}

// remember records the cycle's intent in Working Memory and promotes
// beliefs that have been reinforced often enough.
func (k *Kernel) remember(ctx context.Context, a model.Assessment, domain, input string) {
	wm := k.deps.Working
	terms := textutil.Longest(textutil.Dedup(textutil.ContentTokens(input)), 3)
	if len(terms) > 0 {
		wm.Set(fmt.Sprintf("intent:%s:%s:%s", domain, a.InputType, strings.Join(terms, "-")), textutil.Truncate(input, 200))
	}
	promoted, err := memory.Promote(ctx, wm, k.deps.LongTerm)
	if err != nil {
		k.logger.Warn("promotion failed", zap.Error(err))
	}
	if len(promoted) > 0 {
		k.logger.Info("promoted to long-term memory", zap.Strings("keys", promoted))
	}
}

// reset snapshots Working Memory into Long-Term, stores each learning linked
// to the snapshot, then clears Working Memory and collapses the stream.
// Long-Term failures are logged; the clear always happens.
func (k *Kernel) reset(ctx context.Context, d reset.Decision) {
	wm := k.deps.Working
	snap := wm.Snapshot()
	learnings := reset.Learnings(snap)
	defer func() {
		wm.Clear()
		k.deps.Stream.Collapse()
	}()

	payload, err := json.Marshal(map[string]any{"reasons": d.Reasons, "working": snap, "learnings": learnings})
	if err != nil {
		k.logger.Warn("encoding reset snapshot failed", zap.Error(err))
		return
	}
	now := k.opts.Now()
	snapEntry, err := k.deps.LongTerm.Put(ctx, store.PutParams{
		Type:    model.EntryTypeResetSnapshot,
		Key:     fmt.Sprintf("reset:%s:%s", k.session, now.Format(time.RFC3339Nano)),
		Payload: string(payload),
	})
	if err != nil {
		k.logger.Warn("storing reset snapshot failed", zap.Error(err))
		return
	}
	for _, l := range learnings {
		le, err := k.deps.LongTerm.Put(ctx, store.PutParams{
			Type:    model.EntryTypeLearning,
			Key:     l,
			Payload: l,
			Tags:    []string{"reset"},
		})
		if err != nil {
			k.logger.Warn("storing learning failed", zap.String("learning", l), zap.Error(err))
			continue
		}
		if _, err := k.deps.LongTerm.Link(ctx, store.LinkParams{FromID: le.ID, ToID: snapEntry.ID, Rel: store.RelDerivedFrom}); err != nil {
			k.logger.Warn("linking learning failed", zap.String("learning", l), zap.Error(err))
		}
	}
}

func (k *Kernel) maybeArchive(ctx context.Context, now time.Time) {
	k.mu.Lock()
	due := now.Sub(k.lastArchive) >= k.opts.ArchiveEvery
	if due {
		k.lastArchive = now
	}
	k.mu.Unlock()
	if !due {
		return
	}
	n, err := k.deps.LongTerm.ArchiveUnused(ctx, now.Add(-k.opts.ArchiveAfter))
	if err != nil {
		k.logger.Warn("archiving unused entries failed", zap.Error(err))
		return
	}
	if n > 0 {
		k.logger.Info("archived unused entries", zap.Int("count", n))
	}
}
