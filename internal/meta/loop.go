// Package meta is the learning layer. It logs completed cycles, tracks the
// value of lookups and individual steps, drafts playbooks from repeated
// successful patterns and matches cycles against operator-promoted
// playbooks. It only reads and appends; it never changes how the other
// components decide.
package meta

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/organism/internal/model"
)

// Options tunes the Meta-Loop. Zero values select the defaults.
type Options struct {
	ScanWindow        int
	MinSuccess        int
	StaleAfter        time.Duration
	UsageHistoryLimit int
	ValueAlpha        float64
	LowValue          float64
	Hysteresis        int
	Now               func() time.Time
}

// Defaults for Options.
const (
	DefaultScanWindow        = 200
	DefaultMinSuccess        = 3
	DefaultStaleAfter        = 30 * 24 * time.Hour
	DefaultUsageHistoryLimit = 100
	DefaultValueAlpha        = 0.3
	DefaultLowValue          = 0.3
	DefaultHysteresis        = 3

	biasDecay = 0.9
	biasStep  = 0.25
	biasLimit = 2.0
)

func (o Options) withDefaults() Options {
	if o.ScanWindow <= 0 {
		o.ScanWindow = DefaultScanWindow
	}
	if o.MinSuccess <= 0 {
		o.MinSuccess = DefaultMinSuccess
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.UsageHistoryLimit <= 0 {
		o.UsageHistoryLimit = DefaultUsageHistoryLimit
	}
	if o.ValueAlpha <= 0 || o.ValueAlpha > 1 {
		o.ValueAlpha = DefaultValueAlpha
	}
	if o.LowValue <= 0 {
		o.LowValue = DefaultLowValue
	}
	if o.Hysteresis <= 0 {
		o.Hysteresis = DefaultHysteresis
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// RecordResult reports what recording a cycle produced.
type RecordResult struct {
	PatternKey string               `json:"patternKey"`
	Draft      *model.PlaybookDraft `json:"draft,omitempty"`
}

// Loop is the Meta-Loop.
type Loop struct {
	mu      sync.Mutex
	store   StateStore
	opts    Options
	active  []model.ActivePlaybook
	entropy *rand.Rand
	logger  *zap.Logger
}

// New creates a Loop and loads the active playbooks. A failure to load them
// is logged and leaves the active set empty.
func New(ctx context.Context, st StateStore, opts Options, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		store:   st,
		opts:    opts.withDefaults(),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  logger.Named("meta"),
	}
	if err := l.Reload(ctx); err != nil {
		l.logger.Warn("loading active playbooks failed", zap.Error(err))
	}
	return l
}

// Options returns the effective options.
func (l *Loop) Options() Options { return l.opts }

// Reload re-reads the active playbooks from the store.
func (l *Loop) Reload(ctx context.Context) error {
	active, err := l.store.LoadActive(ctx)
	if err != nil {
		return goerr.Wrap(err, "load active playbooks")
	}
	l.mu.Lock()
	l.active = active
	l.mu.Unlock()
	l.logger.Debug("active playbooks loaded", zap.Int("count", len(active)))
	return nil
}

// Active returns the loaded active playbooks.
func (l *Loop) Active() []model.ActivePlaybook {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.active)
}

// update loads the state, applies fn and saves the result.
func (l *Loop) update(ctx context.Context, fn func(s *State) error) error {
	s, err := l.store.LoadState(ctx)
	if err != nil {
		return goerr.Wrap(err, "load meta state")
	}
	if err := fn(s); err != nil {
		return err
	}
	if err := l.store.SaveState(ctx, s); err != nil {
		return goerr.Wrap(err, "save meta state")
	}
	return nil
}

// Record sanitizes and appends one completed cycle, then updates the
// lookup bias and step values and drafts a playbook when the pattern has
// recurred often enough.
func (l *Loop) Record(ctx context.Context, rec model.RunRecord, steps []model.StepObservation) (*RecordResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec = Sanitize(rec, l.opts.Now())
	if rec.PatternKey == "" {
		rec.PatternKey = PatternKey(rec)
	}
	if err := l.store.AppendRun(ctx, rec); err != nil {
		return nil, goerr.Wrap(err, "append run record")
	}

	result := &RecordResult{PatternKey: rec.PatternKey}
	err := l.update(ctx, func(s *State) error {
		updateBias(s, rec)
		for _, obs := range steps {
			l.observe(s, obs)
		}
		if !rec.Succeeded() || s.Drafted(rec.PatternKey) {
			return nil
		}
		// A draft written by a record whose state save failed still counts.
		onDisk, err := l.hasDraft(ctx, rec.PatternKey)
		if err != nil {
			return err
		}
		if onDisk {
			s.DraftedKeys = append(s.DraftedKeys, rec.PatternKey)
			return nil
		}
		draft, err := l.maybeDraft(ctx, rec)
		if err != nil || draft == nil {
			return err
		}
		s.DraftedKeys = append(s.DraftedKeys, rec.PatternKey)
		result.Draft = draft
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Draft != nil {
		l.logger.Info("playbook drafted",
			zap.String("id", result.Draft.ID),
			zap.String("patternKey", result.Draft.PatternKey))
	}
	return result, nil
}

// biasKey is the lookup-bias table key.
func biasKey(domain, taskType string) string {
	return NormalizeDomain(domain) + ":" + NormalizeTaskType(taskType)
}

func updateBias(s *State, rec model.RunRecord) {
	key := biasKey(rec.Domain, rec.TaskType)
	b := s.LookupBias[key]
	switch {
	case rec.Metrics.LookupUsed && !rec.Metrics.LookupChanged:
		b = b*biasDecay - biasStep
	case !rec.Metrics.LookupUsed && rec.Outcome.Status == model.StatusFailure:
		b = b*biasDecay + biasStep
	default:
		return
	}
	s.LookupBias[key] = math.Round(clamp(b, -biasLimit, biasLimit)*1e6) / 1e6
}

// LookupBias returns the bias for a domain and task type: negative means
// lookups rarely help, positive means skipping them tends to fail.
func (l *Loop) LookupBias(ctx context.Context, domain, taskType string) (float64, error) {
	s, err := l.store.LoadState(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "load meta state")
	}
	return s.LookupBias[biasKey(domain, taskType)], nil
}

func (l *Loop) hasDraft(ctx context.Context, key string) (bool, error) {
	drafts, err := l.store.ListDrafts(ctx)
	if err != nil {
		return false, goerr.Wrap(err, "list drafts")
	}
	for _, d := range drafts {
		if d.PatternKey == key {
			return true, nil
		}
	}
	return false, nil
}

// maybeDraft counts successful records sharing rec's key in the scan
// window and writes a draft when there are enough.
func (l *Loop) maybeDraft(ctx context.Context, rec model.RunRecord) (*model.PlaybookDraft, error) {
	runs, err := l.store.RecentRuns(ctx, l.opts.ScanWindow)
	if err != nil {
		return nil, goerr.Wrap(err, "scan run log")
	}

	var matching []model.RunRecord
	for _, r := range runs {
		key := r.PatternKey
		if key == "" {
			key = PatternKey(r)
		}
		if key == rec.PatternKey && r.Succeeded() {
			matching = append(matching, r)
		}
	}
	if len(matching) < l.opts.MinSuccess {
		return nil, nil
	}

	now := l.opts.Now()
	draft := model.PlaybookDraft{
		ID:                 ulid.MustNew(ulid.Timestamp(now), l.entropy).String(),
		PatternKey:         rec.PatternKey,
		Domain:             rec.Domain,
		TaskType:           NormalizeTaskType(rec.TaskType),
		TriggerDescription: fmt.Sprintf("%s %s requests like %q", rec.Domain, NormalizeTaskType(rec.TaskType), rec.Inputs.QuerySummary),
		Steps:              draftSteps(matching),
		SuccessCriteria:    successCriteria(matching),
		MinSuccessCount:    l.opts.MinSuccess,
		SampleQueries:      sampleQueries(matching, 3),
		CreatedAt:          now,
	}
	if err := l.store.SaveDraft(ctx, draft); err != nil {
		return nil, goerr.Wrap(err, "save draft", goerr.V("patternKey", rec.PatternKey))
	}
	return &draft, nil
}

// draftSteps outlines the steps of the most recent matching run, or a
// placeholder outline when no steps were recorded.
func draftSteps(runs []model.RunRecord) []string {
	for i := len(runs) - 1; i >= 0; i-- {
		if len(runs[i].Steps) > 0 {
			return slices.Clone(runs[i].Steps)
		}
	}
	return []string{"gather", "analyze", "present"}
}

func successCriteria(runs []model.RunRecord) []string {
	var total int64
	for _, r := range runs {
		total += r.Metrics.TimeMs
	}
	avg := total / int64(len(runs))
	return []string{
		"outcome status is success",
		"no user corrections",
		fmt.Sprintf("completes within %dms", max(avg*2, 1000)),
	}
}

func sampleQueries(runs []model.RunRecord, n int) []string {
	var out []string
	for _, r := range runs {
		q := r.Inputs.QuerySummary
		if q != "" && !slices.Contains(out, q) {
			out = append(out, q)
		}
		if len(out) == n {
			break
		}
	}
	return out
}

// Match looks up the active playbook for rec's pattern key. On a match it
// records the use and returns the response hints; otherwise it returns nil
// and changes nothing.
func (l *Loop) Match(ctx context.Context, rec model.RunRecord) (*model.PlaybookMatch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := rec.PatternKey
	if key == "" {
		key = PatternKey(Sanitize(rec, l.opts.Now()))
	}
	var pb *model.ActivePlaybook
	for i := range l.active {
		if l.active[i].Trigger.PatternKey == key {
			pb = &l.active[i]
			break
		}
	}
	if pb == nil {
		return nil, nil
	}

	now := l.opts.Now()
	var count int
	err := l.update(ctx, func(s *State) error {
		s.ActivePlaybookUsageCounts[pb.ID]++
		count = s.ActivePlaybookUsageCounts[pb.ID]
		if _, ok := s.FirstUsedAt[pb.ID]; !ok {
			s.FirstUsedAt[pb.ID] = now
		}
		s.LastUsedAt[pb.ID] = now
		h := append(s.UsageHistory[pb.ID], now)
		if over := len(h) - l.opts.UsageHistoryLimit; over > 0 {
			h = h[over:]
		}
		s.UsageHistory[pb.ID] = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("playbook matched", zap.String("id", pb.ID), zap.Int("usageCount", count))
	return &model.PlaybookMatch{
		PlaybookID: pb.ID,
		PatternKey: key,
		UsageCount: count,
		Hints: model.ResponseHints{
			Prefix:  pb.ResponseHints.Prefix,
			Outline: slices.Clone(pb.ResponseHints.Outline),
		},
	}, nil
}

// MeanInterval returns the mean time between recorded uses.
func MeanInterval(history []time.Time) time.Duration {
	if len(history) < 2 {
		return 0
	}
	return history[len(history)-1].Sub(history[0]) / time.Duration(len(history)-1)
}
