package meta

import (
	"context"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/organism/internal/model"
)

// TopPatterns is how many pattern frequencies the audit reports.
const TopPatterns = 10

// Audit is a read-only snapshot of everything the Meta-Loop knows.
type Audit struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	Config      AuditConfig      `json:"config"`
	LookupBias  []BiasEntry      `json:"lookupBias"`
	Active      []PlaybookStatus `json:"active"`
	Drafts      []DraftSummary   `json:"drafts"`
	Stale       []string         `json:"stale"`
	Runs        RunStats         `json:"runs"`
	TopPatterns []PatternCount   `json:"topPatterns"`
	Steps       []StepEntry      `json:"steps"`
}

// AuditConfig echoes the effective options.
type AuditConfig struct {
	ScanWindow        int     `json:"scanWindow"`
	MinSuccess        int     `json:"minSuccess"`
	StaleAfter        string  `json:"staleAfter"`
	UsageHistoryLimit int     `json:"usageHistoryLimit"`
	ValueAlpha        float64 `json:"valueAlpha"`
	LowValue          float64 `json:"lowValue"`
	Hysteresis        int     `json:"hysteresis"`
}

// BiasEntry is one row of the lookup-bias table.
type BiasEntry struct {
	Key  string  `json:"key"`
	Bias float64 `json:"bias"`
}

// PlaybookStatus is an active playbook with its usage.
type PlaybookStatus struct {
	ID             string     `json:"id"`
	PatternKey     string     `json:"patternKey"`
	Domain         string     `json:"domain"`
	TaskType       string     `json:"taskType"`
	UsageCount     int        `json:"usageCount"`
	FirstUsedAt    *time.Time `json:"firstUsedAt,omitempty"`
	LastUsedAt     *time.Time `json:"lastUsedAt,omitempty"`
	MeanIntervalMs int64      `json:"meanIntervalMs"`
	Stale          bool       `json:"stale"`
}

// DraftSummary is one drafted pattern.
type DraftSummary struct {
	ID         string    `json:"id"`
	PatternKey string    `json:"patternKey"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RunStats summarizes the scan window of the run log.
type RunStats struct {
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Partial     int     `json:"partial"`
	Failure     int     `json:"failure"`
	SuccessRate float64 `json:"successRate"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	LookupUsed  int     `json:"lookupUsed"`
	Resets      int     `json:"resets"`
}

// PatternCount is how often a pattern key occurs in the scan window.
type PatternCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// StepEntry is one row of the step value table.
type StepEntry struct {
	Step string `json:"step"`
	model.StepStats
}

// Stale reports whether an active playbook has gone unused for longer than
// the threshold. A playbook never used is stale once its promotion is older
// than the threshold.
func Stale(p model.ActivePlaybook, lastUsed *time.Time, now time.Time, after time.Duration) bool {
	if lastUsed != nil {
		return now.Sub(*lastUsed) > after
	}
	if p.PromotedAt != nil {
		return now.Sub(*p.PromotedAt) > after
	}
	return false
}

// Audit builds a snapshot. It never writes: it only reads state, drafts
// and the run log.
func (l *Loop) Audit(ctx context.Context) (*Audit, error) {
	s, err := l.store.LoadState(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "load meta state")
	}
	drafts, err := l.store.ListDrafts(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "list drafts")
	}
	runs, err := l.store.RecentRuns(ctx, l.opts.ScanWindow)
	if err != nil {
		return nil, goerr.Wrap(err, "scan run log")
	}
	now := l.opts.Now()

	a := &Audit{
		GeneratedAt: now,
		Config: AuditConfig{
			ScanWindow:        l.opts.ScanWindow,
			MinSuccess:        l.opts.MinSuccess,
			StaleAfter:        l.opts.StaleAfter.String(),
			UsageHistoryLimit: l.opts.UsageHistoryLimit,
			ValueAlpha:        l.opts.ValueAlpha,
			LowValue:          l.opts.LowValue,
			Hysteresis:        l.opts.Hysteresis,
		},
		LookupBias:  []BiasEntry{},
		Active:      []PlaybookStatus{},
		Drafts:      []DraftSummary{},
		Stale:       []string{},
		TopPatterns: []PatternCount{},
		Steps:       []StepEntry{},
	}

	for k, v := range s.LookupBias {
		a.LookupBias = append(a.LookupBias, BiasEntry{Key: k, Bias: v})
	}
	sort.Slice(a.LookupBias, func(i, j int) bool { return a.LookupBias[i].Key < a.LookupBias[j].Key })

	for _, p := range l.Active() {
		st := PlaybookStatus{
			ID:             p.ID,
			PatternKey:     p.Trigger.PatternKey,
			Domain:         p.Domain,
			TaskType:       p.TaskType,
			UsageCount:     s.ActivePlaybookUsageCounts[p.ID],
			MeanIntervalMs: MeanInterval(s.UsageHistory[p.ID]).Milliseconds(),
		}
		if t, ok := s.FirstUsedAt[p.ID]; ok {
			st.FirstUsedAt = &t
		}
		if t, ok := s.LastUsedAt[p.ID]; ok {
			st.LastUsedAt = &t
		}
		st.Stale = Stale(p, st.LastUsedAt, now, l.opts.StaleAfter)
		if st.Stale {
			a.Stale = append(a.Stale, p.ID)
		}
		a.Active = append(a.Active, st)
	}

	for _, d := range drafts {
		a.Drafts = append(a.Drafts, DraftSummary{ID: d.ID, PatternKey: d.PatternKey, CreatedAt: d.CreatedAt})
	}

	counts := make(map[string]int)
	var totalMs int64
	for _, r := range runs {
		a.Runs.Total++
		switch r.Outcome.Status {
		case model.StatusSuccess:
			a.Runs.Success++
		case model.StatusPartial:
			a.Runs.Partial++
		default:
			a.Runs.Failure++
		}
		if r.Metrics.LookupUsed {
			a.Runs.LookupUsed++
		}
		if r.Metrics.ResetTriggered {
			a.Runs.Resets++
		}
		totalMs += r.Metrics.TimeMs
		key := r.PatternKey
		if key == "" {
			key = PatternKey(r)
		}
		counts[key]++
	}
	if a.Runs.Total > 0 {
		a.Runs.SuccessRate = round4(float64(a.Runs.Success) / float64(a.Runs.Total))
		a.Runs.AvgTimeMs = round4(float64(totalMs) / float64(a.Runs.Total))
	}

	for k, c := range counts {
		a.TopPatterns = append(a.TopPatterns, PatternCount{Key: k, Count: c})
	}
	sort.Slice(a.TopPatterns, func(i, j int) bool {
		if a.TopPatterns[i].Count != a.TopPatterns[j].Count {
			return a.TopPatterns[i].Count > a.TopPatterns[j].Count
		}
		return a.TopPatterns[i].Key < a.TopPatterns[j].Key
	})
	if len(a.TopPatterns) > TopPatterns {
		a.TopPatterns = a.TopPatterns[:TopPatterns]
	}

	for name, st := range s.Steps {
		a.Steps = append(a.Steps, StepEntry{Step: name, StepStats: st})
	}
	sort.Slice(a.Steps, func(i, j int) bool { return a.Steps[i].Step < a.Steps[j].Step })

	return a, nil
}
