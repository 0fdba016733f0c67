package meta

import (
	"context"
	"math"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/organism/internal/model"
)

// observe folds one step observation into the value and cost averages.
// Skipped steps carry no evidence and are ignored.
func (l *Loop) observe(s *State, obs model.StepObservation) {
	if obs.Skipped || obs.Step == "" {
		return
	}
	st, ok := s.Steps[obs.Step]
	if !ok {
		st = model.StepStats{Value: 1.0, CostMs: float64(max(obs.ElapsedMs, 0))}
	}

	x := 0.0
	if obs.ChangedOutcome {
		x = 1.0
	}
	a := l.opts.ValueAlpha
	st.Value = round4(a*x + (1-a)*st.Value)
	if ok {
		st.CostMs = round4(a*float64(max(obs.ElapsedMs, 0)) + (1-a)*st.CostMs)
	}
	st.Observations++

	if st.Value < l.opts.LowValue {
		st.LowStreak++
		if st.LowStreak >= l.opts.Hysteresis {
			st.PriorityReduced = true
		}
	} else {
		st.LowStreak = 0
		st.PriorityReduced = false
	}
	s.Steps[obs.Step] = st
}

// Observe records step observations outside of a full cycle record.
func (l *Loop) Observe(ctx context.Context, steps []model.StepObservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.update(ctx, func(s *State) error {
		for _, obs := range steps {
			l.observe(s, obs)
		}
		return nil
	})
}

// StepStats returns the learned statistics for a step. ok is false when the
// step has never been observed.
func (l *Loop) StepStats(ctx context.Context, step string) (model.StepStats, bool, error) {
	s, err := l.store.LoadState(ctx)
	if err != nil {
		return model.StepStats{}, false, goerr.Wrap(err, "load meta state")
	}
	st, ok := s.Steps[step]
	return st, ok, nil
}

// IsLowValue reports whether a step's value is below the low threshold.
func (l *Loop) IsLowValue(st model.StepStats) bool {
	return st.Value < l.opts.LowValue
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
