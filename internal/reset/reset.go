// Package reset decides from Working Memory whether a cycle has gone wrong
// badly enough to start over, and extracts what is worth keeping.
package reset

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/organism/internal/memory"
	"github.com/rcliao/organism/internal/similarity"
)

// State is the controller state after an evaluation.
type State string

const (
	StateStable    State = "STABLE"
	StateTriggered State = "RESET_TRIGGERED"
)

// Controller defaults.
const (
	DefaultWindow        = 3
	DefaultPlanStaleness = 5 * time.Second
	LearningConfidence   = 0.7
)

// Decision is the outcome of one evaluation.
type Decision struct {
	State   State    `json:"state"`
	Reasons []string `json:"reasons,omitempty"`
}

// Triggered reports whether a reset is required.
func (d Decision) Triggered() bool { return d.State == StateTriggered }

// Controller evaluates Working Memory for contradiction, stagnation and
// ignored new information.
type Controller struct {
	window    int
	staleness time.Duration
	emb       similarity.Embedder
	logger    *zap.Logger
}

// New creates a Controller. Zero values select the defaults; a nil
// embedder selects the term embedder.
func New(window int, staleness time.Duration, emb similarity.Embedder, logger *zap.Logger) *Controller {
	if window <= 0 {
		window = DefaultWindow
	}
	if staleness <= 0 {
		staleness = DefaultPlanStaleness
	}
	if emb == nil {
		emb = similarity.NewTermEmbedder(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{window: window, staleness: staleness, emb: emb, logger: logger.Named("reset")}
}

// Evaluate inspects Working Memory. It does not modify it.
func (c *Controller) Evaluate(ctx context.Context, wm *memory.Working, now time.Time) Decision {
	var reasons []string

	contradictions, err := wm.Contradictions(ctx, c.emb)
	if err != nil {
		c.logger.Warn("contradiction check failed", zap.Error(err))
	}
	for _, ct := range contradictions {
		reasons = append(reasons, fmt.Sprintf("contradiction: %q vs %q", ct.A.Text, ct.B.Text))
	}

	if why, ok := c.stagnant(wm); ok {
		reasons = append(reasons, why)
	}

	if flag, planAt := wm.NewInfo(); flag && planAt != nil && now.Sub(*planAt) > c.staleness {
		reasons = append(reasons, fmt.Sprintf("new information ignored for %s", now.Sub(*planAt).Round(time.Millisecond)))
	}

	if len(reasons) == 0 {
		return Decision{State: StateStable}
	}
	c.logger.Info("reset triggered", zap.Strings("reasons", reasons))
	return Decision{State: StateTriggered, Reasons: reasons}
}

// stagnant reports whether the last window history entries repeat one
// action without completing, or produced byte-identical results.
func (c *Controller) stagnant(wm *memory.Working) (string, bool) {
	history := wm.History()
	if len(history) < c.window {
		return "", false
	}
	last := history[len(history)-c.window:]

	sameAction, anyCompleted, sameResult := true, false, true
	for _, h := range last {
		if h.Action != last[0].Action {
			sameAction = false
		}
		if h.Result != last[0].Result {
			sameResult = false
		}
		if h.Completed {
			anyCompleted = true
		}
	}
	if sameAction && !anyCompleted {
		return fmt.Sprintf("stagnation: %q repeated %d times without completing", last[0].Action, c.window), true
	}
	if sameResult {
		return fmt.Sprintf("stagnation: last %d results identical", c.window), true
	}
	return "", false
}

// Learnings extracts what survives a reset: validated high-confidence
// assumptions and completed actions.
func Learnings(s memory.WorkingSnapshot) []string {
	var out []string
	for _, a := range s.Assumptions {
		if a.Validated && a.Confidence >= LearningConfidence {
			out = append(out, "assumption: "+a.Text)
		}
	}
	seen := make(map[string]bool)
	for _, h := range s.History {
		if h.Completed && !seen[h.Action] {
			seen[h.Action] = true
			out = append(out, "completed: "+h.Action)
		}
	}
	return out
}
