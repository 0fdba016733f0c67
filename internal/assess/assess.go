// Package assess classifies one captured request into an Assessment.
package assess

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/organism/internal/memory"
	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/store"
	"github.com/rcliao/organism/internal/textutil"
)

var (
	nowWords   = []string{"urgent", "urgently", "asap", "immediately", "emergency", "right now", "right away", "at once"}
	soonWords  = []string{"soon", "today", "tonight", "tomorrow", "this week", "shortly", "quickly"}
	laterWords = []string{"later", "whenever", "eventually", "someday", "no rush"}

	deadlineWords     = []string{"deadline", "due", "by tomorrow", "by tonight", "by end of", "before", "expires"}
	continuationWords = []string{"continue", "also", "next", "then", "more", "again", "and"}

	highStakesWords = []string{
		"production", "prod", "security", "money", "payment", "payments", "medical",
		"legal", "delete", "deploy", "critical", "health", "password", "bank",
	}
	mediumStakesWords = []string{
		"compare", "comparison", "decide", "choose", "plan", "review", "budget",
		"schedule", "recipe", "recipes", "important",
	}

	criticalWords = []string{"outage", "data loss", "emergency", "is down", "went down", "breach"}
	hardWords     = []string{"optimize", "architecture", "prove", "debug", "migrate", "refactor", "concurrency"}
	moderateWords = []string{
		"compare", "comparison", "better", "best", "versus", "vs", "difference",
		"analyze", "analyse", "plan", "multiple", "explain", "summarize",
	}

	strictWords = []string{"exact", "exactly", "precise", "precisely", "calculate", "compute", "accurate", "verify"}
)

// Tiers gives the assessor read access to the memory tiers. Any field may be nil.
type Tiers struct {
	Stream   *memory.Stream
	Working  *memory.Working
	LongTerm store.Store
}

// Assessor turns a stream entry into an Assessment. It has no side effects.
type Assessor struct {
	classifier Classifier
	logger     *zap.Logger
}

// New creates an Assessor. A nil classifier selects KeywordClassifier.
func New(classifier Classifier, logger *zap.Logger) *Assessor {
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assessor{classifier: classifier, logger: logger.Named("assess")}
}

// Assess classifies one entry. Each dimension defaults to its most
// permissive value when no rule matches.
func (a *Assessor) Assess(ctx context.Context, entry model.StreamEntry, tiers Tiers) model.Assessment {
	text := strings.ToLower(entry.RawInput)
	out := model.Assessment{InputType: a.classifier.Classify(entry.RawInput)}
	out.Reasoning = append(out.Reasoning, fmt.Sprintf("inputType=%s", out.InputType))

	var why string
	out.Urgency, why = urgency(text, out.InputType, entry, tiers)
	out.Reasoning = append(out.Reasoning, why)

	out.Stakes, why = stakes(text)
	out.Reasoning = append(out.Reasoning, why)

	out.Difficulty, why = difficulty(text)
	out.Reasoning = append(out.Reasoning, why)

	if tiers.LongTerm != nil {
		if topic, ok := a.knownTopic(ctx, text, tiers.LongTerm); ok {
			out.Familiar = true
			out.Reasoning = append(out.Reasoning, fmt.Sprintf("familiar: promoted knowledge of %q", topic))
		}
	}

	out.Precision, why = precision(text)
	out.Reasoning = append(out.Reasoning, why)

	a.logger.Debug("assessed",
		zap.String("inputType", string(out.InputType)),
		zap.String("urgency", string(out.Urgency)),
		zap.String("stakes", string(out.Stakes)),
		zap.String("difficulty", string(out.Difficulty)),
		zap.String("precision", string(out.Precision)))
	return out
}

func urgency(text string, inputType model.InputType, entry model.StreamEntry, tiers Tiers) (model.Urgency, string) {
	if kw, ok := textutil.FirstMatch(text, nowWords); ok {
		return model.UrgencyNow, "urgency=NOW: keyword " + kw
	}
	if kw, ok := textutil.FirstMatch(text, soonWords); ok {
		return model.UrgencySoon, "urgency=SOON: keyword " + kw
	}
	if kw, ok := textutil.FirstMatch(text, laterWords); ok {
		return model.UrgencyLater, "urgency=LATER: keyword " + kw
	}

	if tiers.Working != nil {
		if cur := tiers.Working.CurrentTask(); cur != nil && continues(text, cur.Action) {
			return cur.Urgency, fmt.Sprintf("urgency=%s: continues active task", cur.Urgency)
		}
	}

	if kw, ok := textutil.FirstMatch(text, deadlineWords); ok {
		return model.UrgencySoon, "urgency=SOON: deadline " + kw
	}
	if inputType == model.InputErrorReport {
		return model.UrgencySoon, "urgency=SOON: error report"
	}
	if tiers.Stream != nil && repeated(entry, tiers.Stream) {
		return model.UrgencySoon, "urgency=SOON: repeated request"
	}
	return model.UrgencyLater, "urgency=LATER: default"
}

// continues reports whether text carries on from the active task, either
// by opening with a continuation word or by sharing a content term.
func continues(text, action string) bool {
	tokens := textutil.Tokenize(text)
	if len(tokens) > 0 && textutil.ContainsAny(tokens[0], continuationWords) {
		return true
	}
	terms := make(map[string]bool)
	for _, tok := range textutil.ContentTokens(action) {
		terms[textutil.Stem(tok)] = true
	}
	for _, tok := range textutil.ContentTokens(text) {
		if terms[textutil.Stem(tok)] {
			return true
		}
	}
	return false
}

// repeated reports whether an earlier entry in the live window asked the
// same thing.
func repeated(entry model.StreamEntry, s *memory.Stream) bool {
	want := normalized(entry.RawInput)
	if want == "" {
		return false
	}
	for _, prev := range s.Recent(0) {
		if prev.SequenceNumber == entry.SequenceNumber {
			continue
		}
		if normalized(prev.RawInput) == want {
			return true
		}
	}
	return false
}

func normalized(text string) string {
	var stems []string
	for _, tok := range textutil.ContentTokens(text) {
		stems = append(stems, textutil.Stem(tok))
	}
	return strings.Join(textutil.Dedup(stems), " ")
}

func stakes(text string) (model.Stakes, string) {
	if kw, ok := textutil.FirstMatch(text, highStakesWords); ok {
		return model.StakesHigh, "stakes=high: keyword " + kw
	}
	if kw, ok := textutil.FirstMatch(text, mediumStakesWords); ok {
		return model.StakesMedium, "stakes=medium: keyword " + kw
	}
	return model.StakesLow, "stakes=low: default"
}

func difficulty(text string) (model.Difficulty, string) {
	if kw, ok := textutil.FirstMatch(text, criticalWords); ok {
		return model.DifficultyCritical, "difficulty=critical: keyword " + kw
	}
	if kw, ok := textutil.FirstMatch(text, hardWords); ok {
		return model.DifficultyHard, "difficulty=hard: keyword " + kw
	}
	if kw, ok := textutil.FirstMatch(text, moderateWords); ok {
		return model.DifficultyModerate, "difficulty=moderate: keyword " + kw
	}
	return model.DifficultyEasy, "difficulty=easy: default"
}

// knownTopic looks for a promoted long-term fact about one of the request's
// longest terms. Search does not count as an access.
func (a *Assessor) knownTopic(ctx context.Context, text string, ltm store.Store) (string, bool) {
	for _, term := range textutil.Longest(textutil.Dedup(textutil.ContentTokens(text)), 3) {
		found, err := ltm.Search(ctx, store.SearchParams{Query: textutil.Stem(term), Limit: 10})
		if err != nil {
			a.logger.Warn("long-term lookup failed", zap.String("term", term), zap.Error(err))
			return "", false
		}
		for _, e := range found {
			if e.Promoted {
				return term, true
			}
		}
	}
	return "", false
}

func precision(text string) (model.Precision, string) {
	if kw, ok := textutil.FirstMatch(text, strictWords); ok {
		return model.PrecisionStrict, "precision=strict: keyword " + kw
	}
	return model.PrecisionFlexible, "precision=flexible: default"
}
