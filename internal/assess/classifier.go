package assess

import (
	"regexp"
	"strings"

	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/textutil"
)

// Classifier maps request text onto an input type.
type Classifier interface {
	Classify(text string) model.InputType
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(text string) model.InputType

func (f ClassifierFunc) Classify(text string) model.InputType { return f(text) }

var (
	recipeWords  = []string{"recipe", "recipes"}
	compareWords = []string{"compare", "comparison", "comparing", "versus", "vs", "better", "best", "difference", "differences"}
	errorWords   = []string{
		"error", "errors", "exception", "crash", "crashed", "crashes", "failed", "failing",
		"failure", "bug", "broken", "traceback", "stack trace", "panic", "not working", "outage",
	}
	computeWords = []string{
		"calculate", "compute", "sum", "average", "mean", "total", "convert",
		"multiply", "divide", "percent", "percentage", "how many", "how much",
	}
	planWords     = []string{"plan", "planning", "schedule", "roadmap", "organize", "itinerary", "steps to", "prepare"}
	creativeWords = []string{"write", "poem", "story", "compose", "brainstorm", "imagine", "invent", "slogan", "lyrics"}
	commandVerbs  = map[string]bool{
		"run": true, "execute": true, "start": true, "stop": true, "restart": true,
		"deploy": true, "install": true, "delete": true, "remove": true, "create": true,
		"open": true, "set": true, "build": true, "kill": true, "reset": true,
	}
	dataWords = []string{
		"list", "show me", "find", "lookup", "look up", "fetch", "records", "data",
		"retrieve", "search", "export",
	}
	questionStarts = map[string]bool{
		"what": true, "how": true, "why": true, "when": true, "where": true, "who": true,
		"which": true, "is": true, "are": true, "can": true, "does": true, "do": true,
		"should": true, "could": true, "would": true, "will": true,
	}

	arithmetic = regexp.MustCompile(`\d+(\.\d+)?\s*[-+*/x×÷^]\s*\d+`)
)

// KeywordClassifier is the default rule-based classifier. Rules are tried
// in a fixed precedence and the first hit wins.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(text string) model.InputType {
	lower := strings.ToLower(strings.TrimSpace(text))
	tokens := textutil.Tokenize(lower)

	switch {
	case textutil.ContainsAny(lower, recipeWords) && textutil.ContainsAny(lower, compareWords):
		return model.InputRecipeCompare
	case textutil.ContainsAny(lower, errorWords):
		return model.InputErrorReport
	case textutil.ContainsAny(lower, computeWords) || arithmetic.MatchString(lower):
		return model.InputComputation
	case textutil.ContainsAny(lower, planWords):
		return model.InputPlanning
	case textutil.ContainsAny(lower, creativeWords):
		return model.InputCreative
	case len(tokens) > 0 && commandVerbs[tokens[0]]:
		return model.InputCommand
	case textutil.ContainsAny(lower, dataWords):
		return model.InputDataRequest
	case strings.HasSuffix(lower, "?") || (len(tokens) > 0 && questionStarts[tokens[0]]):
		return model.InputQuestion
	default:
		return model.InputConversation
	}
}
