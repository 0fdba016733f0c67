package kernel

import (
	"strings"

	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/textutil"
)

// DefaultDomain is used when no domain keyword matches.
const DefaultDomain = "general"

// domainKeywords is checked in order; the first domain with a hit wins.
var domainKeywords = []struct {
	domain   string
	keywords []string
}{
	{"cooking", []string{
		"recipe", "recipes", "cook", "cooking", "bake", "baking", "brownie", "brownies",
		"cookie", "cookies", "ingredient", "ingredients", "oven", "dinner", "meal", "cake",
	}},
	{"software", []string{
		"code", "bug", "deploy", "server", "api", "database", "function", "compile",
		"build", "test", "tests", "service", "production", "stack trace",
	}},
	{"finance", []string{
		"budget", "money", "invest", "investment", "tax", "taxes", "payment", "bank",
		"price", "loan", "savings", "expense", "expenses",
	}},
	{"health", []string{
		"health", "exercise", "sleep", "diet", "doctor", "medical", "workout", "symptom", "symptoms",
	}},
}

// InferDomain picks a domain from explicit request context, then from keywords.
func InferDomain(input string, reqCtx map[string]any) string {
	if d, ok := reqCtx["domain"].(string); ok && strings.TrimSpace(d) != "" {
		return strings.ToLower(strings.TrimSpace(d))
	}
	for _, dk := range domainKeywords {
		if textutil.ContainsAny(input, dk.keywords) {
			return dk.domain
		}
	}
	return DefaultDomain
}

var taskTypes = map[model.InputType]string{
	model.InputRecipeCompare: "compare",
	model.InputErrorReport:   "troubleshoot",
	model.InputComputation:   "compute",
	model.InputPlanning:      "plan",
	model.InputCreative:      "create",
	model.InputCommand:       "command",
	model.InputDataRequest:   "lookup",
	model.InputConversation:  "chat",
}

// InferTaskType derives the run-log task type from the input type. An
// explicit "taskType" in the request context wins.
func InferTaskType(input string, t model.InputType, reqCtx map[string]any) string {
	if tt, ok := reqCtx["taskType"].(string); ok && strings.TrimSpace(tt) != "" {
		return tt
	}
	if t == model.InputQuestion {
		if textutil.ContainsAny(input, []string{"how to", "how do", "how can"}) {
			return "howto"
		}
		return "question"
	}
	if tt, ok := taskTypes[t]; ok {
		return tt
	}
	return "general"
}

var correctionMarkers = []string{"actually", "correction", "update:", "wait"}

// isCorrection reports whether the input opens with a correction marker.
func isCorrection(input string) bool {
	first := strings.ToLower(strings.TrimSpace(input))
	for _, m := range correctionMarkers {
		if strings.HasPrefix(first, m) {
			return true
		}
	}
	return false
}

func boolFrom(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func intFrom(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
