package meta

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/textutil"
)

// DefaultTaskType is used when a record carries no task type.
const DefaultTaskType = "general"

var taskTypeSynonyms = map[string]string{
	"compare": "compare", "comparison": "compare", "versus": "compare", "vs": "compare",
	"recipe_compare": "compare", "contrast": "compare",

	"howto": "howto", "how_to": "howto", "how-to": "howto", "tutorial": "howto",
	"guide": "howto", "instructions": "howto",

	"question": "question", "ask": "question", "qa": "question",

	"compute": "compute", "computation": "compute", "calculate": "compute",
	"calculation": "compute", "math": "compute",

	"plan": "plan", "planning": "plan", "schedule": "plan",

	"troubleshoot": "troubleshoot", "error_report": "troubleshoot", "debug": "troubleshoot",
	"error": "troubleshoot", "fix": "troubleshoot",

	"create": "create", "creative": "create", "write": "create", "generate": "create",

	"command": "command", "run": "command", "execute": "command",

	"lookup": "lookup", "data_request": "lookup", "search": "lookup", "find": "lookup",
	"retrieve": "lookup",

	"chat": "chat", "conversation": "chat", "talk": "chat",
}

// intentWords restate the task type and are dropped from the query so that
// "compare brownie recipes" and "brownie recipe comparison" agree.
var intentWords = map[string]map[string]bool{
	"compare": {
		"compare": true, "comparison": true, "comparing": true, "better": true, "best": true,
		"versus": true, "vs": true, "difference": true, "differences": true,
	},
	"howto": {"guide": true, "tutorial": true, "steps": true, "step": true, "instructions": true},
	"compute": {"calculate": true, "compute": true},
	"plan":    {"plan": true, "planning": true},
}

// NormalizeTaskType maps a task type onto its canonical synonym.
func NormalizeTaskType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return DefaultTaskType
	}
	if canon, ok := taskTypeSynonyms[t]; ok {
		return canon
	}
	return t
}

// NormalizeDomain lowercases a domain, defaulting to general.
func NormalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if d == "" {
		return "general"
	}
	return d
}

// NormalizeQuery returns the sorted distinct stems of the query's content
// tokens, excluding words that only restate the task type.
func NormalizeQuery(query, taskType string) []string {
	drop := intentWords[NormalizeTaskType(taskType)]
	var stems []string
	for _, tok := range textutil.ContentTokens(query) {
		if drop[tok] {
			continue
		}
		stems = append(stems, textutil.Stem(tok))
	}
	out := textutil.Dedup(stems)
	if out == nil {
		out = []string{}
	}
	return out
}

type keyMaterial struct {
	Query      string                   `json:"query"`
	Longest    []string                 `json:"longest"`
	Assessment model.BucketedAssessment `json:"assessment"`
}

// PatternKey fingerprints a record's intent as domain:taskType:hash. The
// hash covers the normalized query, its three longest terms and the
// bucketed assessment.
func PatternKey(rec model.RunRecord) string {
	domain := NormalizeDomain(rec.Domain)
	taskType := NormalizeTaskType(rec.TaskType)
	terms := NormalizeQuery(rec.Inputs.QuerySummary, taskType)

	material, _ := json.Marshal(keyMaterial{
		Query:      strings.Join(terms, " "),
		Longest:    textutil.Longest(terms, 3),
		Assessment: rec.Assessment,
	})
	sum := sha256.Sum256(material)
	return domain + ":" + taskType + ":" + hex.EncodeToString(sum[:])[:16]
}
