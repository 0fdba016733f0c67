package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/organism/internal/budget"
	"github.com/rcliao/organism/internal/memory"
	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/similarity"
	"github.com/rcliao/organism/internal/store"
	"github.com/rcliao/organism/internal/textutil"
)

// Call is the context a handler runs with.
type Call struct {
	Task          model.Task
	Input         string
	Domain        string
	Assessment    model.Assessment
	MaxIterations int
	LookupBias    float64
	Working       *memory.Working
	LongTerm      store.Store
	Embedder      similarity.Embedder
	Prior         []TaskResult
}

// Output is what a handler produced. Changed reports whether the step
// altered the cycle's outcome; it feeds step value tracking.
type Output struct {
	Data       map[string]any
	Summary    string
	Changed    bool
	Iterations int
}

// Handler executes one family of tasks.
type Handler func(ctx context.Context, c *Call) (Output, error)

// DefaultHandlers returns a handler for every task type.
func DefaultHandlers() map[model.TaskType]Handler {
	return map[model.TaskType]Handler{
		model.TaskRetrieval:    retrieve,
		model.TaskAnalysis:     analyze,
		model.TaskValidation:   validate,
		model.TaskStorage:      storeNote,
		model.TaskComputation:  compute,
		model.TaskGeneration:   generate,
		model.TaskPresentation: present,
		model.TaskGeneral:      general,
	}
}

const (
	retrievalTerms = 5
	retrievalLimit = 10
	// negativeBias is the lookup bias at or below which retrieval is
	// reduced to a single pass when stakes allow.
	negativeBias = -1.0
)

func (c *Call) set(key string, value any) {
	if c.Working != nil {
		c.Working.Set(key, value)
	}
}

// retrieve searches long-term memory one query term per iteration, longest
// terms first, and stops once an iteration no longer changes the result.
func retrieve(ctx context.Context, c *Call) (Output, error) {
	maxIter := c.MaxIterations
	if c.LookupBias <= negativeBias && c.Assessment.Stakes != model.StakesHigh {
		maxIter = 1
	}
	var terms []string
	for _, tok := range textutil.Longest(textutil.Dedup(textutil.ContentTokens(c.Input)), retrievalTerms) {
		terms = append(terms, textutil.Stem(tok))
	}
	terms = slices.Compact(terms)

	out := Output{Data: map[string]any{"matches": []string{}, "count": 0}}
	if c.LongTerm == nil || len(terms) == 0 {
		out.Summary = "no lookup performed"
		return out, nil
	}

	seen := make(map[string]bool)
	var keys, payloads []string
	var prev map[string]any
	iter := 0
	for iter < maxIter && iter < len(terms) {
		iter++
		found, err := c.LongTerm.Search(ctx, store.SearchParams{Query: terms[iter-1], Limit: retrievalLimit})
		if err != nil {
			return Output{}, goerr.Wrap(err, "search long-term memory", goerr.V("term", terms[iter-1]))
		}
		for _, e := range found {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			keys = append(keys, e.Key)
			payloads = append(payloads, e.Payload)
		}
		cur := map[string]any{"count": len(keys), "last": lastOf(keys)}
		if !budget.ShouldContinue(iter, prev, cur) {
			break
		}
		prev = cur
	}

	out.Iterations = iter
	out.Changed = len(keys) > 0
	out.Data = map[string]any{"matches": keys, "count": len(keys), "payloads": payloads, "terms": terms[:iter]}
	out.Summary = fmt.Sprintf("found %d related entries", len(keys))
	c.set("retrieval:"+c.Task.Action, len(keys))
	if len(payloads) > 0 {
		c.set("facts", payloads)
	}
	return out, nil
}

func lastOf(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

// priorTexts collects the input plus any payloads retrieved earlier this cycle.
func priorTexts(c *Call) []string {
	texts := []string{c.Input}
	for _, r := range c.Prior {
		if ps, ok := r.Output["payloads"].([]string); ok {
			texts = append(texts, ps...)
		}
	}
	return texts
}

func analyze(_ context.Context, c *Call) (Output, error) {
	texts := priorTexts(c)
	terms := textutil.TopTerms(texts, 5)
	for i, t := range terms {
		if i == 3 {
			break
		}
		c.set("topic:"+t, t)
	}
	c.set("analysis:"+c.Task.Action, terms)

	data := map[string]any{"terms": terms, "sources": len(texts)}
	// Terms that appear in only some sources are the variations between them.
	if len(texts) > 2 {
		data["variations"] = variations(texts[1:])
	}
	return Output{
		Data:    data,
		Summary: fmt.Sprintf("%s: %s", strings.ReplaceAll(c.Task.Action, "_", " "), strings.Join(terms, ", ")),
		Changed: len(terms) > 0,
	}, nil
}

func variations(texts []string) []string {
	counts := make(map[string]int)
	for _, t := range texts {
		for _, tok := range textutil.Dedup(textutil.ContentTokens(t)) {
			counts[tok]++
		}
	}
	var out []string
	for tok, n := range counts {
		if n < len(texts) && len(tok) > 2 {
			out = append(out, tok)
		}
	}
	slices.Sort(out)
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

// validate fails the step when working memory holds contradictory
// assumptions and otherwise marks the open ones as checked.
func validate(ctx context.Context, c *Call) (Output, error) {
	if c.Working == nil {
		return Output{Data: map[string]any{"checked": 0}, Summary: "nothing to validate"}, nil
	}
	found, err := c.Working.Contradictions(ctx, c.Embedder)
	if err != nil {
		return Output{}, goerr.Wrap(err, "check contradictions")
	}
	if len(found) > 0 {
		return Output{}, goerr.New("contradictory assumptions",
			goerr.V("first", found[0].A),
			goerr.V("second", found[0].B),
			goerr.V("count", len(found)))
	}
	open := 0
	for _, a := range c.Working.Assumptions() {
		if !a.Validated {
			open++
		}
	}
	if open > 0 {
		c.Working.AddAssumption(fmt.Sprintf("%d assumptions checked without conflict", open), 0.8, true)
	}
	return Output{
		Data:    map[string]any{"checked": open},
		Summary: fmt.Sprintf("validated %d assumptions", open),
		Changed: open > 0,
	}, nil
}

func storeNote(ctx context.Context, c *Call) (Output, error) {
	if c.LongTerm == nil {
		return Output{Summary: "no long-term memory"}, nil
	}
	payload, err := json.Marshal(map[string]any{
		"input":  textutil.Truncate(c.Input, 200),
		"domain": c.Domain,
		"steps":  completedActions(c.Prior),
	})
	if err != nil {
		return Output{}, goerr.Wrap(err, "encode cycle note")
	}
	key := c.Task.Action + ":" + strings.Join(textutil.Longest(textutil.Dedup(textutil.ContentTokens(c.Input)), 3), "-")
	e, err := c.LongTerm.Put(ctx, store.PutParams{
		Type:    model.EntryTypeCycleNote,
		Key:     key,
		Payload: string(payload),
		Tags:    []string{c.Domain},
	})
	if err != nil {
		return Output{}, goerr.Wrap(err, "store cycle note", goerr.V("key", key))
	}
	return Output{
		Data:    map[string]any{"id": e.ID, "key": e.Key},
		Summary: "stored note " + e.Key,
		Changed: true,
	}, nil
}

func completedActions(prior []TaskResult) []string {
	var out []string
	for _, r := range prior {
		if r.Success {
			out = append(out, r.Action)
		}
	}
	return out
}

var (
	numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	exprPattern   = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*([-+*/x×÷])\s*(-?\d+(?:\.\d+)?)`)
)

// compute summarises the numbers in the input and evaluates the first
// binary expression, if any.
func compute(_ context.Context, c *Call) (Output, error) {
	var nums []float64
	for _, s := range numberPattern.FindAllString(c.Input, -1) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		nums = append(nums, f)
	}
	data := map[string]any{"count": len(nums)}
	if len(nums) == 0 {
		return Output{Data: data, Summary: "no numbers to compute"}, nil
	}

	sum, lo, hi := 0.0, math.Inf(1), math.Inf(-1)
	for _, n := range nums {
		sum += n
		lo = min(lo, n)
		hi = max(hi, n)
	}
	data["sum"] = sum
	data["min"] = lo
	data["max"] = hi
	data["mean"] = sum / float64(len(nums))
	summary := fmt.Sprintf("%d numbers, sum %g", len(nums), sum)

	if m := exprPattern.FindStringSubmatch(c.Input); m != nil {
		v, err := evaluate(m[1], m[2], m[3])
		if err != nil {
			return Output{}, err
		}
		data["expression"] = strings.TrimSpace(m[0])
		data["value"] = v
		summary = fmt.Sprintf("%s = %g", strings.TrimSpace(m[0]), v)
	}
	c.set("computation:"+c.Task.Action, data)
	return Output{Data: data, Summary: summary, Changed: true}, nil
}

func evaluate(a, op, b string) (float64, error) {
	x, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 0, goerr.Wrap(err, "parse operand", goerr.V("operand", a))
	}
	y, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return 0, goerr.Wrap(err, "parse operand", goerr.V("operand", b))
	}
	switch op {
	case "+":
		return x + y, nil
	case "-":
		return x - y, nil
	case "*", "x", "×":
		return x * y, nil
	default:
		if y == 0 {
			return 0, goerr.New("division by zero", goerr.V("expression", a+op+b))
		}
		return x / y, nil
	}
}

func topics(c *Call) []string {
	if c.Working == nil {
		return nil
	}
	var out []string
	for k := range c.Working.State() {
		if t, ok := strings.CutPrefix(k, "topic:"); ok {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}

func generate(_ context.Context, c *Call) (Output, error) {
	ts := topics(c)
	if len(ts) == 0 {
		ts = textutil.TopTerms([]string{c.Input}, 3)
	}
	draft := fmt.Sprintf("Draft for %q", textutil.Truncate(c.Input, 80))
	if len(ts) > 0 {
		draft += " covering " + strings.Join(ts, ", ")
	}
	c.set("draft:"+c.Task.Action, draft)
	return Output{Data: map[string]any{"draft": draft, "topics": ts}, Summary: draft, Changed: true}, nil
}

// present assembles the summaries of earlier successful tasks into sections.
func present(_ context.Context, c *Call) (Output, error) {
	var sections []string
	for _, r := range c.Prior {
		if r.Success && r.Summary != "" {
			sections = append(sections, fmt.Sprintf("%s: %s", r.Action, r.Summary))
		}
	}
	summary := "Nothing to report yet."
	if len(sections) > 0 {
		summary = strings.Join(sections, "; ")
	}
	return Output{
		Data:    map[string]any{"sections": sections},
		Summary: summary,
		Changed: len(sections) > 0,
	}, nil
}

func general(_ context.Context, c *Call) (Output, error) {
	return Output{
		Data:    map[string]any{"acknowledged": c.Task.Action},
		Summary: strings.ReplaceAll(c.Task.Action, "_", " "),
	}, nil
}
