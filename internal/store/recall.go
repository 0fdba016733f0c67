package store

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/textutil"
)

// RecallParams holds parameters for budgeted recall.
type RecallParams struct {
	Query  string
	Type   string
	Budget int // max chars of payload returned
}

// RecalledEntry is a scored entry in a recall result.
type RecalledEntry struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Key     string  `json:"key"`
	Payload string  `json:"payload"`
	Score   float64 `json:"score"`
	Excerpt bool    `json:"excerpt,omitempty"`
}

// RecallResult is the assembled recall response.
type RecallResult struct {
	Budget  int             `json:"budget"`
	Used    int             `json:"used"`
	Entries []RecalledEntry `json:"entries"`
}

// searcher is the subset of Store recall needs.
type searcher interface {
	Search(ctx context.Context, p SearchParams) ([]model.LongTermEntry, error)
}

// recall searches each content token of the query, scores the union of
// candidates and greedily packs them into the budget.
func recall(ctx context.Context, s searcher, p RecallParams, now time.Time) (*RecallResult, error) {
	budget := p.Budget
	if budget <= 0 {
		budget = 4000
	}

	terms := textutil.Dedup(textutil.ContentTokens(p.Query))
	if len(terms) == 0 {
		return &RecallResult{Budget: budget, Entries: []RecalledEntry{}}, nil
	}

	hits := make(map[string]int)
	byID := make(map[string]model.LongTermEntry)
	for _, term := range terms {
		found, err := s.Search(ctx, SearchParams{Query: textutil.Stem(term), Type: p.Type, Limit: 50})
		if err != nil {
			return nil, err
		}
		for _, e := range found {
			hits[e.ID]++
			byID[e.ID] = e
		}
	}

	type scored struct {
		entry model.LongTermEntry
		score float64
	}
	candidates := make([]scored, 0, len(byID))
	for id, e := range byID {
		relevance := float64(hits[id]) / float64(len(terms))

		// Recency: exponential decay over days since last use.
		last := e.StoredAt
		if e.LastAccessedAt != nil && e.LastAccessedAt.After(last) {
			last = *e.LastAccessedAt
		}
		recency := math.Exp(-0.1 * now.Sub(last).Hours() / 24.0)

		importance := 0.25
		if e.Promoted {
			importance = 0.75
		}
		if e.Protected {
			importance = 1.0
		}

		accessFreq := 0.0
		if e.AccessCount > 0 {
			accessFreq = math.Min(1, math.Log(float64(e.AccessCount)+1)/math.Log(100))
		}

		score := relevance*0.4 + recency*0.2 + importance*0.2 + accessFreq*0.2
		candidates = append(candidates, scored{entry: e, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].entry.ID < candidates[j].entry.ID
	})

	result := &RecallResult{Budget: budget, Entries: []RecalledEntry{}}
	used := 0
	for _, c := range candidates {
		payload := c.entry.Payload
		entry := RecalledEntry{
			ID:    c.entry.ID,
			Type:  c.entry.Type,
			Key:   c.entry.Key,
			Score: math.Round(c.score*100) / 100,
		}
		if used+len(payload) <= budget {
			entry.Payload = payload
			result.Entries = append(result.Entries, entry)
			used += len(payload)
			continue
		}
		if remaining := budget - used; remaining >= 100 {
			entry.Payload = payload[:remaining] + "..."
			entry.Excerpt = true
			result.Entries = append(result.Entries, entry)
			used += remaining
		}
		break
	}
	result.Used = used
	return result, nil
}

func (s *SQLiteStore) Recall(ctx context.Context, p RecallParams) (*RecallResult, error) {
	return recall(ctx, s, p, s.now())
}
