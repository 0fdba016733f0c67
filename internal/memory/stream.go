// Package memory holds the per-session memory tiers: the Stream of raw
// inputs and the mutable Working Memory. The durable tier lives in the
// store package.
package memory

import (
	"maps"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/textutil"
)

// Stream capacity defaults. Activity counts arrivals in the last minute,
// including entries already rolled into the summary.
const (
	DefaultCapacity             = 20
	DefaultHighActivityCapacity = 50
	highActivityThreshold       = 10
	activityWindow              = time.Minute
	summaryTerms                = 10
	maxTrackedTerms             = 512
)

// StreamSummary aggregates entries rolled out of the live window.
type StreamSummary struct {
	Count    int        `json:"count"`
	FirstAt  *time.Time `json:"firstAt,omitempty"`
	LastAt   *time.Time `json:"lastAt,omitempty"`
	TopTerms []string   `json:"topTerms"`
}

// Stream is a rolling window of captured requests. Entries beyond the
// activity-dependent capacity are folded into a summary.
type Stream struct {
	mu                   sync.Mutex
	entries              []model.StreamEntry
	seq                  int64
	summary              StreamSummary
	termCounts           map[string]int // term frequencies behind summary.TopTerms
	arrivals             []time.Time
	capacity             int
	highActivityCapacity int
	entropy              *rand.Rand
	now                  func() time.Time
}

// NewStream creates a stream. Non-positive capacities select the defaults.
func NewStream(capacity, highActivityCapacity int) *Stream {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if highActivityCapacity < capacity {
		highActivityCapacity = max(capacity, DefaultHighActivityCapacity)
	}
	return &Stream{
		capacity:             capacity,
		highActivityCapacity: highActivityCapacity,
		summary:              StreamSummary{TopTerms: []string{}},
		termCounts:           make(map[string]int),
		entropy:              rand.New(rand.NewSource(time.Now().UnixNano())),
		now:                  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the stream's clock. Intended for tests.
func (s *Stream) WithClock(now func() time.Time) *Stream {
	s.now = now
	return s
}

// Append captures one request and returns the immutable entry.
func (s *Stream) Append(raw string, ctx map[string]any) model.StreamEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.seq++
	e := model.StreamEntry{
		ID:             ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
		Timestamp:      now,
		RawInput:       raw,
		Context:        maps.Clone(ctx),
		SequenceNumber: s.seq,
	}
	s.entries = append(s.entries, e)
	s.arrivals = append(s.arrivals, now)

	limit := s.capacityLocked(now)
	if over := len(s.entries) - limit; over > 0 {
		s.rollLocked(s.entries[:over])
		s.entries = append([]model.StreamEntry(nil), s.entries[over:]...)
	}
	return e
}

// Capacity returns the live window size given current activity.
func (s *Stream) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacityLocked(s.now())
}

func (s *Stream) capacityLocked(now time.Time) int {
	kept := s.arrivals[:0]
	for _, at := range s.arrivals {
		if now.Sub(at) <= activityWindow {
			kept = append(kept, at)
		}
	}
	s.arrivals = kept
	if len(s.arrivals) > highActivityThreshold {
		return s.highActivityCapacity
	}
	return s.capacity
}

func (s *Stream) rollLocked(entries []model.StreamEntry) {
	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		ts := e.Timestamp
		if s.summary.FirstAt == nil {
			s.summary.FirstAt = &ts
		}
		s.summary.LastAt = &ts
		s.summary.Count++
		textutil.CountTerms(s.termCounts, e.RawInput)
	}
	if len(s.termCounts) > maxTrackedTerms {
		s.pruneTermsLocked()
	}
	s.summary.TopTerms = textutil.RankTerms(s.termCounts, summaryTerms)
}

// pruneTermsLocked keeps the most frequent half of the tracked terms.
func (s *Stream) pruneTermsLocked() {
	kept := make(map[string]int, maxTrackedTerms/2)
	for _, t := range textutil.RankTerms(s.termCounts, maxTrackedTerms/2) {
		kept[t] = s.termCounts[t]
	}
	s.termCounts = kept
}

// Collapse folds every live entry into the summary.
func (s *Stream) Collapse() StreamSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked(s.entries)
	s.entries = nil
	return s.summaryLocked()
}

// Recent returns up to n of the newest entries, oldest first.
func (s *Stream) Recent(n int) []model.StreamEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	return append([]model.StreamEntry(nil), s.entries[len(s.entries)-n:]...)
}

// Summary returns a copy of the rolled-up summary.
func (s *Stream) Summary() StreamSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

func (s *Stream) summaryLocked() StreamSummary {
	out := s.summary
	out.TopTerms = append([]string{}, s.summary.TopTerms...)
	return out
}

// Len returns the number of live entries.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
