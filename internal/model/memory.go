// Package model defines the data types shared by every stage of the cycle.
package model

import "time"

// LongTermEntry is a durable piece of cross-session knowledge.
type LongTermEntry struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Key            string     `json:"key"`
	Payload        string     `json:"payload"`
	Tags           []string   `json:"tags,omitempty"`
	StoredAt       time.Time  `json:"stored_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	AccessCount    int        `json:"access_count"`
	Promoted       bool       `json:"promoted"`
	Protected      bool       `json:"protected"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
}

// Archived reports whether the entry has been demoted for disuse.
func (e LongTermEntry) Archived() bool {
	return e.ArchivedAt != nil
}

// Well-known long-term entry types.
const (
	EntryTypeFact          = "fact"
	EntryTypePromotedFact  = "promoted_fact"
	EntryTypeResetSnapshot = "reset_snapshot"
	EntryTypeLearning      = "learning"
	EntryTypeCycleNote     = "cycle_note"
)

// ValidEntryTypes are the types accepted from operators via the CLI.
var ValidEntryTypes = map[string]bool{
	EntryTypeFact:          true,
	EntryTypePromotedFact:  true,
	EntryTypeResetSnapshot: true,
	EntryTypeLearning:      true,
	EntryTypeCycleNote:     true,
}

// StreamEntry is one captured request. It is never mutated after capture.
type StreamEntry struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	RawInput       string         `json:"raw_input"`
	Context        map[string]any `json:"context,omitempty"`
	SequenceNumber int64          `json:"sequence_number"`
}

// Assumption is one belief held in Working Memory.
type Assumption struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Validated  bool      `json:"validated"`
	Timestamp  time.Time `json:"timestamp"`
}

// HistoryEntry records one task execution in Working Memory.
type HistoryEntry struct {
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	Completed bool      `json:"completed"`
	At        time.Time `json:"at"`
}
