package model

import "time"

// PlaybookDraft is written once when a pattern has recurred successfully.
type PlaybookDraft struct {
	ID                 string    `json:"id"`
	PatternKey         string    `json:"patternKey"`
	Domain             string    `json:"domain"`
	TaskType           string    `json:"taskType"`
	TriggerDescription string    `json:"triggerDescription"`
	Steps              []string  `json:"steps"`
	SuccessCriteria    []string  `json:"successCriteria"`
	MinSuccessCount    int       `json:"minSuccessCount"`
	SampleQueries      []string  `json:"sampleQueries,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// PlaybookTrigger identifies the cycles a playbook applies to.
type PlaybookTrigger struct {
	PatternKey  string `json:"patternKey"`
	Description string `json:"description,omitempty"`
}

// ResponseHints shape the caller's response when a playbook matches.
type ResponseHints struct {
	Prefix  string   `json:"prefix,omitempty"`
	Outline []string `json:"outline,omitempty"`
}

// ActivePlaybook is an operator-promoted playbook, loaded read-only.
type ActivePlaybook struct {
	ID              string          `json:"id"`
	Domain          string          `json:"domain"`
	TaskType        string          `json:"taskType"`
	Trigger         PlaybookTrigger `json:"trigger"`
	Steps           []string        `json:"steps"`
	MinSuccessCount int             `json:"minSuccessCount,omitempty"`
	ResponseHints   ResponseHints   `json:"responseHints"`
	PromotedAt      *time.Time      `json:"promotedAt,omitempty"`
}

// PlaybookMatch is returned to the caller when an active playbook applies.
type PlaybookMatch struct {
	PlaybookID string        `json:"playbookId"`
	PatternKey string        `json:"patternKey"`
	UsageCount int           `json:"usageCount"`
	Hints      ResponseHints `json:"hints"`
}
