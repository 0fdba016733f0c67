package model

// Urgency is how soon a request must be acted on.
type Urgency string

const (
	UrgencyNow   Urgency = "NOW"
	UrgencySoon  Urgency = "SOON"
	UrgencyLater Urgency = "LATER"
)

// Stakes is how costly a wrong answer would be.
type Stakes string

const (
	StakesLow    Stakes = "low"
	StakesMedium Stakes = "medium"
	StakesHigh   Stakes = "high"
)

// Difficulty is the expected effort of a request.
type Difficulty string

const (
	DifficultyEasy     Difficulty = "easy"
	DifficultyModerate Difficulty = "moderate"
	DifficultyHard     Difficulty = "hard"
	DifficultyCritical Difficulty = "critical"
)

// Precision is whether an approximate answer is acceptable.
type Precision string

const (
	PrecisionStrict   Precision = "strict"
	PrecisionFlexible Precision = "flexible"
)

// InputType is the coarse class of a request, used to pick a task template.
type InputType string

const (
	InputRecipeCompare InputType = "recipe_compare"
	InputErrorReport   InputType = "error_report"
	InputComputation   InputType = "computation"
	InputPlanning      InputType = "planning"
	InputCreative      InputType = "creative"
	InputCommand       InputType = "command"
	InputDataRequest   InputType = "data_request"
	InputQuestion      InputType = "question"
	InputConversation  InputType = "conversation"
)

// Assessment is the classification of one request. Immutable once produced.
type Assessment struct {
	Urgency    Urgency    `json:"urgency"`
	Stakes     Stakes     `json:"stakes"`
	Difficulty Difficulty `json:"difficulty"`
	Precision  Precision  `json:"precision"`
	InputType  InputType  `json:"inputType"`
	Familiar   bool       `json:"familiar,omitempty"`
	Reasoning  []string   `json:"reasoning"`
}

// Bucket maps a graded level onto low/med/high.
type Bucket string

const (
	BucketLow  Bucket = "low"
	BucketMed  Bucket = "med"
	BucketHigh Bucket = "high"
)

// BucketedAssessment is the coarse form of an Assessment kept in run records.
type BucketedAssessment struct {
	Urgency    Bucket `json:"urgency"`
	Stakes     Bucket `json:"stakes"`
	Difficulty Bucket `json:"difficulty"`
}

// Buckets collapses the assessment into low/med/high levels.
func (a Assessment) Buckets() BucketedAssessment {
	b := BucketedAssessment{Urgency: BucketLow, Stakes: BucketLow, Difficulty: BucketLow}
	switch a.Urgency {
	case UrgencyNow:
		b.Urgency = BucketHigh
	case UrgencySoon:
		b.Urgency = BucketMed
	}
	switch a.Stakes {
	case StakesHigh:
		b.Stakes = BucketHigh
	case StakesMedium:
		b.Stakes = BucketMed
	}
	switch a.Difficulty {
	case DifficultyHard, DifficultyCritical:
		b.Difficulty = BucketHigh
	case DifficultyModerate:
		b.Difficulty = BucketMed
	}
	return b
}
