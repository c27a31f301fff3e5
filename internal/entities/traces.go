package entities

type TraceInfo struct {
	TraceID           string            `json:"trace_id"`
	ExperimentID      string            `json:"experiment_id"`
	RequestTime       int64             `json:"request_time"`
	ExecutionDuration int64             `json:"execution_duration"`
	State             TraceState        `json:"state"`
	TraceMetadata     map[string]string `json:"trace_metadata,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
	Assessments       []*Assessment     `json:"assessments,omitempty"`
}

type AssessmentSource struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
}

type ExpectationValue struct {
	Value interface{} `json:"value"`
}

type FeedbackValue struct {
	Value interface{} `json:"value"`
	Error string      `json:"error,omitempty"`
}

// Assessment is either an expectation (ground truth) or feedback (an
// evaluative judgment); exactly one of the two value fields is set.
type Assessment struct {
	AssessmentID     string            `json:"assessment_id"`
	TraceID          string            `json:"trace_id"`
	Name             string            `json:"name"`
	Source           *AssessmentSource `json:"source,omitempty"`
	RunID            string            `json:"run_id,omitempty"`
	SpanID           string            `json:"span_id,omitempty"`
	Rationale        string            `json:"rationale,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Expectation      *ExpectationValue `json:"expectation,omitempty"`
	Feedback         *FeedbackValue    `json:"feedback,omitempty"`
	CreateTimeMS     int64             `json:"create_time_ms"`
	LastUpdateTimeMS int64             `json:"last_update_time_ms"`
	Valid            bool              `json:"valid"`
	Overrides        string            `json:"overrides,omitempty"`
}

func (a *Assessment) IsExpectation() bool {
	return a.Expectation != nil
}

func (a *Assessment) IsFeedback() bool {
	return a.Feedback != nil
}
