package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for one user.
// Calls are bucketed by started_at within [From, To).
type CallsSummaryRequest struct {
	UserID    string    `json:"user_id"`
	Range     TimeRange `json:"range"`
	Direction string    `json:"direction,omitempty"`
}

type CallsSummary struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`

	TotalCalls    int `json:"total_calls"`
	InboundCalls  int `json:"inbound_calls"`
	OutboundCalls int `json:"outbound_calls"`

	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	// AnsweredCalls counts calls that reached in_progress at some point.
	AnsweredCalls  int     `json:"answered_calls"`
	ConnectionRate float64 `json:"connection_rate"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	TranscribedCalls int            `json:"transcribed_calls"`
	ByPurpose        map[string]int `json:"by_purpose"`

	// Truncated is set when the range held more calls than one summary scans.
	Truncated bool `json:"truncated,omitempty"`
}
