package calls

import (
	"strings"
	"time"
)

// Call is one phone call handled by the secretary, inbound or outbound.
//
// Invariants:
// - CallSID (the provider's call id) is unique and never changes once stored.
// - Status only moves along the transitions in transition.go.
// - AnsweredAt is stamped on entering in_progress; EndedAt on entering a terminal status.
type Call struct {
	ID        string    `json:"id" db:"id"`
	CallSID   string    `json:"call_sid" db:"call_sid"`
	UserID    string    `json:"user_id" db:"user_id"`
	Direction Direction `json:"direction" db:"direction"`
	Status    Status    `json:"status" db:"status"`

	FromNumber string `json:"from_number" db:"from_number"`
	ToNumber   string `json:"to_number" db:"to_number"`

	Purpose Purpose        `json:"purpose,omitempty" db:"purpose"`
	Context map[string]any `json:"context,omitempty" db:"context"`
	TaskID  string         `json:"task_id,omitempty" db:"task_id"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds is reported by the provider once the call has ended.
	DurationSeconds *int `json:"duration_seconds,omitempty" db:"duration_seconds"`

	Transcription string `json:"transcription,omitempty" db:"transcription"`
	Summary       string `json:"summary,omitempty" db:"summary"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no_answer"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further transitions are accepted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusRinging, StatusInProgress:
		return true
	default:
		return s.Terminal()
	}
}

type Purpose string

const (
	PurposeReservation     Purpose = "reservation"
	PurposeInquiry         Purpose = "inquiry"
	PurposeCancellation    Purpose = "cancellation"
	PurposeOTPVerification Purpose = "otp_verification"
	PurposeConfirmation    Purpose = "confirmation"
	PurposeOther           Purpose = "other"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeReservation, PurposeInquiry, PurposeCancellation, PurposeOTPVerification, PurposeConfirmation, PurposeOther:
		return true
	default:
		return false
	}
}

// CallMessage is one turn of a call transcript. Messages are append-only.
type CallMessage struct {
	ID        string      `json:"id" db:"id"`
	CallID    string      `json:"call_id" db:"call_id"`
	Role      MessageRole `json:"role" db:"role"`
	Content   string      `json:"content" db:"content"`
	Timestamp time.Time   `json:"timestamp" db:"timestamp"`
}

type MessageRole string

const (
	RoleCaller    MessageRole = "caller"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// PhoneNumberRule allows or denies inbound calls from one number. Unique per (user, number).
type PhoneNumberRule struct {
	ID          string   `json:"id" db:"id"`
	UserID      string   `json:"user_id" db:"user_id"`
	PhoneNumber string   `json:"phone_number" db:"phone_number"`
	RuleType    RuleType `json:"rule_type" db:"rule_type"`
	Label       string   `json:"label,omitempty" db:"label"`
	Notes       string   `json:"notes,omitempty" db:"notes"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type RuleType string

const (
	RuleAllow RuleType = "allow"
	RuleDeny  RuleType = "deny"
)

// DefaultGreeting is spoken when an inbound call is admitted.
const DefaultGreeting = "お電話ありがとうございます。AIアシスタントがご用件をお伺いします。"

// VoiceSettings holds per-user voice preferences. One row per user, created lazily.
type VoiceSettings struct {
	UserID              string `json:"user_id" db:"user_id"`
	InboundEnabled      bool   `json:"inbound_enabled" db:"inbound_enabled"`
	DefaultGreeting     string `json:"default_greeting" db:"default_greeting"`
	AutoAnswerWhitelist bool   `json:"auto_answer_whitelist" db:"auto_answer_whitelist"`
	RecordCalls         bool   `json:"record_calls" db:"record_calls"`
	NotifyViaChat       bool   `json:"notify_via_chat" db:"notify_via_chat"`
	ElevenLabsVoiceID   string `json:"elevenlabs_voice_id,omitempty" db:"elevenlabs_voice_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func defaultSettings(userID string, now time.Time) VoiceSettings {
	return VoiceSettings{
		UserID:          userID,
		DefaultGreeting: DefaultGreeting,
		NotifyViaChat:   true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NormalizeNumber converts a dialed number to E.164. Domestic Japanese numbers
// ("090-1234-5678") become +81 numbers; separators are stripped. Values that are not
// numbers at all (Twilio sends "anonymous") are returned trimmed.
func NormalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '(' || r == ')' || r == '.':
		default:
			return s
		}
	}
	n := b.String()
	switch {
	case strings.HasPrefix(n, "+"):
		return n
	case strings.HasPrefix(n, "0"):
		return "+81" + n[1:]
	case strings.HasPrefix(n, "81"):
		return "+" + n
	default:
		return n
	}
}
