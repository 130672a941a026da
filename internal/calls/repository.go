package calls

import "context"

// Repository is the persistence contract for calls, transcripts, settings and rules.
//
// Lookups return ErrNotFound when nothing matches. Inserts that violate a uniqueness
// constraint return ErrDuplicate.
type Repository interface {
	InsertCall(ctx context.Context, c Call) error
	GetCall(ctx context.Context, id string) (Call, error)
	GetCallBySID(ctx context.Context, callSID string) (Call, error)
	// SwapStatus stores the status columns of c (status, answered_at, ended_at,
	// duration_seconds, updated_at) only if the stored status still equals
	// prevStatus. Transcription and summary are written only when upd carries them.
	// It reports false when another writer moved the status first.
	SwapStatus(ctx context.Context, c Call, prevStatus Status, upd StatusUpdate) (bool, error)
	SetTranscript(ctx context.Context, id, transcription, summary string) error
	ListCalls(ctx context.Context, userID string, f ListFilter) ([]Call, error)

	InsertMessage(ctx context.Context, m CallMessage) error
	ListMessages(ctx context.Context, callID string) ([]CallMessage, error)

	GetSettings(ctx context.Context, userID string) (VoiceSettings, error)
	UpsertSettings(ctx context.Context, s VoiceSettings) error

	InsertRule(ctx context.Context, r PhoneNumberRule) error
	ListRules(ctx context.Context, userID string) ([]PhoneNumberRule, error)
	FindRule(ctx context.Context, userID, phoneNumber string) (PhoneNumberRule, error)
	DeleteRule(ctx context.Context, userID, id string) error
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListFilter narrows ListForUser. Empty fields match everything.
type ListFilter struct {
	Direction Direction
	Status    Status
	Limit     int
	Offset    int
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
