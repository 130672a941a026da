package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records call-control decisions.
//
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.UserID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}

// LogCallPlaced records an outbound call handed to the provider.
func (s *Service) LogCallPlaced(ctx context.Context, userID, callID, toNumber, purpose string) error {
	return s.Append(ctx, Event{
		UserID:      userID,
		Type:        EventTypeCallPlaced,
		CallID:      callID,
		PhoneNumber: toNumber,
		Message:     "outbound call placed",
		Metadata:    purposeMetadata(purpose),
	})
}

// LogCallEnded records an explicit hang-up request.
func (s *Service) LogCallEnded(ctx context.Context, userID, callID string) error {
	return s.Append(ctx, Event{
		UserID:  userID,
		Type:    EventTypeCallEnded,
		CallID:  callID,
		Message: "call ended by request",
	})
}

// LogInbound records an admission decision for an inbound caller.
func (s *Service) LogInbound(ctx context.Context, userID, callID, caller string, admitted bool, reason string) error {
	t := EventTypeInboundRejected
	if admitted {
		t = EventTypeInboundAdmitted
	}
	return s.Append(ctx, Event{
		UserID:      userID,
		Type:        t,
		CallID:      callID,
		PhoneNumber: caller,
		Message:     reason,
	})
}

func purposeMetadata(purpose string) string {
	if purpose == "" {
		return ""
	}
	return `{"purpose":"` + purpose + `"}`
}
