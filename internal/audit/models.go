package audit

import "time"

// Event is an immutable, append-only audit record of a call-control decision.
//
// Invariants:
// - Events are never updated or deleted.
// - user_id is required; it is the owner of the call the event is about.
// - Writing is best-effort; call flows never block on audit failures.
type Event struct {
	ID     string    `json:"id" db:"id"`
	UserID string    `json:"user_id" db:"user_id"`
	Type   EventType `json:"type" db:"type"`

	// IPAddress is the resolved client IP of the request that caused the event, if any.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CallID      string `json:"call_id,omitempty" db:"call_id"`
	PhoneNumber string `json:"phone_number,omitempty" db:"phone_number"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallPlaced      EventType = "call_placed"
	EventTypeCallEnded       EventType = "call_ended"
	EventTypeInboundAdmitted EventType = "inbound_admitted"
	EventTypeInboundRejected EventType = "inbound_rejected"
)
