package telephony

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the narrow surface of the telephony vendor used by the Bridge.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Keep request/response types provider-agnostic.
type Provider interface {
	// CreateCall dials out and returns the provider's call id.
	CreateCall(ctx context.Context, req OutboundCall) (string, error)
	// Hangup asks the provider to end a live call.
	Hangup(ctx context.Context, callSID string) error
}

// OutboundCall is a provider-agnostic dial request.
type OutboundCall struct {
	To   string
	From string
	// Document is the inline call-control document (TwiML) executed when the callee answers.
	Document string
	// StatusCallbackURL receives status changes. Empty disables callbacks.
	StatusCallbackURL string
}

// ErrConfiguration means the provider credentials or the outbound number are missing.
var ErrConfiguration = errors.New("telephony: provider not configured")

// ErrCallLimit means the user already has the maximum number of calls in flight.
var ErrCallLimit = errors.New("telephony: concurrent call limit reached")

// ProviderError wraps a failed provider request.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("telephony: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
