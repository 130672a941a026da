package telephony

import (
	"strings"

	"voice-secretary/internal/calls"
)

var providerStatuses = map[string]calls.Status{
	"queued":      calls.StatusInitiated,
	"initiated":   calls.StatusInitiated,
	"ringing":     calls.StatusRinging,
	"in-progress": calls.StatusInProgress,
	"completed":   calls.StatusCompleted,
	"busy":        calls.StatusBusy,
	"no-answer":   calls.StatusNoAnswer,
	"failed":      calls.StatusFailed,
	"canceled":    calls.StatusCanceled,
}

// TranslateStatusCallback maps a Twilio CallStatus to the internal status.
// Unrecognized values fail closed to failed.
func TranslateStatusCallback(providerStatus string) calls.Status {
	if s, ok := providerStatuses[strings.ToLower(strings.TrimSpace(providerStatus))]; ok {
		return s
	}
	return calls.StatusFailed
}
