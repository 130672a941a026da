package calls

import "time"

var allowedTransitions = map[Status][]Status{
	// initiated -> in_progress covers a lost ringing callback.
	StatusInitiated:  {StatusRinging, StatusInProgress, StatusBusy, StatusNoAnswer, StatusFailed, StatusCanceled},
	StatusRinging:    {StatusInProgress, StatusBusy, StatusNoAnswer, StatusFailed, StatusCanceled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusCanceled},
}

// CanTransition reports whether a call may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StatusUpdate carries optional values recorded together with a status change.
type StatusUpdate struct {
	DurationSeconds *int
	Transcription   *string
	Summary         *string
}

// Transition applies one status change to c. It returns the updated record and
// true, or c unchanged and false when the change is not accepted (same status,
// already terminal, or not a legal edge).
func Transition(c Call, next Status, now time.Time, upd StatusUpdate) (Call, bool) {
	if c.Status == next || c.Status.Terminal() || !CanTransition(c.Status, next) {
		return c, false
	}

	c.Status = next
	c.UpdatedAt = now
	if next == StatusInProgress && c.AnsweredAt == nil {
		t := now
		c.AnsweredAt = &t
	}
	if next.Terminal() {
		t := now
		c.EndedAt = &t
	}
	if upd.DurationSeconds != nil {
		d := *upd.DurationSeconds
		c.DurationSeconds = &d
	}
	if upd.Transcription != nil {
		c.Transcription = *upd.Transcription
	}
	if upd.Summary != nil {
		c.Summary = *upd.Summary
	}
	return c, true
}

// fillDuration records a duration reported after the call already ended, for
// example the provider's completion notice following a local hang-up.
func fillDuration(c Call, now time.Time, upd StatusUpdate) (Call, bool) {
	if !c.Status.Terminal() || c.DurationSeconds != nil || upd.DurationSeconds == nil {
		return c, false
	}
	d := *upd.DurationSeconds
	c.DurationSeconds = &d
	c.UpdatedAt = now
	return c, true
}
