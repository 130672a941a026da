package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-secretary/pkg/logger"

	"github.com/google/uuid"
)

// maxSwapAttempts bounds the optimistic update loop in UpdateStatus.
const maxSwapAttempts = 5

// Manager owns the call lifecycle. Status changes from provider callbacks and
// transcript appends from media sessions arrive concurrently; status updates are
// compare-and-swap on the previous status, never a global lock.
type Manager struct {
	repo  Repository
	clock func() time.Time
}

func NewManager(repo Repository) *Manager {
	return &Manager{repo: repo, clock: time.Now}
}

// NewCall describes a call that was just placed or admitted.
type NewCall struct {
	// ID is optional; callers that need the id before the record exists may pre-generate it.
	ID         string
	CallSID    string
	UserID     string
	Direction  Direction
	FromNumber string
	ToNumber   string
	Purpose    Purpose
	Context    map[string]any
	TaskID     string
}

func (m *Manager) CreateCall(ctx context.Context, in NewCall) (Call, error) {
	if strings.TrimSpace(in.CallSID) == "" || in.UserID == "" {
		return Call{}, fmt.Errorf("%w: call_sid and user_id required", ErrInvalidArgument)
	}
	if in.Direction != DirectionOutbound && in.Direction != DirectionInbound {
		return Call{}, fmt.Errorf("%w: direction %q", ErrInvalidArgument, in.Direction)
	}
	if in.Purpose != "" && !in.Purpose.Valid() {
		return Call{}, fmt.Errorf("%w: purpose %q", ErrInvalidArgument, in.Purpose)
	}

	now := m.clock().UTC()
	c := Call{
		ID:         in.ID,
		CallSID:    in.CallSID,
		UserID:     in.UserID,
		Direction:  in.Direction,
		Status:     StatusInitiated,
		FromNumber: in.FromNumber,
		ToNumber:   in.ToNumber,
		Purpose:    in.Purpose,
		Context:    in.Context,
		TaskID:     in.TaskID,
		StartedAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Context == nil {
		c.Context = map[string]any{}
	}
	if err := m.repo.InsertCall(ctx, c); err != nil {
		return Call{}, storageErr("create call", err)
	}
	logger.From(ctx).Info("call created", "call_id", c.ID, "call_sid", c.CallSID, "direction", c.Direction)
	return c, nil
}

// UpdateOutcome reports what UpdateStatus did.
type UpdateOutcome int

const (
	// UpdateNotFound means no call has the id.
	UpdateNotFound UpdateOutcome = iota
	// UpdateIgnored means the stored status was kept.
	UpdateIgnored
	// UpdateApplied means this call performed the transition. Exactly one of
	// several concurrent updaters observes it for a given edge.
	UpdateApplied
)

func (o UpdateOutcome) Found() bool { return o != UpdateNotFound }

// UpdateStatus applies one status transition. Re-applying the current status, or
// trying to leave a terminal status, is ignored and returns the stored record; a
// duration carried by such an update is still recorded if the call has none.
func (m *Manager) UpdateStatus(ctx context.Context, callID string, status Status, upd StatusUpdate) (Call, UpdateOutcome, error) {
	log := logger.From(ctx).With("call_id", callID)
	if !status.Valid() {
		return Call{}, UpdateNotFound, fmt.Errorf("%w: status %q", ErrInvalidArgument, status)
	}

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		cur, err := m.repo.GetCall(ctx, callID)
		if errors.Is(err, ErrNotFound) {
			return Call{}, UpdateNotFound, nil
		}
		if err != nil {
			return Call{}, UpdateNotFound, storageErr("get call", err)
		}

		now := m.clock().UTC()
		next, changed := Transition(cur, status, now, upd)
		outcome, carried := UpdateApplied, upd
		if !changed {
			if cur.Status != status {
				log.Info("status transition ignored", "from", cur.Status, "to", status)
			}
			filled, ok := fillDuration(cur, now, upd)
			if !ok {
				return cur, UpdateIgnored, nil
			}
			next, outcome, carried = filled, UpdateIgnored, StatusUpdate{}
		}

		ok, err := m.repo.SwapStatus(ctx, next, cur.Status, carried)
		if errors.Is(err, ErrNotFound) {
			return Call{}, UpdateNotFound, nil
		}
		if err != nil {
			return Call{}, UpdateNotFound, storageErr("update status", err)
		}
		if ok {
			if outcome == UpdateApplied {
				log.Info("call status updated", "from", cur.Status, "to", next.Status)
			} else {
				log.Info("duration recorded on finished call", "status", cur.Status, "duration_seconds", *next.DurationSeconds)
			}
			return next, outcome, nil
		}
		log.Debug("status changed concurrently, retrying", "attempt", attempt+1)
	}
	return Call{}, UpdateNotFound, storageErr("update status", ErrConflict)
}

// FindByExternalID looks a call up by the provider's call id.
func (m *Manager) FindByExternalID(ctx context.Context, callSID string) (Call, bool, error) {
	c, err := m.repo.GetCallBySID(ctx, callSID)
	if errors.Is(err, ErrNotFound) {
		return Call{}, false, nil
	}
	if err != nil {
		return Call{}, false, storageErr("find call by sid", err)
	}
	return c, true, nil
}

func (m *Manager) Get(ctx context.Context, callID string) (Call, bool, error) {
	c, err := m.repo.GetCall(ctx, callID)
	if errors.Is(err, ErrNotFound) {
		return Call{}, false, nil
	}
	if err != nil {
		return Call{}, false, storageErr("get call", err)
	}
	return c, true, nil
}

// ListForUser returns the user's calls newest first.
func (m *Manager) ListForUser(ctx context.Context, userID string, f ListFilter) ([]Call, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id required", ErrInvalidArgument)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidArgument, f.Status)
	}
	if f.Direction != "" && f.Direction != DirectionInbound && f.Direction != DirectionOutbound {
		return nil, fmt.Errorf("%w: direction %q", ErrInvalidArgument, f.Direction)
	}
	out, err := m.repo.ListCalls(ctx, userID, f.normalized())
	if err != nil {
		return nil, storageErr("list calls", err)
	}
	return out, nil
}

func (m *Manager) AppendMessage(ctx context.Context, callID string, role MessageRole, text string) (CallMessage, error) {
	switch role {
	case RoleCaller, RoleAssistant, RoleSystem:
	default:
		return CallMessage{}, fmt.Errorf("%w: role %q", ErrInvalidArgument, role)
	}
	msg := CallMessage{
		ID:        uuid.NewString(),
		CallID:    callID,
		Role:      role,
		Content:   text,
		Timestamp: m.clock().UTC(),
	}
	if err := m.repo.InsertMessage(ctx, msg); err != nil {
		return CallMessage{}, storageErr("append message", err)
	}
	return msg, nil
}

func (m *Manager) ListMessages(ctx context.Context, callID string) ([]CallMessage, error) {
	out, err := m.repo.ListMessages(ctx, callID)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	return out, nil
}

// AttachTranscript stores the full transcript and summary once a media session ends.
// It does not touch the status.
func (m *Manager) AttachTranscript(ctx context.Context, callID, transcription, summary string) error {
	if err := m.repo.SetTranscript(ctx, callID, transcription, summary); err != nil {
		return storageErr("attach transcript", err)
	}
	return nil
}
