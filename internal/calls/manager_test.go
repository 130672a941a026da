package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T) (*Manager, *MemoryRepo, *time.Time) {
	t.Helper()
	repo := NewMemoryRepo()
	m := NewManager(repo)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return now }
	return m, repo, &now
}

func createOutbound(t *testing.T, m *Manager, sid string) Call {
	t.Helper()
	c, err := m.CreateCall(context.Background(), NewCall{
		CallSID:    sid,
		UserID:     "user-1",
		Direction:  DirectionOutbound,
		FromNumber: "+815012345678",
		ToNumber:   "+819012345678",
		Purpose:    PurposeReservation,
		Context:    map[string]any{"people": 2},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func TestCreateCall_StartsInitiated(t *testing.T) {
	m, _, now := newTestManager(t)
	c := createOutbound(t, m, "CA100")

	if c.ID == "" || c.Status != StatusInitiated {
		t.Fatalf("unexpected call: %+v", c)
	}
	if !c.StartedAt.Equal(*now) {
		t.Fatalf("expected started_at now, got %s", c.StartedAt)
	}
	if c.AnsweredAt != nil || c.EndedAt != nil || c.DurationSeconds != nil {
		t.Fatalf("expected no answer/end stamps on a new call")
	}
	if c.ToNumber != "+819012345678" || c.Purpose != PurposeReservation {
		t.Fatalf("unexpected fields: %+v", c)
	}
}

func TestCreateCall_DuplicateSIDIsStorageError(t *testing.T) {
	m, _, _ := newTestManager(t)
	createOutbound(t, m, "CA100")

	_, err := m.CreateCall(context.Background(), NewCall{CallSID: "CA100", UserID: "user-1", Direction: DirectionOutbound})
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate underneath, got %v", err)
	}
}

func TestCreateCall_RejectsInvalidInput(t *testing.T) {
	m, _, _ := newTestManager(t)
	cases := []NewCall{
		{UserID: "u", Direction: DirectionOutbound},
		{CallSID: "CA1", Direction: DirectionOutbound},
		{CallSID: "CA1", UserID: "u", Direction: "sideways"},
		{CallSID: "CA1", UserID: "u", Direction: DirectionInbound, Purpose: "gossip"},
	}
	for i, in := range cases {
		if _, err := m.CreateCall(context.Background(), in); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("case %d: expected ErrInvalidArgument, got %v", i, err)
		}
	}
}

func TestUpdateStatus_InProgressStampsAnswered(t *testing.T) {
	m, _, now := newTestManager(t)
	c := createOutbound(t, m, "CA100")

	*now = now.Add(8 * time.Second)
	got, outcome, err := m.UpdateStatus(context.Background(), c.ID, StatusInProgress, StatusUpdate{})
	if err != nil || outcome != UpdateApplied {
		t.Fatalf("update: outcome=%v err=%v", outcome, err)
	}
	if got.Status != StatusInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}
	if got.AnsweredAt == nil || !got.AnsweredAt.Equal(*now) {
		t.Fatalf("expected answered_at set to now, got %v", got.AnsweredAt)
	}
	if got.EndedAt != nil {
		t.Fatalf("expected ended_at absent")
	}
}

func TestUpdateStatus_CompletedWithDuration(t *testing.T) {
	m, _, now := newTestManager(t)
	c := createOutbound(t, m, "CA100")
	if _, _, err := m.UpdateStatus(context.Background(), c.ID, StatusInProgress, StatusUpdate{}); err != nil {
		t.Fatalf("answer: %v", err)
	}

	*now = now.Add(125 * time.Second)
	d := 125
	got, outcome, err := m.UpdateStatus(context.Background(), c.ID, StatusCompleted, StatusUpdate{DurationSeconds: &d})
	if err != nil || outcome != UpdateApplied {
		t.Fatalf("complete: outcome=%v err=%v", outcome, err)
	}
	if got.Status != StatusCompleted || got.EndedAt == nil || !got.EndedAt.Equal(*now) {
		t.Fatalf("unexpected terminal record: %+v", got)
	}
	if got.DurationSeconds == nil || *got.DurationSeconds != 125 {
		t.Fatalf("expected duration 125, got %v", got.DurationSeconds)
	}

	// Second application is a no-op returning the same record.
	*now = now.Add(time.Minute)
	again, outcome, err := m.UpdateStatus(context.Background(), c.ID, StatusCompleted, StatusUpdate{})
	if err != nil || outcome != UpdateIgnored {
		t.Fatalf("repeat: outcome=%v err=%v", outcome, err)
	}
	if !again.EndedAt.Equal(*got.EndedAt) || again.UpdatedAt != got.UpdatedAt {
		t.Fatalf("expected unchanged record, got %+v", again)
	}
}

func TestUpdateStatus_TerminalIgnoresLaterCallbacks(t *testing.T) {
	m, _, _ := newTestManager(t)
	c := createOutbound(t, m, "CA100")
	if _, _, err := m.UpdateStatus(context.Background(), c.ID, StatusBusy, StatusUpdate{}); err != nil {
		t.Fatalf("busy: %v", err)
	}
	got, outcome, err := m.UpdateStatus(context.Background(), c.ID, StatusRinging, StatusUpdate{})
	if err != nil || outcome != UpdateIgnored {
		t.Fatalf("late ringing: outcome=%v err=%v", outcome, err)
	}
	if got.Status != StatusBusy {
		t.Fatalf("expected busy to stick, got %s", got.Status)
	}
}

func TestUpdateStatus_UnknownCall(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, outcome, err := m.UpdateStatus(context.Background(), "missing", StatusRinging, StatusUpdate{})
	if err != nil || outcome.Found() {
		t.Fatalf("expected absent without error, got outcome=%v err=%v", outcome, err)
	}
}

// swapRacer moves the stored status to ringing right before the first swap,
// simulating a status callback that lands between read and write.
type swapRacer struct {
	*MemoryRepo
	once sync.Once
}

func (r *swapRacer) SwapStatus(ctx context.Context, c Call, prev Status, upd StatusUpdate) (bool, error) {
	r.once.Do(func() {
		cur, _ := r.MemoryRepo.GetCall(ctx, c.ID)
		ringing, _ := Transition(cur, StatusRinging, time.Now(), StatusUpdate{})
		_, _ = r.MemoryRepo.SwapStatus(ctx, ringing, cur.Status, StatusUpdate{})
	})
	return r.MemoryRepo.SwapStatus(ctx, c, prev, upd)
}

func TestUpdateStatus_RetriesOnConcurrentChange(t *testing.T) {
	repo := &swapRacer{MemoryRepo: NewMemoryRepo()}
	m := NewManager(repo)
	c := createOutbound(t, m, "CA200")

	got, outcome, err := m.UpdateStatus(context.Background(), c.ID, StatusInProgress, StatusUpdate{})
	if err != nil || outcome != UpdateApplied {
		t.Fatalf("update: outcome=%v err=%v", outcome, err)
	}
	if got.Status != StatusInProgress {
		t.Fatalf("expected in_progress after retry, got %s", got.Status)
	}
}

// transcriptRacer attaches a transcript right before the first swap, the way a
// media session teardown can land between a status callback's read and write.
type transcriptRacer struct {
	*MemoryRepo
	once sync.Once
}

func (r *transcriptRacer) SwapStatus(ctx context.Context, c Call, prev Status, upd StatusUpdate) (bool, error) {
	r.once.Do(func() {
		_ = r.MemoryRepo.SetTranscript(ctx, c.ID, "相手: もしもし", "挨拶のみ")
	})
	return r.MemoryRepo.SwapStatus(ctx, c, prev, upd)
}

func TestUpdateStatus_KeepsConcurrentTranscript(t *testing.T) {
	repo := &transcriptRacer{MemoryRepo: NewMemoryRepo()}
	m := NewManager(repo)
	c := createOutbound(t, m, "CA210")

	got, outcome, err := m.UpdateStatus(context.Background(), c.ID, StatusInProgress, StatusUpdate{})
	if err != nil || outcome != UpdateApplied {
		t.Fatalf("update: outcome=%v err=%v", outcome, err)
	}
	if got.Status != StatusInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}

	stored, found, err := m.Get(context.Background(), c.ID)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if stored.Status != StatusInProgress || stored.Transcription != "相手: もしもし" || stored.Summary != "挨拶のみ" {
		t.Fatalf("transcript lost: status=%s transcription=%q summary=%q", stored.Status, stored.Transcription, stored.Summary)
	}
}

func TestUpdateStatus_CarriedTranscriptIsWritten(t *testing.T) {
	m, _, _ := newTestManager(t)
	c := createOutbound(t, m, "CA220")
	text := "AI: はい"
	if _, _, err := m.UpdateStatus(context.Background(), c.ID, StatusFailed, StatusUpdate{Transcription: &text}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	stored, _, _ := m.Get(context.Background(), c.ID)
	if stored.Transcription != text || stored.Summary != "" {
		t.Fatalf("unexpected transcript fields: %+v", stored)
	}
}

func TestUpdateStatus_LateDurationOnFinishedCall(t *testing.T) {
	m, _, now := newTestManager(t)
	c := createOutbound(t, m, "CA230")
	if _, _, err := m.UpdateStatus(context.Background(), c.ID, StatusInProgress, StatusUpdate{}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	canceled, outcome, err := m.UpdateStatus(context.Background(), c.ID, StatusCanceled, StatusUpdate{})
	if err != nil || outcome != UpdateApplied {
		t.Fatalf("cancel: outcome=%v err=%v", outcome, err)
	}

	*now = now.Add(3 * time.Second)
	d := 42
	got, outcome, err := m.UpdateStatus(context.Background(), c.ID, StatusCompleted, StatusUpdate{DurationSeconds: &d})
	if err != nil || outcome != UpdateIgnored {
		t.Fatalf("late completion: outcome=%v err=%v", outcome, err)
	}
	if got.Status != StatusCanceled || got.DurationSeconds == nil || *got.DurationSeconds != 42 {
		t.Fatalf("expected canceled with duration 42, got %+v", got)
	}
	if !got.EndedAt.Equal(*canceled.EndedAt) {
		t.Fatalf("ended_at moved: %v -> %v", canceled.EndedAt, got.EndedAt)
	}

	// A second report does not overwrite the recorded duration.
	other := 99
	again, _, err := m.UpdateStatus(context.Background(), c.ID, StatusCompleted, StatusUpdate{DurationSeconds: &other})
	if err != nil || *again.DurationSeconds != 42 {
		t.Fatalf("expected duration to stay 42, got %v err=%v", again.DurationSeconds, err)
	}
}

func TestFindByExternalID(t *testing.T) {
	m, _, _ := newTestManager(t)
	c := createOutbound(t, m, "CA300")

	got, found, err := m.FindByExternalID(context.Background(), "CA300")
	if err != nil || !found || got.ID != c.ID {
		t.Fatalf("expected to find call, got %+v found=%v err=%v", got, found, err)
	}
	if _, found, _ := m.FindByExternalID(context.Background(), "CA404"); found {
		t.Fatalf("expected absent")
	}
}

func TestListForUser_NewestFirstWithFilters(t *testing.T) {
	m, _, now := newTestManager(t)
	first := createOutbound(t, m, "CA1")
	*now = now.Add(time.Minute)
	second := createOutbound(t, m, "CA2")
	*now = now.Add(time.Minute)
	if _, err := m.CreateCall(context.Background(), NewCall{CallSID: "CA3", UserID: "user-1", Direction: DirectionInbound}); err != nil {
		t.Fatalf("inbound: %v", err)
	}
	if _, err := m.CreateCall(context.Background(), NewCall{CallSID: "CA4", UserID: "user-2", Direction: DirectionOutbound}); err != nil {
		t.Fatalf("other user: %v", err)
	}

	out, err := m.ListForUser(context.Background(), "user-1", ListFilter{Direction: DirectionOutbound})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 || out[0].ID != second.ID || out[1].ID != first.ID {
		t.Fatalf("expected outbound calls newest first, got %+v", out)
	}

	all, _ := m.ListForUser(context.Background(), "user-1", ListFilter{Limit: 1})
	if len(all) != 1 || all[0].CallSID != "CA3" {
		t.Fatalf("expected limit 1 with newest inbound call, got %+v", all)
	}

	if _, err := m.ListForUser(context.Background(), "user-1", ListFilter{Status: "bogus"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid status error, got %v", err)
	}
}

func TestAppendMessage_OrderedTranscript(t *testing.T) {
	m, _, now := newTestManager(t)
	c := createOutbound(t, m, "CA500")

	if _, err := m.AppendMessage(context.Background(), c.ID, RoleCaller, "hello"); err != nil {
		t.Fatalf("append caller: %v", err)
	}
	*now = now.Add(time.Second)
	if _, err := m.AppendMessage(context.Background(), c.ID, RoleAssistant, "hi there"); err != nil {
		t.Fatalf("append assistant: %v", err)
	}
	if _, err := m.AppendMessage(context.Background(), c.ID, "robot", "x"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid role error, got %v", err)
	}

	msgs, err := m.ListMessages(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != RoleCaller || msgs[1].Content != "hi there" {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}

	if _, err := m.AppendMessage(context.Background(), "missing", RoleCaller, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown call, got %v", err)
	}
}

func TestAttachTranscript(t *testing.T) {
	m, _, _ := newTestManager(t)
	c := createOutbound(t, m, "CA600")

	if err := m.AttachTranscript(context.Background(), c.ID, "AI: hi", "short call"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	got, _, _ := m.Get(context.Background(), c.ID)
	if got.Transcription != "AI: hi" || got.Summary != "short call" || got.Status != StatusInitiated {
		t.Fatalf("unexpected call after attach: %+v", got)
	}
}
