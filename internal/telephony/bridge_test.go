package telephony

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"voice-secretary/internal/audit"
	"voice-secretary/internal/calls"
)

type fakeProvider struct {
	mu        sync.Mutex
	created   []OutboundCall
	hungUp    []string
	createErr error
	hangupErr error
	nextSID   string
}

func (p *fakeProvider) CreateCall(ctx context.Context, req OutboundCall) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", p.createErr
	}
	p.created = append(p.created, req)
	if p.nextSID == "" {
		return "CA-test", nil
	}
	return p.nextSID, nil
}

func (p *fakeProvider) Hangup(ctx context.Context, callSID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hangupErr != nil {
		return p.hangupErr
	}
	p.hungUp = append(p.hungUp, callSID)
	return nil
}

type fakeLimiter struct {
	mu       sync.Mutex
	inFlight map[string]int
	limit    int
}

func (l *fakeLimiter) Acquire(ctx context.Context, userID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight[userID] >= l.limit {
		return false, nil
	}
	l.inFlight[userID]++
	return true, nil
}

func (l *fakeLimiter) Release(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight[userID] > 0 {
		l.inFlight[userID]--
	}
	return nil
}

type fakeSessions struct{ stopped []string }

func (s *fakeSessions) Stop(callSID string) bool {
	s.stopped = append(s.stopped, callSID)
	return true
}

type bridgeFixture struct {
	bridge   *Bridge
	provider *fakeProvider
	limiter  *fakeLimiter
	sessions *fakeSessions
	manager  *calls.Manager
	settings *calls.SettingsService
	rules    *calls.RuleService
	audit    *audit.MemoryRepo
}

func newFixture(t *testing.T, cfg BridgeConfig) *bridgeFixture {
	t.Helper()
	return newFixtureWithRepo(t, cfg, calls.NewMemoryRepo())
}

func newFixtureWithRepo(t *testing.T, cfg BridgeConfig, repo calls.Repository) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		provider: &fakeProvider{},
		limiter:  &fakeLimiter{inFlight: map[string]int{}, limit: 2},
		sessions: &fakeSessions{},
		manager:  calls.NewManager(repo),
		settings: calls.NewSettingsService(repo),
		rules:    calls.NewRuleService(repo),
		audit:    audit.NewMemoryRepo(),
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = "+815012345678"
	}
	f.bridge = NewBridge(cfg, BridgeDeps{
		Provider: f.provider,
		Calls:    f.manager,
		Settings: f.settings,
		Rules:    f.rules,
		Limiter:  f.limiter,
		Audit:    audit.NewService(f.audit),
		Sessions: f.sessions,
	})
	return f
}

func TestPlaceCall_StreamDocumentAndRecord(t *testing.T) {
	f := newFixture(t, BridgeConfig{
		StreamURL:         "wss://voice.example.com/api/v1/voice/stream",
		StatusCallbackURL: "https://voice.example.com/api/v1/voice/webhook/status",
	})

	call, err := f.bridge.PlaceCall(context.Background(), PlaceCallRequest{
		UserID:  "user-1",
		To:      "090-1234-5678",
		Purpose: calls.PurposeReservation,
		Context: map[string]any{"date": "明日"},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if call.Status != calls.StatusInitiated || call.CallSID != "CA-test" || call.ToNumber != "+819012345678" {
		t.Fatalf("unexpected call: %+v", call)
	}
	if len(f.provider.created) != 1 {
		t.Fatalf("expected one provider call")
	}
	req := f.provider.created[0]
	if req.From != "+815012345678" || req.StatusCallbackURL == "" {
		t.Fatalf("unexpected provider request: %+v", req)
	}
	if !strings.Contains(req.Document, `<Stream url="wss://voice.example.com/api/v1/voice/stream">`) {
		t.Fatalf("expected stream document, got %s", req.Document)
	}
	if !strings.Contains(req.Document, `<Parameter name="call_id" value="`+call.ID+`">`) {
		t.Fatalf("expected call id parameter, got %s", req.Document)
	}
	if evs := f.audit.Events(); len(evs) != 1 || evs[0].Type != audit.EventTypeCallPlaced {
		t.Fatalf("expected placement audit event, got %+v", evs)
	}
}

func TestPlaceCall_AnnouncementWithoutWebhookBase(t *testing.T) {
	f := newFixture(t, BridgeConfig{})
	if _, err := f.bridge.PlaceCall(context.Background(), PlaceCallRequest{UserID: "u", To: "+819012345678"}); err != nil {
		t.Fatalf("place: %v", err)
	}
	doc := f.provider.created[0].Document
	if strings.Contains(doc, "<Stream") || !strings.Contains(doc, "<Hangup>") || !strings.Contains(doc, `<Pause length="2">`) {
		t.Fatalf("expected announcement document, got %s", doc)
	}
}

func TestPlaceCall_ConfigurationErrors(t *testing.T) {
	b := NewBridge(BridgeConfig{FromNumber: "+815012345678"}, BridgeDeps{Calls: calls.NewManager(calls.NewMemoryRepo())})
	if _, err := b.PlaceCall(context.Background(), PlaceCallRequest{UserID: "u", To: "+819012345678"}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration without provider, got %v", err)
	}

	b = NewBridge(BridgeConfig{}, BridgeDeps{Provider: &fakeProvider{}, Calls: calls.NewManager(calls.NewMemoryRepo())})
	if _, err := b.PlaceCall(context.Background(), PlaceCallRequest{UserID: "u", To: "+819012345678"}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration without outbound number, got %v", err)
	}
}

func TestPlaceCall_ProviderFailureReleasesSlot(t *testing.T) {
	f := newFixture(t, BridgeConfig{})
	f.provider.createErr = errors.New("21211 invalid 'To' number")

	_, err := f.bridge.PlaceCall(context.Background(), PlaceCallRequest{UserID: "u", To: "+819012345678"})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Op != "create call" {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if f.limiter.inFlight["u"] != 0 {
		t.Fatalf("expected slot released, got %d", f.limiter.inFlight["u"])
	}
}

func TestPlaceCall_ConcurrencyCap(t *testing.T) {
	f := newFixture(t, BridgeConfig{})
	for i, sid := range []string{"CA1", "CA2"} {
		f.provider.nextSID = sid
		if _, err := f.bridge.PlaceCall(context.Background(), PlaceCallRequest{UserID: "u", To: "+819012345678"}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	f.provider.nextSID = "CA3"
	if _, err := f.bridge.PlaceCall(context.Background(), PlaceCallRequest{UserID: "u", To: "+819012345678"}); !errors.Is(err, ErrCallLimit) {
		t.Fatalf("expected ErrCallLimit, got %v", err)
	}

	d := 30
	if err := f.bridge.HandleStatusCallback(context.Background(), StatusCallback{CallSID: "CA1", CallStatus: "busy", DurationSeconds: &d}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if f.limiter.inFlight["u"] != 1 {
		t.Fatalf("expected one slot after terminal callback, got %d", f.limiter.inFlight["u"])
	}
}

// racingRepo runs a hook once, right after a lookup returns, so another status
// update can land between a handler's read and its write.
type racingRepo struct {
	*calls.MemoryRepo
	afterLookupBySID func()
	afterGet         func()
}

func (r *racingRepo) GetCallBySID(ctx context.Context, callSID string) (calls.Call, error) {
	c, err := r.MemoryRepo.GetCallBySID(ctx, callSID)
	if hook := r.afterLookupBySID; hook != nil && err == nil {
		r.afterLookupBySID = nil
		hook()
	}
	return c, err
}

func (r *racingRepo) GetCall(ctx context.Context, id string) (calls.Call, error) {
	c, err := r.MemoryRepo.GetCall(ctx, id)
	if hook := r.afterGet; hook != nil && err == nil {
		r.afterGet = nil
		hook()
	}
	return c, err
}

func TestHandleStatusCallback_DuplicateTerminalReleasesOnce(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepo{MemoryRepo: calls.NewMemoryRepo()}
	f := newFixtureWithRepo(t, BridgeConfig{}, repo)
	for _, sid := range []string{"CA1", "CA2"} {
		f.provider.nextSID = sid
		if _, err := f.bridge.PlaceCall(ctx, PlaceCallRequest{UserID: "u", To: "+819012345678"}); err != nil {
			t.Fatalf("place %s: %v", sid, err)
		}
	}
	if err := f.bridge.HandleStatusCallback(ctx, StatusCallback{CallSID: "CA1", CallStatus: "in-progress"}); err != nil {
		t.Fatalf("in-progress: %v", err)
	}

	d := 20
	completed := StatusCallback{CallSID: "CA1", CallStatus: "completed", DurationSeconds: &d}
	repo.afterLookupBySID = func() {
		if err := f.bridge.HandleStatusCallback(ctx, completed); err != nil {
			t.Errorf("racing callback: %v", err)
		}
	}
	if err := f.bridge.HandleStatusCallback(ctx, completed); err != nil {
		t.Fatalf("completed: %v", err)
	}
	if f.limiter.inFlight["u"] != 1 {
		t.Fatalf("expected CA2 to keep its slot, in flight = %d", f.limiter.inFlight["u"])
	}
}

func TestEndCall_RacingCallbackReleasesOnce(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepo{MemoryRepo: calls.NewMemoryRepo()}
	f := newFixtureWithRepo(t, BridgeConfig{}, repo)
	var first calls.Call
	for i, sid := range []string{"CA1", "CA2"} {
		f.provider.nextSID = sid
		c, err := f.bridge.PlaceCall(ctx, PlaceCallRequest{UserID: "u", To: "+819012345678"})
		if err != nil {
			t.Fatalf("place %s: %v", sid, err)
		}
		if i == 0 {
			first = c
		}
	}

	repo.afterGet = func() {
		if err := f.bridge.HandleStatusCallback(ctx, StatusCallback{CallSID: "CA1", CallStatus: "no-answer"}); err != nil {
			t.Errorf("racing callback: %v", err)
		}
	}
	ended, err := f.bridge.EndCall(ctx, first.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != calls.StatusNoAnswer {
		t.Fatalf("expected the callback's status to stand, got %s", ended.Status)
	}
	if f.limiter.inFlight["u"] != 1 {
		t.Fatalf("expected CA2 to keep its slot, in flight = %d", f.limiter.inFlight["u"])
	}
}

func TestEndCall_LaterCompletionRecordsDuration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, BridgeConfig{})
	f.provider.nextSID = "CA88"
	call, err := f.bridge.PlaceCall(ctx, PlaceCallRequest{UserID: "u", To: "+819012345678"})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := f.bridge.HandleStatusCallback(ctx, StatusCallback{CallSID: "CA88", CallStatus: "in-progress"}); err != nil {
		t.Fatalf("in-progress: %v", err)
	}
	if _, err := f.bridge.EndCall(ctx, call.ID); err != nil {
		t.Fatalf("end: %v", err)
	}

	d := 37
	if err := f.bridge.HandleStatusCallback(ctx, StatusCallback{CallSID: "CA88", CallStatus: "completed", DurationSeconds: &d}); err != nil {
		t.Fatalf("completed: %v", err)
	}
	got, _, _ := f.manager.Get(ctx, call.ID)
	if got.Status != calls.StatusCanceled || got.DurationSeconds == nil || *got.DurationSeconds != 37 {
		t.Fatalf("expected canceled with duration 37, got %+v", got)
	}
	if f.limiter.inFlight["u"] != 0 {
		t.Fatalf("expected a single release, in flight = %d", f.limiter.inFlight["u"])
	}
}

func TestPlaceCall_InvalidNumber(t *testing.T) {
	f := newFixture(t, BridgeConfig{})
	if _, err := f.bridge.PlaceCall(context.Background(), PlaceCallRequest{UserID: "u", To: "call me"}); !errors.Is(err, calls.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestHandleStatusCallback_Scenarios(t *testing.T) {
	f := newFixture(t, BridgeConfig{})
	f.provider.nextSID = "CA42"
	call, err := f.bridge.PlaceCall(context.Background(), PlaceCallRequest{UserID: "u", To: "+819012345678"})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if err := f.bridge.HandleStatusCallback(context.Background(), StatusCallback{CallSID: "CA42", CallStatus: "in-progress"}); err != nil {
		t.Fatalf("in-progress: %v", err)
	}
	got, _, _ := f.manager.Get(context.Background(), call.ID)
	if got.Status != calls.StatusInProgress || got.AnsweredAt == nil || got.EndedAt != nil {
		t.Fatalf("unexpected after in-progress: %+v", got)
	}

	d := 125
	if err := f.bridge.HandleStatusCallback(context.Background(), StatusCallback{CallSID: "CA42", CallStatus: "completed", DurationSeconds: &d}); err != nil {
		t.Fatalf("completed: %v", err)
	}
	got, _, _ = f.manager.Get(context.Background(), call.ID)
	if got.Status != calls.StatusCompleted || got.EndedAt == nil || got.DurationSeconds == nil || *got.DurationSeconds != 125 {
		t.Fatalf("unexpected after completed: %+v", got)
	}

	if err := f.bridge.HandleStatusCallback(context.Background(), StatusCallback{CallSID: "CA-unknown", CallStatus: "ringing"}); err != nil {
		t.Fatalf("unknown call must be ignored, got %v", err)
	}
}

func TestEndCall(t *testing.T) {
	f := newFixture(t, BridgeConfig{})
	f.provider.nextSID = "CA77"
	call, err := f.bridge.PlaceCall(context.Background(), PlaceCallRequest{UserID: "u", To: "+819012345678"})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	ended, err := f.bridge.EndCall(context.Background(), call.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != calls.StatusCanceled || ended.EndedAt == nil {
		t.Fatalf("expected canceled, got %+v", ended)
	}
	if len(f.provider.hungUp) != 1 || f.provider.hungUp[0] != "CA77" {
		t.Fatalf("expected provider hangup, got %v", f.provider.hungUp)
	}
	if len(f.sessions.stopped) != 1 {
		t.Fatalf("expected local session stop")
	}
	if f.limiter.inFlight["u"] != 0 {
		t.Fatalf("expected slot released")
	}

	again, err := f.bridge.EndCall(context.Background(), call.ID)
	if err != nil || again.Status != calls.StatusCanceled {
		t.Fatalf("second end must be a no-op, got %+v err=%v", again, err)
	}
	if len(f.provider.hungUp) != 1 {
		t.Fatalf("expected no second hangup")
	}

	if _, err := f.bridge.EndCall(context.Background(), "missing"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdmitInbound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, BridgeConfig{OwnerUserID: "owner", StreamURL: "wss://voice.example.com/api/v1/voice/stream"})
	if _, err := f.rules.Create(ctx, "owner", calls.NewRule{PhoneNumber: "+819011112222", RuleType: calls.RuleDeny}); err != nil {
		t.Fatalf("rule: %v", err)
	}
	if _, err := f.rules.Create(ctx, "owner", calls.NewRule{PhoneNumber: "+819033334444", RuleType: calls.RuleAllow}); err != nil {
		t.Fatalf("rule: %v", err)
	}

	// Inbound disabled by default: decline regardless of rules.
	adm, err := f.bridge.AdmitInbound(ctx, InboundCall{CallSID: "CAin1", From: "+819033334444", To: "+815012345678"})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if adm.Admitted || !strings.Contains(adm.Document, "<Hangup>") || strings.Contains(adm.Document, "<Stream") {
		t.Fatalf("expected decline, got %+v", adm)
	}

	if _, err := f.settings.SetInboundEnabled(ctx, "owner", true); err != nil {
		t.Fatalf("enable: %v", err)
	}

	adm, _ = f.bridge.AdmitInbound(ctx, InboundCall{CallSID: "CAin2", From: "+819011112222"})
	if adm.Admitted || adm.Reason != "deny rule" {
		t.Fatalf("expected deny rule rejection, got %+v", adm)
	}

	adm, err = f.bridge.AdmitInbound(ctx, InboundCall{CallSID: "CAin3", From: "+819055556666", To: "+815012345678"})
	if err != nil || !adm.Admitted {
		t.Fatalf("expected admission without rule, got %+v err=%v", adm, err)
	}
	if adm.Call.Direction != calls.DirectionInbound || adm.Call.Status != calls.StatusInitiated {
		t.Fatalf("unexpected inbound record: %+v", adm.Call)
	}
	for _, want := range []string{
		`<Stream url="wss://voice.example.com/api/v1/voice/stream/CAin3">`,
		`<Parameter name="call_sid" value="CAin3">`,
		`<Parameter name="caller" value="+819055556666">`,
		`<Parameter name="direction" value="inbound">`,
	} {
		if !strings.Contains(adm.Document, want) {
			t.Fatalf("expected %q in %s", want, adm.Document)
		}
	}

	whitelist := true
	if _, err := f.settings.Update(ctx, "owner", calls.SettingsPatch{AutoAnswerWhitelist: &whitelist}); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	adm, _ = f.bridge.AdmitInbound(ctx, InboundCall{CallSID: "CAin4", From: "+819077778888"})
	if adm.Admitted {
		t.Fatalf("expected unknown caller rejected under whitelist")
	}
	adm, _ = f.bridge.AdmitInbound(ctx, InboundCall{CallSID: "CAin5", From: "+819033334444"})
	if !adm.Admitted {
		t.Fatalf("expected allow-listed caller admitted, got %+v", adm)
	}

	var rejected int
	for _, e := range f.audit.Events() {
		if e.Type == audit.EventTypeInboundRejected {
			rejected++
		}
	}
	if rejected != 3 {
		t.Fatalf("expected 3 rejection audit events, got %d", rejected)
	}
}
