package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-secretary/internal/audit"
	"voice-secretary/internal/calls"
	"voice-secretary/pkg/logger"

	"github.com/google/uuid"
)

// Stream parameter names carried in the media stream's start frame.
const (
	ParamCallID    = "call_id"
	ParamCallSID   = "call_sid"
	ParamCaller    = "caller"
	ParamDirection = "direction"
)

// SessionStopper ends a live media session for a call, if this instance owns one.
type SessionStopper interface {
	Stop(callSID string) bool
}

type BridgeConfig struct {
	// FromNumber is the provider number used as caller id for outbound calls.
	FromNumber string
	// StreamURL is the public media stream endpoint. Empty selects the announcement-only document.
	StreamURL string
	// StatusCallbackURL receives provider status changes. Empty disables callbacks.
	StatusCallbackURL string
	// OwnerUserID owns every inbound call to FromNumber.
	OwnerUserID string
}

// Bridge connects the call store to the telephony provider.
type Bridge struct {
	cfg      BridgeConfig
	provider Provider
	calls    *calls.Manager
	settings *calls.SettingsService
	rules    *calls.RuleService
	limiter  Limiter
	audit    *audit.Service
	sessions SessionStopper
}

type BridgeDeps struct {
	// Provider may be nil; PlaceCall and EndCall then fail with ErrConfiguration.
	Provider Provider
	Calls    *calls.Manager
	Settings *calls.SettingsService
	Rules    *calls.RuleService
	Limiter  Limiter
	Audit    *audit.Service
	Sessions SessionStopper
}

func NewBridge(cfg BridgeConfig, deps BridgeDeps) *Bridge {
	cfg.FromNumber = calls.NormalizeNumber(cfg.FromNumber)
	return &Bridge{
		cfg:      cfg,
		provider: deps.Provider,
		calls:    deps.Calls,
		settings: deps.Settings,
		rules:    deps.Rules,
		limiter:  deps.Limiter,
		audit:    deps.Audit,
		sessions: deps.Sessions,
	}
}

type PlaceCallRequest struct {
	UserID  string
	To      string
	From    string
	Purpose calls.Purpose
	Context map[string]any
	TaskID  string
}

// PlaceCall dials out and records the call in initiated status.
func (b *Bridge) PlaceCall(ctx context.Context, req PlaceCallRequest) (calls.Call, error) {
	from := b.cfg.FromNumber
	if req.From != "" {
		from = calls.NormalizeNumber(req.From)
	}
	if b.provider == nil || from == "" {
		return calls.Call{}, ErrConfiguration
	}
	to := calls.NormalizeNumber(req.To)
	if !isDialable(to) {
		return calls.Call{}, fmt.Errorf("%w: to number %q", calls.ErrInvalidArgument, req.To)
	}
	if req.UserID == "" {
		return calls.Call{}, fmt.Errorf("%w: user_id required", calls.ErrInvalidArgument)
	}
	if req.Purpose == "" {
		req.Purpose = calls.PurposeOther
	}
	if !req.Purpose.Valid() {
		return calls.Call{}, fmt.Errorf("%w: purpose %q", calls.ErrInvalidArgument, req.Purpose)
	}

	log := logger.From(ctx).With("user_id", req.UserID, "to", to)

	if b.limiter != nil {
		ok, err := b.limiter.Acquire(ctx, req.UserID)
		if err != nil {
			// Fail open.
			log.Warn("call limiter unavailable", "err", err)
		} else if !ok {
			return calls.Call{}, ErrCallLimit
		}
	}

	callID := uuid.NewString()
	doc, err := b.outboundDocument(callID)
	if err != nil {
		b.release(ctx, req.UserID)
		return calls.Call{}, err
	}

	sid, err := b.provider.CreateCall(ctx, OutboundCall{
		To:                to,
		From:              from,
		Document:          doc,
		StatusCallbackURL: b.cfg.StatusCallbackURL,
	})
	if err != nil {
		b.release(ctx, req.UserID)
		return calls.Call{}, &ProviderError{Op: "create call", Err: err}
	}

	call, err := b.calls.CreateCall(ctx, calls.NewCall{
		ID:         callID,
		CallSID:    sid,
		UserID:     req.UserID,
		Direction:  calls.DirectionOutbound,
		FromNumber: from,
		ToNumber:   to,
		Purpose:    req.Purpose,
		Context:    req.Context,
		TaskID:     req.TaskID,
	})
	if err != nil {
		log.Error("call placed but not recorded, hanging up", "call_sid", sid, "err", err)
		if herr := b.provider.Hangup(context.WithoutCancel(ctx), sid); herr != nil {
			log.Error("hangup after record failure failed", "call_sid", sid, "err", herr)
		}
		b.release(ctx, req.UserID)
		return calls.Call{}, err
	}

	if b.cfg.StreamURL == "" {
		log.Warn("no webhook base configured, call runs announcement only", "call_sid", sid)
	}
	b.logAudit(ctx, func(a *audit.Service) error {
		return a.LogCallPlaced(ctx, req.UserID, call.ID, to, string(req.Purpose))
	})
	log.Info("outbound call placed", "call_id", call.ID, "call_sid", sid)
	return call, nil
}

func (b *Bridge) outboundDocument(callID string) (string, error) {
	if b.cfg.StreamURL == "" {
		return AnnouncementDocument()
	}
	return StreamDocument(b.cfg.StreamURL,
		StreamParam{Name: ParamCallID, Value: callID},
		StreamParam{Name: ParamDirection, Value: string(calls.DirectionOutbound)},
	)
}

// OutboundDocument renders the control document for an already recorded outbound call.
// Used when the provider fetches instructions by URL instead of inline.
func (b *Bridge) OutboundDocument(ctx context.Context, callSID string) (string, error) {
	call, found, err := b.calls.FindByExternalID(ctx, callSID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", calls.ErrNotFound
	}
	return b.outboundDocument(call.ID)
}

// EndCall hangs up a call that is not yet terminal. Ending a terminal call is a
// no-op returning the stored record.
func (b *Bridge) EndCall(ctx context.Context, callID string) (calls.Call, error) {
	call, found, err := b.calls.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if !found {
		return calls.Call{}, calls.ErrNotFound
	}
	log := logger.From(ctx).With("call_id", call.ID, "call_sid", call.CallSID)
	if call.Status.Terminal() {
		log.Info("end requested for finished call", "status", call.Status)
		return call, nil
	}
	if b.provider == nil {
		return calls.Call{}, ErrConfiguration
	}
	if err := b.provider.Hangup(ctx, call.CallSID); err != nil {
		return calls.Call{}, &ProviderError{Op: "hangup", Err: err}
	}

	updated, outcome, err := b.calls.UpdateStatus(ctx, call.ID, calls.StatusCanceled, calls.StatusUpdate{})
	if err != nil {
		return calls.Call{}, err
	}
	if b.sessions != nil && b.sessions.Stop(call.CallSID) {
		log.Info("local media session stopped")
	}
	// Only the updater that ended the call frees its slot.
	if call.Direction == calls.DirectionOutbound && outcome == calls.UpdateApplied {
		b.release(ctx, call.UserID)
	}
	b.logAudit(ctx, func(a *audit.Service) error { return a.LogCallEnded(ctx, call.UserID, call.ID) })
	return updated, nil
}

// StatusCallback is a parsed provider status notification.
type StatusCallback struct {
	CallSID         string
	CallStatus      string
	DurationSeconds *int
}

// HandleStatusCallback applies a provider status change. Callbacks for unknown calls
// are logged and dropped.
func (b *Bridge) HandleStatusCallback(ctx context.Context, cb StatusCallback) error {
	log := logger.From(ctx).With("call_sid", cb.CallSID, "provider_status", cb.CallStatus)
	call, found, err := b.calls.FindByExternalID(ctx, cb.CallSID)
	if err != nil {
		return err
	}
	if !found {
		log.Warn("status callback for unknown call")
		return nil
	}

	status := TranslateStatusCallback(cb.CallStatus)
	updated, outcome, err := b.calls.UpdateStatus(ctx, call.ID, status, calls.StatusUpdate{DurationSeconds: cb.DurationSeconds})
	if err != nil {
		return err
	}
	if call.Direction == calls.DirectionOutbound && outcome == calls.UpdateApplied && updated.Status.Terminal() {
		b.release(ctx, call.UserID)
	}
	return nil
}

// InboundCall is the caller-side view of an inbound voice webhook.
type InboundCall struct {
	CallSID string
	From    string
	To      string
}

// Admission is the outcome of AdmitInbound.
type Admission struct {
	Admitted bool
	Reason   string
	Call     calls.Call
	// Document is the control document to return to the provider.
	Document string
}

// AdmitInbound decides whether to answer an inbound call and returns the document
// to execute. Disabled inbound handling and deny rules decline; with
// auto_answer_whitelist set only allow-listed callers get through.
func (b *Bridge) AdmitInbound(ctx context.Context, in InboundCall) (Admission, error) {
	if in.CallSID == "" {
		return Admission{}, fmt.Errorf("%w: CallSid required", calls.ErrInvalidArgument)
	}
	userID := b.cfg.OwnerUserID
	log := logger.From(ctx).With("call_sid", in.CallSID, "caller", in.From)
	if userID == "" {
		log.Warn("inbound call without an owning user")
		return b.decline(ctx, "", in, "no owner configured")
	}

	settings, err := b.settings.Get(ctx, userID)
	if err != nil {
		return Admission{}, err
	}
	if !settings.InboundEnabled {
		return b.decline(ctx, userID, in, "inbound disabled")
	}

	rule, hasRule, err := b.rules.Lookup(ctx, userID, in.From)
	if err != nil {
		return Admission{}, err
	}
	if hasRule && rule.RuleType == calls.RuleDeny {
		return b.decline(ctx, userID, in, "deny rule")
	}
	if settings.AutoAnswerWhitelist && (!hasRule || rule.RuleType != calls.RuleAllow) {
		return b.decline(ctx, userID, in, "not on allow list")
	}
	call, err := b.calls.CreateCall(ctx, calls.NewCall{
		CallSID:    in.CallSID,
		UserID:     userID,
		Direction:  calls.DirectionInbound,
		FromNumber: in.From,
		ToNumber:   in.To,
		Purpose:    calls.PurposeInquiry,
	})
	if err != nil {
		return Admission{}, err
	}
	doc, err := b.inboundDocument(in)
	if err != nil {
		return Admission{}, err
	}

	b.logAudit(ctx, func(a *audit.Service) error {
		return a.LogInbound(ctx, userID, call.ID, in.From, true, "admitted")
	})
	log.Info("inbound call admitted", "call_id", call.ID)
	return Admission{Admitted: true, Reason: "admitted", Call: call, Document: doc}, nil
}

func (b *Bridge) inboundDocument(in InboundCall) (string, error) {
	if b.cfg.StreamURL == "" {
		return AnnouncementDocument()
	}
	return StreamDocument(strings.TrimRight(b.cfg.StreamURL, "/")+"/"+in.CallSID,
		StreamParam{Name: ParamCallSID, Value: in.CallSID},
		StreamParam{Name: ParamCaller, Value: in.From},
		StreamParam{Name: ParamDirection, Value: string(calls.DirectionInbound)},
	)
}

func (b *Bridge) decline(ctx context.Context, userID string, in InboundCall, reason string) (Admission, error) {
	doc, err := DeclineDocument()
	if err != nil {
		return Admission{}, err
	}
	logger.From(ctx).Info("inbound call declined", "call_sid", in.CallSID, "reason", reason)
	if userID != "" {
		b.logAudit(ctx, func(a *audit.Service) error {
			return a.LogInbound(ctx, userID, "", in.From, false, reason)
		})
	}
	return Admission{Reason: reason, Document: doc}, nil
}

func (b *Bridge) release(ctx context.Context, userID string) {
	if b.limiter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := b.limiter.Release(ctx, userID); err != nil {
		logger.From(ctx).Warn("call limiter release failed", "user_id", userID, "err", err)
	}
}

// logAudit writes best-effort; failures are logged and swallowed.
func (b *Bridge) logAudit(ctx context.Context, fn func(*audit.Service) error) {
	if b.audit == nil {
		return
	}
	if err := fn(b.audit); err != nil && !errors.Is(err, context.Canceled) {
		logger.From(ctx).Warn("audit append failed", "err", err)
	}
}

func isDialable(n string) bool {
	if len(n) < 4 || n[0] != '+' {
		return false
	}
	for _, r := range n[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
