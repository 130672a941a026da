package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SettingsService reads and edits per-user voice settings.
type SettingsService struct {
	repo  Repository
	clock func() time.Time
}

func NewSettingsService(repo Repository) *SettingsService {
	return &SettingsService{repo: repo, clock: time.Now}
}

// Get returns the user's settings, creating the default row on first access.
func (s *SettingsService) Get(ctx context.Context, userID string) (VoiceSettings, error) {
	if userID == "" {
		return VoiceSettings{}, fmt.Errorf("%w: user_id required", ErrInvalidArgument)
	}
	vs, err := s.repo.GetSettings(ctx, userID)
	if err == nil {
		return vs, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return VoiceSettings{}, storageErr("get settings", err)
	}
	vs = defaultSettings(userID, s.clock().UTC())
	if err := s.repo.UpsertSettings(ctx, vs); err != nil {
		return VoiceSettings{}, storageErr("create settings", err)
	}
	return vs, nil
}

// SettingsPatch is a partial update; nil fields are left alone.
type SettingsPatch struct {
	InboundEnabled      *bool   `json:"inbound_enabled"`
	DefaultGreeting     *string `json:"default_greeting"`
	AutoAnswerWhitelist *bool   `json:"auto_answer_whitelist"`
	RecordCalls         *bool   `json:"record_calls"`
	NotifyViaChat       *bool   `json:"notify_via_chat"`
	ElevenLabsVoiceID   *string `json:"elevenlabs_voice_id"`
}

func (s *SettingsService) Update(ctx context.Context, userID string, p SettingsPatch) (VoiceSettings, error) {
	vs, err := s.Get(ctx, userID)
	if err != nil {
		return VoiceSettings{}, err
	}
	if p.InboundEnabled != nil {
		vs.InboundEnabled = *p.InboundEnabled
	}
	if p.DefaultGreeting != nil {
		g := strings.TrimSpace(*p.DefaultGreeting)
		if g == "" {
			return VoiceSettings{}, fmt.Errorf("%w: default_greeting must not be empty", ErrInvalidArgument)
		}
		vs.DefaultGreeting = g
	}
	if p.AutoAnswerWhitelist != nil {
		vs.AutoAnswerWhitelist = *p.AutoAnswerWhitelist
	}
	if p.RecordCalls != nil {
		vs.RecordCalls = *p.RecordCalls
	}
	if p.NotifyViaChat != nil {
		vs.NotifyViaChat = *p.NotifyViaChat
	}
	if p.ElevenLabsVoiceID != nil {
		vs.ElevenLabsVoiceID = strings.TrimSpace(*p.ElevenLabsVoiceID)
	}
	vs.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpsertSettings(ctx, vs); err != nil {
		return VoiceSettings{}, storageErr("update settings", err)
	}
	return vs, nil
}

func (s *SettingsService) SetInboundEnabled(ctx context.Context, userID string, enabled bool) (VoiceSettings, error) {
	return s.Update(ctx, userID, SettingsPatch{InboundEnabled: &enabled})
}

// RuleService manages the allow/deny list for inbound callers.
type RuleService struct {
	repo  Repository
	clock func() time.Time
}

func NewRuleService(repo Repository) *RuleService {
	return &RuleService{repo: repo, clock: time.Now}
}

type NewRule struct {
	PhoneNumber string   `json:"phone_number"`
	RuleType    RuleType `json:"rule_type"`
	Label       string   `json:"label"`
	Notes       string   `json:"notes"`
}

func (s *RuleService) List(ctx context.Context, userID string) ([]PhoneNumberRule, error) {
	out, err := s.repo.ListRules(ctx, userID)
	if err != nil {
		return nil, storageErr("list rules", err)
	}
	return out, nil
}

func (s *RuleService) Create(ctx context.Context, userID string, in NewRule) (PhoneNumberRule, error) {
	number := NormalizeNumber(in.PhoneNumber)
	if userID == "" || !strings.HasPrefix(number, "+") {
		return PhoneNumberRule{}, fmt.Errorf("%w: valid phone_number required", ErrInvalidArgument)
	}
	if in.RuleType != RuleAllow && in.RuleType != RuleDeny {
		return PhoneNumberRule{}, fmt.Errorf("%w: rule_type must be allow or deny", ErrInvalidArgument)
	}
	rule := PhoneNumberRule{
		ID:          uuid.NewString(),
		UserID:      userID,
		PhoneNumber: number,
		RuleType:    in.RuleType,
		Label:       strings.TrimSpace(in.Label),
		Notes:       strings.TrimSpace(in.Notes),
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.repo.InsertRule(ctx, rule); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return PhoneNumberRule{}, err
		}
		return PhoneNumberRule{}, storageErr("create rule", err)
	}
	return rule, nil
}

// Delete removes a rule. ErrNotFound when the user has no such rule.
func (s *RuleService) Delete(ctx context.Context, userID, ruleID string) error {
	err := s.repo.DeleteRule(ctx, userID, ruleID)
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return storageErr("delete rule", err)
}

// Lookup finds the rule for an exact caller number.
func (s *RuleService) Lookup(ctx context.Context, userID, phoneNumber string) (PhoneNumberRule, bool, error) {
	rule, err := s.repo.FindRule(ctx, userID, NormalizeNumber(phoneNumber))
	if errors.Is(err, ErrNotFound) {
		return PhoneNumberRule{}, false, nil
	}
	if err != nil {
		return PhoneNumberRule{}, false, storageErr("lookup rule", err)
	}
	return rule, true, nil
}
