package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSettingsService_LazyDefaults(t *testing.T) {
	svc := NewSettingsService(NewMemoryRepo())

	vs, err := svc.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if vs.InboundEnabled || vs.AutoAnswerWhitelist || vs.RecordCalls || !vs.NotifyViaChat {
		t.Fatalf("unexpected defaults: %+v", vs)
	}
	if vs.DefaultGreeting != DefaultGreeting {
		t.Fatalf("unexpected greeting %q", vs.DefaultGreeting)
	}
}

func TestSettingsService_PartialUpdate(t *testing.T) {
	svc := NewSettingsService(NewMemoryRepo())

	voice := "voice-abc"
	vs, err := svc.Update(context.Background(), "user-1", SettingsPatch{ElevenLabsVoiceID: &voice})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if vs.ElevenLabsVoiceID != "voice-abc" || vs.DefaultGreeting != DefaultGreeting {
		t.Fatalf("unexpected settings: %+v", vs)
	}

	vs, err = svc.SetInboundEnabled(context.Background(), "user-1", true)
	if err != nil || !vs.InboundEnabled || vs.ElevenLabsVoiceID != "voice-abc" {
		t.Fatalf("toggle: %+v err=%v", vs, err)
	}

	empty := "  "
	if _, err := svc.Update(context.Background(), "user-1", SettingsPatch{DefaultGreeting: &empty}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid greeting error, got %v", err)
	}
}

func TestRuleService_CreateLookupDelete(t *testing.T) {
	svc := NewRuleService(NewMemoryRepo())
	ctx := context.Background()

	rule, err := svc.Create(ctx, "user-1", NewRule{PhoneNumber: "090-1111-2222", RuleType: RuleDeny, Label: "spam"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rule.PhoneNumber != "+819011112222" {
		t.Fatalf("expected normalized number, got %q", rule.PhoneNumber)
	}

	if _, err := svc.Create(ctx, "user-1", NewRule{PhoneNumber: "+819011112222", RuleType: RuleAllow}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if _, err := svc.Create(ctx, "user-1", NewRule{PhoneNumber: "+819011113333", RuleType: "maybe"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid rule type, got %v", err)
	}

	got, found, err := svc.Lookup(ctx, "user-1", "+819011112222")
	if err != nil || !found || got.RuleType != RuleDeny {
		t.Fatalf("lookup: %+v found=%v err=%v", got, found, err)
	}
	if _, found, _ := svc.Lookup(ctx, "user-2", "+819011112222"); found {
		t.Fatalf("rules must be scoped per user")
	}

	if err := svc.Delete(ctx, "user-1", rule.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, "user-1", rule.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestRuleService_ListNewestFirst(t *testing.T) {
	svc := NewRuleService(NewMemoryRepo())
	now := time.Unix(1700000000, 0).UTC()
	svc.clock = func() time.Time { return now }

	if _, err := svc.Create(context.Background(), "u", NewRule{PhoneNumber: "+811", RuleType: RuleAllow}); err != nil {
		t.Fatalf("create: %v", err)
	}
	now = now.Add(time.Hour)
	if _, err := svc.Create(context.Background(), "u", NewRule{PhoneNumber: "+812", RuleType: RuleDeny}); err != nil {
		t.Fatalf("create: %v", err)
	}

	rules, err := svc.List(context.Background(), "u")
	if err != nil || len(rules) != 2 || rules[0].PhoneNumber != "+812" {
		t.Fatalf("unexpected list: %+v err=%v", rules, err)
	}
}
