package calls

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusInitiated, StatusRinging, true},
		{StatusRinging, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInitiated, StatusNoAnswer, true},
		{StatusRinging, StatusBusy, true},
		{StatusInProgress, StatusFailed, true},
		{StatusRinging, StatusCanceled, true},
		{StatusInProgress, StatusCanceled, true},
		{StatusInProgress, StatusRinging, false},
		{StatusInProgress, StatusBusy, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCanceled, StatusInProgress, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestTransition_StampsTimes(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	c := Call{Status: StatusRinging}

	c, ok := Transition(c, StatusInProgress, now, StatusUpdate{})
	if !ok || c.AnsweredAt == nil || c.EndedAt != nil {
		t.Fatalf("unexpected in_progress record: %+v", c)
	}

	later := now.Add(time.Minute)
	d := 60
	c, ok = Transition(c, StatusFailed, later, StatusUpdate{DurationSeconds: &d})
	if !ok || c.EndedAt == nil || !c.EndedAt.Equal(later) || *c.DurationSeconds != 60 {
		t.Fatalf("unexpected failed record: %+v", c)
	}
	if !c.AnsweredAt.Equal(now) {
		t.Fatalf("answered_at must not move")
	}

	if _, ok := Transition(c, StatusCompleted, later, StatusUpdate{}); ok {
		t.Fatalf("terminal call must not transition")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusInitiated, StatusRinging, StatusInProgress} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestNormalizeNumber(t *testing.T) {
	cases := map[string]string{
		"090-1234-5678":  "+819012345678",
		" +819012345678": "+819012345678",
		"819012345678":   "+819012345678",
		"(03) 1234 5678": "+81312345678",
		"anonymous":      "anonymous",
		"":               "",
	}
	for in, want := range cases {
		if got := NormalizeNumber(in); got != want {
			t.Fatalf("NormalizeNumber(%q) = %q, want %q", in, got, want)
		}
	}
}
