package calls

import (
	"context"
	"maps"
	"sort"
	"sync"
)

// MemoryRepo keeps everything in process memory. Used by tests and STORAGE_DRIVER=memory.
type MemoryRepo struct {
	mu       sync.Mutex
	calls    map[string]Call
	bySID    map[string]string
	messages map[string][]CallMessage
	settings map[string]VoiceSettings
	rules    []PhoneNumberRule
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls:    map[string]Call{},
		bySID:    map[string]string{},
		messages: map[string][]CallMessage{},
		settings: map[string]VoiceSettings{},
	}
}

func (r *MemoryRepo) InsertCall(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := r.bySID[c.CallSID]; ok {
		return ErrDuplicate
	}
	r.calls[c.ID] = cloneCall(c)
	r.bySID[c.CallSID] = c.ID
	return nil
}

func (r *MemoryRepo) GetCall(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(c), nil
}

func (r *MemoryRepo) GetCallBySID(ctx context.Context, callSID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bySID[callSID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(r.calls[id]), nil
}

func (r *MemoryRepo) SwapStatus(ctx context.Context, c Call, prevStatus Status, upd StatusUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.calls[c.ID]
	if !ok {
		return false, ErrNotFound
	}
	if cur.Status != prevStatus {
		return false, nil
	}
	next := cloneCall(cur)
	next.Status = c.Status
	next.AnsweredAt = c.AnsweredAt
	next.EndedAt = c.EndedAt
	next.DurationSeconds = c.DurationSeconds
	next.UpdatedAt = c.UpdatedAt
	if upd.Transcription != nil {
		next.Transcription = *upd.Transcription
	}
	if upd.Summary != nil {
		next.Summary = *upd.Summary
	}
	r.calls[c.ID] = next
	return true, nil
}

func (r *MemoryRepo) SetTranscript(ctx context.Context, id, transcription, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return ErrNotFound
	}
	c.Transcription = transcription
	c.Summary = summary
	r.calls[id] = c
	return nil
}

func (r *MemoryRepo) ListCalls(ctx context.Context, userID string, f ListFilter) ([]Call, error) {
	f = f.normalized()
	r.mu.Lock()
	var out []Call
	for _, c := range r.calls {
		if c.UserID != userID {
			continue
		}
		if f.Direction != "" && c.Direction != f.Direction {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, cloneCall(c))
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if f.Offset >= len(out) {
		return []Call{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) InsertMessage(ctx context.Context, m CallMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[m.CallID]; !ok {
		return ErrNotFound
	}
	r.messages[m.CallID] = append(r.messages[m.CallID], m)
	return nil
}

func (r *MemoryRepo) ListMessages(ctx context.Context, callID string) ([]CallMessage, error) {
	r.mu.Lock()
	out := make([]CallMessage, len(r.messages[callID]))
	copy(out, r.messages[callID])
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *MemoryRepo) GetSettings(ctx context.Context, userID string) (VoiceSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[userID]
	if !ok {
		return VoiceSettings{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) UpsertSettings(ctx context.Context, s VoiceSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.settings[s.UserID]; ok {
		s.CreatedAt = cur.CreatedAt
	}
	r.settings[s.UserID] = s
	return nil
}

func (r *MemoryRepo) InsertRule(ctx context.Context, rule PhoneNumberRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.rules {
		if x.UserID == rule.UserID && x.PhoneNumber == rule.PhoneNumber {
			return ErrDuplicate
		}
	}
	r.rules = append(r.rules, rule)
	return nil
}

func (r *MemoryRepo) ListRules(ctx context.Context, userID string) ([]PhoneNumberRule, error) {
	r.mu.Lock()
	out := []PhoneNumberRule{}
	for _, x := range r.rules {
		if x.UserID == userID {
			out = append(out, x)
		}
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) FindRule(ctx context.Context, userID, phoneNumber string) (PhoneNumberRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.rules {
		if x.UserID == userID && x.PhoneNumber == phoneNumber {
			return x, nil
		}
	}
	return PhoneNumberRule{}, ErrNotFound
}

func (r *MemoryRepo) DeleteRule(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.rules {
		if x.UserID == userID && x.ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func cloneCall(c Call) Call {
	if c.Context != nil {
		c.Context = maps.Clone(c.Context)
	}
	return c
}
