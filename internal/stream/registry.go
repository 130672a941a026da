package stream

import (
	"context"
	"sync"
	"time"

	"voice-secretary/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const defaultMirrorTTL = 15 * time.Minute

func sessionKey(callSID string) string { return "voice:stream:" + callSID }

type registration struct {
	streamSID string
	stop      context.CancelFunc
}

// Registry tracks live sessions by call SID. Local entries can be stopped;
// the optional Redis mirror lets any instance answer IsStreaming.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*registration

	rdb redis.Cmdable
	ttl time.Duration
}

// NewRegistry builds a registry. rdb may be nil for single-instance runs.
func NewRegistry(rdb redis.Cmdable, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = defaultMirrorTTL
	}
	return &Registry{sessions: map[string]*registration{}, rdb: rdb, ttl: ttl}
}

// Register records a live session. The returned func removes exactly this
// registration, so a late teardown cannot evict a newer session for the same call.
func (r *Registry) Register(ctx context.Context, callSID, streamSID string, stop context.CancelFunc) func(context.Context) {
	reg := &registration{streamSID: streamSID, stop: stop}

	r.mu.Lock()
	prev := r.sessions[callSID]
	r.sessions[callSID] = reg
	r.mu.Unlock()

	if prev != nil {
		logger.From(ctx).Warn("replacing live media session", "call_sid", callSID, "prev_stream_sid", prev.streamSID)
		prev.stop()
	}
	if r.rdb != nil {
		if err := r.rdb.Set(ctx, sessionKey(callSID), streamSID, r.ttl).Err(); err != nil {
			logger.From(ctx).Warn("session mirror write failed", "call_sid", callSID, "err", err)
		}
	}

	return func(ctx context.Context) {
		r.mu.Lock()
		owned := r.sessions[callSID] == reg
		if owned {
			delete(r.sessions, callSID)
		}
		r.mu.Unlock()

		if owned && r.rdb != nil {
			if err := r.rdb.Del(ctx, sessionKey(callSID)).Err(); err != nil {
				logger.From(ctx).Warn("session mirror delete failed", "call_sid", callSID, "err", err)
			}
		}
	}
}

// Stop cancels the local session for callSID. Reports whether one was running here.
func (r *Registry) Stop(callSID string) bool {
	r.mu.Lock()
	reg := r.sessions[callSID]
	r.mu.Unlock()
	if reg == nil {
		return false
	}
	reg.stop()
	return true
}

// IsStreaming reports whether any instance holds a live session for callSID.
func (r *Registry) IsStreaming(ctx context.Context, callSID string) bool {
	if callSID == "" {
		return false
	}
	r.mu.Lock()
	_, local := r.sessions[callSID]
	r.mu.Unlock()
	if local || r.rdb == nil {
		return local
	}

	n, err := r.rdb.Exists(ctx, sessionKey(callSID)).Result()
	if err != nil {
		logger.From(ctx).Warn("session mirror lookup failed", "call_sid", callSID, "err", err)
		return false
	}
	return n > 0
}

// Len is the number of sessions owned by this instance.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
