package stream

import (
	"context"
	"sync"
	"time"

	"voice-secretary/internal/calls"
	"voice-secretary/internal/dialogue"
)

type State string

const (
	StateAwaitingStart State = "awaiting_start"
	StateStreaming     State = "streaming"
	StateClosed        State = "closed"
)

// Session is owned by the processor goroutine; nothing else touches it.
type Session struct {
	State     State
	StreamSID string
	CallSID   string
	Params    map[string]string
	StartedAt time.Time

	// Call is the zero value when no record matched the stream.
	Call    calls.Call
	HasCall bool
	VoiceID string

	pending []byte
	history []dialogue.Turn
	// transcript keeps every turn; history is the bounded slice sent to the model.
	transcript []dialogue.Turn

	FramesIn   int
	FramesOut  int
	MarksSent  int
	MarksAcked int
}

func newSession(now time.Time) *Session {
	return &Session{State: StateAwaitingStart, StartedAt: now}
}

func (s *Session) addTurn(role dialogue.Role, text string) {
	t := dialogue.Turn{Role: role, Text: text}
	s.transcript = append(s.transcript, t)
	s.history = append(s.history, t)
	if len(s.history) > dialogue.MaxHistory {
		s.history = s.history[len(s.history)-dialogue.MaxHistory:]
	}
}

func (s *Session) dialogueContext() dialogue.Context {
	if !s.HasCall {
		return dialogue.Context{}
	}
	return dialogue.Context{Purpose: string(s.Call.Purpose), Details: s.Call.Context}
}

// inbox is an unbounded FIFO between the reader and the processor.
// The reader never blocks on a slow pipeline.
type inbox struct {
	mu     sync.Mutex
	items  []Frame
	closed bool
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (b *inbox) push(f Frame) {
	b.mu.Lock()
	b.items = append(b.items, f)
	b.mu.Unlock()
	b.wake()
}

func (b *inbox) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wake()
}

func (b *inbox) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// next blocks until a frame is available. It returns false once ctx is done,
// or once the inbox is closed and drained.
func (b *inbox) next(ctx context.Context) (Frame, bool) {
	for {
		if ctx.Err() != nil {
			return Frame{}, false
		}
		b.mu.Lock()
		if len(b.items) > 0 {
			f := b.items[0]
			b.items[0] = Frame{}
			b.items = b.items[1:]
			b.mu.Unlock()
			return f, true
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return Frame{}, false
		}

		select {
		case <-b.notify:
		case <-ctx.Done():
			return Frame{}, false
		}
	}
}
