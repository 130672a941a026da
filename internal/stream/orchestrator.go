package stream

import (
	"context"
	"fmt"
	"time"

	"voice-secretary/internal/audio"
	"voice-secretary/internal/calls"
	"voice-secretary/internal/dialogue"
	"voice-secretary/internal/telephony"
	"voice-secretary/pkg/logger"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Conn is the subset of *websocket.Conn a session needs. One goroutine reads,
// one goroutine writes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

type Speech interface {
	Recognize(ctx context.Context, pcm []byte) (string, bool)
	SynthesizeNarrowband(ctx context.Context, text, voiceID string) ([]byte, bool)
}

type Dialogue interface {
	GenerateReply(ctx context.Context, utterance string, history []dialogue.Turn, c dialogue.Context) string
	Summarize(ctx context.Context, transcript []dialogue.Turn, c dialogue.Context) (string, bool)
}

// CallStore is implemented by *calls.Manager.
type CallStore interface {
	Get(ctx context.Context, callID string) (calls.Call, bool, error)
	FindByExternalID(ctx context.Context, callSID string) (calls.Call, bool, error)
	UpdateStatus(ctx context.Context, callID string, status calls.Status, upd calls.StatusUpdate) (calls.Call, calls.UpdateOutcome, error)
	AppendMessage(ctx context.Context, callID string, role calls.MessageRole, text string) (calls.CallMessage, error)
	AttachTranscript(ctx context.Context, callID, transcription, summary string) error
}

type SettingsSource interface {
	Get(ctx context.Context, userID string) (calls.VoiceSettings, error)
}

type Config struct {
	// UtteranceMinDuration is how much caller audio is buffered before recognition.
	UtteranceMinDuration time.Duration
	MaxSessionDuration   time.Duration
	// TeardownTimeout bounds transcript persistence after the stream ends.
	TeardownTimeout time.Duration
}

type Deps struct {
	Speech   Speech
	Dialogue Dialogue
	Calls    CallStore
	// Settings and Registry are optional.
	Settings SettingsSource
	Registry *Registry
}

type Orchestrator struct {
	cfg      Config
	speech   Speech
	dlg      Dialogue
	calls    CallStore
	settings SettingsSource
	registry *Registry
	minBytes int
	clock    func() time.Time
}

func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	if cfg.UtteranceMinDuration <= 0 {
		cfg.UtteranceMinDuration = 1500 * time.Millisecond
	}
	if cfg.MaxSessionDuration <= 0 {
		cfg.MaxSessionDuration = 10 * time.Minute
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = 15 * time.Second
	}
	return &Orchestrator{
		cfg:      cfg,
		speech:   deps.Speech,
		dlg:      deps.Dialogue,
		calls:    deps.Calls,
		settings: deps.Settings,
		registry: deps.Registry,
		minBytes: audio.BytesFor(cfg.UtteranceMinDuration, audio.NarrowbandRate, audio.SampleWidth),
		clock:    time.Now,
	}
}

// Serve runs one media session until the peer sends stop, the transport closes,
// the session is stopped through the registry, or MaxSessionDuration elapses.
// It returns only after the reader and processor have both exited and the
// transcript has been persisted.
func (o *Orchestrator) Serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.MaxSessionDuration)
	defer cancel()

	st := &sessionRun{sess: newSession(o.clock()), conn: conn, in: newInbox()}

	g, gctx := errgroup.WithContext(ctx)
	sctx, stop := context.WithCancel(gctx)
	defer stop()
	st.stop = stop

	g.Go(func() error {
		defer stop()
		defer st.in.close()
		o.read(sctx, st)
		return nil
	})
	g.Go(func() error {
		<-sctx.Done()
		_ = conn.Close()
		return nil
	})
	g.Go(func() error {
		defer stop()
		return o.process(sctx, st)
	})

	err := g.Wait()
	o.teardown(ctx, st)
	return err
}

type sessionRun struct {
	sess    *Session
	conn    Conn
	in      *inbox
	stop    context.CancelFunc
	release func(context.Context)
}

func (o *Orchestrator) read(ctx context.Context, st *sessionRun) {
	log := logger.From(ctx)
	for {
		_, data, err := st.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("media stream read failed", "err", err)
			}
			return
		}
		f, err := DecodeFrame(data)
		if err != nil {
			log.Warn("dropping malformed media frame", "err", err)
			continue
		}
		if f.Event == EventStop {
			log.Info("media stream stop received", "stream_sid", f.StreamSID)
			return
		}
		st.in.push(f)
	}
}

func (o *Orchestrator) process(ctx context.Context, st *sessionRun) error {
	for {
		f, ok := st.in.next(ctx)
		if !ok {
			return nil
		}
		if err := o.handle(ctx, st, f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.From(ctx).Warn("media session aborted", "call_sid", st.sess.CallSID, "err", err)
			return nil
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, st *sessionRun, f Frame) error {
	sess := st.sess
	switch f.Event {
	case EventConnected:
		logger.From(ctx).Debug("media stream connected")
		return nil
	case EventStart:
		return o.handleStart(ctx, st, f)
	case EventMedia:
		if sess.State != StateStreaming {
			return nil
		}
		return o.handleMedia(ctx, st, f)
	case EventMark:
		sess.MarksAcked++
		return nil
	default:
		logger.From(ctx).Debug("ignoring media stream event", "event", f.Event)
		return nil
	}
}

func (o *Orchestrator) handleStart(ctx context.Context, st *sessionRun, f Frame) error {
	sess := st.sess
	log := logger.From(ctx)
	if sess.State != StateAwaitingStart {
		log.Warn("duplicate media stream start ignored", "call_sid", sess.CallSID)
		return nil
	}

	info := f.Start
	if info == nil {
		info = &StartInfo{}
	}
	sess.StreamSID = info.StreamSID
	if sess.StreamSID == "" {
		sess.StreamSID = f.StreamSID
	}
	sess.Params = info.CustomParameters
	sess.CallSID = info.CallSID
	if sess.CallSID == "" {
		sess.CallSID = sess.Params[telephony.ParamCallSID]
	}
	sess.StartedAt = o.clock()
	sess.State = StateStreaming
	log.Info("media stream started",
		"call_sid", sess.CallSID,
		"stream_sid", sess.StreamSID,
		"direction", sess.Params[telephony.ParamDirection],
	)

	if o.registry != nil && sess.CallSID != "" {
		st.release = o.registry.Register(ctx, sess.CallSID, sess.StreamSID, st.stop)
	}

	o.resolveCall(ctx, sess)
	if !sess.HasCall {
		return nil
	}

	c, outcome, err := o.calls.UpdateStatus(ctx, sess.Call.ID, calls.StatusInProgress, calls.StatusUpdate{})
	if err != nil {
		log.Warn("marking call in progress failed", "call_id", sess.Call.ID, "err", err)
	} else if outcome.Found() {
		sess.Call = c
	}

	var greeting string
	if o.settings != nil {
		s, err := o.settings.Get(ctx, sess.Call.UserID)
		if err != nil {
			log.Warn("voice settings unavailable", "user_id", sess.Call.UserID, "err", err)
		} else {
			sess.VoiceID = s.ElevenLabsVoiceID
			greeting = s.DefaultGreeting
		}
	}
	if sess.Call.Direction == calls.DirectionInbound && greeting != "" {
		return o.speak(ctx, st, greeting)
	}
	return nil
}

func (o *Orchestrator) resolveCall(ctx context.Context, sess *Session) {
	log := logger.From(ctx)
	if id := sess.Params[telephony.ParamCallID]; id != "" {
		c, ok, err := o.calls.Get(ctx, id)
		if err != nil {
			log.Warn("call lookup failed", "call_id", id, "err", err)
		} else if ok {
			sess.Call, sess.HasCall = c, true
			return
		}
	}
	if sess.CallSID == "" {
		log.Warn("media stream has no call sid")
		return
	}
	c, ok, err := o.calls.FindByExternalID(ctx, sess.CallSID)
	if err != nil {
		log.Warn("call lookup failed", "call_sid", sess.CallSID, "err", err)
		return
	}
	if !ok {
		log.Warn("no call record for media stream; messages will not be stored", "call_sid", sess.CallSID)
		return
	}
	sess.Call, sess.HasCall = c, true
}

func (o *Orchestrator) handleMedia(ctx context.Context, st *sessionRun, f Frame) error {
	sess := st.sess
	ulaw, err := f.Audio()
	if err != nil {
		logger.From(ctx).Warn("dropping media frame", "call_sid", sess.CallSID, "err", err)
		return nil
	}
	sess.FramesIn++
	sess.pending = append(sess.pending, audio.NarrowbandToLinear(ulaw)...)
	if len(sess.pending) < o.minBytes {
		return nil
	}

	pcm := sess.pending
	sess.pending = nil
	return o.respond(ctx, st, pcm)
}

// respond runs recognize, reply and synthesize for one utterance. Frames that
// arrive meanwhile wait in the inbox.
func (o *Orchestrator) respond(ctx context.Context, st *sessionRun, pcm []byte) error {
	sess := st.sess
	text, ok := o.speech.Recognize(ctx, pcm)
	if !ok {
		return nil
	}
	logger.From(ctx).Debug("caller utterance", "call_sid", sess.CallSID, "chars", len(text))

	o.record(ctx, sess, calls.RoleCaller, text)
	reply := o.dlg.GenerateReply(ctx, text, sess.history, sess.dialogueContext())
	sess.addTurn(dialogue.RoleCaller, text)
	return o.speak(ctx, st, reply)
}

func (o *Orchestrator) speak(ctx context.Context, st *sessionRun, text string) error {
	sess := st.sess
	o.record(ctx, sess, calls.RoleAssistant, text)
	sess.addTurn(dialogue.RoleAssistant, text)

	ulaw, ok := o.speech.SynthesizeNarrowband(ctx, text, sess.VoiceID)
	if !ok {
		logger.From(ctx).Warn("reply not spoken; synthesis unavailable", "call_sid", sess.CallSID)
		return nil
	}
	return o.send(ctx, st, ulaw)
}

func (o *Orchestrator) send(ctx context.Context, st *sessionRun, ulaw []byte) error {
	sess := st.sess
	for _, chunk := range audio.Chunk(ulaw, audio.FrameBytes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := st.conn.WriteJSON(mediaFrame(sess.StreamSID, chunk)); err != nil {
			return fmt.Errorf("stream: send media: %w", err)
		}
		sess.FramesOut++
	}
	sess.MarksSent++
	if err := st.conn.WriteJSON(markFrame(sess.StreamSID, fmt.Sprintf("reply-%d", sess.MarksSent))); err != nil {
		return fmt.Errorf("stream: send mark: %w", err)
	}
	return nil
}

func (o *Orchestrator) record(ctx context.Context, sess *Session, role calls.MessageRole, text string) {
	if !sess.HasCall {
		return
	}
	if _, err := o.calls.AppendMessage(ctx, sess.Call.ID, role, text); err != nil {
		logger.From(ctx).Warn("storing call message failed", "call_id", sess.Call.ID, "role", role, "err", err)
	}
}

func (o *Orchestrator) teardown(ctx context.Context, st *sessionRun) {
	sess := st.sess
	sess.State = StateClosed
	sess.pending = nil

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.TeardownTimeout)
	defer cancel()
	log := logger.From(ctx)

	if st.release != nil {
		st.release(ctx)
	}
	log.Info("media stream closed",
		"call_sid", sess.CallSID,
		"stream_sid", sess.StreamSID,
		"frames_in", sess.FramesIn,
		"frames_out", sess.FramesOut,
		"marks_sent", sess.MarksSent,
		"marks_acked", sess.MarksAcked,
	)
	if !sess.HasCall {
		return
	}

	if len(sess.transcript) > 0 {
		summary, _ := o.dlg.Summarize(ctx, sess.transcript, sess.dialogueContext())
		if err := o.calls.AttachTranscript(ctx, sess.Call.ID, dialogue.FormatTranscript(sess.transcript), summary); err != nil {
			log.Warn("storing transcript failed", "call_id", sess.Call.ID, "err", err)
		}
	}

	// Inbound calls get no provider status callbacks; the stream end is the call end.
	if sess.Call.Direction == calls.DirectionInbound {
		secs := int(o.clock().Sub(sess.StartedAt) / time.Second)
		if _, _, err := o.calls.UpdateStatus(ctx, sess.Call.ID, calls.StatusCompleted, calls.StatusUpdate{DurationSeconds: &secs}); err != nil {
			log.Warn("completing inbound call failed", "call_id", sess.Call.ID, "err", err)
		}
	}
}
