package conversation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-callbridge/pkg/inference"
	"github.com/teslashibe/go-callbridge/pkg/stt"
	"github.com/teslashibe/go-callbridge/pkg/tts"
)

// Deps are the collaborators a session talks to. LLM, TTS, STT and Sink
// are required.
type Deps struct {
	LLM   inference.Provider
	TTS   tts.Provider
	STT   stt.Recognizer
	Sink  AudioSink
	Tools *Toolset

	// Recorder starts call recording when RecordingEnabled is set.
	Recorder CallRecorder

	// Ledger stores the call and its transcript.
	Ledger Ledger
}

// Session is one phone call. It moves Idle → Active → Ended.
//
// Inside an active session a turn worker runs the Engine one caller turn
// at a time, and a pipeline goroutine moves fragments into the Pool and
// results into the Dispatcher:
//
//	Engine → chan Fragment → Pool → chan Result → Dispatcher → Sink
type Session struct {
	cfg    *Config
	deps   Deps
	logger *slog.Logger

	fragments chan Fragment
	results   chan Result
	turns     chan turn

	engine      *Engine
	pool        *Pool
	dispatcher  *Dispatcher
	interrupter *Interrupter

	mu          sync.Mutex
	state       State
	callSid     string
	streamSid   string
	interaction int
	startedAt   time.Time
	recognizer  stt.Session
	ctx         context.Context
	cancel      context.CancelFunc

	wg sync.WaitGroup
}

type turn struct {
	text        string
	interaction int
}

// Info is a point-in-time view of a session.
type Info struct {
	CallSid          string    `json:"call_sid"`
	StreamSid        string    `json:"stream_sid"`
	State            string    `json:"state"`
	StartedAt        time.Time `json:"started_at"`
	Interactions     int       `json:"interactions"`
	OutstandingMarks int       `json:"outstanding_marks"`
	Messages         int       `json:"messages"`
}

// NewSession creates an idle session.
func NewSession(deps Deps, opts ...Option) (*Session, error) {
	switch {
	case deps.LLM == nil:
		return nil, fmt.Errorf("%w: language model", ErrMissingProvider)
	case deps.TTS == nil:
		return nil, fmt.Errorf("%w: speech synthesis", ErrMissingProvider)
	case deps.STT == nil:
		return nil, fmt.Errorf("%w: speech recognition", ErrMissingProvider)
	case deps.Sink == nil:
		return nil, fmt.Errorf("%w: audio sink", ErrMissingProvider)
	}

	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:       cfg,
		deps:      deps,
		logger:    cfg.Logger.With("component", "conversation.session"),
		fragments: make(chan Fragment, 64),
		results:   make(chan Result, 64),
		turns:     make(chan turn, cfg.TurnQueue),
	}

	engine, err := NewEngine(deps.LLM, deps.Tools, s.fragments, cfg)
	if err != nil {
		return nil, err
	}
	s.engine = engine
	s.engine.notify = s.publish
	s.pool = NewPool(deps.TTS, s.results, cfg.SynthesisTimeout, cfg.Logger)

	s.dispatcher = NewDispatcher(deps.Sink, cfg.GapTimeout, cfg.Logger)
	s.dispatcher.OnAudioSent = func(mark string, r Result) {
		s.publish(Event{Type: EventAudioSent, Index: r.Index, Interaction: r.Interaction, Text: r.Text, Mark: mark})
	}
	s.dispatcher.OnGap = func(err *OrderingGapError) {
		s.reportError(err, err.Index, 0)
	}
	s.dispatcher.OnSendError = func(r Result, err error) {
		s.reportError(fmt.Errorf("conversation: send audio: %w", err), r.Index, r.Interaction)
	}

	s.interrupter = NewInterrupter(s.dispatcher, cfg.MinBargeInChars, cfg.Logger)
	s.interrupter.OnInterrupt = func(text string, cleared int) {
		s.publish(Event{Type: EventInterruption, Index: NoOrder, Cleared: cleared, Text: text})
	}
	return s, nil
}

// Start activates the session for a Twilio stream. It opens speech
// recognition, records the call, optionally starts recording and speaks
// the greeting.
func (s *Session) Start(ctx context.Context, streamSid, callSid string) error {
	s.mu.Lock()
	switch s.state {
	case StateActive:
		s.mu.Unlock()
		return ErrSessionActive
	case StateEnded:
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.bindCallLogger(callSid, streamSid)
	s.state = StateActive
	s.streamSid = streamSid
	s.callSid = callSid
	s.startedAt = time.Now()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if callSid != "" {
		s.engine.AddSystemMessage("callSid: " + callSid)
	}

	recognizer, err := s.deps.STT.Open(s.ctx, stt.Handler{
		OnUtterance:     func(text string) { s.Utterance(text) },
		OnTranscription: s.Transcription,
		OnError: func(err error) {
			s.reportError(err, NoOrder, s.Interaction())
		},
	})
	if err != nil {
		s.End("speech recognition unavailable")
		return fmt.Errorf("conversation: open recognizer: %w", err)
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		recognizer.Close()
		return ErrSessionEnded
	}
	s.recognizer = recognizer
	s.mu.Unlock()

	s.wg.Add(2)
	go s.runTurns()
	go s.runPipeline()

	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.StartCall(s.ctx, callSid, streamSid); err != nil {
			s.reportError(fmt.Errorf("conversation: record call: %w", err), NoOrder, 0)
		}
	}

	s.logger.Info("session started")
	s.publish(Event{Type: EventStarted, Index: NoOrder})

	s.wg.Add(1)
	go s.open(callSid)
	return nil
}

// bindCallLogger tags the logs of every component with the call ids. It
// runs while the session is still idle, before any component logs.
func (s *Session) bindCallLogger(callSid, streamSid string) {
	base := s.cfg.Logger.With("call_sid", callSid, "stream_sid", streamSid)
	s.logger = base.With("component", "conversation.session")
	s.engine.logger = base.With("component", "conversation.engine")
	s.pool.logger = base.With("component", "conversation.pool")
	s.interrupter.logger = base.With("component", "conversation.interrupt")

	s.dispatcher.mu.Lock()
	s.dispatcher.logger = base.With("component", "conversation.dispatcher")
	s.dispatcher.mu.Unlock()
}

// open starts recording, then greets the caller.
func (s *Session) open(callSid string) {
	defer s.wg.Done()

	if s.cfg.RecordingEnabled && s.deps.Recorder != nil {
		if err := s.deps.Recorder.StartRecording(s.ctx, callSid); err != nil {
			s.reportError(fmt.Errorf("conversation: start recording: %w", err), NoOrder, 0)
		} else {
			s.logger.Info("recording started")
		}
	}

	if s.cfg.Greeting == "" {
		return
	}
	select {
	case s.fragments <- Fragment{Index: NoOrder, Text: s.cfg.Greeting, Interaction: 0}:
	case <-s.ctx.Done():
	}
}

// Media forwards one base64 audio payload to speech recognition.
func (s *Session) Media(payload string) error {
	recognizer, ok := s.activeRecognizer()
	if !ok {
		return nil
	}
	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("conversation: decode media: %w", err)
	}
	if len(audio) == 0 {
		return nil
	}
	return recognizer.SendAudio(audio)
}

// Mark acknowledges that Twilio finished playing a segment.
func (s *Session) Mark(name string) {
	if !s.Active() {
		return
	}
	if s.dispatcher.Acknowledge(name) {
		s.publish(Event{Type: EventMarkAcked, Index: NoOrder, Mark: name})
	}
}

// Transcription queues a finalized caller turn. Empty text is ignored.
func (s *Session) Transcription(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	t := turn{text: text, interaction: s.interaction}
	s.interaction++
	s.mu.Unlock()

	s.logger.Info("caller said", "interaction", t.interaction, "text", text)
	s.publish(Event{Type: EventTranscription, Index: NoOrder, Interaction: t.interaction, Text: text})

	select {
	case s.turns <- t:
	default:
		s.logger.Warn("turn queue full, dropping caller turn", "interaction", t.interaction)
	}
}

// Utterance handles interim caller speech and reports whether it
// interrupted playback.
func (s *Session) Utterance(text string) bool {
	if !s.Active() {
		return false
	}
	return s.interrupter.OnUtterance(text)
}

// End tears the session down. In-flight model, speech and recognition
// requests are cancelled and the transcript is stored. End is idempotent.
func (s *Session) End(reason string) {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = StateEnded
	cancel := s.cancel
	recognizer := s.recognizer
	callSid := s.callSid
	startedAt := s.startedAt
	s.mu.Unlock()

	s.dispatcher.Close()
	if prev == StateIdle {
		return
	}

	cancel()
	if recognizer != nil {
		if err := recognizer.Close(); err != nil {
			s.logger.Debug("recognizer close", "error", err)
		}
	}
	s.wg.Wait()
	s.pool.Wait()

	if s.deps.Ledger != nil {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.deps.Ledger.FinishCall(ctx, callSid, s.engine.History()); err != nil {
			s.logger.Warn("failed to store transcript", "error", err)
		}
		done()
	}

	s.logger.Info("session ended", "reason", reason, "duration", time.Since(startedAt).Round(time.Millisecond))
	s.publish(Event{Type: EventEnded, Index: NoOrder, Text: reason})
}

// runTurns executes caller turns one at a time.
func (s *Session) runTurns() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.turns:
			err := s.engine.Submit(s.ctx, t.text, t.interaction, inference.RoleUser, "")
			if err != nil && !errors.Is(err, context.Canceled) {
				s.reportError(err, NoOrder, t.interaction)
			}
		}
	}
}

// runPipeline feeds fragments to the pool and results to the dispatcher.
func (s *Session) runPipeline() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.fragments:
			s.publish(Event{Type: EventFragment, Index: f.Index, Interaction: f.Interaction, Text: f.Text})
			s.pool.Synthesize(s.ctx, f)
		case r := <-s.results:
			if r.Err != nil {
				s.reportError(r.Err, r.Index, r.Interaction)
				if r.Index != NoOrder {
					s.dispatcher.Skip(r.Index)
				}
				continue
			}
			s.dispatcher.Submit(r)
		}
	}
}

func (s *Session) reportError(err error, index, interaction int) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx != nil && ctx.Err() != nil {
		return
	}
	s.logger.Warn("pipeline error", "index", index, "interaction", interaction, "error", err)
	s.publish(Event{Type: EventError, Index: index, Interaction: interaction, Err: err})
}

func (s *Session) publish(ev Event) {
	if s.cfg.Observer == nil {
		return
	}
	s.mu.Lock()
	ev.CallSid = s.callSid
	ev.StreamSid = s.streamSid
	s.mu.Unlock()
	if ev.Err != nil {
		ev.Error = ev.Err.Error()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.cfg.Observer(ev)
}

func (s *Session) activeRecognizer() (stt.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.recognizer == nil {
		return nil, false
	}
	return s.recognizer, true
}

// Active reports whether the session is running.
func (s *Session) Active() bool {
	return s.State() == StateActive
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CallSid returns the Twilio call id.
func (s *Session) CallSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSid
}

// StreamSid returns the Twilio media stream id.
func (s *Session) StreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

// Interaction returns the number of caller turns received so far.
func (s *Session) Interaction() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interaction
}

// History returns a copy of the conversation history.
func (s *Session) History() []inference.Message {
	return s.engine.History()
}

// Dispatcher exposes the ordered audio dispatcher.
func (s *Session) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Info returns a snapshot for monitoring.
func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		CallSid:      s.callSid,
		StreamSid:    s.streamSid,
		State:        s.state.String(),
		StartedAt:    s.startedAt,
		Interactions: s.interaction,
	}
	s.mu.Unlock()
	info.OutstandingMarks = s.dispatcher.Outstanding()
	info.Messages = len(s.engine.History())
	return info
}
