package conversation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-callbridge/pkg/inference"
	"github.com/teslashibe/go-callbridge/pkg/stt"
	"github.com/teslashibe/go-callbridge/pkg/telephony"
	"github.com/teslashibe/go-callbridge/pkg/tts"
)

type eventLog struct {
	mu      sync.Mutex
	events  []Event
	changed chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{changed: make(chan struct{}, 1)}
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	select {
	case l.changed <- struct{}{}:
	default:
	}
}

func (l *eventLog) of(typ EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) waitFor(t *testing.T, typ EventType, n int) []Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if got := l.of(typ); len(got) >= n {
			return got
		}
		select {
		case <-l.changed:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d %s events, have %d", n, typ, len(l.of(typ)))
		}
	}
}

type fakeLedger struct {
	mu       sync.Mutex
	started  []string
	finished map[string][]inference.Message
}

func (l *fakeLedger) StartCall(ctx context.Context, callSid, streamSid string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, callSid+"/"+streamSid)
	return nil
}

func (l *fakeLedger) FinishCall(ctx context.Context, callSid string, transcript []inference.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finished == nil {
		l.finished = make(map[string][]inference.Message)
	}
	l.finished[callSid] = transcript
	return nil
}

type fakeCallRecorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *fakeCallRecorder) StartRecording(ctx context.Context, callSid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, callSid)
	return r.err
}

type harness struct {
	llm     *inference.Mock
	voice   *tts.Mock
	stt     *stt.Mock
	sink    *telephony.Recorder
	events  *eventLog
	session *Session
}

func newHarness(t *testing.T, llm *inference.Mock, voice *tts.Mock, deps Deps, opts ...Option) *harness {
	t.Helper()
	if voice == nil {
		voice = tts.NewMock()
	}
	h := &harness{
		llm:    llm,
		voice:  voice,
		stt:    stt.NewMock(),
		sink:   telephony.NewRecorder(),
		events: newEventLog(),
	}
	deps.LLM = llm
	deps.TTS = voice
	deps.STT = h.stt
	deps.Sink = h.sink

	opts = append([]Option{WithObserver(h.events.observe)}, opts...)
	s, err := NewSession(deps, opts...)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	h.session = s
	t.Cleanup(func() { s.End("test finished") })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.session.Start(context.Background(), "MZ123", "CA123"); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestSessionEndToEndOrdering(t *testing.T) {
	llm := inference.NewScriptedMock(
		inference.TextChunks("One• two• three• four• five"),
		inference.TextChunks("Slow part•", " quick part"),
	)
	voice := tts.WithLatencyFunc(tts.NewMock(), func(text string) time.Duration {
		if text == "Slow part" {
			return 100 * time.Millisecond
		}
		return 0
	})
	h := newHarness(t, llm, voice, Deps{})
	h.start(t)

	if !h.sink.WaitFor(1, 2*time.Second) {
		t.Fatal("greeting was not sent")
	}
	if got := h.sink.AudioTexts()[0]; got != DefaultGreeting {
		t.Fatalf("first audio should be the greeting, got %q", got)
	}

	h.stt.Last().Transcribe("I have a question")
	if !h.sink.WaitFor(6, 2*time.Second) {
		t.Fatalf("first reply incomplete: %v", h.sink.AudioTexts())
	}

	h.stt.Last().Transcribe("and another one")
	if !h.sink.WaitFor(8, 2*time.Second) {
		t.Fatalf("second reply incomplete: %v", h.sink.AudioTexts())
	}

	want := []string{DefaultGreeting, "One", "two", "three", "four", "five", "Slow part", "quick part"}
	if got := h.sink.AudioTexts(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("audio order\n got %v\nwant %v", got, want)
	}

	var indices []int
	for _, ev := range h.events.waitFor(t, EventAudioSent, 8) {
		indices = append(indices, ev.Index)
	}
	wantIdx := []int{NoOrder, 0, 1, 2, 3, 4, 5, 6}
	for i := range wantIdx {
		if indices[i] != wantIdx[i] {
			t.Fatalf("sent indices %v, want %v", indices, wantIdx)
		}
	}

	if h.session.Interaction() != 2 {
		t.Errorf("expected 2 interactions, got %d", h.session.Interaction())
	}
	if h.session.Dispatcher().Outstanding() != 8 {
		t.Errorf("expected 8 outstanding marks, got %d", h.session.Dispatcher().Outstanding())
	}
}

func TestSessionHistorySeed(t *testing.T) {
	llm := inference.NewScriptedMock(inference.TextChunks("Sure"))
	h := newHarness(t, llm, nil, Deps{}, WithGreeting(""))
	h.start(t)

	h.stt.Last().Transcribe("hello")
	h.sink.WaitFor(1, 2*time.Second)

	hist := h.session.History()
	if hist[0].Role != inference.RoleSystem || !strings.Contains(hist[0].Content, "•") {
		t.Errorf("system prompt should ask for split markers: %+v", hist[0])
	}
	var found bool
	for _, m := range hist {
		if m.Role == inference.RoleSystem && m.Content == "callSid: CA123" {
			found = true
		}
	}
	if !found {
		t.Error("callSid system message missing")
	}
}

func TestSessionBargeIn(t *testing.T) {
	h := newHarness(t, inference.NewScriptedMock(), nil, Deps{})
	h.start(t)

	if !h.sink.WaitFor(1, 2*time.Second) {
		t.Fatal("greeting was not sent")
	}

	if h.session.Utterance("ok") {
		t.Error("short utterance should not interrupt")
	}
	h.stt.Last().Utter("actually, wait")

	if h.sink.Clears() != 1 {
		t.Fatalf("expected a clear, got %d", h.sink.Clears())
	}
	if h.session.Dispatcher().Outstanding() != 0 {
		t.Error("marks should be dropped after barge-in")
	}
	ev := h.events.waitFor(t, EventInterruption, 1)[0]
	if ev.Cleared != 1 || ev.Text != "actually, wait" {
		t.Errorf("unexpected interruption event %+v", ev)
	}

	if h.session.Utterance("still talking here") {
		t.Error("nothing is playing, so nothing to interrupt")
	}
}

func TestSessionMarkAcknowledge(t *testing.T) {
	h := newHarness(t, inference.NewScriptedMock(), nil, Deps{})
	h.start(t)
	h.sink.WaitFor(1, 2*time.Second)

	mark := h.sink.Sent()[0].Mark
	if mark == "" {
		t.Fatal("media should carry a mark")
	}
	h.session.Mark("not-a-mark")
	if h.session.Dispatcher().Outstanding() != 1 {
		t.Error("unknown mark must be ignored")
	}
	h.session.Mark(mark)
	if h.session.Dispatcher().Outstanding() != 0 {
		t.Error("mark should be acknowledged")
	}
	h.events.waitFor(t, EventMarkAcked, 1)
}

func TestSessionMedia(t *testing.T) {
	h := newHarness(t, inference.NewScriptedMock(), nil, Deps{}, WithGreeting(""))

	if err := h.session.Media(base64.StdEncoding.EncodeToString([]byte("early"))); err != nil {
		t.Errorf("media before start should be dropped quietly, got %v", err)
	}

	h.start(t)
	payload := base64.StdEncoding.EncodeToString([]byte{0xff, 0x7f, 0x00})
	if err := h.session.Media(payload); err != nil {
		t.Fatalf("media failed: %v", err)
	}
	if got := h.stt.Last().Audio(); len(got) != 3 || got[0] != 0xff {
		t.Errorf("recognizer got %v", got)
	}
	if err := h.session.Media("%%%"); err == nil {
		t.Error("expected decode error")
	}
}

func TestSessionSynthesisFailureSkips(t *testing.T) {
	voice := tts.NewMock()
	ok := voice.SynthesizeFunc
	voice.SynthesizeFunc = func(ctx context.Context, text string) (*tts.AudioResult, error) {
		if text == "broken" {
			return nil, errors.New("voice glitch")
		}
		return ok(ctx, text)
	}
	llm := inference.NewScriptedMock(inference.TextChunks("fine• broken• after"))
	h := newHarness(t, llm, voice, Deps{}, WithGreeting(""))
	h.start(t)

	h.stt.Last().Transcribe("go")
	errs := h.events.waitFor(t, EventError, 1)
	if !h.sink.WaitFor(2, 2*time.Second) {
		t.Fatalf("audio after the failed fragment should still play: %v", h.sink.AudioTexts())
	}

	if got := strings.Join(h.sink.AudioTexts(), "|"); got != "fine|after" {
		t.Errorf("unexpected audio %s", got)
	}
	if errs[0].Index != 1 || !strings.Contains(errs[0].Error, "voice glitch") {
		t.Errorf("unexpected error event %+v", errs[0])
	}
	if h.session.Dispatcher().Next() != 3 {
		t.Errorf("cursor should be past the failed index, got %d", h.session.Dispatcher().Next())
	}
}

func TestSessionTurnError(t *testing.T) {
	llm := inference.WithError(errors.New("model offline"))
	h := newHarness(t, llm, nil, Deps{}, WithGreeting(""))
	h.start(t)

	h.stt.Last().Transcribe("hello?")
	ev := h.events.waitFor(t, EventError, 1)[0]
	var te *ProviderTransportError
	if !errors.As(ev.Err, &te) || te.Stage != StageCompletion {
		t.Errorf("expected completion error, got %v", ev.Err)
	}
	if ev.Interaction != 0 {
		t.Errorf("error should carry the failed interaction, got %d", ev.Interaction)
	}
}

func TestSessionEmptyTranscriptionIgnored(t *testing.T) {
	llm := inference.NewScriptedMock(inference.TextChunks("hi"))
	h := newHarness(t, llm, nil, Deps{}, WithGreeting(""))
	h.start(t)

	h.session.Transcription("   ")
	h.session.Transcription("")
	if h.session.Interaction() != 0 {
		t.Errorf("empty text must not count as a turn")
	}
	if len(h.events.of(EventTranscription)) != 0 {
		t.Error("no transcription events expected")
	}
}

func TestSessionLifecycle(t *testing.T) {
	llm := inference.NewScriptedMock(inference.TextChunks("hi"))
	ledger := &fakeLedger{}
	h := newHarness(t, llm, nil, Deps{Ledger: ledger}, WithGreeting(""))

	if h.session.State() != StateIdle {
		t.Fatalf("new session should be idle, got %s", h.session.State())
	}
	h.start(t)
	if err := h.session.Start(context.Background(), "MZ2", "CA2"); !errors.Is(err, ErrSessionActive) {
		t.Errorf("expected ErrSessionActive, got %v", err)
	}

	h.stt.Last().Transcribe("hello")
	h.sink.WaitFor(1, 2*time.Second)

	h.session.End("caller hung up")
	h.session.End("again")

	if h.session.State() != StateEnded {
		t.Errorf("expected ended, got %s", h.session.State())
	}
	if !h.stt.Last().Closed() {
		t.Error("recognizer should be closed")
	}
	if n := len(h.events.of(EventEnded)); n != 1 {
		t.Errorf("expected one ended event, got %d", n)
	}
	if err := h.session.Start(context.Background(), "MZ3", "CA3"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}

	streams := llm.CallCount("Stream")
	h.session.Transcription("anyone there?")
	h.session.Mark("m")
	if h.session.Utterance("interrupting after the end") {
		t.Error("ended session must not interrupt")
	}
	time.Sleep(20 * time.Millisecond)
	if llm.CallCount("Stream") != streams {
		t.Error("events after End must be ignored")
	}

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if len(ledger.started) != 1 || ledger.started[0] != "CA123/MZ123" {
		t.Errorf("unexpected ledger starts %v", ledger.started)
	}
	transcript := ledger.finished["CA123"]
	var sawUser bool
	for _, m := range transcript {
		if m.Role == inference.RoleUser && m.Content == "hello" {
			sawUser = true
		}
	}
	if !sawUser {
		t.Errorf("transcript should contain the caller turn: %+v", transcript)
	}
}

func TestSessionEndBeforeStart(t *testing.T) {
	h := newHarness(t, inference.NewScriptedMock(), nil, Deps{})
	h.session.End("socket closed early")
	if h.session.State() != StateEnded {
		t.Error("idle session should end")
	}
	if err := h.session.Start(context.Background(), "MZ", "CA"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
}

func TestSessionRecording(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		rec := &fakeCallRecorder{}
		h := newHarness(t, inference.NewScriptedMock(), nil, Deps{Recorder: rec}, WithRecording(true))
		h.start(t)

		if !h.sink.WaitFor(1, 2*time.Second) {
			t.Fatal("greeting should follow recording")
		}
		rec.mu.Lock()
		defer rec.mu.Unlock()
		if len(rec.calls) != 1 || rec.calls[0] != "CA123" {
			t.Errorf("unexpected recording calls %v", rec.calls)
		}
	})

	t.Run("failure still greets", func(t *testing.T) {
		rec := &fakeCallRecorder{err: errors.New("twilio said no")}
		h := newHarness(t, inference.NewScriptedMock(), nil, Deps{Recorder: rec}, WithRecording(true))
		h.start(t)

		h.events.waitFor(t, EventError, 1)
		if !h.sink.WaitFor(1, 2*time.Second) {
			t.Fatal("greeting should still play")
		}
	})

	t.Run("disabled", func(t *testing.T) {
		rec := &fakeCallRecorder{}
		h := newHarness(t, inference.NewScriptedMock(), nil, Deps{Recorder: rec})
		h.start(t)
		h.sink.WaitFor(1, 2*time.Second)

		rec.mu.Lock()
		defer rec.mu.Unlock()
		if len(rec.calls) != 0 {
			t.Error("recording should be off by default")
		}
	})
}

func TestSessionRecognizerUnavailable(t *testing.T) {
	h := newHarness(t, inference.NewScriptedMock(), nil, Deps{})
	h.stt.OpenErr = errors.New("deepgram down")

	if err := h.session.Start(context.Background(), "MZ", "CA"); err == nil {
		t.Fatal("expected start to fail")
	}
	if h.session.State() != StateEnded {
		t.Errorf("session should end when recognition is unavailable, got %s", h.session.State())
	}
}

func TestNewSessionRequiresProviders(t *testing.T) {
	_, err := NewSession(Deps{TTS: tts.NewMock(), STT: stt.NewMock(), Sink: telephony.NewRecorder()})
	if !errors.Is(err, ErrMissingProvider) {
		t.Errorf("expected ErrMissingProvider, got %v", err)
	}
}

func TestSessionInfo(t *testing.T) {
	h := newHarness(t, inference.NewScriptedMock(), nil, Deps{})
	h.start(t)
	h.sink.WaitFor(1, 2*time.Second)

	info := h.session.Info()
	if info.CallSid != "CA123" || info.StreamSid != "MZ123" || info.State != "active" {
		t.Errorf("unexpected info %+v", info)
	}
	if info.OutstandingMarks != 1 {
		t.Errorf("expected the greeting mark outstanding, got %d", info.OutstandingMarks)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		var rec map[string]any
		if json.Unmarshal([]byte(line), &rec) == nil {
			out = append(out, rec)
		}
	}
	return out
}

func TestSessionComponentLogsCarryCallIDs(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := newHarness(t, inference.NewScriptedMock(), nil, Deps{}, WithLogger(logger))
	h.start(t)
	if !h.sink.WaitFor(1, 2*time.Second) {
		t.Fatal("greeting was not sent")
	}
	if !h.session.Utterance("hang on a moment") {
		t.Fatal("expected barge-in")
	}

	seen := map[string]bool{}
	for _, rec := range logs.lines() {
		component, _ := rec["component"].(string)
		if component == "" {
			continue
		}
		if rec["call_sid"] != "CA123" || rec["stream_sid"] != "MZ123" {
			t.Errorf("%s log %q missing call ids: %v", component, rec["msg"], rec)
		}
		seen[component] = true
	}
	for _, c := range []string{"conversation.session", "conversation.pool", "conversation.interrupt"} {
		if !seen[c] {
			t.Errorf("no logs from %s", c)
		}
	}
}
