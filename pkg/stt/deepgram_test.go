package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recorder struct {
	mu             sync.Mutex
	utterances     []string
	transcriptions []string
	errs           []error
	got            chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 64)}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnUtterance: func(text string) {
			r.mu.Lock()
			r.utterances = append(r.utterances, text)
			r.mu.Unlock()
			r.got <- struct{}{}
		},
		OnTranscription: func(text string) {
			r.mu.Lock()
			r.transcriptions = append(r.transcriptions, text)
			r.mu.Unlock()
			r.got <- struct{}{}
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.got <- struct{}{}
		},
	}
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
}

func result(text string, isFinal, speechFinal bool) listenMessage {
	var m listenMessage
	m.Type = "Results"
	m.IsFinal = isFinal
	m.SpeechFinal = speechFinal
	m.Channel.Alternatives = append(m.Channel.Alternatives, struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
	}{Transcript: text})
	return m
}

func TestAssembler(t *testing.T) {
	tests := []struct {
		name           string
		steps          func(a *assembler, h Handler)
		utterances     []string
		transcriptions []string
	}{
		{
			name: "interim results become utterances",
			steps: func(a *assembler, h Handler) {
				a.result(result("hello", false, false), h)
				a.result(result("", false, false), h)
			},
			utterances: []string{"hello"},
		},
		{
			name: "speech_final flushes accumulated finals",
			steps: func(a *assembler, h Handler) {
				a.result(result("I need", true, false), h)
				a.result(result("a new phone", true, true), h)
			},
			transcriptions: []string{"I need a new phone"},
		},
		{
			name: "utterance end flushes when speech_final never came",
			steps: func(a *assembler, h Handler) {
				a.result(result("what are your hours", true, false), h)
				a.utteranceEnd(h)
			},
			transcriptions: []string{"what are your hours"},
		},
		{
			name: "utterance end after speech_final is ignored",
			steps: func(a *assembler, h Handler) {
				a.result(result("yes", true, true), h)
				a.utteranceEnd(h)
			},
			transcriptions: []string{"yes"},
		},
		{
			name: "empty finals are skipped",
			steps: func(a *assembler, h Handler) {
				a.result(result("  ", true, true), h)
				a.utteranceEnd(h)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var utterances, transcriptions []string
			h := Handler{
				OnUtterance:     func(s string) { utterances = append(utterances, s) },
				OnTranscription: func(s string) { transcriptions = append(transcriptions, s) },
			}
			var a assembler
			tt.steps(&a, h)

			if strings.Join(utterances, "|") != strings.Join(tt.utterances, "|") {
				t.Errorf("utterances = %v, want %v", utterances, tt.utterances)
			}
			if strings.Join(transcriptions, "|") != strings.Join(tt.transcriptions, "|") {
				t.Errorf("transcriptions = %v, want %v", transcriptions, tt.transcriptions)
			}
		})
	}
}

func newDeepgramServer(t *testing.T, script []string, frames chan<- []byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token dg-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		if q.Get("encoding") != "mulaw" || q.Get("sample_rate") != "8000" {
			t.Errorf("unexpected audio params: %s", r.URL.RawQuery)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, msg := range script {
			conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}

		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if typ == websocket.BinaryMessage && frames != nil {
				frames <- data
				continue
			}
			if strings.Contains(string(data), "CloseStream") {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestDeepgramSession(t *testing.T) {
	script := []string{
		`{"type":"Results","channel":{"alternatives":[{"transcript":"can I"}]},"is_final":false}`,
		`{"type":"Results","channel":{"alternatives":[{"transcript":"can I book"}]},"is_final":true}`,
		`{"type":"Results","channel":{"alternatives":[{"transcript":"a table"}]},"is_final":true,"speech_final":true}`,
		`not json`,
		`{"type":"Metadata"}`,
	}
	frames := make(chan []byte, 4)
	server := newDeepgramServer(t, script, frames)
	defer server.Close()

	dg, err := NewDeepgram(WithAPIKey("dg-key"), WithURL(wsURL(server)), WithKeepAlive(0))
	if err != nil {
		t.Fatal(err)
	}

	rec := newRecorder()
	session, err := dg.Open(context.Background(), rec.handler())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	rec.wait(t, 2)

	rec.mu.Lock()
	if len(rec.utterances) != 1 || rec.utterances[0] != "can I" {
		t.Errorf("unexpected utterances %v", rec.utterances)
	}
	if len(rec.transcriptions) != 1 || rec.transcriptions[0] != "can I book a table" {
		t.Errorf("unexpected transcriptions %v", rec.transcriptions)
	}
	rec.mu.Unlock()

	if err := session.SendAudio([]byte{0xff, 0x7f}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	select {
	case f := <-frames:
		if len(f) != 2 {
			t.Errorf("unexpected frame %v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received audio")
	}

	session.Close()
	if err := session.SendAudio([]byte{1}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	if err := session.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) != 0 {
		t.Errorf("clean close should not report errors: %v", rec.errs)
	}
}

func TestDeepgramUnauthorized(t *testing.T) {
	server := newDeepgramServer(t, nil, nil)
	defer server.Close()

	dg, _ := NewDeepgram(WithAPIKey("wrong"), WithURL(wsURL(server)))
	_, err := dg.Open(context.Background(), Handler{})

	var cerr *ConnectError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConnectError, got %v", err)
	}
	if cerr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", cerr.StatusCode)
	}
}

func TestDeepgramRequiresKey(t *testing.T) {
	if _, err := NewDeepgram(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestListenURL(t *testing.T) {
	dg, _ := NewDeepgram(WithAPIKey("k"), WithModel("nova-3"), WithEndpointing(300))
	u := dg.listenURL()
	for _, want := range []string{"model=nova-3", "endpointing=300", "utterance_end_ms=1000", "interim_results=true", "channels=1"} {
		if !strings.Contains(u, want) {
			t.Errorf("listen URL %s missing %s", u, want)
		}
	}
}

func TestMockRecognizer(t *testing.T) {
	m := NewMock()
	rec := newRecorder()

	s, err := m.Open(context.Background(), rec.handler())
	if err != nil {
		t.Fatal(err)
	}
	s.SendAudio([]byte("abc"))
	m.Last().Utter("hi")
	m.Last().Transcribe("hello there")
	rec.wait(t, 2)

	if string(m.Last().Audio()) != "abc" || m.Last().Frames() != 1 {
		t.Errorf("unexpected audio %q", m.Last().Audio())
	}
	s.Close()
	if !m.Last().Closed() {
		t.Error("expected closed session")
	}
	if err := s.SendAudio([]byte("x")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}

	m.OpenErr = errors.New("boom")
	if _, err := m.Open(context.Background(), Handler{}); err == nil {
		t.Error("expected open error")
	}
}
