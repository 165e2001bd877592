package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Deepgram is a live recognizer backed by the Deepgram listen websocket.
type Deepgram struct {
	config *Config
	logger *slog.Logger
}

// NewDeepgram creates a Deepgram recognizer.
func NewDeepgram(opts ...Option) (*Deepgram, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Deepgram{
		config: cfg,
		logger: cfg.Logger.With("component", "stt.deepgram"),
	}, nil
}

// Open dials Deepgram and starts the reader goroutine.
func (d *Deepgram) Open(ctx context.Context, h Handler) (Session, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.config.HandshakeTimeout,
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+d.config.APIKey)

	conn, resp, err := dialer.DialContext(ctx, d.listenURL(), header)
	if err != nil {
		cerr := &ConnectError{Err: err}
		if resp != nil {
			cerr.StatusCode = resp.StatusCode
		}
		return nil, cerr
	}

	s := &deepgramSession{
		conn:    conn,
		handler: h,
		logger:  d.logger,
		done:    make(chan struct{}),
		readErr: make(chan struct{}),
	}

	go s.readLoop()
	if d.config.KeepAlive > 0 {
		go s.keepAlive(d.config.KeepAlive)
	}

	d.logger.Debug("connected", "model", d.config.Model)
	return s, nil
}

func (d *Deepgram) listenURL() string {
	q := url.Values{}
	q.Set("model", d.config.Model)
	q.Set("language", d.config.Language)
	q.Set("encoding", d.config.Encoding)
	q.Set("sample_rate", strconv.Itoa(d.config.SampleRate))
	q.Set("channels", strconv.Itoa(d.config.Channels))
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	q.Set("endpointing", strconv.Itoa(d.config.Endpointing))
	q.Set("utterance_end_ms", strconv.Itoa(d.config.UtteranceEndMs))
	return d.config.URL + "?" + q.Encode()
}

// deepgramSession is one open listen socket.
type deepgramSession struct {
	conn    *websocket.Conn
	handler Handler
	logger  *slog.Logger

	writeMu sync.Mutex
	closed  bool

	once    sync.Once
	done    chan struct{}
	readErr chan struct{}

	asm assembler
}

// SendAudio writes one binary audio frame.
func (s *deepgramSession) SendAudio(audio []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Close asks Deepgram to flush, then tears the socket down.
func (s *deepgramSession) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		s.closed = true
		_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		s.writeMu.Unlock()

		select {
		case <-s.readErr:
		case <-time.After(2 * time.Second):
		}
		err = s.conn.Close()
	})
	return err
}

func (s *deepgramSession) keepAlive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.readErr:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			if !s.closed {
				_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`))
			}
			s.writeMu.Unlock()
		}
	}
}

func (s *deepgramSession) readLoop() {
	defer close(s.readErr)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			s.handler.fail(fmt.Errorf("stt: read: %w", err))
			return
		}

		var msg listenMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("skipping malformed message", "error", err)
			continue
		}

		switch msg.Type {
		case "Results":
			s.asm.result(msg, s.handler)
		case "UtteranceEnd":
			s.asm.utteranceEnd(s.handler)
		case "Error":
			s.handler.fail(errors.New("stt: deepgram: " + msg.Description))
		}
	}
}

// listenMessage covers the Deepgram message types the session reads.
type listenMessage struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Description string `json:"description"`
}

func (m listenMessage) transcript() string {
	if len(m.Channel.Alternatives) == 0 {
		return ""
	}
	return m.Channel.Alternatives[0].Transcript
}

// assembler joins is_final pieces into one caller turn. A turn ends at
// speech_final, or at UtteranceEnd when speech_final never arrived.
type assembler struct {
	final       strings.Builder
	speechFinal bool
}

func (a *assembler) result(m listenMessage, h Handler) {
	text := m.transcript()

	if !m.IsFinal {
		if strings.TrimSpace(text) != "" {
			h.utterance(text)
		}
		return
	}

	if strings.TrimSpace(text) == "" {
		return
	}
	if a.final.Len() > 0 {
		a.final.WriteByte(' ')
	}
	a.final.WriteString(strings.TrimSpace(text))

	if m.SpeechFinal {
		a.speechFinal = true
		a.flush(h)
		return
	}
	a.speechFinal = false
}

func (a *assembler) utteranceEnd(h Handler) {
	if a.speechFinal {
		return
	}
	a.flush(h)
}

func (a *assembler) flush(h Handler) {
	text := a.final.String()
	a.final.Reset()
	if text != "" {
		h.transcription(text)
	}
}

// Verify Deepgram implements Recognizer at compile time.
var _ Recognizer = (*Deepgram)(nil)
