// Package server exposes the Twilio webhooks, the media stream websocket
// endpoints, the outbound call API and the live monitor.
//
//	POST /incoming          TwiML connecting the call to /connection
//	POST /incoming-groq     TwiML connecting the call to /connection-groq
//	GET  /connection        media stream, default profile
//	GET  /connection-groq   media stream, Groq profile
//	POST /outbound-call     {"to": "+1555..."} places a call
//	GET  /health            liveness and active call count
//	GET  /api/calls         active sessions and the recent ledger
//	GET  /api/calls/:sid    one stored call
//	GET  /api/stats         event counters
//	GET  /ws/monitor        live session events
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	requestlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	mediaws "github.com/gofiber/contrib/websocket"
	monitorws "github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-callbridge/pkg/conversation"
	"github.com/teslashibe/go-callbridge/pkg/monitor"
	"github.com/teslashibe/go-callbridge/pkg/store"
)

// Caller places outbound calls.
type Caller interface {
	PlaceCall(ctx context.Context, to string) (string, error)
}

// Config wires a Server.
type Config struct {
	// PublicHost is the externally reachable host, without scheme, used in
	// TwiML stream URLs.
	PublicHost string

	Profiles map[Profile]Providers
	Tools    *conversation.Toolset

	// Caller and Recorder are usually the same telephony.Controller.
	Caller   Caller
	Recorder conversation.CallRecorder

	Ledger store.Store

	// Monitor must be running (Hub.Run) before dashboards connect.
	Monitor *monitor.Hub

	// SessionOptions apply to every call. The server adds its own observer
	// and logger.
	SessionOptions []conversation.Option

	// RequestLog enables fiber's access log middleware.
	RequestLog bool

	Logger *slog.Logger
}

// ShutdownGrace is how long callers should allow Shutdown to drain calls.
const ShutdownGrace = 10 * time.Second

// Server is the HTTP front end.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[*conversation.Session]func() error
	wg       sync.WaitGroup
}

// New builds the routes.
func New(cfg Config) (*Server, error) {
	if len(cfg.Profiles) == 0 {
		return nil, errors.New("server: at least one provider profile is required")
	}
	if cfg.Ledger == nil {
		cfg.Ledger = store.NewMemory()
	}
	if cfg.Monitor == nil {
		cfg.Monitor = monitor.New(cfg.Logger)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger.With("component", "server"),
		sessions: make(map[*conversation.Session]func() error),
	}

	app := fiber.New(fiber.Config{
		AppName:               "callbridge",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	if cfg.RequestLog {
		app.Use(requestlog.New())
	}
	app.Use("/api", cors.New())

	app.Post("/incoming", s.handleIncoming(ProfileDefault, "/connection"))
	app.Post("/incoming-groq", s.handleIncoming(ProfileGroq, "/connection-groq"))
	app.Post("/outbound-call", s.handleOutboundCall)
	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/calls", s.handleListCalls)
	api.Get("/calls/:sid", s.handleGetCall)
	api.Get("/stats", s.handleStats)

	upgrade := func(c *fiber.Ctx) error {
		if mediaws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
	app.Get("/connection", upgrade, mediaws.New(s.handleMedia(ProfileDefault)))
	app.Get("/connection-groq", upgrade, mediaws.New(s.handleMedia(ProfileGroq)))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if monitorws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/monitor", monitorws.New(func(c *monitorws.Conn) {
		monitor.NewClient(s.cfg.Monitor, c).Run()
	}))

	s.app = app
	return s, nil
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Monitor returns the event hub.
func (s *Server) Monitor() *monitor.Hub {
	return s.cfg.Monitor
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr, "public_host", s.cfg.PublicHost)
	return s.app.Listen(addr)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown ends every live call, waits for their transcripts to be stored
// and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	live := make(map[*conversation.Session]func() error, len(s.sessions))
	for sess, closeConn := range s.sessions {
		live[sess] = closeConn
	}
	s.mu.Unlock()

	for sess, closeConn := range live {
		sess.End("server shutdown")
		closeConn()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timed out waiting for calls")
	}
	return s.app.ShutdownWithContext(ctx)
}

// Sessions returns the live sessions.
func (s *Server) Sessions() []*conversation.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*conversation.Session, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Server) track(sess *conversation.Session, closeConn func() error) {
	s.mu.Lock()
	s.sessions[sess] = closeConn
	s.mu.Unlock()
}

func (s *Server) untrack(sess *conversation.Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
