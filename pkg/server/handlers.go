package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-callbridge/pkg/conversation"
	"github.com/teslashibe/go-callbridge/pkg/store"
	"github.com/teslashibe/go-callbridge/pkg/telephony"
)

// handleIncoming answers Twilio's voice webhook with TwiML that connects
// the call to the media stream at path.
func (s *Server) handleIncoming(profile Profile, path string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := s.cfg.Profiles[profile]; !ok {
			return fiber.NewError(fiber.StatusServiceUnavailable, "profile "+string(profile)+" is not configured")
		}
		doc, err := telephony.ConnectTwiML("wss://" + s.cfg.PublicHost + path)
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, "text/xml")
		return c.SendString(doc)
	}
}

// OutboundRequest is the body of POST /outbound-call.
type OutboundRequest struct {
	To string `json:"to"`
}

func (s *Server) handleOutboundCall(c *fiber.Ctx) error {
	var req OutboundRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.To) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Phone number is required",
		})
	}
	if s.cfg.Caller == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "outbound calling is not configured")
	}

	sid, err := s.cfg.Caller.PlaceCall(c.UserContext(), strings.TrimSpace(req.To))
	if err != nil {
		s.logger.Error("outbound call failed", "to", req.To, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error making outbound call",
		})
	}
	return c.JSON(fiber.Map{
		"message": "Outbound call initiated successfully",
		"callSid": sid,
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	stats := s.cfg.Monitor.Stats().Snapshot()
	profiles := make([]string, 0, len(s.cfg.Profiles))
	for p := range s.cfg.Profiles {
		profiles = append(profiles, string(p))
	}
	return c.JSON(fiber.Map{
		"status":       "ok",
		"active_calls": len(s.Sessions()),
		"profiles":     profiles,
		"monitors":     s.cfg.Monitor.ClientCount(),
		"uptime":       stats.Uptime.Round(time.Second).String(),
	})
}

func (s *Server) handleListCalls(c *fiber.Ctx) error {
	active := make([]conversation.Info, 0)
	for _, sess := range s.Sessions() {
		active = append(active, sess.Info())
	}

	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	recent, err := s.cfg.Ledger.List(c.UserContext(), limit)
	if err != nil {
		return err
	}
	if recent == nil {
		recent = []store.Call{}
	}
	return c.JSON(fiber.Map{
		"active": active,
		"recent": recent,
	})
}

func (s *Server) handleGetCall(c *fiber.Ctx) error {
	call, err := s.cfg.Ledger.Get(c.UserContext(), c.Params("sid"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "call not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(call)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Monitor.Stats().Snapshot())
}
