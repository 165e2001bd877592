package server

import (
	"context"

	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-callbridge/pkg/conversation"
	"github.com/teslashibe/go-callbridge/pkg/telephony"
)

// streamQueue bounds outbound media messages waiting for the socket.
const streamQueue = 256

// handleMedia runs one call over a Twilio media stream. The session starts
// on the start message and ends on stop or when the socket closes.
func (s *Server) handleMedia(profile Profile) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		s.wg.Add(1)
		defer s.wg.Done()

		logger := s.logger.With("profile", profile)
		providers, ok := s.cfg.Profiles[profile]
		if !ok {
			logger.Error("media stream for unconfigured profile")
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		stream := telephony.NewStream(c, streamQueue, logger)
		defer stream.Close()
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("media stream writer stopped", "error", err)
			}
		}()

		opts := make([]conversation.Option, 0, len(s.cfg.SessionOptions)+2)
		opts = append(opts, s.cfg.SessionOptions...)
		opts = append(opts,
			conversation.WithObserver(s.cfg.Monitor.Observe),
			conversation.WithLogger(logger),
		)

		sess, err := conversation.NewSession(conversation.Deps{
			LLM:      providers.LLM,
			TTS:      providers.TTS,
			STT:      providers.STT,
			Sink:     stream,
			Tools:    s.cfg.Tools,
			Recorder: s.cfg.Recorder,
			Ledger:   s.cfg.Ledger,
		}, opts...)
		if err != nil {
			logger.Error("create session", "error", err)
			return
		}
		defer s.untrack(sess)
		defer sess.End("stream closed")

		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				logger.Debug("media stream closed", "error", err)
				return
			}

			msg, err := telephony.ParseInbound(data)
			if err != nil {
				logger.Warn("bad media stream message", "error", err)
				continue
			}

			switch msg.Event {
			case telephony.EventConnected:
				logger.Debug("media stream connected")

			case telephony.EventStart:
				if msg.Start == nil {
					logger.Warn("start message without payload")
					continue
				}
				streamSid := msg.Start.StreamSid
				if streamSid == "" {
					streamSid = msg.StreamSid
				}
				stream.SetStreamSid(streamSid)
				if err := sess.Start(ctx, streamSid, msg.Start.CallSid); err != nil {
					logger.Error("start session", "call_sid", msg.Start.CallSid, "error", err)
					return
				}
				s.track(sess, c.Close)

			case telephony.EventMedia:
				if msg.Media == nil {
					continue
				}
				if err := sess.Media(msg.Media.Payload); err != nil {
					logger.Debug("forward media", "error", err)
				}

			case telephony.EventMark:
				if msg.Mark != nil {
					sess.Mark(msg.Mark.Name)
				}

			case telephony.EventStop:
				sess.End("caller hung up")
				return
			}
		}
	}
}
