package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

var (
	// ErrNoCredentials is returned when Twilio credentials are missing.
	ErrNoCredentials = errors.New("telephony: twilio account sid and auth token required")

	// ErrNoFromNumber is returned when placing a call without a caller id.
	ErrNoFromNumber = errors.New("telephony: from number required")
)

// callAPI is the subset of the Twilio REST API used for call control.
type callAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	CreateCallRecording(callSid string, params *openapi.CreateCallRecordingParams) (*openapi.ApiV2010CallRecording, error)
}

// Controller places outbound calls and starts recordings.
type Controller struct {
	api        callAPI
	from       string
	publicHost string
	logger     *slog.Logger
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	AccountSid string
	AuthToken  string

	// FromNumber is the caller id for outbound calls.
	FromNumber string

	// PublicHost is the externally reachable host serving the webhooks,
	// without scheme.
	PublicHost string

	Logger *slog.Logger
}

// NewController creates a Controller backed by the Twilio REST API.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.AccountSid == "" || cfg.AuthToken == "" {
		return nil, ErrNoCredentials
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSid,
		Password: cfg.AuthToken,
	})
	return newController(client.Api, cfg), nil
}

func newController(api callAPI, cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		api:        api,
		from:       cfg.FromNumber,
		publicHost: cfg.PublicHost,
		logger:     logger.With("component", "telephony.control"),
	}
}

// PlaceCall dials to and points the answered call at the /incoming webhook.
// It returns the new call sid.
func (c *Controller) PlaceCall(ctx context.Context, to string) (string, error) {
	if c.from == "" {
		return "", ErrNoFromNumber
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetUrl(fmt.Sprintf("https://%s/incoming", c.publicHost))

	call, err := c.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("telephony: create call: %w", err)
	}

	sid := ""
	if call != nil && call.Sid != nil {
		sid = *call.Sid
	}
	c.logger.Info("outbound call placed", "to", to, "call_sid", sid)
	return sid, nil
}

// StartRecording records both legs of a live call.
func (c *Controller) StartRecording(ctx context.Context, callSid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &openapi.CreateCallRecordingParams{}
	params.SetRecordingChannels("dual")

	rec, err := c.api.CreateCallRecording(callSid, params)
	if err != nil {
		return fmt.Errorf("telephony: start recording: %w", err)
	}
	if rec != nil && rec.Sid != nil {
		c.logger.Info("recording started", "call_sid", callSid, "recording_sid", *rec.Sid)
	}
	return nil
}

// ConnectTwiML returns a TwiML document that connects the call to a
// bidirectional media stream at streamURL.
func ConnectTwiML(streamURL string) (string, error) {
	doc, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceConnect{
			InnerElements: []twiml.Element{
				&twiml.VoiceStream{Url: streamURL},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("telephony: build twiml: %w", err)
	}
	return doc, nil
}
