package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/telephony"
)

var callCmd = &cobra.Command{
	Use:   "call <number>",
	Short: "Place an outbound call that connects to this server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctrl, err := telephony.NewController(telephony.ControllerConfig{
			AccountSid: cfg.Twilio.AccountSid,
			AuthToken:  cfg.Twilio.AuthToken,
			FromNumber: cfg.Twilio.FromNumber,
			PublicHost: cfg.Server,
			Logger:     log.L(),
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		sid, err := ctrl.PlaceCall(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(sid)
		return nil
	},
}
