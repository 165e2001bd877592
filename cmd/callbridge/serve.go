package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-callbridge/internal/config"
	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/conversation"
	"github.com/teslashibe/go-callbridge/pkg/documents"
	"github.com/teslashibe/go-callbridge/pkg/monitor"
	"github.com/teslashibe/go-callbridge/pkg/server"
	"github.com/teslashibe/go-callbridge/pkg/store"
	"github.com/teslashibe/go-callbridge/pkg/telephony"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve Twilio webhooks and media streams",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.L()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profiles, err := server.BuildProfiles(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, p := range profiles {
			p.Close()
		}
	}()

	ledger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	tools, err := buildTools(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srvCfg := server.Config{
		PublicHost:     cfg.Server,
		Profiles:       profiles,
		Tools:          tools,
		Ledger:         ledger,
		Monitor:        monitor.New(logger),
		SessionOptions: sessionOptions(cfg),
		RequestLog:     cfg.LogLevel == "debug",
		Logger:         logger,
	}

	ctrl, err := telephony.NewController(telephony.ControllerConfig{
		AccountSid: cfg.Twilio.AccountSid,
		AuthToken:  cfg.Twilio.AuthToken,
		FromNumber: cfg.Twilio.FromNumber,
		PublicHost: cfg.Server,
		Logger:     logger,
	})
	switch {
	case err == nil:
		srvCfg.Caller = ctrl
		srvCfg.Recorder = ctrl
	case errors.Is(err, telephony.ErrNoCredentials):
		logger.Warn("twilio credentials missing, outbound calls and recording disabled")
	default:
		return err
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srvCfg.Monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.Listen(cfg.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), server.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// openLedger picks Postgres when a database URL is set, else memory.
func openLedger(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		return store.OpenPostgres(ctx, cfg.DatabaseURL)
	case cfg.LedgerFile != "":
		return store.NewFile(cfg.LedgerFile)
	default:
		return store.NewMemory(), nil
	}
}

// buildTools registers read_document over the documents directory and,
// when credentials are configured, Google Docs.
func buildTools(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*conversation.Toolset, error) {
	lib := &documents.Library{}

	if dir, err := documents.NewDirectory(cfg.DocumentsDir); err == nil {
		lib.Dir = dir
	} else {
		logger.Warn("documents directory unavailable", "dir", cfg.DocumentsDir, "error", err)
	}

	if cfg.Google.Enabled() {
		gdocs, err := documents.NewGoogleDocs(ctx, documents.GoogleConfig{
			ClientID:        cfg.Google.ClientID,
			ClientSecret:    cfg.Google.ClientSecret,
			TokenPath:       cfg.Google.TokenPath,
			CredentialsFile: cfg.Google.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		lib.Google = gdocs
	}

	if lib.Dir == nil && lib.Google == nil {
		return conversation.NewToolset(), nil
	}
	return conversation.NewToolset(documents.ReadDocumentTool(lib)), nil
}

func sessionOptions(cfg *config.Config) []conversation.Option {
	opts := []conversation.Option{
		conversation.WithRecording(cfg.RecordingEnabled),
	}
	if cfg.Greeting != "" {
		opts = append(opts, conversation.WithGreeting(cfg.Greeting))
	}
	if cfg.SystemPrompt != "" {
		opts = append(opts, conversation.WithSystemPrompt(cfg.SystemPrompt))
	}
	if cfg.GapTimeout > 0 {
		opts = append(opts, conversation.WithTimeouts(0, 0, cfg.GapTimeout))
	}
	return opts
}
