// callbridge answers phone calls with a streaming voice agent.
//
//	callbridge serve             run the webhook and media stream server
//	callbridge call +15550100    place an outbound call
//	callbridge health            check provider credentials
//	callbridge version
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-callbridge/internal/config"
	"github.com/teslashibe/go-callbridge/internal/log"
)

var version = "dev"

var v = config.New()

var rootCmd = &cobra.Command{
	Use:           "callbridge",
	Short:         "Streaming voice agent for Twilio calls",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("callbridge " + version)
	},
}

func init() {
	cobra.OnInitialize(func() {
		// A missing .env is normal in production.
		_ = godotenv.Load()
	})

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default ./callbridge.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	_ = v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))

	serveFlags := serveCmd.Flags()
	serveFlags.Int("port", 8080, "HTTP listen port")
	serveFlags.String("server", "", "public host used in TwiML stream URLs")
	serveFlags.Bool("recording", false, "record calls through the Twilio API")
	serveFlags.String("documents", "documents", "directory served by the read_document tool")
	_ = v.BindPFlag(config.KeyPort, serveFlags.Lookup("port"))
	_ = v.BindPFlag(config.KeyServer, serveFlags.Lookup("server"))
	_ = v.BindPFlag(config.KeyRecording, serveFlags.Lookup("recording"))
	_ = v.BindPFlag(config.KeyDocumentsDir, serveFlags.Lookup("documents"))

	rootCmd.AddCommand(serveCmd, callCmd, healthCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig applies the --config flag and decodes settings.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.LogLevel)
	return cfg, nil
}
