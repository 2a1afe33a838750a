package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/internal/config"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "voicechat",
	Short: "Voice turn-taking conversation server",
	Long: `voicechat runs a spoken conversation with a Gemini model.

A browser or device connects to /ws and relays its microphone, speech
recognition and speech output; the server decides when the user has
finished a turn, streams the model reply and speaks it sentence by
sentence.

Commands:
  serve   - Start the HTTP and websocket server (default)
  ask     - Send one typed turn and print the spoken segments
  voices  - List the ElevenLabs voices available to the API key`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")
	rootCmd.AddCommand(serveCmd, askCmd, voicesCmd)
}

// setup loads the environment and returns the logger and server config
func setup() (*zap.Logger, config.Config, error) {
	bootstrap := zap.NewNop()
	if envFile != "" {
		config.LoadDotEnv(bootstrap, envFile)
	} else {
		config.LoadDotEnv(bootstrap)
	}

	cfg := config.NewConfigFromEnv()
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("failed to create logger: %w", err)
	}

	cfg, err = config.WithDefaults(cfg, logger)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return logger, cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
