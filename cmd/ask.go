package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/satriahrh/voicechat/adapters/tts"
	"github.com/satriahrh/voicechat/domain"
	"github.com/satriahrh/voicechat/usecase"
)

var askCmd = &cobra.Command{
	Use:   "ask <text>",
	Short: "Send one typed turn and print the spoken segments",
	Long: `Send one typed turn to the configured model and print the reply the
way it would be spoken: one line per sentence, as soon as it completes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, cfg, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		streamer, err := newStreamer(cfg, logger)
		if err != nil {
			return err
		}

		gateway := usecase.NewModelGateway(streamer, usecase.ModelGatewayConfig{}, logger.Named("gateway"))
		out := cmd.OutOrStdout()

		var segmenter usecase.SentenceSegmenter
		for chunk, err := range gateway.Stream(cmd.Context(), strings.Join(args, " "), nil) {
			if err != nil {
				if modelErr := domain.AsModelError(err); modelErr != nil {
					return errors.New(modelErr.UserMessage())
				}
				return err
			}
			for _, sentence := range segmenter.Push(chunk) {
				fmt.Fprintln(out, sentence)
			}
		}
		if rest := segmenter.Flush(); rest != "" {
			fmt.Fprintln(out, rest)
		}
		return nil
	},
}

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List the ElevenLabs voices available to the API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, _, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		synth, err := tts.NewElevenLabsSynthesizer(tts.NewElevenLabsConfigFromEnv(), nil, nil, logger.Named("tts"))
		if err != nil {
			return err
		}

		voices, err := synth.Voices(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VOICE ID\tNAME\tCATEGORY")
		for _, voice := range voices {
			fmt.Fprintf(w, "%s\t%s\t%s\n", voice.VoiceID, voice.Name, voice.Category)
		}
		return w.Flush()
	},
}
