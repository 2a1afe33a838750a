package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/adapters/llm"
	"github.com/satriahrh/voicechat/adapters/stt"
	"github.com/satriahrh/voicechat/adapters/tts"
	"github.com/satriahrh/voicechat/domain/repositories"
	"github.com/satriahrh/voicechat/internal/config"
	"github.com/satriahrh/voicechat/internal/websocket"
	"github.com/satriahrh/voicechat/usecase"
)

// newStreamer builds the completion streamer named by LLM_PROVIDER
func newStreamer(cfg config.Config, logger *zap.Logger) (repositories.CompletionStreamer, error) {
	geminiConfig := llm.NewGeminiConfigFromEnv()

	switch cfg.LLMProvider {
	case "genai":
		return llm.NewGenAIStreamer(geminiConfig, nil, logger.Named("genai"))
	case "mock":
		logger.Info("Using mock LLM provider")
		return llm.NewMockStreamer(mockDelay), nil
	case "sse":
		return llm.NewGeminiSSEStreamer(geminiConfig, nil, logger.Named("gemini"))
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
}

func orchestratorConfig(cfg config.Config) usecase.OrchestratorConfig {
	return usecase.OrchestratorConfig{
		SettleDelay: cfg.SettleDelay,
		Transcription: usecase.TranscriptionConfig{
			Recognition: repositories.RecognitionConfig{
				Language:       cfg.Language,
				Continuous:     true,
				InterimResults: true,
			},
			RestartDelay: cfg.RestartDelay,
		},
		Speech: usecase.SpeechQueueConfig{
			Rate:      cfg.SpeechRate,
			Lang:      cfg.Language,
			VoiceHint: cfg.VoiceHint,
		},
		Sampler: usecase.AudioSamplerConfig{
			FrameInterval: cfg.FrameInterval,
		},
	}
}

func hubConfig(cfg config.Config) websocket.HubConfig {
	hub := websocket.HubConfig{
		Orchestrator: orchestratorConfig(cfg),
		STTProvider:  cfg.STTProvider,
		TTSProvider:  cfg.TTSProvider,
	}
	if cfg.STTProvider == "google" {
		hub.Google = stt.NewGoogleConfigFromEnv()
	}
	if cfg.TTSProvider == "elevenlabs" {
		hub.ElevenLabs = tts.NewElevenLabsConfigFromEnv()
	}
	return hub
}

// validateProviders fails fast on provider settings that would otherwise
// only surface when the first client connects
func validateProviders(hub websocket.HubConfig) error {
	if hub.STTProvider == "google" {
		if err := stt.ValidateGoogleConfig(hub.Google); err != nil {
			return fmt.Errorf("invalid google speech configuration: %w", err)
		}
	}
	if hub.TTSProvider == "elevenlabs" {
		if err := tts.ValidateElevenLabsConfig(hub.ElevenLabs); err != nil {
			return fmt.Errorf("invalid eleven labs configuration: %w", err)
		}
	}
	return nil
}
