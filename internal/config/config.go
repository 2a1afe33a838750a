package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	defaultPort          = "8080"
	defaultLLMProvider   = "sse"
	defaultSTTProvider   = "device"
	defaultTTSProvider   = "device"
	defaultLanguage      = "en-US"
	defaultVoiceHint     = "Google"
	defaultSpeechRate    = 1.1
	defaultSettleDelay   = 200 * time.Millisecond
	defaultRestartDelay  = 300 * time.Millisecond
	defaultFrameInterval = 33 * time.Millisecond
)

// Config holds the server-level configuration. Provider specific settings
// (API keys, voices, models) are read by each adapter's own
// New*ConfigFromEnv helper.
type Config struct {
	Port     string
	LogLevel string

	LLMProvider string // sse, genai or mock
	STTProvider string // device or google
	TTSProvider string // device or elevenlabs

	Language      string
	VoiceHint     string
	SpeechRate    float64
	SettleDelay   time.Duration
	RestartDelay  time.Duration
	FrameInterval time.Duration
}

// LoadDotEnv loads a .env file when one is present
func LoadDotEnv(logger *zap.Logger, filenames ...string) {
	if err := godotenv.Load(filenames...); err != nil {
		logger.Info("No .env file loaded, using process environment", zap.Error(err))
	}
}

// NewConfigFromEnv reads the configuration from environment variables
func NewConfigFromEnv() Config {
	config := Config{
		Port:        os.Getenv("PORT"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		LLMProvider: os.Getenv("LLM_PROVIDER"),
		STTProvider: os.Getenv("STT_PROVIDER"),
		TTSProvider: os.Getenv("TTS_PROVIDER"),
		Language:    os.Getenv("SPEECH_LANGUAGE"),
		VoiceHint:   os.Getenv("SPEECH_VOICE_HINT"),
	}

	if rateStr := os.Getenv("SPEECH_RATE"); rateStr != "" {
		if rate, err := strconv.ParseFloat(rateStr, 64); err == nil && rate > 0 {
			config.SpeechRate = rate
		}
	}

	config.SettleDelay = durationFromEnv("SETTLE_DELAY_MS")
	config.RestartDelay = durationFromEnv("RESTART_DELAY_MS")
	config.FrameInterval = durationFromEnv("FRAME_INTERVAL_MS")

	return config
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	switch config.LLMProvider {
	case "", "sse", "genai", "mock":
	default:
		return fmt.Errorf("unsupported LLM provider: %s", config.LLMProvider)
	}

	switch config.STTProvider {
	case "", "device", "google":
	default:
		return fmt.Errorf("unsupported STT provider: %s", config.STTProvider)
	}

	switch config.TTSProvider {
	case "", "device", "elevenlabs":
	default:
		return fmt.Errorf("unsupported TTS provider: %s", config.TTSProvider)
	}

	if config.SpeechRate < 0 || config.SpeechRate > 10 {
		return fmt.Errorf("speech rate must be between 0 and 10, got %f", config.SpeechRate)
	}

	if config.SettleDelay < 0 || config.RestartDelay < 0 || config.FrameInterval < 0 {
		return fmt.Errorf("delays must not be negative")
	}

	return nil
}

// WithDefaults validates config and fills every unset field
func WithDefaults(config Config, logger *zap.Logger) (Config, error) {
	if err := ValidateConfig(config); err != nil {
		return Config{}, err
	}

	if config.Port == "" {
		config.Port = defaultPort
		logger.Info("Using default port", zap.String("port", config.Port))
	}

	if config.LLMProvider == "" {
		config.LLMProvider = defaultLLMProvider
		logger.Info("Using default LLM provider", zap.String("llmProvider", config.LLMProvider))
	}

	if config.STTProvider == "" {
		config.STTProvider = defaultSTTProvider
		logger.Info("Using default STT provider", zap.String("sttProvider", config.STTProvider))
	}

	if config.TTSProvider == "" {
		config.TTSProvider = defaultTTSProvider
		logger.Info("Using default TTS provider", zap.String("ttsProvider", config.TTSProvider))
	}

	if config.Language == "" {
		config.Language = defaultLanguage
		logger.Info("Using default language", zap.String("language", config.Language))
	}

	if config.VoiceHint == "" {
		config.VoiceHint = defaultVoiceHint
	}

	if config.SpeechRate == 0 {
		config.SpeechRate = defaultSpeechRate
		logger.Info("Using default speech rate", zap.Float64("speechRate", config.SpeechRate))
	}

	if config.SettleDelay == 0 {
		config.SettleDelay = defaultSettleDelay
	}

	if config.RestartDelay == 0 {
		config.RestartDelay = defaultRestartDelay
	}

	if config.FrameInterval == 0 {
		config.FrameInterval = defaultFrameInterval
	}

	return config, nil
}

// NewLogger builds the process logger for the configured level
func NewLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func durationFromEnv(key string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	ms, err := strconv.Atoi(value)
	if err != nil || ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
