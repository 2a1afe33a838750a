package llm

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/repositories"
)

const (
	defaultModel      = "gemini-2.0-flash"
	defaultBaseURL    = "https://generativelanguage.googleapis.com"
	defaultAPIVersion = "v1beta"
	defaultTimeout    = 60 * time.Second
)

// GeminiConfig holds the settings shared by the Gemini streamers
type GeminiConfig struct {
	// APIKey may be empty; the streamer then fails every call with a
	// configuration error instead of refusing to start.
	APIKey     string
	Model      string
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

// NewGeminiConfigFromEnv reads the Gemini settings from the environment
func NewGeminiConfigFromEnv() GeminiConfig {
	config := GeminiConfig{
		APIKey:     os.Getenv("GEMINI_API_KEY"),
		Model:      os.Getenv("GEMINI_MODEL"),
		BaseURL:    os.Getenv("GEMINI_BASE_URL"),
		APIVersion: os.Getenv("GEMINI_API_VERSION"),
	}

	if timeoutStr := os.Getenv("GEMINI_TIMEOUT_SECONDS"); timeoutStr != "" {
		if seconds, err := strconv.Atoi(timeoutStr); err == nil {
			config.Timeout = time.Duration(seconds) * time.Second
		}
	}

	return config
}

// ValidateGeminiConfig validates the GeminiConfig. A missing API key is
// not an error here.
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.BaseURL != "" {
		u, err := url.Parse(config.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid Gemini base URL: %q", config.BaseURL)
		}
	}

	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}

	return nil
}

// ValidateGenerationParams checks sampling parameters against the ranges
// the service accepts
func ValidateGenerationParams(params repositories.GenerationParams) error {
	if params.Temperature < 0 || params.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", params.Temperature)
	}

	if params.TopP < 0 || params.TopP > 1 {
		return fmt.Errorf("topP must be between 0 and 1, got %f", params.TopP)
	}

	if params.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", params.TopK)
	}

	if params.MaxOutputTokens < 0 {
		return fmt.Errorf("maxOutputTokens must be positive, got %d", params.MaxOutputTokens)
	}

	return nil
}

func withDefaults(config GeminiConfig, logger *zap.Logger) GeminiConfig {
	if config.Model == "" {
		config.Model = defaultModel
		logger.Info("Using default model", zap.String("model", config.Model))
	}

	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	if config.APIVersion == "" {
		config.APIVersion = defaultAPIVersion
	}

	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
		logger.Info("Using default timeout", zap.Duration("timeout", config.Timeout))
	}

	if config.APIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set, model calls will fail")
	}

	return config
}
