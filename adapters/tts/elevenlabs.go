package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/repositories"
)

const (
	defaultAPIBaseURL   = "https://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM"   // Rachel voice
	defaultChunkSize    = 1024                     // Size of audio chunks to stream
	defaultOutputFormat = "pcm_24000"              // PCM format for real-time applications
	defaultModelID      = "eleven_multilingual_v2" // Default model ID
	defaultStability    = 0.5                      // Default voice stability
	defaultClarity      = 0.75                     // Default voice clarity/similarity_boost
	defaultTimeout      = 60 * time.Second

	minSpeed = 0.7
	maxSpeed = 1.2
)

// ElevenLabsConfig holds configuration for the ElevenLabs synthesizer.
// Only APIKey is required; everything else falls back to a default.
type ElevenLabsConfig struct {
	APIKey       string
	APIBaseURL   string
	VoiceID      string
	ModelID      string
	OutputFormat string // pcm_<rate> formats are paced in real time
	ChunkSize    int
	Stability    float64 // 0..1
	Clarity      float64 // 0..1, sent as similarity_boost
	Timeout      time.Duration
}

// AudioSink receives synthesized audio for the client to play
type AudioSink interface {
	SendAudio(chunk []byte) error
}

// ElevenLabsVoiceSettings represents voice settings for Eleven Labs API
type ElevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
}

// ElevenLabsRequest represents the request payload for Eleven Labs TTS API
type ElevenLabsRequest struct {
	Text                   string                  `json:"text"`
	ModelID                string                  `json:"model_id"`
	LanguageCode           string                  `json:"language_code,omitempty"`
	VoiceSettings          ElevenLabsVoiceSettings `json:"voice_settings"`
	ApplyTextNormalization string                  `json:"apply_text_normalization,omitempty"`
}

// Voice is one entry of the account's voice library
type Voice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// ElevenLabsSynthesizer speaks utterances with the ElevenLabs streaming
// endpoint and forwards the audio to a sink. Speak returns once the
// streamed audio has had time to play.
type ElevenLabsSynthesizer struct {
	config ElevenLabsConfig
	sink   AudioSink
	client *http.Client
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

var _ repositories.SpeechSynthesizer = (*ElevenLabsSynthesizer)(nil)

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("eleven labs API key is required")
	}

	if config.Stability != 0 && (config.Stability < 0 || config.Stability > 1) {
		return fmt.Errorf("stability must be between 0 and 1, got %f", config.Stability)
	}

	if config.Clarity != 0 && (config.Clarity < 0 || config.Clarity > 1) {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", config.Clarity)
	}

	if config.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}

	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}

	return nil
}

// NewElevenLabsSynthesizer creates a new ElevenLabs synthesizer writing to sink
func NewElevenLabsSynthesizer(config ElevenLabsConfig, sink AudioSink, client *http.Client, logger *zap.Logger) (*ElevenLabsSynthesizer, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
		logger.Info("Using default API base URL", zap.String("apiBaseURL", config.APIBaseURL))
	}

	if config.VoiceID == "" {
		config.VoiceID = defaultVoiceID
		logger.Info("Using default voice ID", zap.String("voiceID", config.VoiceID))
	}

	if config.ModelID == "" {
		config.ModelID = defaultModelID
		logger.Info("Using default model ID", zap.String("modelID", config.ModelID))
	}

	if config.OutputFormat == "" {
		config.OutputFormat = defaultOutputFormat
		logger.Info("Using default output format", zap.String("outputFormat", config.OutputFormat))
	}

	if config.ChunkSize == 0 {
		config.ChunkSize = defaultChunkSize
	}

	if config.Stability == 0 {
		config.Stability = defaultStability
	}

	if config.Clarity == 0 {
		config.Clarity = defaultClarity
	}

	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &ElevenLabsSynthesizer{
		config: config,
		sink:   sink,
		client: client,
		logger: logger,
		active: make(map[string]context.CancelFunc),
	}, nil
}

// Speak implements repositories.SpeechSynthesizer
func (e *ElevenLabsSynthesizer) Speak(ctx context.Context, utterance repositories.Utterance) error {
	if strings.TrimSpace(utterance.Text) == "" {
		return fmt.Errorf("text cannot be empty")
	}
	if ctx.Err() != nil {
		return repositories.ErrSpeechCanceled
	}
	if utterance.ID == "" {
		utterance.ID = uuid.NewString()
	}

	speakCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.active[utterance.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, utterance.ID)
		e.mu.Unlock()
		cancel()
	}()

	started := time.Now()
	total, err := e.stream(speakCtx, utterance)
	if err != nil {
		if speakCtx.Err() != nil {
			return repositories.ErrSpeechInterrupted
		}
		return err
	}

	// the sink only buffers; wait out the audio still playing on the client
	if remaining := e.playbackDuration(total) - time.Since(started); remaining > 0 {
		select {
		case <-time.After(remaining):
		case <-speakCtx.Done():
			return repositories.ErrSpeechInterrupted
		}
	}
	return nil
}

// Cancel implements repositories.SpeechSynthesizer
func (e *ElevenLabsSynthesizer) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.active {
		cancel()
		delete(e.active, id)
	}
}

func (e *ElevenLabsSynthesizer) stream(ctx context.Context, utterance repositories.Utterance) (int, error) {
	request := ElevenLabsRequest{
		Text:                   utterance.Text,
		ModelID:                e.config.ModelID,
		LanguageCode:           languageCode(utterance.Lang),
		ApplyTextNormalization: "auto",
		VoiceSettings: ElevenLabsVoiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.Clarity,
			UseSpeakerBoost: true,
			Speed:           speed(utterance.Rate),
		},
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s&enable_logging=false",
		e.config.APIBaseURL, e.config.VoiceID, e.config.OutputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	acceptHeader := "audio/mpeg"
	if strings.HasPrefix(e.config.OutputFormat, "pcm") {
		acceptHeader = "audio/pcm"
	}
	httpReq.Header.Set("Accept", acceptHeader)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.config.APIKey)

	e.logger.Debug("Sending request to Eleven Labs API",
		zap.String("utteranceID", utterance.ID),
		zap.String("voiceID", e.config.VoiceID))

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		e.logger.Error("Eleven Labs API returned error",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(errorBody)))
		return 0, fmt.Errorf("eleven labs API error %d: %s", resp.StatusCode, strings.TrimSpace(string(errorBody)))
	}

	buffer := make([]byte, e.config.ChunkSize)
	totalBytes := 0
	for {
		n, readErr := resp.Body.Read(buffer)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			if err := e.sink.SendAudio(chunk); err != nil {
				return totalBytes, fmt.Errorf("failed to forward audio: %w", err)
			}
			totalBytes += n
		}

		if errors.Is(readErr, io.EOF) {
			e.logger.Debug("Finished streaming audio data",
				zap.String("utteranceID", utterance.ID),
				zap.Int("totalBytes", totalBytes))
			return totalBytes, nil
		}
		if readErr != nil {
			return totalBytes, fmt.Errorf("failed to read audio stream: %w", readErr)
		}
	}
}

// playbackDuration is how long total bytes of 16-bit mono PCM take to play.
// Compressed formats are not paced.
func (e *ElevenLabsSynthesizer) playbackDuration(total int) time.Duration {
	rate := sampleRate(e.config.OutputFormat)
	if rate == 0 {
		return 0
	}
	return time.Duration(float64(total) / float64(2*rate) * float64(time.Second))
}

// Voices lists the voices available to the account
func (e *ElevenLabsSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	url := fmt.Sprintf("%s/voices", e.config.APIBaseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", e.config.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned error %d: %s", resp.StatusCode, string(errorBody))
	}

	var voicesResponse struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&voicesResponse); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	e.logger.Info("Retrieved available voices", zap.Int("count", len(voicesResponse.Voices)))
	return voicesResponse.Voices, nil
}

// NewElevenLabsConfigFromEnv creates a new ElevenLabsConfig from environment variables
func NewElevenLabsConfigFromEnv() ElevenLabsConfig {
	config := ElevenLabsConfig{
		APIKey:       os.Getenv("ELEVEN_LABS_API_KEY"),
		APIBaseURL:   os.Getenv("ELEVEN_LABS_API_BASE_URL"),
		VoiceID:      os.Getenv("ELEVEN_LABS_VOICE_ID"),
		ModelID:      os.Getenv("ELEVEN_LABS_MODEL_ID"),
		OutputFormat: os.Getenv("ELEVEN_LABS_OUTPUT_FORMAT"),
	}

	if chunkSizeStr := os.Getenv("ELEVEN_LABS_CHUNK_SIZE"); chunkSizeStr != "" {
		if chunkSize, err := strconv.Atoi(chunkSizeStr); err == nil && chunkSize > 0 {
			config.ChunkSize = chunkSize
		}
	}

	if stabilityStr := os.Getenv("ELEVEN_LABS_STABILITY"); stabilityStr != "" {
		if stability, err := strconv.ParseFloat(stabilityStr, 64); err == nil && stability >= 0 && stability <= 1 {
			config.Stability = stability
		}
	}

	if clarityStr := os.Getenv("ELEVEN_LABS_CLARITY"); clarityStr != "" {
		if clarity, err := strconv.ParseFloat(clarityStr, 64); err == nil && clarity >= 0 && clarity <= 1 {
			config.Clarity = clarity
		}
	}

	return config
}

// sampleRate parses the rate out of a pcm_<rate> output format
func sampleRate(format string) int {
	rateStr, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0
	}
	rate, err := strconv.Atoi(rateStr)
	if err != nil || rate <= 0 {
		return 0
	}
	return rate
}

func speed(rate float64) float64 {
	if rate == 0 {
		return 0
	}
	return min(max(rate, minSpeed), maxSpeed)
}

// languageCode keeps the primary subtag, "en-US" becomes "en"
func languageCode(lang string) string {
	code, _, _ := strings.Cut(lang, "-")
	return strings.ToLower(code)
}
