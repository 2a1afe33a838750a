package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain"
	"github.com/satriahrh/voicechat/domain/repositories"
)

const (
	maxErrorBody = 64 * 1024
	maxSSELine   = 1024 * 1024
)

// wire types of the streamGenerateContent endpoint

type wirePart struct {
	Text string `json:"text,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireGenerationConfig struct {
	Temperature     float32 `json:"temperature"`
	TopK            float32 `json:"topK"`
	TopP            float32 `json:"topP"`
	MaxOutputTokens int32   `json:"maxOutputTokens"`
}

type wireRequest struct {
	Contents         []wireContent        `json:"contents"`
	GenerationConfig wireGenerationConfig `json:"generationConfig"`
}

type wireChunk struct {
	Candidates []struct {
		Content *wireContent `json:"content"`
	} `json:"candidates"`
}

type wireErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// GeminiSSEStreamer calls the Gemini REST endpoint and reads the reply as
// server-sent events
type GeminiSSEStreamer struct {
	config GeminiConfig
	client *http.Client
	logger *zap.Logger
}

// NewGeminiSSEStreamer creates a new SSE streamer. client may be nil.
func NewGeminiSSEStreamer(config GeminiConfig, client *http.Client, logger *zap.Logger) (*GeminiSSEStreamer, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}
	config = withDefaults(config, logger)

	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &GeminiSSEStreamer{
		config: config,
		client: client,
		logger: logger,
	}, nil
}

// StreamCompletion implements repositories.CompletionStreamer
func (s *GeminiSSEStreamer) StreamCompletion(ctx context.Context, req repositories.CompletionRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s.config.APIKey == "" {
			yield("", domain.NewConfigurationError())
			return
		}

		httpReq, err := s.newRequest(ctx, req)
		if err != nil {
			yield("", domain.NewTransportError(err))
			return
		}

		resp, err := s.client.Do(httpReq)
		if err != nil {
			yield("", s.wrapTransport(ctx, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			yield("", readServiceError(resp))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			text, ok := s.parseLine(scanner.Text())
			if !ok || text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield("", s.wrapTransport(ctx, err))
		}
	}
}

func (s *GeminiSSEStreamer) newRequest(ctx context.Context, req repositories.CompletionRequest) (*http.Request, error) {
	body := wireRequest{
		GenerationConfig: wireGenerationConfig{
			Temperature:     req.Params.Temperature,
			TopK:            req.Params.TopK,
			TopP:            req.Params.TopP,
			MaxOutputTokens: req.Params.MaxOutputTokens,
		},
	}
	for _, msg := range req.Messages() {
		body.Contents = append(body.Contents, wireContent{
			Role:  wireRole(msg.Role),
			Parts: []wirePart{{Text: msg.Content}},
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/models/%s:streamGenerateContent?alt=sse",
		strings.TrimRight(s.config.BaseURL, "/"), s.config.APIVersion, s.config.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-goog-api-key", s.config.APIKey)
	return httpReq, nil
}

// parseLine extracts the text of one `data:` line. Anything else, including
// JSON that does not parse, is skipped.
func (s *GeminiSSEStreamer) parseLine(line string) (string, bool) {
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	data = strings.TrimSpace(data)
	if data == "" || data == "[DONE]" {
		return "", false
	}

	var chunk wireChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		s.logger.Debug("Skipping malformed stream line", zap.Error(err))
		return "", false
	}
	if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
		return "", true
	}

	var text strings.Builder
	for _, part := range chunk.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), true
}

func (s *GeminiSSEStreamer) wrapTransport(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return domain.NewCancelledError(err)
	}
	s.logger.Warn("Gemini transport failure", zap.Error(err))
	return domain.NewTransportError(err)
}

func readServiceError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var envelope wireErrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.ClassifyServiceError(resp.StatusCode, "", "")
	}
	return domain.ClassifyServiceError(resp.StatusCode, envelope.Error.Status, envelope.Error.Message)
}

func wireRole(role repositories.Role) string {
	if role == repositories.ModelRole {
		return "model"
	}
	return "user"
}
