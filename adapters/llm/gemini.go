package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/voicechat/domain"
	"github.com/satriahrh/voicechat/domain/repositories"
)

// GenAIStreamer implements repositories.CompletionStreamer using the
// Google Gen AI SDK
type GenAIStreamer struct {
	config     GeminiConfig
	httpClient *http.Client
	logger     *zap.Logger

	mu     sync.Mutex
	client *genai.Client
}

// NewGenAIStreamer creates a new SDK streamer. The SDK client is created on
// first use so a missing key surfaces per call. httpClient may be nil.
func NewGenAIStreamer(config GeminiConfig, httpClient *http.Client, logger *zap.Logger) (*GenAIStreamer, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	return &GenAIStreamer{
		config:     withDefaults(config, logger),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// StreamCompletion implements repositories.CompletionStreamer
func (g *GenAIStreamer) StreamCompletion(ctx context.Context, req repositories.CompletionRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if g.config.APIKey == "" {
			yield("", domain.NewConfigurationError())
			return
		}

		client, err := g.getClient(ctx)
		if err != nil {
			yield("", domain.NewTransportError(err))
			return
		}

		contents := make([]*genai.Content, 0, len(req.Preamble)+len(req.History)+1)
		for _, msg := range req.Messages() {
			contents = append(contents, genai.NewContentFromText(msg.Content, genaiRole(msg.Role)))
		}

		config := &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(req.Params.Temperature),
			TopP:            genai.Ptr(req.Params.TopP),
			TopK:            genai.Ptr(req.Params.TopK),
			MaxOutputTokens: req.Params.MaxOutputTokens,
		}

		for resp, err := range client.Models.GenerateContentStream(ctx, g.config.Model, contents, config) {
			if err != nil {
				yield("", g.classify(ctx, err))
				return
			}

			text := responseText(resp)
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

func (g *GenAIStreamer) getClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     g.config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimRight(g.config.BaseURL, "/") + "/",
			APIVersion: g.config.APIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	g.client = client
	return client, nil
}

func (g *GenAIStreamer) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return domain.NewCancelledError(err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return domain.ClassifyServiceError(apiErr.Code, apiErr.Status, apiErr.Message)
	}

	g.logger.Warn("Gemini SDK transport failure", zap.Error(err))
	return domain.NewTransportError(err)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	return text.String()
}

func genaiRole(role repositories.Role) genai.Role {
	if role == repositories.ModelRole {
		return genai.RoleModel
	}
	return genai.RoleUser
}
