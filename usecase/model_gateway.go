package usecase

import (
	"context"
	"iter"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain"
	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
)

const (
	personaPrompt = "You are a warm, human-like voice assistant. Keep responses natural, conversational, and concise. Avoid lists, bullets, or markdown. Use short sentences."
	personaAck    = "I understand. I will keep my responses naturally conversational and brief."

	defaultTemperature     = 0.8
	defaultTopK            = 40
	defaultTopP            = 0.95
	defaultMaxOutputTokens = 1024
)

// DefaultPreamble returns the persona exchange sent before every history
func DefaultPreamble() []repositories.ChatMessage {
	return []repositories.ChatMessage{
		{Role: repositories.UserRole, Content: personaPrompt},
		{Role: repositories.ModelRole, Content: personaAck},
	}
}

// DefaultGenerationParams returns the sampling parameters used for voice replies
func DefaultGenerationParams() repositories.GenerationParams {
	return repositories.GenerationParams{
		Temperature:     defaultTemperature,
		TopK:            defaultTopK,
		TopP:            defaultTopP,
		MaxOutputTokens: defaultMaxOutputTokens,
	}
}

// ModelGatewayConfig configures a ModelGateway
type ModelGatewayConfig struct {
	Preamble []repositories.ChatMessage
	Params   repositories.GenerationParams
}

// ModelGateway sends one user turn at a time to a completion streamer.
// Starting a call cancels the previous one; a superseded call never
// delivers another fragment.
type ModelGateway struct {
	streamer repositories.CompletionStreamer
	config   ModelGatewayConfig
	logger   *zap.Logger

	// deliver serialises fragment delivery against call supersession
	deliver sync.Mutex
	mu      sync.Mutex
	seq     uint64
	cancel  context.CancelFunc
}

// NewModelGateway creates a new model gateway
func NewModelGateway(streamer repositories.CompletionStreamer, config ModelGatewayConfig, logger *zap.Logger) *ModelGateway {
	if config.Preamble == nil {
		config.Preamble = DefaultPreamble()
	}
	if config.Params == (repositories.GenerationParams{}) {
		config.Params = DefaultGenerationParams()
	}

	return &ModelGateway{
		streamer: streamer,
		config:   config,
		logger:   logger,
	}
}

// Stream returns the reply to userText as a lazy sequence of fragments.
// The call starts when iteration begins. The sequence ends with a
// *domain.ModelError when the call fails, is superseded, or yields no
// text. The loop body must not start another call on this gateway.
func (g *ModelGateway) Stream(ctx context.Context, userText string, history []entities.ConversationTurn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		callCtx, seq := g.begin(ctx)
		defer g.end(seq)

		req := g.buildRequest(userText, history)
		g.logger.Info("Sending model request",
			zap.Uint64("call", seq),
			zap.Int("historyLength", len(req.History)))

		received := 0
		for fragment, err := range g.streamer.StreamCompletion(callCtx, req) {
			if err != nil {
				if callCtx.Err() != nil || !g.isCurrent(seq) {
					yield("", domain.NewCancelledError(err))
					return
				}
				modelErr := domain.AsModelError(err)
				g.logger.Warn("Model request failed",
					zap.Uint64("call", seq),
					zap.Stringer("kind", modelErr.Kind),
					zap.Error(err))
				yield("", modelErr)
				return
			}
			if fragment == "" {
				continue
			}

			g.deliver.Lock()
			if !g.isCurrent(seq) || callCtx.Err() != nil {
				g.deliver.Unlock()
				yield("", domain.NewCancelledError(context.Canceled))
				return
			}
			received++
			more := yield(fragment, nil)
			g.deliver.Unlock()
			if !more {
				return
			}
		}

		if callCtx.Err() != nil || !g.isCurrent(seq) {
			yield("", domain.NewCancelledError(context.Cause(callCtx)))
			return
		}
		if received == 0 {
			yield("", domain.NewEmptyResponseError())
			return
		}
		g.logger.Info("Model request completed",
			zap.Uint64("call", seq),
			zap.Int("fragments", received))
	}
}

// Send drives Stream, calling onChunk for every fragment in arrival order,
// and returns the concatenated reply.
func (g *ModelGateway) Send(ctx context.Context, userText string, history []entities.ConversationTurn, onChunk func(string)) (string, error) {
	var full strings.Builder
	for fragment, err := range g.Stream(ctx, userText, history) {
		if err != nil {
			return full.String(), err
		}
		full.WriteString(fragment)
		if onChunk != nil {
			onChunk(fragment)
		}
	}
	return full.String(), nil
}

// Cancel aborts the in-flight call, if any
func (g *ModelGateway) Cancel() {
	g.deliver.Lock()
	defer g.deliver.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
}

func (g *ModelGateway) begin(ctx context.Context) (context.Context, uint64) {
	callCtx, cancel := context.WithCancel(ctx)

	g.deliver.Lock()
	defer g.deliver.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.logger.Info("Cancelling superseded model request", zap.Uint64("call", g.seq))
		g.cancel()
	}
	g.seq++
	g.cancel = cancel
	return callCtx, g.seq
}

func (g *ModelGateway) end(seq uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seq == seq && g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
}

func (g *ModelGateway) isCurrent(seq uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq == seq
}

func (g *ModelGateway) buildRequest(userText string, history []entities.ConversationTurn) repositories.CompletionRequest {
	messages := make([]repositories.ChatMessage, 0, len(history))
	for _, turn := range history {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		role := repositories.UserRole
		if turn.Role == entities.RoleAssistant {
			role = repositories.ModelRole
		}
		messages = append(messages, repositories.ChatMessage{Role: role, Content: turn.Content})
	}

	return repositories.CompletionRequest{
		Preamble: g.config.Preamble,
		History:  messages,
		Prompt:   userText,
		Params:   g.config.Params,
	}
}
