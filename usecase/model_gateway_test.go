package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicechat/domain"
	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
)

func TestModelGatewayBuildsRequest(t *testing.T) {
	streamer := &fakeStreamer{scripts: []streamScript{{fragments: []string{"Fine, thanks."}}}}
	gateway := NewModelGateway(streamer, ModelGatewayConfig{}, zaptest.NewLogger(t))

	history := []entities.ConversationTurn{
		{ID: "1", Role: entities.RoleUser, Content: "hi"},
		{ID: "2", Role: entities.RoleAssistant, Content: ""},
		{ID: "3", Role: entities.RoleAssistant, Content: "hello"},
	}

	if _, err := gateway.Send(context.Background(), "how are you", history, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	req := streamer.lastRequest()
	if len(req.Preamble) != 2 {
		t.Fatalf("Expected persona preamble of 2 messages, got %d", len(req.Preamble))
	}
	if req.Preamble[0].Role != repositories.UserRole || req.Preamble[1].Role != repositories.ModelRole {
		t.Errorf("Expected preamble roles user then model, got %s then %s", req.Preamble[0].Role, req.Preamble[1].Role)
	}
	if len(req.History) != 2 {
		t.Fatalf("Expected blank turns to be skipped, got %d history messages", len(req.History))
	}
	if req.History[0].Role != repositories.UserRole || req.History[0].Content != "hi" {
		t.Errorf("Expected first history message to be user hi, got %+v", req.History[0])
	}
	if req.History[1].Role != repositories.ModelRole || req.History[1].Content != "hello" {
		t.Errorf("Expected second history message to be model hello, got %+v", req.History[1])
	}
	if req.Prompt != "how are you" {
		t.Errorf("Expected prompt %q, got %q", "how are you", req.Prompt)
	}
	if req.Params != DefaultGenerationParams() {
		t.Errorf("Expected default generation params, got %+v", req.Params)
	}

	messages := req.Messages()
	if len(messages) != 5 || messages[4].Content != "how are you" {
		t.Errorf("Expected preamble, history and prompt in order, got %+v", messages)
	}
}

func TestModelGatewayDeliversChunksInOrder(t *testing.T) {
	streamer := &fakeStreamer{scripts: []streamScript{{fragments: []string{"Hi! ", "How are you", "? "}}}}
	gateway := NewModelGateway(streamer, ModelGatewayConfig{}, zaptest.NewLogger(t))

	var chunks []string
	full, err := gateway.Send(context.Background(), "hello there", nil, func(chunk string) {
		chunks = append(chunks, chunk)
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if full != "Hi! How are you? " {
		t.Errorf("Expected full reply, got %q", full)
	}
	if len(chunks) != 3 || chunks[1] != "How are you" {
		t.Errorf("Expected three chunks in order, got %v", chunks)
	}
}

func TestModelGatewayEmptyResponse(t *testing.T) {
	streamer := &fakeStreamer{scripts: []streamScript{{fragments: []string{"", ""}}}}
	gateway := NewModelGateway(streamer, ModelGatewayConfig{}, zaptest.NewLogger(t))

	_, err := gateway.Send(context.Background(), "hello", nil, nil)
	modelErr := domain.AsModelError(err)
	if modelErr == nil || modelErr.Kind != domain.ModelErrorEmptyResponse {
		t.Fatalf("Expected empty response error, got %v", err)
	}
	if modelErr.UserMessage() != domain.EmptyResponseMessage {
		t.Errorf("Expected %q, got %q", domain.EmptyResponseMessage, modelErr.UserMessage())
	}
}

func TestModelGatewayRateLimit(t *testing.T) {
	streamer := &fakeStreamer{scripts: []streamScript{{
		err: domain.ClassifyServiceError(429, "RESOURCE_EXHAUSTED", "quota exceeded"),
	}}}
	gateway := NewModelGateway(streamer, ModelGatewayConfig{}, zaptest.NewLogger(t))

	_, err := gateway.Send(context.Background(), "hello", nil, nil)
	modelErr := domain.AsModelError(err)
	if modelErr == nil || modelErr.Kind != domain.ModelErrorRateLimit {
		t.Fatalf("Expected rate limit error, got %v", err)
	}
	if modelErr.UserMessage() != domain.RateLimitMessage {
		t.Errorf("Expected %q, got %q", domain.RateLimitMessage, modelErr.UserMessage())
	}
}

func TestModelGatewaySupersededCallStopsDelivering(t *testing.T) {
	streamer := &fakeStreamer{scripts: []streamScript{
		{fragments: []string{"first "}, hold: true, afterCancel: "stale"},
		{fragments: []string{"second"}},
	}}
	gateway := NewModelGateway(streamer, ModelGatewayConfig{}, zaptest.NewLogger(t))

	var mu sync.Mutex
	var firstChunks []string
	firstStarted := make(chan struct{})
	firstDone := make(chan error, 1)

	go func() {
		_, err := gateway.Send(context.Background(), "one", nil, func(chunk string) {
			mu.Lock()
			firstChunks = append(firstChunks, chunk)
			mu.Unlock()
			if chunk == "first " {
				close(firstStarted)
			}
		})
		firstDone <- err
	}()

	select {
	case <-firstStarted:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for first call")
	}

	full, err := gateway.Send(context.Background(), "two", nil, nil)
	if err != nil {
		t.Fatalf("Expected second call to succeed, got %v", err)
	}
	if full != "second" {
		t.Errorf("Expected second reply, got %q", full)
	}

	select {
	case err := <-firstDone:
		if !domain.IsCancelled(err) {
			t.Errorf("Expected first call to be cancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for first call to finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(firstChunks) != 1 {
		t.Errorf("Expected superseded call to stop delivering, got %v", firstChunks)
	}
}

func TestModelGatewayCancel(t *testing.T) {
	streamer := &fakeStreamer{scripts: []streamScript{{fragments: []string{"partial "}, hold: true}}}
	gateway := NewModelGateway(streamer, ModelGatewayConfig{}, zaptest.NewLogger(t))

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := gateway.Send(context.Background(), "hello", nil, func(string) { close(started) })
		done <- err
	}()

	<-started
	gateway.Cancel()

	select {
	case err := <-done:
		if !domain.IsCancelled(err) {
			t.Errorf("Expected cancelled error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for cancellation")
	}
}

func TestModelGatewayCustomConfig(t *testing.T) {
	streamer := &fakeStreamer{scripts: []streamScript{{fragments: []string{"ok"}}}}
	params := repositories.GenerationParams{Temperature: 0.2, TopK: 10, TopP: 0.5, MaxOutputTokens: 64}
	gateway := NewModelGateway(streamer, ModelGatewayConfig{
		Preamble: []repositories.ChatMessage{},
		Params:   params,
	}, zaptest.NewLogger(t))

	if _, err := gateway.Send(context.Background(), "hello", nil, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	req := streamer.lastRequest()
	if len(req.Preamble) != 0 {
		t.Errorf("Expected empty preamble to be kept, got %d messages", len(req.Preamble))
	}
	if req.Params != params {
		t.Errorf("Expected custom params, got %+v", req.Params)
	}
}
