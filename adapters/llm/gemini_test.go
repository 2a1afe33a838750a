package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicechat/domain"
)

func TestGenAIStreamerStreamsFragments(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseLine("Hi! "))
		fmt.Fprint(w, sseLine("How are you? "))
	}))
	defer server.Close()

	streamer, err := NewGenAIStreamer(GeminiConfig{APIKey: "k", BaseURL: server.URL}, server.Client(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	fragments, err := collect(streamer.StreamCompletion(context.Background(), testRequest()))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := strings.Join(fragments, ""); got != "Hi! How are you? " {
		t.Errorf("Expected %q, got %q", "Hi! How are you? ", got)
	}
	if !strings.HasSuffix(gotPath, "models/gemini-2.0-flash:streamGenerateContent") {
		t.Errorf("Unexpected path %s", gotPath)
	}
}

func TestGenAIStreamerRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`)
	}))
	defer server.Close()

	streamer, err := NewGenAIStreamer(GeminiConfig{APIKey: "k", BaseURL: server.URL}, server.Client(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	_, err = collect(streamer.StreamCompletion(context.Background(), testRequest()))
	modelErr := domain.AsModelError(err)
	if modelErr == nil || modelErr.Kind != domain.ModelErrorRateLimit {
		t.Fatalf("Expected rate limit error, got %v", err)
	}
	if modelErr.UserMessage() != domain.RateLimitMessage {
		t.Errorf("Expected %q, got %q", domain.RateLimitMessage, modelErr.UserMessage())
	}
}

func TestGenAIStreamerMissingKey(t *testing.T) {
	streamer, err := NewGenAIStreamer(GeminiConfig{}, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	_, err = collect(streamer.StreamCompletion(context.Background(), testRequest()))
	modelErr := domain.AsModelError(err)
	if modelErr == nil || modelErr.Kind != domain.ModelErrorConfiguration {
		t.Fatalf("Expected configuration error, got %v", err)
	}
}

func TestGenAIStreamerLive(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("GEMINI_API_KEY not set, skipping live test")
	}

	streamer, err := NewGenAIStreamer(GeminiConfig{APIKey: apiKey}, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fragments, err := collect(streamer.StreamCompletion(ctx, testRequest()))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(fragments) == 0 {
		t.Error("Expected at least one fragment")
	}
}

func TestMockStreamer(t *testing.T) {
	streamer := NewMockStreamer(0)

	fragments, err := collect(streamer.StreamCompletion(context.Background(), testRequest()))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(fragments) < 2 {
		t.Errorf("Expected reply in several fragments, got %v", fragments)
	}
	if !strings.Contains(strings.Join(fragments, ""), "hello there") {
		t.Errorf("Expected reply to echo the prompt, got %q", strings.Join(fragments, ""))
	}
}

func TestMockStreamerCancellation(t *testing.T) {
	streamer := NewMockStreamer(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := collect(streamer.StreamCompletion(ctx, testRequest()))
	if !domain.IsCancelled(err) {
		t.Errorf("Expected cancellation, got %v", err)
	}
}
