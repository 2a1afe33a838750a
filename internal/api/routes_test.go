package api

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/repositories"
	"github.com/satriahrh/voicechat/internal/websocket"
	"github.com/satriahrh/voicechat/usecase"
)

type echoStreamer struct{}

func (echoStreamer) StreamCompletion(ctx context.Context, req repositories.CompletionRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("You said "+req.Prompt+". ", nil)
	}
}

func setupTestServer(t *testing.T) (*websocket.Hub, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()

	hub := websocket.NewHub(echoStreamer{}, websocket.HubConfig{
		Orchestrator: usecase.OrchestratorConfig{SettleDelay: 10 * time.Millisecond},
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	InitRoutes(e, hub, logger)
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, server
}

func connectClient(t *testing.T, hub *websocket.Hub, server *httptest.Server) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := hub.Active(); ok {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for client registration")
	return nil
}

func TestHealth(t *testing.T) {
	_, server := setupTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Expected JSON body, got %v", err)
	}
	if resp.StatusCode != http.StatusOK || health.Status != "ok" {
		t.Errorf("Unexpected health response %d %+v", resp.StatusCode, health)
	}
	if health.ClientConnected {
		t.Error("Expected no connected client")
	}
}

func TestConversationWithoutClient(t *testing.T) {
	_, server := setupTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/conversation")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Post(server.URL+"/api/v1/conversation/interrupt", "application/json", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestConversationTextTurn(t *testing.T) {
	hub, server := setupTestServer(t)
	connectClient(t, hub, server)

	resp, err := http.Post(server.URL+"/api/v1/conversation/turns", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	var conversation ConversationResponse
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(server.URL + "/api/v1/conversation")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		json.NewDecoder(resp.Body).Decode(&conversation)
		resp.Body.Close()
		if len(conversation.Turns) == 2 && conversation.Turns[1].Content != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(conversation.Turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(conversation.Turns))
	}
	if conversation.Turns[1].Content != "You said hello. " {
		t.Errorf("Unexpected assistant turn %q", conversation.Turns[1].Content)
	}
	if conversation.ClientID == "" {
		t.Error("Expected client ID")
	}

	resp, err = http.Post(server.URL+"/api/v1/conversation/interrupt", "application/json", nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
}

func TestConversationRejectsBlankTurn(t *testing.T) {
	hub, server := setupTestServer(t)
	connectClient(t, hub, server)

	resp, err := http.Post(server.URL+"/api/v1/conversation/turns", "application/json", strings.NewReader(`{"text":"  "}`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}
