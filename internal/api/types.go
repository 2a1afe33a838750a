package api

import "github.com/satriahrh/voicechat/usecase"

// HealthResponse represents the health check payload
type HealthResponse struct {
	Status          string `json:"status"`
	Service         string `json:"service"`
	ClientConnected bool   `json:"client_connected"`
}

// ConversationResponse is the snapshot of the active conversation
type ConversationResponse struct {
	ClientID string `json:"client_id"`
	usecase.OrchestratorSnapshot
}

// TextTurnRequest represents the request payload for a typed user turn
type TextTurnRequest struct {
	Text string `json:"text" validate:"required"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
