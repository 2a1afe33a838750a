package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/internal/websocket"
)

const commandTimeout = 5 * time.Second

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		_, connected := hub.Active()
		return c.JSON(http.StatusOK, HealthResponse{
			Status:          "ok",
			Service:         "voicechat",
			ClientConnected: connected,
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.GET("/conversation", func(c echo.Context) error {
		return getConversation(c, hub)
	})
	v1.POST("/conversation/interrupt", func(c echo.Context) error {
		return interruptConversation(c, hub, logger)
	})
	v1.POST("/conversation/turns", func(c echo.Context) error {
		return submitTurn(c, hub, logger)
	})

	e.GET("/ws", func(c echo.Context) error {
		return websocket.HandleWebSocket(hub, c, logger)
	})
}

func noActiveSession(c echo.Context) error {
	return c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "no_active_session",
		Message: "No client is connected",
	})
}

func getConversation(c echo.Context, hub *websocket.Hub) error {
	client, ok := hub.Active()
	if !ok {
		return noActiveSession(c)
	}

	return c.JSON(http.StatusOK, ConversationResponse{
		ClientID:             client.ID(),
		OrchestratorSnapshot: client.Orchestrator().Snapshot(),
	})
}

func interruptConversation(c echo.Context, hub *websocket.Hub, logger *zap.Logger) error {
	client, ok := hub.Active()
	if !ok {
		return noActiveSession(c)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), commandTimeout)
	defer cancel()

	if err := client.Orchestrator().Interrupt(ctx); err != nil {
		logger.Error("Failed to interrupt conversation", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "interrupt_failed",
			Message: err.Error(),
		})
	}
	return c.NoContent(http.StatusNoContent)
}

func submitTurn(c echo.Context, hub *websocket.Hub, logger *zap.Logger) error {
	var req TextTurnRequest
	if err := c.Bind(&req); err != nil {
		logger.Warn("Failed to bind text turn request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	client, ok := hub.Active()
	if !ok {
		return noActiveSession(c)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), commandTimeout)
	defer cancel()

	if err := client.Orchestrator().SubmitText(ctx, req.Text); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_turn",
			Message: err.Error(),
		})
	}
	return c.NoContent(http.StatusAccepted)
}
