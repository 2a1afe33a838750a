package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/adapters/microphone"
	"github.com/satriahrh/voicechat/adapters/stt"
	"github.com/satriahrh/voicechat/adapters/tts"
	"github.com/satriahrh/voicechat/domain/repositories"
	"github.com/satriahrh/voicechat/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Time allowed for the orchestrator to accept a command.
	commandTimeout = 5 * time.Second

	sendBuffer     = 256
	defaultFFTSize = 256
)

var (
	// ErrClientClosed is returned when sending to a disconnected client
	ErrClientClosed = errors.New("client closed")
	// ErrSendBufferFull is returned when the client cannot keep up
	ErrSendBufferFull = errors.New("send buffer full")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HubConfig selects the capability providers each client conversation uses
type HubConfig struct {
	Orchestrator usecase.OrchestratorConfig
	STTProvider  string // device or google
	TTSProvider  string // device or elevenlabs
	Google       stt.GoogleConfig
	ElevenLabs   tts.ElevenLabsConfig
	FFTSize      int
}

// Hub owns the single active client. A new connection replaces the
// previous one.
type Hub struct {
	active *Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	streamer repositories.CompletionStreamer
	config   HubConfig
	logger   *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(streamer repositories.CompletionStreamer, config HubConfig, logger *zap.Logger) *Hub {
	if config.FFTSize == 0 {
		config.FFTSize = defaultFFTSize
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		streamer:   streamer,
		config:     config,
		logger:     logger,
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			previous := h.active
			h.active = client
			h.mu.Unlock()

			if previous != nil {
				h.logger.Info("Replacing active client",
					zap.String("previous", previous.id),
					zap.String("clientID", client.id))
				previous.disconnect("replaced by a new client")
			}
			h.logger.Info("Client registered", zap.String("clientID", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if h.active == client {
				h.active = nil
			}
			h.mu.Unlock()
			client.shutdown()
			h.logger.Info("Client unregistered", zap.String("clientID", client.id))

		case <-ctx.Done():
			h.mu.Lock()
			active := h.active
			h.active = nil
			h.mu.Unlock()

			if active != nil {
				active.disconnect("server shutting down")
				active.shutdown()
			}
			return
		}
	}
}

// Active returns the connected client, if any
func (h *Hub) Active() (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active, h.active != nil
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the
// conversation it drives. Each client owns one orchestrator and the
// device-relayed capabilities behind it.
type Client struct {
	hub    *Hub
	id     string
	conn   *websocket.Conn
	send   chan WriteData
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	orchestrator *usecase.TurnOrchestrator
	bus          *microphone.PCMBus
	microphone   *microphone.DeviceMicrophone
	recognizer   *stt.DeviceRecognizer  // nil when recognition runs server-side
	synthesizer  *tts.DeviceSynthesizer // nil when synthesis runs server-side
	closers      []func()
	stopped      chan struct{}

	validator    *MessageValidator
	shutdownOnce sync.Once
}

// HandleWebSocket handles websocket requests from the peer.
func HandleWebSocket(hub *Hub, c echo.Context, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client, err := hub.newClient(conn)
	if err != nil {
		logger.Error("Failed to set up conversation", zap.Error(err))
		message, _ := json.Marshal(CreateErrorMessage("setup_failed", err.Error()))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, message)
		conn.Close()
		return nil
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		client.shutdown()
		conn.Close()
		return nil
	}

	go func() {
		defer close(client.stopped)
		client.orchestrator.Run(client.ctx)
	}()

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

func (h *Hub) newClient(conn *websocket.Conn) (*Client, error) {
	id := uuid.NewString()
	logger := h.logger.With(zap.String("clientID", id))
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		hub:       h,
		id:        id,
		conn:      conn,
		send:      make(chan WriteData, sendBuffer),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
		validator: NewMessageValidator(),
	}

	c.bus = microphone.NewPCMBus(logger.Named("bus"))
	c.microphone = microphone.NewDeviceMicrophone(c.bus, h.config.FFTSize, logger.Named("microphone"))
	c.closers = append(c.closers, c.bus.Close)

	deps := usecase.OrchestratorDeps{
		Streamer:   h.streamer,
		Microphone: c.microphone,
	}

	switch h.config.STTProvider {
	case "google":
		recognizer, err := stt.NewGoogleRecognizer(c.bus, h.config.Google, logger.Named("stt"))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create google recognizer: %w", err)
		}
		c.closers = append(c.closers, func() {
			if err := recognizer.Close(); err != nil {
				logger.Warn("Failed to close speech client", zap.Error(err))
			}
		})
		deps.Recognizer = recognizer
	default:
		c.recognizer = stt.NewDeviceRecognizer(c, logger.Named("stt"))
		c.closers = append(c.closers, c.recognizer.Close)
		deps.Recognizer = c.recognizer
	}

	switch h.config.TTSProvider {
	case "elevenlabs":
		synthesizer, err := tts.NewElevenLabsSynthesizer(h.config.ElevenLabs, c, nil, logger.Named("tts"))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create eleven labs synthesizer: %w", err)
		}
		c.closers = append(c.closers, synthesizer.Cancel)
		deps.Synthesizer = synthesizer
	default:
		c.synthesizer = tts.NewDeviceSynthesizer(c, logger.Named("tts"))
		c.closers = append(c.closers, c.synthesizer.Close)
		deps.Synthesizer = c.synthesizer
	}

	c.orchestrator = usecase.NewTurnOrchestrator(deps, h.config.Orchestrator, &clientObserver{client: c}, logger.Named("orchestrator"))
	return c, nil
}

// ID identifies the connection
func (c *Client) ID() string {
	return c.id
}

// Orchestrator returns the conversation driven by this client
func (c *Client) Orchestrator() *usecase.TurnOrchestrator {
	return c.orchestrator
}

// Send queues a typed message for the device. It never blocks; it
// implements the device adapters' Sender.
func (c *Client) Send(messageType string, payload any) error {
	message, err := encodeDeviceMessage(messageType, payload)
	if err != nil {
		return err
	}
	return c.enqueue(WriteData{Type: websocket.TextMessage, Payload: message})
}

// SendAudio forwards synthesized audio as a binary frame. It waits for
// room in the send buffer rather than dropping audio.
func (c *Client) SendAudio(chunk []byte) error {
	timer := time.NewTimer(writeWait)
	defer timer.Stop()

	select {
	case c.send <- WriteData{Type: websocket.BinaryMessage, Payload: chunk}:
		return nil
	case <-c.ctx.Done():
		return ErrClientClosed
	case <-timer.C:
		return ErrSendBufferFull
	}
}

func (c *Client) sendJSON(message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	if err := c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload}); err != nil && !errors.Is(err, ErrClientClosed) {
		c.logger.Warn("Dropping outbound message", zap.Error(err))
	}
}

func (c *Client) enqueue(data WriteData) error {
	if c.ctx.Err() != nil {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// disconnect closes the connection with a reason; readPump then unregisters
func (c *Client) disconnect(reason string) {
	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	c.conn.Close()
}

// shutdown stops the conversation and ends every device capability
func (c *Client) shutdown() {
	c.shutdownOnce.Do(func() {
		c.cancel()
		for _, closer := range c.closers {
			closer()
		}
		select {
		case <-c.stopped:
		case <-time.After(commandTimeout):
			c.logger.Warn("Timed out waiting for orchestrator to stop")
		}
	})
}

// readPump pumps messages from the websocket connection to the conversation.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			c.shutdown()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.bus.Publish(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the send buffer to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// processMessage processes incoming messages from the device
func (c *Client) processMessage(message []byte) {
	msg, err := c.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected message", zap.Error(err))
		c.sendJSON(CreateErrorMessage("invalid_message", err.Error()))
		return
	}

	switch m := msg.(type) {
	case *ControlMessage:
		c.handleControl(m.Type)

	case *TextTurnMessage:
		c.command("text_turn", func(ctx context.Context) error {
			return c.orchestrator.SubmitText(ctx, m.Text)
		})

	case *RecognitionEventMessage:
		if c.recognizer == nil {
			c.logger.Warn("Recognition event received while recognition runs server-side")
			return
		}
		if err := c.recognizer.Deliver(m.Instance, m.RecognitionEvent()); err != nil {
			c.logger.Debug("Dropped recognition event", zap.String("event", m.Event), zap.Error(err))
		}

	case *UtteranceEventMessage:
		if c.synthesizer == nil {
			c.logger.Warn("Utterance event received while synthesis runs server-side")
			return
		}
		if err := c.synthesizer.Deliver(m.UtteranceID, m.Event, m.Error); err != nil {
			c.logger.Debug("Dropped utterance event", zap.String("utteranceID", m.UtteranceID), zap.Error(err))
		}

	case *MicrophoneStatusMessage:
		c.microphone.SetStatus(m.Available, m.Error)

	case *PingMessage:
		c.sendJSON(CreatePongMessage(m.Data))
	}
}

func (c *Client) handleControl(messageType MessageType) {
	switch messageType {
	case MessageTypeVoiceToggle:
		c.command(string(messageType), c.orchestrator.Toggle)
	case MessageTypeListeningStart:
		c.command(string(messageType), c.orchestrator.StartListening)
	case MessageTypeListeningEnd:
		c.command(string(messageType), c.orchestrator.StopListening)
	case MessageTypeInterrupt:
		c.command(string(messageType), c.orchestrator.Interrupt)
	}
}

func (c *Client) command(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		c.logger.Warn("Command failed", zap.String("command", name), zap.Error(err))
		c.sendJSON(CreateErrorMessage(name+"_failed", err.Error()))
	}
}
