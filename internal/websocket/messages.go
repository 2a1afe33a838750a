package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
	"github.com/satriahrh/voicechat/internal/audio"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Inbound message types
const (
	MessageTypeVoiceToggle      MessageType = "voice_toggle"
	MessageTypeListeningStart   MessageType = "listening_start"
	MessageTypeListeningEnd     MessageType = "listening_end"
	MessageTypeInterrupt        MessageType = "interrupt"
	MessageTypeTextTurn         MessageType = "text_turn"
	MessageTypeRecognitionEvent MessageType = "recognition_event"
	MessageTypeUtteranceEvent   MessageType = "utterance_event"
	MessageTypeMicrophoneStatus MessageType = "microphone_status"
	MessageTypePing             MessageType = "ping"
)

// Outbound message types. Device capability requests (recognition_control,
// speak, speak_cancel) are named by the adapters that send them.
const (
	MessageTypeState      MessageType = "state"
	MessageTypeTurn       MessageType = "turn"
	MessageTypeTranscript MessageType = "transcript"
	MessageTypeSpeaking   MessageType = "speaking"
	MessageTypeLevels     MessageType = "audio_levels"
	MessageTypeError      MessageType = "error"
	MessageTypePong       MessageType = "pong"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// ControlMessage carries a button press with no payload
type ControlMessage struct {
	BaseMessage
}

// TextTurnMessage submits a typed user turn
type TextTurnMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// RecognitionEventMessage relays one event of a device recognition instance
type RecognitionEventMessage struct {
	BaseMessage
	Instance    string                           `json:"instance"`
	Event       string                           `json:"event"`
	Results     []repositories.RecognitionResult `json:"results,omitempty"`
	ResultIndex int                              `json:"result_index"`
	Error       string                           `json:"error,omitempty"`
}

// RecognitionEvent converts the message into a recognizer event
func (m *RecognitionEventMessage) RecognitionEvent() repositories.RecognitionEvent {
	eventType, _ := repositories.ParseRecognitionEventType(m.Event)
	return repositories.RecognitionEvent{
		Type:        eventType,
		Results:     m.Results,
		ResultIndex: m.ResultIndex,
		Error:       m.Error,
	}
}

// UtteranceEventMessage reports the completion of a device utterance
type UtteranceEventMessage struct {
	BaseMessage
	UtteranceID string `json:"utterance_id"`
	Event       string `json:"event"`
	Error       string `json:"error,omitempty"`
}

// MicrophoneStatusMessage reports whether the device microphone is usable
type MicrophoneStatusMessage struct {
	BaseMessage
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// StateMessage announces a conversation state change
type StateMessage struct {
	BaseMessage
	State string `json:"state"`
}

// TurnMessage carries a new or updated conversation turn
type TurnMessage struct {
	BaseMessage
	Turn entities.ConversationTurn `json:"turn"`
}

// TranscriptMessage carries the live transcript of the current capture
type TranscriptMessage struct {
	BaseMessage
	Interim string `json:"interim"`
	Final   string `json:"final"`
}

// SpeakingMessage reports whether speech output is playing
type SpeakingMessage struct {
	BaseMessage
	Speaking bool `json:"speaking"`
}

// AudioLevelsMessage carries one frame of microphone levels
type AudioLevelsMessage struct {
	BaseMessage
	Levels audio.Levels `json:"levels"`
}

// ErrorMessage represents an error to display. An empty message clears it.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code,omitempty"`
	Message string `json:"message"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses and validates an incoming text message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeVoiceToggle, MessageTypeListeningStart, MessageTypeListeningEnd, MessageTypeInterrupt:
		return &ControlMessage{BaseMessage: base}, nil

	case MessageTypeTextTurn:
		var msg TextTurnMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid text turn message: %w", err)
		}
		return &msg, nil

	case MessageTypeRecognitionEvent:
		var msg RecognitionEventMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid recognition event message: %w", err)
		}
		if err := v.validateRecognitionEvent(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeUtteranceEvent:
		var msg UtteranceEventMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid utterance event message: %w", err)
		}
		if msg.UtteranceID == "" {
			return nil, fmt.Errorf("utterance_id is required")
		}
		return &msg, nil

	case MessageTypeMicrophoneStatus:
		var msg MicrophoneStatusMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid microphone status message: %w", err)
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func (v *MessageValidator) validateRecognitionEvent(msg *RecognitionEventMessage) error {
	if msg.Instance == "" {
		return fmt.Errorf("instance is required")
	}
	if _, ok := repositories.ParseRecognitionEventType(msg.Event); !ok {
		return fmt.Errorf("event must be one of: start, result, error, end")
	}
	if msg.Event == "error" && msg.Error == "" {
		return fmt.Errorf("error is required for error events")
	}
	if msg.ResultIndex < 0 || msg.ResultIndex > len(msg.Results) {
		return fmt.Errorf("result_index out of range")
	}
	return nil
}

func newBase(messageType MessageType) BaseMessage {
	return BaseMessage{
		Type:      messageType,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBase(MessageTypePong),
		Data:        data,
	}
}

// encodeDeviceMessage flattens an adapter payload into a typed message.
// The payload must encode as a JSON object.
func encodeDeviceMessage(messageType string, payload any) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("payload of %s is not an object: %w", messageType, err)
		}
	}

	base := newBase(MessageType(messageType))
	fields["type"], _ = json.Marshal(base.Type)
	fields["timestamp"], _ = json.Marshal(base.Timestamp)
	return json.Marshal(fields)
}
