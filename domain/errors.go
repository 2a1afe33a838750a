package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ModelErrorKind classifies failures of a model call
type ModelErrorKind int

const (
	// ModelErrorConfiguration means no credential is available
	ModelErrorConfiguration ModelErrorKind = iota
	// ModelErrorCancelled means the call was superseded or interrupted
	ModelErrorCancelled
	// ModelErrorRateLimit means the service rejected the call for quota
	ModelErrorRateLimit
	// ModelErrorTransport covers network failures and non-2xx responses
	ModelErrorTransport
	// ModelErrorEmptyResponse means the stream completed without text
	ModelErrorEmptyResponse
)

func (k ModelErrorKind) String() string {
	switch k {
	case ModelErrorConfiguration:
		return "configuration"
	case ModelErrorCancelled:
		return "cancelled"
	case ModelErrorRateLimit:
		return "rate_limit"
	case ModelErrorTransport:
		return "transport"
	case ModelErrorEmptyResponse:
		return "empty_response"
	default:
		return "unknown"
	}
}

const (
	// RateLimitMessage is what the user sees when the service is out of quota
	RateLimitMessage = "Token limit reached. Please try again after some time."
	// EmptyResponseMessage is what the user sees when no text arrived
	EmptyResponseMessage = "Empty response from API."
	// MissingKeyMessage is what the user sees when no API key is configured
	MissingKeyMessage = "Gemini API key not found. Set GEMINI_API_KEY."
	// ResponseFailedMessage is what the user sees when the service could not be reached
	ResponseFailedMessage = "Failed to get AI response"
)

// ModelError is returned by model gateways and streamers
type ModelError struct {
	Kind       ModelErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *ModelError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("model %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("model %s error: %s", e.Kind, e.Message)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// UserMessage returns the text shown to the user for this error
func (e *ModelError) UserMessage() string {
	switch e.Kind {
	case ModelErrorRateLimit:
		return RateLimitMessage
	case ModelErrorEmptyResponse:
		return EmptyResponseMessage
	case ModelErrorConfiguration:
		if e.Message == "" {
			return MissingKeyMessage
		}
	case ModelErrorCancelled:
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return ResponseFailedMessage
}

// NewConfigurationError reports a missing credential
func NewConfigurationError() *ModelError {
	return &ModelError{Kind: ModelErrorConfiguration, Message: MissingKeyMessage}
}

// NewCancelledError wraps the cancellation cause of a call
func NewCancelledError(err error) *ModelError {
	return &ModelError{Kind: ModelErrorCancelled, Message: "request cancelled", Err: err}
}

// NewEmptyResponseError reports a stream that carried no text
func NewEmptyResponseError() *ModelError {
	return &ModelError{Kind: ModelErrorEmptyResponse, Message: EmptyResponseMessage}
}

// NewTransportError wraps a network level failure
func NewTransportError(err error) *ModelError {
	return &ModelError{Kind: ModelErrorTransport, Err: err}
}

// ClassifyServiceError maps a failed service response to a ModelError.
// status is the service status string (e.g. RESOURCE_EXHAUSTED) when the
// body carried one.
func ClassifyServiceError(statusCode int, status, message string) *ModelError {
	lower := strings.ToLower(message)
	if statusCode == http.StatusTooManyRequests ||
		status == "RESOURCE_EXHAUSTED" ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "429") {
		return &ModelError{Kind: ModelErrorRateLimit, Message: message, StatusCode: statusCode}
	}

	if message == "" {
		message = fmt.Sprintf("API error: %d", statusCode)
	}
	return &ModelError{Kind: ModelErrorTransport, Message: message, StatusCode: statusCode}
}

// IsCancelled reports whether err stems from a cancelled model call
func IsCancelled(err error) bool {
	var modelErr *ModelError
	if errors.As(err, &modelErr) && modelErr.Kind == ModelErrorCancelled {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// AsModelError extracts the ModelError from err, classifying foreign errors
// as transport failures.
func AsModelError(err error) *ModelError {
	if err == nil {
		return nil
	}
	var modelErr *ModelError
	if errors.As(err, &modelErr) {
		return modelErr
	}
	if errors.Is(err, context.Canceled) {
		return NewCancelledError(err)
	}
	return NewTransportError(err)
}

// RecognitionError is a typed failure reported by a recognition instance
type RecognitionError struct {
	Code  string
	Fatal bool
}

func (e *RecognitionError) Error() string {
	return "speech recognition error: " + e.Code
}

// UserMessage returns the text shown to the user for this error
func (e *RecognitionError) UserMessage() string {
	switch e.Code {
	case "no-speech":
		return "No speech detected. Try again."
	case "audio-capture":
		return "Microphone not found."
	case "not-allowed":
		return "Microphone access denied."
	case "network":
		return "Network error. Check your internet."
	case "start-failed":
		return "Failed to start speech recognition."
	default:
		return "Error: " + e.Code
	}
}

// NewRecognitionError classifies a recognizer error code
func NewRecognitionError(code string) *RecognitionError {
	return &RecognitionError{Code: code, Fatal: !IsRecoverableRecognitionCode(code)}
}

// IsRecoverableRecognitionCode reports whether a recognizer may be
// restarted silently after failing with code.
func IsRecoverableRecognitionCode(code string) bool {
	switch code {
	case "no-speech", "aborted":
		return true
	default:
		return false
	}
}
