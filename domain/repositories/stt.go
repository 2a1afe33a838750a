package repositories

import "context"

// SpeechRecognizer abstracts a continuous speech recognition service.
// Every call to Open yields a new, single-use recognition instance.
type SpeechRecognizer interface {
	Open(ctx context.Context, config RecognitionConfig) (Recognition, error)
}

// Recognition is one capture instance. Events is closed after the
// RecognitionEnded event and the instance cannot be reused afterwards.
type Recognition interface {
	Events() <-chan RecognitionEvent
	// Stop ends capture gracefully; pending final results are still delivered.
	Stop()
	// Abort ends capture immediately and discards pending results.
	Abort()
}

// RecognitionConfig represents configuration for speech recognition
type RecognitionConfig struct {
	Language       string `json:"language"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interim_results"`
	SampleRate     int    `json:"sample_rate,omitempty"`
	Encoding       string `json:"encoding,omitempty"`
}

// RecognitionEventType enumerates recognition instance events
type RecognitionEventType int

const (
	RecognitionStarted RecognitionEventType = iota
	RecognitionResultEvent
	RecognitionErrorEvent
	RecognitionEnded
)

func (t RecognitionEventType) String() string {
	switch t {
	case RecognitionStarted:
		return "start"
	case RecognitionResultEvent:
		return "result"
	case RecognitionErrorEvent:
		return "error"
	case RecognitionEnded:
		return "end"
	default:
		return "unknown"
	}
}

// ParseRecognitionEventType maps a wire name back to its event type
func ParseRecognitionEventType(name string) (RecognitionEventType, bool) {
	switch name {
	case "start":
		return RecognitionStarted, true
	case "result":
		return RecognitionResultEvent, true
	case "error":
		return RecognitionErrorEvent, true
	case "end":
		return RecognitionEnded, true
	default:
		return 0, false
	}
}

// RecognitionResult is one hypothesis slot of a recognition instance
type RecognitionResult struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
}

// RecognitionEvent is emitted by a Recognition. For result events Results
// holds every result of the instance so far and ResultIndex the first one
// that changed.
type RecognitionEvent struct {
	Type        RecognitionEventType
	Results     []RecognitionResult
	ResultIndex int
	// Error carries the recognizer error code, e.g. "no-speech"
	Error string
}
