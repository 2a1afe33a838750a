package repositories

import (
	"context"
	"errors"
)

var (
	// ErrSpeechInterrupted is returned by Speak when playback was cut off
	ErrSpeechInterrupted = errors.New("speech interrupted")
	// ErrSpeechCanceled is returned by Speak when the utterance never started
	ErrSpeechCanceled = errors.New("speech canceled")
)

// SpeechSynthesizer abstracts a text-to-speech output device
type SpeechSynthesizer interface {
	// Speak plays one utterance and blocks until it ends
	Speak(ctx context.Context, utterance Utterance) error
	// Cancel stops every utterance of this synthesizer immediately
	Cancel()
}

// Utterance is a single segment submitted to the synthesizer
type Utterance struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Lang   string  `json:"lang,omitempty"`
	Voice  string  `json:"voice_hint,omitempty"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
}
