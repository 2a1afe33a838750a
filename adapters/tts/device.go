package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/repositories"
)

const (
	// SpeakMessage asks the device to play one utterance
	SpeakMessage = "speak"
	// SpeakCancelMessage asks the device to drop everything it is playing
	SpeakCancelMessage = "speak_cancel"

	UtteranceEnd   = "end"
	UtteranceError = "error"
)

// ErrUnknownUtterance is returned when the device reports an utterance
// nobody is waiting for
var ErrUnknownUtterance = errors.New("unknown utterance")

// ErrDeviceDisconnected ends the utterances still playing when the device goes away
var ErrDeviceDisconnected = errors.New("device disconnected")

// Sender delivers a typed message to the connected device
type Sender interface {
	Send(messageType string, payload any) error
}

// SpeakRequest carries one utterance to the device
type SpeakRequest struct {
	Utterance repositories.Utterance `json:"utterance"`
}

// DeviceSynthesizer plays utterances on the connected device with its
// own speech engine. Completion is reported back through Deliver.
type DeviceSynthesizer struct {
	sender Sender
	logger *zap.Logger

	// sendMu orders speak against speak_cancel
	sendMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan error
}

var _ repositories.SpeechSynthesizer = (*DeviceSynthesizer)(nil)

// NewDeviceSynthesizer creates a new device synthesizer
func NewDeviceSynthesizer(sender Sender, logger *zap.Logger) *DeviceSynthesizer {
	return &DeviceSynthesizer{
		sender:  sender,
		logger:  logger,
		pending: make(map[string]chan error),
	}
}

// Speak implements repositories.SpeechSynthesizer
func (d *DeviceSynthesizer) Speak(ctx context.Context, utterance repositories.Utterance) error {
	if err := ctx.Err(); err != nil {
		return repositories.ErrSpeechCanceled
	}
	if utterance.ID == "" {
		utterance.ID = uuid.NewString()
	}

	done := make(chan error, 1)
	defer d.forget(utterance.ID)

	// A Cancel that completed after the check above has already cancelled
	// ctx, so the check is repeated while holding sendMu.
	d.sendMu.Lock()
	if err := ctx.Err(); err != nil {
		d.sendMu.Unlock()
		return repositories.ErrSpeechCanceled
	}
	d.mu.Lock()
	d.pending[utterance.ID] = done
	d.mu.Unlock()
	err := d.sender.Send(SpeakMessage, SpeakRequest{Utterance: utterance})
	d.sendMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send utterance: %w", err)
	}

	d.logger.Debug("Utterance sent to device",
		zap.String("utteranceID", utterance.ID),
		zap.Int("length", len(utterance.Text)))

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return repositories.ErrSpeechInterrupted
	}
}

// Cancel implements repositories.SpeechSynthesizer. Callers cancel the
// Speak context first; a speak already being sent goes out before the
// cancel so the device never plays it afterwards.
func (d *DeviceSynthesizer) Cancel() {
	d.sendMu.Lock()
	err := d.sender.Send(SpeakCancelMessage, struct{}{})
	d.sendMu.Unlock()
	if err != nil {
		d.logger.Warn("Failed to send speak cancel", zap.Error(err))
	}
	d.resolveAll(repositories.ErrSpeechInterrupted)
}

// Deliver routes a completion event reported by the device. errorCode is
// the engine's error name for UtteranceError events.
func (d *DeviceSynthesizer) Deliver(utteranceID, event, errorCode string) error {
	var result error
	switch event {
	case UtteranceEnd:
	case UtteranceError:
		result = utteranceError(errorCode)
	default:
		return fmt.Errorf("unsupported utterance event: %s", event)
	}

	d.mu.Lock()
	done, ok := d.pending[utteranceID]
	delete(d.pending, utteranceID)
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUtterance, utteranceID)
	}
	done <- result
	return nil
}

// Close fails every utterance still waiting, as when the device disconnects
func (d *DeviceSynthesizer) Close() {
	d.resolveAll(ErrDeviceDisconnected)
}

func (d *DeviceSynthesizer) resolveAll(err error) {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[string]chan error)
	d.mu.Unlock()

	for _, done := range pending {
		done <- err
	}
}

func (d *DeviceSynthesizer) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, id)
}

func utteranceError(code string) error {
	switch code {
	case "interrupted":
		return repositories.ErrSpeechInterrupted
	case "canceled":
		return repositories.ErrSpeechCanceled
	case "":
		return errors.New("speech synthesis failed")
	default:
		return fmt.Errorf("speech synthesis failed: %s", code)
	}
}
