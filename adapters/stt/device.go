package stt

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
	// RecognitionControlMessage is the outbound message type for control requests
	RecognitionControlMessage = "recognition_control"

	ActionStart = "start"
	ActionStop  = "stop"
	ActionAbort = "abort"

	deviceEventBuffer = 64
)

// ErrUnknownInstance is returned when an event names an instance that has
// already ended or never existed
var ErrUnknownInstance = errors.New("unknown recognition instance")

// Sender delivers a typed message to the connected device
type Sender interface {
	Send(messageType string, payload any) error
}

// RecognitionControl asks the device to start, stop or abort one instance
type RecognitionControl struct {
	Instance string                          `json:"instance"`
	Action   string                          `json:"action"`
	Config   *repositories.RecognitionConfig `json:"config,omitempty"`
}

// DeviceRecognizer runs recognition on the connected device. Every Open
// starts a new device instance; the device reports its events back and
// they are routed with Deliver.
type DeviceRecognizer struct {
	sender Sender
	logger *zap.Logger

	mu        sync.Mutex
	instances map[string]*deviceRecognition
}

// NewDeviceRecognizer creates a new device recognizer
func NewDeviceRecognizer(sender Sender, logger *zap.Logger) *DeviceRecognizer {
	return &DeviceRecognizer{
		sender:    sender,
		logger:    logger,
		instances: make(map[string]*deviceRecognition),
	}
}

// Open implements repositories.SpeechRecognizer
func (r *DeviceRecognizer) Open(ctx context.Context, config repositories.RecognitionConfig) (repositories.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := &deviceRecognition{
		id:         uuid.NewString(),
		recognizer: r,
		events:     make(chan repositories.RecognitionEvent, deviceEventBuffer),
		done:       make(chan struct{}),
	}

	r.mu.Lock()
	r.instances[rec.id] = rec
	r.mu.Unlock()

	if err := r.sender.Send(RecognitionControlMessage, RecognitionControl{
		Instance: rec.id,
		Action:   ActionStart,
		Config:   &config,
	}); err != nil {
		r.forget(rec.id)
		return nil, fmt.Errorf("failed to start device recognition: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			rec.Abort()
		case <-rec.done:
		}
	}()

	r.logger.Debug("Device recognition opened", zap.String("instance", rec.id))
	return rec, nil
}

// Deliver routes an event reported by the device to its instance
func (r *DeviceRecognizer) Deliver(instance string, event repositories.RecognitionEvent) error {
	r.mu.Lock()
	rec, ok := r.instances[instance]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, instance)
	}
	rec.emit(event)
	return nil
}

// Close ends every open instance, as when the device disconnects
func (r *DeviceRecognizer) Close() {
	r.mu.Lock()
	open := make([]*deviceRecognition, 0, len(r.instances))
	for _, rec := range r.instances {
		open = append(open, rec)
	}
	r.mu.Unlock()

	for _, rec := range open {
		rec.emit(repositories.RecognitionEvent{Type: repositories.RecognitionErrorEvent, Error: "network"})
		rec.emit(repositories.RecognitionEvent{Type: repositories.RecognitionEnded})
	}
}

func (r *DeviceRecognizer) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
}

func (r *DeviceRecognizer) control(id, action string) {
	if err := r.sender.Send(RecognitionControlMessage, RecognitionControl{Instance: id, Action: action}); err != nil {
		r.logger.Warn("Failed to send recognition control",
			zap.String("instance", id),
			zap.String("action", action),
			zap.Error(err))
	}
}

// deviceRecognition is one instance running on the device
type deviceRecognition struct {
	id         string
	recognizer *DeviceRecognizer
	events     chan repositories.RecognitionEvent
	done       chan struct{}

	mu     sync.Mutex
	closed bool
}

func (d *deviceRecognition) Events() <-chan repositories.RecognitionEvent {
	return d.events
}

func (d *deviceRecognition) Stop() {
	if d.isClosed() {
		return
	}
	d.recognizer.control(d.id, ActionStop)
}

// Abort ends the instance locally right away; whatever the device still
// reports for it is dropped.
func (d *deviceRecognition) Abort() {
	if d.isClosed() {
		return
	}
	d.recognizer.control(d.id, ActionAbort)
	d.emit(repositories.RecognitionEvent{Type: repositories.RecognitionEnded})
}

func (d *deviceRecognition) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// emit forwards one event and closes the channel after Ended. The consumer
// drains the channel until it is closed, so sending under the lock is safe.
func (d *deviceRecognition) emit(event repositories.RecognitionEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.events <- event
	if event.Type == repositories.RecognitionEnded {
		d.closed = true
		close(d.events)
		close(d.done)
		d.recognizer.forget(d.id)
	}
}
