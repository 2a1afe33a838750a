package tts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicechat/domain/repositories"
)

type recordingSender struct {
	mu       sync.Mutex
	types    []string
	requests []SpeakRequest
	sent     chan SpeakRequest
	err      error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(chan SpeakRequest, 8)}
}

func (s *recordingSender) Send(messageType string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.types = append(s.types, messageType)
	if req, ok := payload.(SpeakRequest); ok {
		s.requests = append(s.requests, req)
		s.sent <- req
	}
	return nil
}

func (s *recordingSender) messageTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.types...)
}

func speakAsync(synth *DeviceSynthesizer, ctx context.Context, utterance repositories.Utterance) <-chan error {
	result := make(chan error, 1)
	go func() { result <- synth.Speak(ctx, utterance) }()
	return result
}

func awaitSent(t *testing.T, sender *recordingSender) SpeakRequest {
	t.Helper()
	select {
	case req := <-sender.sent:
		return req
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for speak message")
		return SpeakRequest{}
	}
}

func awaitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for Speak to return")
		return nil
	}
}

func TestDeviceSynthesizerEnd(t *testing.T) {
	sender := newRecordingSender()
	synth := NewDeviceSynthesizer(sender, zaptest.NewLogger(t))

	result := speakAsync(synth, context.Background(), repositories.Utterance{ID: "u1", Text: "Hi!", Rate: 1.1})
	req := awaitSent(t, sender)
	if req.Utterance.ID != "u1" || req.Utterance.Rate != 1.1 {
		t.Errorf("Unexpected utterance %+v", req.Utterance)
	}

	if err := synth.Deliver("u1", UtteranceEnd, ""); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := awaitResult(t, result); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}

	if err := synth.Deliver("u1", UtteranceEnd, ""); !errors.Is(err, ErrUnknownUtterance) {
		t.Errorf("Expected ErrUnknownUtterance for a finished utterance, got %v", err)
	}
}

func TestDeviceSynthesizerAssignsID(t *testing.T) {
	sender := newRecordingSender()
	synth := NewDeviceSynthesizer(sender, zaptest.NewLogger(t))

	result := speakAsync(synth, context.Background(), repositories.Utterance{Text: "Hi!"})
	req := awaitSent(t, sender)
	if req.Utterance.ID == "" {
		t.Fatal("Expected an utterance ID to be assigned")
	}
	synth.Deliver(req.Utterance.ID, UtteranceEnd, "")
	awaitResult(t, result)
}

func TestDeviceSynthesizerErrors(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"interrupted", repositories.ErrSpeechInterrupted},
		{"canceled", repositories.ErrSpeechCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			sender := newRecordingSender()
			synth := NewDeviceSynthesizer(sender, zaptest.NewLogger(t))

			result := speakAsync(synth, context.Background(), repositories.Utterance{ID: "u", Text: "Hi!"})
			awaitSent(t, sender)
			synth.Deliver("u", UtteranceError, tt.code)

			if err := awaitResult(t, result); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	sender := newRecordingSender()
	synth := NewDeviceSynthesizer(sender, zaptest.NewLogger(t))
	result := speakAsync(synth, context.Background(), repositories.Utterance{ID: "u", Text: "Hi!"})
	awaitSent(t, sender)
	synth.Deliver("u", UtteranceError, "synthesis-failed")

	err := awaitResult(t, result)
	if err == nil || errors.Is(err, repositories.ErrSpeechInterrupted) || errors.Is(err, repositories.ErrSpeechCanceled) {
		t.Errorf("Expected a playback error, got %v", err)
	}
}

func TestDeviceSynthesizerCancel(t *testing.T) {
	sender := newRecordingSender()
	synth := NewDeviceSynthesizer(sender, zaptest.NewLogger(t))

	result := speakAsync(synth, context.Background(), repositories.Utterance{ID: "u", Text: "Hi!"})
	awaitSent(t, sender)

	synth.Cancel()
	if err := awaitResult(t, result); !errors.Is(err, repositories.ErrSpeechInterrupted) {
		t.Errorf("Expected ErrSpeechInterrupted, got %v", err)
	}

	types := sender.messageTypes()
	if types[len(types)-1] != SpeakCancelMessage {
		t.Errorf("Expected speak_cancel to be sent, got %v", types)
	}
}

func TestDeviceSynthesizerContextCancel(t *testing.T) {
	sender := newRecordingSender()
	synth := NewDeviceSynthesizer(sender, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	result := speakAsync(synth, ctx, repositories.Utterance{ID: "u", Text: "Hi!"})
	awaitSent(t, sender)
	cancel()

	if err := awaitResult(t, result); !errors.Is(err, repositories.ErrSpeechInterrupted) {
		t.Errorf("Expected ErrSpeechInterrupted, got %v", err)
	}

	if err := synth.Speak(ctx, repositories.Utterance{Text: "late"}); !errors.Is(err, repositories.ErrSpeechCanceled) {
		t.Errorf("Expected ErrSpeechCanceled for a cancelled context, got %v", err)
	}
}

func TestDeviceSynthesizerClose(t *testing.T) {
	sender := newRecordingSender()
	synth := NewDeviceSynthesizer(sender, zaptest.NewLogger(t))

	result := speakAsync(synth, context.Background(), repositories.Utterance{ID: "u", Text: "Hi!"})
	awaitSent(t, sender)
	synth.Close()

	if err := awaitResult(t, result); !errors.Is(err, ErrDeviceDisconnected) {
		t.Errorf("Expected ErrDeviceDisconnected, got %v", err)
	}
}

func TestDeviceSynthesizerSendFailure(t *testing.T) {
	sender := newRecordingSender()
	sender.err = errors.New("connection closed")
	synth := NewDeviceSynthesizer(sender, zaptest.NewLogger(t))

	if err := synth.Speak(context.Background(), repositories.Utterance{Text: "Hi!"}); err == nil {
		t.Error("Expected error, got nil")
	}
}

// blockingSender holds the first speak inside Send until released
type blockingSender struct {
	recordingSender
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSender) Send(messageType string, payload any) error {
	if messageType == SpeakMessage {
		s.once.Do(func() {
			close(s.entered)
			<-s.release
		})
	}
	return s.recordingSender.Send(messageType, payload)
}

func TestDeviceSynthesizerCancelOrdersAfterSpeak(t *testing.T) {
	sender := &blockingSender{
		recordingSender: recordingSender{sent: make(chan SpeakRequest, 8)},
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	synth := NewDeviceSynthesizer(sender, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	result := speakAsync(synth, ctx, repositories.Utterance{ID: "u1", Text: "Hi!"})

	select {
	case <-sender.entered:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for speak to be sent")
	}

	cancelled := make(chan struct{})
	go func() {
		cancel()
		synth.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Expected Cancel to wait for the speak in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sender.release)
	<-cancelled

	got := sender.messageTypes()
	if len(got) != 2 || got[0] != SpeakMessage || got[1] != SpeakCancelMessage {
		t.Errorf("Expected [speak speak_cancel], got %v", got)
	}
	if err := awaitResult(t, result); !errors.Is(err, repositories.ErrSpeechInterrupted) {
		t.Errorf("Expected ErrSpeechInterrupted, got %v", err)
	}
}

func TestDeviceSynthesizerSkipsSpeakAfterCancel(t *testing.T) {
	sender := newRecordingSender()
	synth := NewDeviceSynthesizer(sender, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	synth.Cancel()

	err := synth.Speak(ctx, repositories.Utterance{ID: "u1", Text: "Hi!"})
	if !errors.Is(err, repositories.ErrSpeechCanceled) {
		t.Errorf("Expected ErrSpeechCanceled, got %v", err)
	}
	if got := sender.messageTypes(); len(got) != 1 || got[0] != SpeakCancelMessage {
		t.Errorf("Expected only speak_cancel, got %v", got)
	}
}
