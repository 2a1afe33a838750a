package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain"
	"github.com/satriahrh/voicechat/domain/repositories"
)

const defaultRestartDelay = 300 * time.Millisecond

// TranscriptionState is the lifecycle state of a TranscriptionSource
type TranscriptionState int

const (
	TranscriptionIdle TranscriptionState = iota
	TranscriptionListening
	TranscriptionStopped
)

func (s TranscriptionState) String() string {
	switch s {
	case TranscriptionIdle:
		return "idle"
	case TranscriptionListening:
		return "listening"
	case TranscriptionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RecognitionSession is the observable state of the current capture session
type RecognitionSession struct {
	IsActive          bool
	FinalText         string
	InterimText       string
	ShouldAutoRestart bool
}

// TranscriptionCallbacks receive transcription updates. They run on the
// goroutine consuming recognizer events and must not block.
type TranscriptionCallbacks struct {
	OnInterim       func(text string)
	OnFinal         func(text string)
	OnActiveChanged func(active bool)
	OnError         func(err *domain.RecognitionError)
}

// TranscriptionConfig configures a TranscriptionSource
type TranscriptionConfig struct {
	Recognition  repositories.RecognitionConfig
	RestartDelay time.Duration
}

// TranscriptionSource keeps a continuous recognizer alive for as long as
// the caller wants to listen. Every capture instance is tagged with a
// generation; events from any other generation are dropped.
type TranscriptionSource struct {
	recognizer repositories.SpeechRecognizer
	config     TranscriptionConfig
	callbacks  TranscriptionCallbacks
	logger     *zap.Logger

	mu         sync.Mutex
	state      TranscriptionState
	session    RecognitionSession
	generation uint64
	current    repositories.Recognition
	sessionCtx context.Context
	cancel     context.CancelFunc
	restart    *time.Timer
}

// NewTranscriptionSource creates a new transcription source
func NewTranscriptionSource(
	recognizer repositories.SpeechRecognizer,
	config TranscriptionConfig,
	callbacks TranscriptionCallbacks,
	logger *zap.Logger,
) *TranscriptionSource {
	if config.RestartDelay <= 0 {
		config.RestartDelay = defaultRestartDelay
	}
	config.Recognition.Continuous = true
	config.Recognition.InterimResults = true

	return &TranscriptionSource{
		recognizer: recognizer,
		config:     config,
		callbacks:  callbacks,
		logger:     logger,
	}
}

// Start begins a new capture session. A failure to open the first
// instance is returned and the source stays idle.
func (s *TranscriptionSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == TranscriptionListening {
		s.mu.Unlock()
		return nil
	}

	previous := s.current
	s.teardownLocked()

	s.state = TranscriptionListening
	s.session = RecognitionSession{ShouldAutoRestart: true}
	s.sessionCtx, s.cancel = context.WithCancel(ctx)
	s.generation++
	gen := s.generation
	sessionCtx := s.sessionCtx
	s.mu.Unlock()

	if previous != nil {
		previous.Abort()
	}

	recognition, err := s.recognizer.Open(sessionCtx, s.config.Recognition)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		if recognition != nil {
			recognition.Abort()
		}
		return nil
	}
	if err != nil {
		s.state = TranscriptionIdle
		s.session.ShouldAutoRestart = false
		s.teardownLocked()
		s.mu.Unlock()
		return fmt.Errorf("failed to start speech recognition: %w", err)
	}
	s.current = recognition
	s.mu.Unlock()

	s.logger.Info("Transcription started", zap.Uint64("generation", gen))
	go s.consume(gen, recognition)
	return nil
}

// Stop ends the session for good. Final results still in flight from the
// current instance are accepted; no restart happens afterwards.
func (s *TranscriptionSource) Stop() {
	s.mu.Lock()
	s.state = TranscriptionStopped
	s.session.ShouldAutoRestart = false
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
	current := s.current

	// Between instances nothing will deliver an Ended event, so the
	// session is closed here.
	wasActive := false
	if current == nil {
		wasActive = s.session.IsActive
		s.session.IsActive = false
		s.generation++
		s.teardownLocked()
	}
	s.mu.Unlock()

	if current != nil {
		current.Stop()
	}
	if wasActive {
		s.notifyActive(false)
	}
	s.logger.Info("Transcription stopped")
}

// Abort ends the session immediately and drops every pending event
func (s *TranscriptionSource) Abort() {
	s.mu.Lock()
	current := s.current
	wasActive := s.session.IsActive
	s.state = TranscriptionStopped
	s.session.ShouldAutoRestart = false
	s.session.IsActive = false
	s.generation++
	s.teardownLocked()
	s.mu.Unlock()

	if current != nil {
		current.Abort()
	}
	if wasActive {
		s.notifyActive(false)
	}
}

// State returns the lifecycle state
func (s *TranscriptionSource) State() TranscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the current session
func (s *TranscriptionSource) Snapshot() RecognitionSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// teardownLocked releases the current instance bookkeeping. s.mu must be held.
func (s *TranscriptionSource) teardownLocked() {
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.current = nil
}

func (s *TranscriptionSource) consume(gen uint64, recognition repositories.Recognition) {
	ended := false
	for event := range recognition.Events() {
		if event.Type == repositories.RecognitionEnded {
			ended = true
		}
		s.handle(gen, event)
	}
	if !ended {
		s.handle(gen, repositories.RecognitionEvent{Type: repositories.RecognitionEnded})
	}
}

func (s *TranscriptionSource) handle(gen uint64, event repositories.RecognitionEvent) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("Ignoring event from stale recognition",
			zap.Uint64("generation", gen),
			zap.Stringer("event", event.Type))
		return
	}

	switch event.Type {
	case repositories.RecognitionStarted:
		changed := !s.session.IsActive
		s.session.IsActive = true
		s.mu.Unlock()
		if changed {
			s.notifyActive(true)
		}

	case repositories.RecognitionResultEvent:
		var final, interim string
		for i := max(event.ResultIndex, 0); i < len(event.Results); i++ {
			result := event.Results[i]
			if result.IsFinal {
				final += result.Transcript + " "
			} else {
				interim += result.Transcript
			}
		}
		if final != "" {
			s.session.FinalText += final
		}
		s.session.InterimText = interim
		finalText := s.session.FinalText
		s.mu.Unlock()

		if final != "" && s.callbacks.OnFinal != nil {
			s.callbacks.OnFinal(finalText)
		}
		if s.callbacks.OnInterim != nil {
			s.callbacks.OnInterim(interim)
		}

	case repositories.RecognitionErrorEvent:
		recErr := domain.NewRecognitionError(event.Error)
		if !recErr.Fatal {
			s.mu.Unlock()
			s.logger.Info("Recoverable recognition error", zap.String("code", event.Error))
			return
		}

		current := s.current
		wasActive := s.session.IsActive
		s.state = TranscriptionIdle
		s.session.ShouldAutoRestart = false
		s.session.IsActive = false
		s.generation++
		s.teardownLocked()
		s.mu.Unlock()

		s.logger.Warn("Fatal recognition error", zap.String("code", event.Error))
		if current != nil {
			current.Abort()
		}
		if wasActive {
			s.notifyActive(false)
		}
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(recErr)
		}

	case repositories.RecognitionEnded:
		s.current = nil
		if s.session.ShouldAutoRestart && s.state == TranscriptionListening {
			delay := s.config.RestartDelay
			s.restart = time.AfterFunc(delay, func() { s.restartFrom(gen) })
			s.mu.Unlock()
			s.logger.Debug("Recognition ended, restarting", zap.Uint64("generation", gen))
			return
		}

		wasActive := s.session.IsActive
		s.session.IsActive = false
		if s.state == TranscriptionListening {
			s.state = TranscriptionIdle
		}
		s.teardownLocked()
		s.mu.Unlock()

		if wasActive {
			s.notifyActive(false)
		}

	default:
		s.mu.Unlock()
	}
}

// restartFrom opens a fresh instance unless the generation that ended has
// been superseded in the meantime.
func (s *TranscriptionSource) restartFrom(ended uint64) {
	s.mu.Lock()
	if ended != s.generation || s.state != TranscriptionListening || !s.session.ShouldAutoRestart {
		s.mu.Unlock()
		return
	}
	s.restart = nil
	s.generation++
	gen := s.generation
	ctx := s.sessionCtx
	s.mu.Unlock()

	recognition, err := s.recognizer.Open(ctx, s.config.Recognition)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		if recognition != nil {
			recognition.Abort()
		}
		return
	}
	if err != nil {
		// Read before teardown, which cancels ctx itself.
		canceled := ctx.Err() != nil
		wasActive := s.session.IsActive
		s.state = TranscriptionIdle
		s.session.ShouldAutoRestart = false
		s.session.IsActive = false
		s.teardownLocked()
		s.mu.Unlock()

		if canceled {
			if wasActive {
				s.notifyActive(false)
			}
			return
		}

		s.logger.Error("Failed to restart speech recognition", zap.Error(err))
		if wasActive {
			s.notifyActive(false)
		}
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(&domain.RecognitionError{Code: "start-failed", Fatal: true})
		}
		return
	}
	s.current = recognition
	s.mu.Unlock()

	s.logger.Debug("Recognition restarted", zap.Uint64("generation", gen))
	go s.consume(gen, recognition)
}

func (s *TranscriptionSource) notifyActive(active bool) {
	if s.callbacks.OnActiveChanged != nil {
		s.callbacks.OnActiveChanged(active)
	}
}
